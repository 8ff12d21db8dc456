package stage

import (
	"context"

	"github.com/google/uuid"

	"github.com/vampirenirmal/stageflow/internal/gate"
)

// Store is the persistence boundary the pipeline consumes. Implementations
// must provide atomic account creation (account plus its seven stages) and
// compare-and-swap stage updates keyed on the version the writer read.
type Store interface {
	// CreateAccount persists an account and its stage records atomically.
	CreateAccount(ctx context.Context, account *Account, stages []*Stage) error
	GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error)
	// DeleteAccount removes the account and cascades to its stages and
	// validation records.
	DeleteAccount(ctx context.Context, accountID uuid.UUID) error

	GetStage(ctx context.Context, accountID uuid.UUID, number int) (*Stage, error)
	// ListStages returns the account's stages ordered by number.
	ListStages(ctx context.Context, accountID uuid.UUID) ([]*Stage, error)
	// UpdateStage writes s if its persisted version still equals
	// expectedVersion, bumping s.Version on success. A stale expectation
	// fails with ErrVersionConflict and writes nothing.
	UpdateStage(ctx context.Context, s *Stage, expectedVersion uint64) error

	// AppendValidation appends one verdict to the audit trail.
	AppendValidation(ctx context.Context, record *gate.Record) error
	// ListValidations returns a stage's verdicts in append order.
	ListValidations(ctx context.Context, accountID uuid.UUID, number int) ([]*gate.Record, error)
}
