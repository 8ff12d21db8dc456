package stage

import (
	"errors"
	"fmt"
)

// Sentinel errors for the stage pipeline. Callers classify with errors.Is.
var (
	// ErrStageRange indicates a stage number outside 1..7.
	ErrStageRange = errors.New("stage number must be between 1 and 7")

	// ErrStageLocked indicates the stage has not been unlocked yet.
	ErrStageLocked = errors.New("stage is locked, complete previous stages first")

	// ErrStageCompleted indicates the stage no longer accepts messages.
	ErrStageCompleted = errors.New("stage is already completed")

	// ErrNotFound indicates a missing account or stage record.
	ErrNotFound = errors.New("not found")

	// ErrGeneration indicates the external text generator failed. The
	// advance that hit it committed nothing and is safe to retry.
	ErrGeneration = errors.New("text generation failed")

	// ErrVersionConflict indicates a stage write lost a race: the record
	// changed since it was read. Re-read and retry.
	ErrVersionConflict = errors.New("stage version conflict")
)

// StageError attaches stage coordinates to a pipeline failure.
type StageError struct {
	AccountID   string
	StageNumber int
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (account %s): %v", e.StageNumber, e.AccountID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(accountID string, number int, err error) *StageError {
	return &StageError{AccountID: accountID, StageNumber: number, Err: err}
}
