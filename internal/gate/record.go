package gate

import "github.com/google/uuid"

// Record is the persisted form of one validation verdict. Records are an
// append-only audit trail: a stage that fails the gate repeatedly
// accumulates one record per attempt.
type Record struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	StageNumber int       `json:"stage_number"`
	Result
}

// NewRecord wraps a verdict for persistence.
func NewRecord(accountID uuid.UUID, stageNumber int, result *Result) *Record {
	return &Record{
		ID:          uuid.New(),
		AccountID:   accountID,
		StageNumber: stageNumber,
		Result:      *result,
	}
}
