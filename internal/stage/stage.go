// Package stage implements the seven-stage progression engine: the stage
// records, the state machine that advances them turn by turn, and the forced
// progression logic that keeps conversational agents moving.
package stage

import (
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/stageflow/internal/agent"
	"github.com/vampirenirmal/stageflow/internal/gate"
)

// Status is the lifecycle state of a stage. Transitions only move forward
// (locked -> in_progress -> completed) except through an explicit Reset.
type Status string

const (
	StatusLocked     Status = "locked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Turn is one entry of the append-only conversation log. System turns are
// synthetic (initial instructions, forced-progression directives) and are
// never shown to the end user.
type Turn struct {
	Role    agent.Role `json:"role"`
	Content string     `json:"content"`
}

// SubState tracks the agent's position inside a stage: the current sub-phase
// and how many user turns have been spent in it. TurnsInPhase resets to zero
// whenever the phase changes.
type SubState struct {
	Phase        string         `json:"phase"`
	TurnsInPhase int            `json:"turns_in_phase"`
	Collected    map[string]any `json:"collected_data,omitempty"`
}

// ConversationState is the opaque structured blob a stage persists between
// turns: the full log plus the agent sub-state.
type ConversationState struct {
	Turns []Turn    `json:"turns,omitempty"`
	Sub   *SubState `json:"sub_state,omitempty"`
}

// Visible returns the turns an end user may see: everything except
// synthetic system entries.
func (c ConversationState) Visible() []Turn {
	visible := make([]Turn, 0, len(c.Turns))
	for _, t := range c.Turns {
		if t.Role == agent.RoleSystem {
			continue
		}
		visible = append(visible, t)
	}
	return visible
}

// Messages converts the log into the generator's message format.
func (c ConversationState) Messages() []agent.Message {
	msgs := make([]agent.Message, len(c.Turns))
	for i, t := range c.Turns {
		msgs[i] = agent.Message{Role: t.Role, Content: t.Content}
	}
	return msgs
}

// Feedback is the orchestrator's stored issue/suggestion summary on a stage.
type Feedback struct {
	Issues      []gate.Issue      `json:"issues"`
	Suggestions []gate.Suggestion `json:"suggestions"`
}

// Stage is one step of the fixed seven-step pipeline for one account.
// Output is non-nil only while it holds either the approved deliverable
// (status completed) or the latest rejected draft kept visible for the user.
type Stage struct {
	ID        uuid.UUID         `json:"id"`
	AccountID uuid.UUID         `json:"account_id"`
	Number    int               `json:"stage_number"`
	Status    Status            `json:"status"`
	State     ConversationState `json:"state"`
	Output    map[string]any    `json:"output,omitempty"`
	ModelUsed string            `json:"ai_model_used,omitempty"`

	OrchestratorApproved *bool     `json:"orchestrator_approved,omitempty"`
	OrchestratorScore    *float64  `json:"orchestrator_score,omitempty"`
	OrchestratorFeedback *Feedback `json:"orchestrator_feedback,omitempty"`

	// Version increments on every successful write; stale writers are
	// rejected with ErrVersionConflict.
	Version uint64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Account owns one pipeline of seven stages.
type Account struct {
	ID             uuid.UUID `json:"id"`
	ClientName     string    `json:"client_name"`
	CompanyWebsite string    `json:"company_website,omitempty"`
	ConsultantName string    `json:"consultant_name,omitempty"`
	ModelHint      string    `json:"ai_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Context returns the account context handed to agents and the gate.
func (a *Account) Context() agent.AccountContext {
	consultant := a.ConsultantName
	if consultant == "" {
		consultant = "Consultant"
	}
	return agent.AccountContext{
		CompanyName:    a.ClientName,
		CompanyWebsite: a.CompanyWebsite,
		ConsultantName: consultant,
	}
}

// Snapshot is the stable exchange shape of a stage that callers and the
// transport layer rely on.
type Snapshot struct {
	ID                   uuid.UUID         `json:"id"`
	StageNumber          int               `json:"stage_number"`
	Status               Status            `json:"status"`
	State                ConversationState `json:"state"`
	Output               map[string]any    `json:"output,omitempty"`
	OrchestratorApproved *bool             `json:"orchestrator_approved,omitempty"`
	OrchestratorScore    *float64          `json:"orchestrator_score,omitempty"`
	OrchestratorFeedback *Feedback         `json:"orchestrator_feedback,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	Version              uint64            `json:"version"`
}

// Snapshot captures the stage's exchange shape as of now.
func (s *Stage) Snapshot() Snapshot {
	return Snapshot{
		ID:                   s.ID,
		StageNumber:          s.Number,
		Status:               s.Status,
		State:                s.State,
		Output:               s.Output,
		OrchestratorApproved: s.OrchestratorApproved,
		OrchestratorScore:    s.OrchestratorScore,
		OrchestratorFeedback: s.OrchestratorFeedback,
		CompletedAt:          s.CompletedAt,
		Version:              s.Version,
	}
}

// NewAccountStages builds the seven stage records created alongside an
// account: stage 1 starts in_progress, the rest locked.
func NewAccountStages(accountID uuid.UUID, now time.Time) []*Stage {
	stages := make([]*Stage, 0, agent.MaxStage)
	for n := agent.MinStage; n <= agent.MaxStage; n++ {
		status := StatusLocked
		if n == agent.MinStage {
			status = StatusInProgress
		}
		stages = append(stages, &Stage{
			ID:        uuid.New(),
			AccountID: accountID,
			Number:    n,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return stages
}
