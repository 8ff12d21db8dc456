package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/stageflow/internal/agent"
	"github.com/vampirenirmal/stageflow/internal/contract"
	"github.com/vampirenirmal/stageflow/internal/gate"
)

// Pipeline is the stage state machine. One Advance call is one sequential
// unit of work: read the stage, extend its log, run one generation call,
// parse, then on a completion claim run the validation gate before
// committing any transition. Nothing is written until both external calls
// have succeeded.
type Pipeline struct {
	store       Store
	client      agent.ChatClient
	gate        *gate.Gate
	progression Progression
	promptDir   string
	temperature float64
	logger      *slog.Logger
}

type Option func(*Pipeline)

// WithPromptDir points agents at a directory of prompt files.
func WithPromptDir(dir string) Option {
	return func(p *Pipeline) { p.promptDir = dir }
}

// WithProgression overrides the forced-progression threshold.
func WithProgression(pr Progression) Option {
	return func(p *Pipeline) { p.progression = pr }
}

// WithTemperature sets the conversational sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Pipeline) { p.temperature = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func New(store Store, client agent.ChatClient, g *gate.Gate, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		client:      client,
		gate:        g,
		progression: NewProgression(),
		temperature: 0.7,
		logger:      slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AdvanceResult is what one accepted user message produces.
type AdvanceResult struct {
	// Message is the user-facing reply text.
	Message string
	// Completed is the agent's own completion claim. The committed status
	// lives in Stage (the gate may have rejected the claim).
	Completed       bool
	Buttons         []string
	ConfidenceScore int
	ProgressLabel   string
	ProgressStep    string
	// Validation is non-nil only when this turn triggered the gate.
	Validation *gate.Result
	Stage      Snapshot
}

// InitialResult is the agent's opening move for a stage.
type InitialResult struct {
	Message string
	Buttons []string
	Stage   Snapshot
}

// CreateAccount persists a new account together with its seven stages,
// stage 1 already in progress.
func (p *Pipeline) CreateAccount(ctx context.Context, clientName, website, consultant, modelHint string) (*Account, error) {
	now := time.Now().UTC()
	account := &Account{
		ID:             uuid.New(),
		ClientName:     clientName,
		CompanyWebsite: website,
		ConsultantName: consultant,
		ModelHint:      modelHint,
		CreatedAt:      now,
	}

	if err := p.store.CreateAccount(ctx, account, NewAccountStages(account.ID, now)); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	p.logger.Info("account created",
		"account_id", account.ID,
		"client", clientName)

	return account, nil
}

// DeleteAccount removes an account and everything under it.
func (p *Pipeline) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	return p.store.DeleteAccount(ctx, accountID)
}

// Stage returns one stage record.
func (p *Pipeline) Stage(ctx context.Context, accountID uuid.UUID, number int) (*Stage, error) {
	if err := checkRange(accountID, number); err != nil {
		return nil, err
	}
	return p.store.GetStage(ctx, accountID, number)
}

// Stages returns all seven stages in order.
func (p *Pipeline) Stages(ctx context.Context, accountID uuid.UUID) ([]*Stage, error) {
	return p.store.ListStages(ctx, accountID)
}

// Validations returns the validation audit trail for a stage.
func (p *Pipeline) Validations(ctx context.Context, accountID uuid.UUID, number int) ([]*gate.Record, error) {
	if err := checkRange(accountID, number); err != nil {
		return nil, err
	}
	return p.store.ListValidations(ctx, accountID, number)
}

// InitialMessage returns the agent's opening message for a stage. It
// mutates nothing: the system prompt is seeded on the first Advance.
func (p *Pipeline) InitialMessage(ctx context.Context, accountID uuid.UUID, number int) (*InitialResult, error) {
	if err := checkRange(accountID, number); err != nil {
		return nil, err
	}

	st, err := p.store.GetStage(ctx, accountID, number)
	if err != nil {
		return nil, err
	}
	if st.Status == StatusLocked {
		return nil, newStageError(accountID.String(), number, ErrStageLocked)
	}

	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	prior, err := p.priorOutputs(ctx, accountID, number)
	if err != nil {
		return nil, err
	}

	profile, _ := agent.ForStage(number)
	message, buttons := profile.InitialMessage(account.Context(), prior)

	return &InitialResult{Message: message, Buttons: buttons, Stage: st.Snapshot()}, nil
}

// Advance processes one user message through the stage's agent.
func (p *Pipeline) Advance(ctx context.Context, accountID uuid.UUID, number int, userMessage string) (*AdvanceResult, error) {
	if err := checkRange(accountID, number); err != nil {
		return nil, err
	}

	st, err := p.store.GetStage(ctx, accountID, number)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case StatusLocked:
		return nil, newStageError(accountID.String(), number, ErrStageLocked)
	case StatusCompleted:
		return nil, newStageError(accountID.String(), number, ErrStageCompleted)
	}

	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	prior, err := p.priorOutputs(ctx, accountID, number)
	if err != nil {
		return nil, err
	}

	profile, _ := agent.ForStage(number)
	readVersion := st.Version

	// Seed the synthetic system turn and sub-state on first contact.
	if len(st.State.Turns) == 0 {
		st.State.Turns = []Turn{{
			Role:    agent.RoleSystem,
			Content: profile.SystemPrompt(p.promptDir, account.Context(), prior),
		}}
		st.State.Sub = &SubState{Phase: profile.FirstPhase()}
	}
	if st.State.Sub == nil {
		st.State.Sub = &SubState{Phase: profile.FirstPhase()}
	}

	st.State.Turns = append(st.State.Turns, Turn{Role: agent.RoleUser, Content: userMessage})
	st.State.Sub.TurnsInPhase++

	if directive, ok := p.progression.Directive(profile, st.State.Sub); ok {
		p.logger.Info("injecting forced-progression directive",
			"account_id", accountID,
			"stage", number,
			"phase", st.State.Sub.Phase,
			"turns_in_phase", st.State.Sub.TurnsInPhase)
		st.State.Turns = append(st.State.Turns, Turn{Role: agent.RoleSystem, Content: directive})
	}

	raw, err := p.client.Chat(ctx, st.State.Messages(), agent.CallOptions{
		Model:       account.ModelHint,
		Temperature: p.temperature,
	})
	if err != nil {
		// No partial commit: the stage is untouched and safe to retry.
		return nil, newStageError(accountID.String(), number, fmt.Errorf("%w: %v", ErrGeneration, err))
	}

	st.State.Turns = append(st.State.Turns, Turn{Role: agent.RoleAssistant, Content: raw})

	reply := contract.Parse(raw)
	p.progression.Observe(profile, st.State.Sub, reply.Phase)
	if reply.PhaseData != nil {
		st.State.Sub.Collected = reply.PhaseData
	}
	st.ModelUsed = account.ModelHint

	var verdict *gate.Result
	if reply.Completed {
		verdict = p.gate.Validate(ctx, number, reply.Output, prior, account.Context())

		if err := p.store.AppendValidation(ctx, gate.NewRecord(accountID, number, verdict)); err != nil {
			p.logger.Error("persisting validation record failed",
				"account_id", accountID,
				"stage", number,
				"error", err)
		}

		st.OrchestratorApproved = &verdict.Approved
		st.OrchestratorScore = &verdict.OverallScore
		st.OrchestratorFeedback = &Feedback{Issues: verdict.Issues, Suggestions: verdict.Suggestions}
		// The draft stays visible either way; only approval commits the
		// transition and unlocks the next stage.
		st.Output = reply.Output

		if verdict.CanProceed {
			now := time.Now().UTC()
			st.Status = StatusCompleted
			st.CompletedAt = &now
		} else {
			st.Status = StatusInProgress
			p.logger.Info("stage completion rejected by gate",
				"account_id", accountID,
				"stage", number,
				"overall_score", verdict.OverallScore)
		}
	}

	st.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateStage(ctx, st, readVersion); err != nil {
		return nil, newStageError(accountID.String(), number, err)
	}

	if st.Status == StatusCompleted && number < agent.MaxStage {
		p.unlockNext(ctx, accountID, number+1)
	}

	return &AdvanceResult{
		Message:         reply.Message,
		Completed:       reply.Completed,
		Buttons:         reply.Buttons,
		ConfidenceScore: reply.ConfidenceScore,
		ProgressLabel:   reply.ProgressLabel,
		ProgressStep:    reply.ProgressStep,
		Validation:      verdict,
		Stage:           st.Snapshot(),
	}, nil
}

// Reset returns a stage to a clean in_progress state, clearing the
// conversation, output, and every orchestrator field.
func (p *Pipeline) Reset(ctx context.Context, accountID uuid.UUID, number int) (Snapshot, error) {
	if err := checkRange(accountID, number); err != nil {
		return Snapshot{}, err
	}

	st, err := p.store.GetStage(ctx, accountID, number)
	if err != nil {
		return Snapshot{}, err
	}

	readVersion := st.Version
	st.Status = StatusInProgress
	st.State = ConversationState{}
	st.Output = nil
	st.ModelUsed = ""
	st.OrchestratorApproved = nil
	st.OrchestratorScore = nil
	st.OrchestratorFeedback = nil
	st.CompletedAt = nil
	st.UpdatedAt = time.Now().UTC()

	if err := p.store.UpdateStage(ctx, st, readVersion); err != nil {
		return Snapshot{}, newStageError(accountID.String(), number, err)
	}

	p.logger.Info("stage reset",
		"account_id", accountID,
		"stage", number)

	return st.Snapshot(), nil
}

// unlockNext flips a locked successor stage to in_progress. The guard is
// "unlock only if currently locked", so it is idempotent and safe to retry
// once on a version race.
func (p *Pipeline) unlockNext(ctx context.Context, accountID uuid.UUID, number int) {
	for attempt := 0; attempt < 2; attempt++ {
		next, err := p.store.GetStage(ctx, accountID, number)
		if err != nil {
			p.logger.Error("reading next stage for unlock failed",
				"account_id", accountID,
				"stage", number,
				"error", err)
			return
		}
		if next.Status != StatusLocked {
			return
		}

		readVersion := next.Version
		next.Status = StatusInProgress
		next.UpdatedAt = time.Now().UTC()
		err = p.store.UpdateStage(ctx, next, readVersion)
		if err == nil {
			p.logger.Info("next stage unlocked",
				"account_id", accountID,
				"stage", number)
			return
		}
		if !errors.Is(err, ErrVersionConflict) {
			p.logger.Error("unlocking next stage failed",
				"account_id", accountID,
				"stage", number,
				"error", err)
			return
		}
	}
}

func (p *Pipeline) priorOutputs(ctx context.Context, accountID uuid.UUID, number int) (map[string]map[string]any, error) {
	if number == agent.MinStage {
		return nil, nil
	}
	stages, err := p.store.ListStages(ctx, accountID)
	if err != nil {
		return nil, err
	}
	prior := make(map[string]map[string]any)
	for _, s := range stages {
		if s.Number < number && s.Output != nil {
			prior[fmt.Sprintf("stage_%d", s.Number)] = s.Output
		}
	}
	return prior, nil
}

func checkRange(accountID uuid.UUID, number int) error {
	if number < agent.MinStage || number > agent.MaxStage {
		return newStageError(accountID.String(), number, ErrStageRange)
	}
	return nil
}
