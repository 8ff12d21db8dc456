// Package autochat drives a stage conversation end to end without a human:
// a second model plays the client, answering the agent until the stage
// completes, a repetition loop is detected, or the iteration ceiling is hit.
package autochat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/stageflow/internal/agent"
	"github.com/vampirenirmal/stageflow/internal/stage"
)

// DefaultMaxIterations caps the number of simulated user turns in one run.
const DefaultMaxIterations = 60

// EventType labels entries on the event stream a Run emits.
type EventType string

const (
	EventAgentMessage EventType = "agent_message"
	EventUserMessage  EventType = "user_message"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one observable step of an automated conversation.
type Event struct {
	Type            EventType      `json:"type"`
	Iteration       int            `json:"iteration"`
	Content         string         `json:"content,omitempty"`
	Buttons         []string       `json:"buttons,omitempty"`
	ConfidenceScore int            `json:"confidence_score,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Persona describes the simulated client the runner impersonates.
type Persona struct {
	CompanyName string
	Description string
	Model       string
}

// Runner replays a stage conversation with a simulated client.
type Runner struct {
	pipeline *stage.Pipeline
	client   agent.ChatClient
	persona  Persona
	maxIters int
	window   int
	delay    time.Duration
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxIterations overrides the simulated-turn ceiling.
func WithMaxIterations(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxIters = n
		}
	}
}

// WithLoopWindow sets how many recent agent messages the loop guard keeps.
func WithLoopWindow(n int) Option {
	return func(r *Runner) { r.window = n }
}

// WithDelay inserts a pause between simulated turns.
func WithDelay(d time.Duration) Option {
	return func(r *Runner) { r.delay = d }
}

// WithLogger sets the logger for conversation progress.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger.With("component", "autochat")
		}
	}
}

// New builds a Runner. The client is used only to impersonate the simulated
// user; the agent side goes through the pipeline.
func New(p *stage.Pipeline, client agent.ChatClient, persona Persona, opts ...Option) *Runner {
	r := &Runner{
		pipeline: p,
		client:   client,
		persona:  persona,
		maxIters: DefaultMaxIterations,
		window:   DefaultWindow,
		logger:   slog.Default().With("component", "autochat"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives the conversation for one stage and streams events until the
// stage completes or the run is aborted. The channel is closed when the run
// finishes; the terminal event is always complete or error.
func (r *Runner) Run(ctx context.Context, accountID uuid.UUID, number int) <-chan Event {
	events := make(chan Event, 8)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.run(ctx, accountID, number, events)
	})
	go func() {
		if err := g.Wait(); err != nil {
			r.logger.Error("automated conversation aborted",
				"account_id", accountID,
				"stage", number,
				"error", err)
		}
		close(events)
	}()

	return events
}

func (r *Runner) run(ctx context.Context, accountID uuid.UUID, number int, events chan<- Event) error {
	emit := func(ev Event) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fail := func(iteration int, err error) error {
		_ = emit(Event{Type: EventError, Iteration: iteration, Error: err.Error()})
		return err
	}

	init, err := r.pipeline.InitialMessage(ctx, accountID, number)
	if err != nil {
		return fail(0, err)
	}
	if err := emit(Event{
		Type:    EventAgentMessage,
		Content: init.Message,
		Buttons: init.Buttons,
	}); err != nil {
		return err
	}

	agentMessage := init.Message
	buttons := init.Buttons
	guard := NewLoopGuard(r.window)

	for iteration := 1; iteration <= r.maxIters; iteration++ {
		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if guard.Observe(agentMessage) {
			r.logger.Warn("repetition loop detected, forcing finalize",
				"account_id", accountID,
				"stage", number,
				"iteration", iteration)
			res, err := r.pipeline.Advance(ctx, accountID, number, stage.FinalizeDirective)
			if err != nil {
				return fail(iteration, err)
			}
			return emit(Event{
				Type:      EventComplete,
				Iteration: iteration,
				Content:   res.Message,
				Output:    res.Stage.Output,
			})
		}

		userMessage, err := r.simulateUser(ctx, agentMessage, buttons)
		if err != nil {
			return fail(iteration, err)
		}
		if err := emit(Event{
			Type:      EventUserMessage,
			Iteration: iteration,
			Content:   userMessage,
		}); err != nil {
			return err
		}

		res, err := r.pipeline.Advance(ctx, accountID, number, userMessage)
		if err != nil {
			return fail(iteration, err)
		}
		if err := emit(Event{
			Type:            EventAgentMessage,
			Iteration:       iteration,
			Content:         res.Message,
			Buttons:         res.Buttons,
			ConfidenceScore: res.ConfidenceScore,
		}); err != nil {
			return err
		}

		if res.Stage.Status == stage.StatusCompleted {
			r.logger.Info("automated conversation completed stage",
				"account_id", accountID,
				"stage", number,
				"iterations", iteration)
			return emit(Event{
				Type:      EventComplete,
				Iteration: iteration,
				Output:    res.Stage.Output,
			})
		}

		agentMessage = res.Message
		buttons = res.Buttons
	}

	return fail(r.maxIters, fmt.Errorf("conversation did not complete within %d iterations", r.maxIters))
}

// simulateUser asks the companion model to answer as the persona. Buttons are
// offered as quick choices; the model may pick one or answer freely.
func (r *Runner) simulateUser(ctx context.Context, agentMessage string, buttons []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("You are roleplaying the client in a business consulting conversation. ")
	sb.WriteString("Answer the consultant's latest message in character, in one short paragraph. ")
	sb.WriteString("Give concrete, realistic details. Never break character, never mention being an AI.\n\n")
	if r.persona.CompanyName != "" {
		sb.WriteString("Company: " + r.persona.CompanyName + "\n")
	}
	if r.persona.Description != "" {
		sb.WriteString("Company profile:\n" + r.persona.Description + "\n")
	}

	userPrompt := "Consultant: " + agentMessage
	if len(buttons) > 0 {
		userPrompt += "\n\nSuggested replies: " + strings.Join(buttons, " | ") +
			"\nPick one if it fits, otherwise answer in your own words."
	}

	reply, err := r.client.Chat(ctx, []agent.Message{
		{Role: agent.RoleSystem, Content: sb.String()},
		{Role: agent.RoleUser, Content: userPrompt},
	}, agent.CallOptions{Model: r.persona.Model, Temperature: 0.8})
	if err != nil {
		return "", fmt.Errorf("simulated user generation: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
