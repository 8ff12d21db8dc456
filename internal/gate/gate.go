// Package gate implements the independent validation pass that decides
// whether a stage's candidate output is good enough to unlock the next
// stage. The gate is stateless: every decision is a single scoring call over
// the candidate output plus all prior stage outputs.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vampirenirmal/stageflow/internal/agent"
	"github.com/vampirenirmal/stageflow/internal/contract"
)

// Issue is one blocking or advisory finding on a candidate output.
type Issue struct {
	Type       string `json:"type"`               // "error" | "warning"
	Severity   string `json:"severity"`           // "high" | "medium" | "low"
	Category   string `json:"category"`           // "completeness" | "quality" | "coherence"
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Suggestion is a non-blocking improvement opportunity.
type Suggestion struct {
	Type     string `json:"type"`     // "improvement"
	Category string `json:"category"` // "quality" | "coherence" | "strategic"
	Message  string `json:"message"`
	Priority string `json:"priority"` // "low" | "medium" | "high"
}

// Result is the gate's verdict on one completion attempt. Approved and
// CanProceed coincide today; they stay separate so a stricter policy
// (approved but held for human review) can be layered in without changing
// this contract.
type Result struct {
	Approved       bool           `json:"approved"`
	CanProceed     bool           `json:"canProceed"`
	QualityScore   float64        `json:"qualityScore" validate:"gte=0,lte=10"`
	CoherenceScore float64        `json:"coherenceScore" validate:"gte=0,lte=10"`
	OverallScore   float64        `json:"overallScore" validate:"gte=0,lte=10"`
	Issues         []Issue        `json:"issues"`
	Suggestions    []Suggestion   `json:"suggestions"`
	Details        map[string]any `json:"validationDetails,omitempty"`

	// Failed marks a fallback verdict produced because the validator itself
	// errored. The fail-open policy approves these; the flag keeps the
	// failure visible in the audit trail.
	Failed bool `json:"error,omitempty"`

	ModelUsed   string    `json:"modelUsed,omitempty"`
	ValidatedAt time.Time `json:"validatedAt"`
}

const defaultPrompt = "You are a quality-control reviewer for a seven-stage marketing pipeline. " +
	"Score the candidate output for completeness, quality and coherence with earlier stages. " +
	"Respond ONLY with a JSON object: approved, canProceed, qualityScore (0-10), " +
	"coherenceScore (0-10), overallScore (0-10), issues [], suggestions []."

// Gate scores candidate outputs through a validation-capable generator.
type Gate struct {
	client      agent.ChatClient
	model       string
	temperature float64
	failOpen    bool
	promptDir   string
	logger      *slog.Logger
	validate    *validator.Validate
}

type Option func(*Gate)

// WithModel sets the validation model hint.
func WithModel(model string) Option {
	return func(g *Gate) { g.model = model }
}

// WithPromptDir points the gate at a directory holding
// orchestrator-system.txt; the built-in prompt is used when absent.
func WithPromptDir(dir string) Option {
	return func(g *Gate) { g.promptDir = dir }
}

// WithFailOpen controls the policy on validator failure. Open (the default)
// approves with a flagged fallback record so a flaky validator never blocks
// progress; closed rejects instead.
func WithFailOpen(open bool) Option {
	return func(g *Gate) { g.failOpen = open }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func New(client agent.ChatClient, opts ...Option) *Gate {
	g := &Gate{
		client:      client,
		model:       "gpt-4o",
		temperature: 0.1, // low temperature for verdict consistency
		failOpen:    true,
		logger:      slog.Default().With("component", "gate"),
		validate:    validator.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate scores one completion attempt. It always returns a usable Result:
// validator failures become a fallback verdict (approved under fail-open,
// rejected otherwise) with Failed set, never an error to the caller.
func (g *Gate) Validate(ctx context.Context, stageNumber int, candidate map[string]any, prior map[string]map[string]any, actx agent.AccountContext) *Result {
	profile, _ := agent.ForStage(stageNumber)
	agentTitle := fmt.Sprintf("Agent %d", stageNumber)
	if profile != nil {
		agentTitle = profile.Title
	}

	payload := map[string]any{
		"task": "VALIDATE_STAGE_COMPLETION",
		"context": map[string]any{
			"account": actx,
			"stageBeingValidated": map[string]any{
				"number": stageNumber,
				"agent":  agentTitle,
			},
		},
		"inputToValidate":       candidate,
		"previousStagesContext": prior,
	}

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return g.fallback(stageNumber, fmt.Errorf("marshaling payload: %w", err))
	}

	messages := []agent.Message{
		{Role: agent.RoleSystem, Content: g.systemPrompt()},
		{Role: agent.RoleUser, Content: string(body)},
	}

	raw, err := g.client.Chat(ctx, messages, agent.CallOptions{
		Model:       g.model,
		Temperature: g.temperature,
		ForceJSON:   true,
	})
	if err != nil {
		return g.fallback(stageNumber, err)
	}

	result, err := g.parseVerdict(raw)
	if err != nil {
		return g.fallback(stageNumber, err)
	}

	result.ModelUsed = g.model
	result.ValidatedAt = time.Now().UTC()

	g.logger.Info("stage validation verdict",
		"stage", stageNumber,
		"approved", result.Approved,
		"can_proceed", result.CanProceed,
		"overall_score", result.OverallScore,
		"issues", len(result.Issues))

	return result
}

func (g *Gate) systemPrompt() string {
	if g.promptDir != "" {
		if data, err := os.ReadFile(filepath.Join(g.promptDir, "orchestrator-system.txt")); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return defaultPrompt
}

// parseVerdict decodes the validator's JSON, filling the derivable defaults
// the way a lenient reviewer of model output has to: missing overallScore
// becomes the mean of quality and coherence, missing lists become empty.
func (g *Gate) parseVerdict(raw string) (*Result, error) {
	cleaned := contract.CleanJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("no JSON object in verdict")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, fmt.Errorf("decoding verdict: %w", err)
	}

	if _, ok := fields["overallScore"]; !ok {
		q, _ := fields["qualityScore"].(float64)
		c, _ := fields["coherenceScore"].(float64)
		fields["overallScore"] = (q + c) / 2
	}
	if _, ok := fields["issues"]; !ok {
		fields["issues"] = []any{}
	}
	if _, ok := fields["suggestions"]; !ok {
		fields["suggestions"] = []any{}
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("normalizing verdict: %w", err)
	}

	var result Result
	if err := json.Unmarshal(normalized, &result); err != nil {
		return nil, fmt.Errorf("decoding verdict: %w", err)
	}

	if err := g.validate.Struct(&result); err != nil {
		return nil, fmt.Errorf("verdict out of range: %w", err)
	}

	return &result, nil
}

// fallback builds the synthetic verdict used when the validator itself
// fails. Under fail-open it approves with a low-severity warning so the user
// is never blocked on validator flakiness; the tradeoff is an occasional
// unvalidated completion, which stays visible through Failed.
func (g *Gate) fallback(stageNumber int, cause error) *Result {
	g.logger.Error("validation failed, producing fallback verdict",
		"stage", stageNumber,
		"fail_open", g.failOpen,
		"error", cause)

	return &Result{
		Approved:   g.failOpen,
		CanProceed: g.failOpen,
		Issues: []Issue{{
			Type:     "warning",
			Severity: "low",
			Category: "quality",
			Message:  "Automatic validation failed due to a technical error. Proceed with caution.",
		}},
		Suggestions: []Suggestion{},
		Details:     map[string]any{"error": cause.Error()},
		Failed:      true,
		ModelUsed:   g.model,
		ValidatedAt: time.Now().UTC(),
	}
}
