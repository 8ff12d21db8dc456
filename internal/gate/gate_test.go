package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/vampirenirmal/stageflow/internal/agent"
)

var candidate = map[string]any{"buyerPersona": map[string]any{"name": "Marketing Mary"}}

func TestValidateApproval(t *testing.T) {
	client := agent.NewMockClient(`{
		"approved": true,
		"canProceed": true,
		"qualityScore": 9,
		"coherenceScore": 8,
		"overallScore": 8.5,
		"issues": [],
		"suggestions": [{"type": "improvement", "category": "quality", "message": "add a quote", "priority": "low"}]
	}`)
	g := New(client)

	result := g.Validate(context.Background(), 1, candidate, nil, agent.AccountContext{CompanyName: "Acme"})

	if !result.Approved || !result.CanProceed {
		t.Errorf("verdict = %+v, want approved", result)
	}
	if result.Failed {
		t.Errorf("Failed set on a clean verdict")
	}
	if result.OverallScore != 8.5 {
		t.Errorf("OverallScore = %v, want 8.5", result.OverallScore)
	}
	if len(result.Suggestions) != 1 {
		t.Errorf("Suggestions = %d, want 1", len(result.Suggestions))
	}
	if result.ModelUsed == "" || result.ValidatedAt.IsZero() {
		t.Errorf("verdict metadata not stamped: %+v", result)
	}

	// The validator call must be deterministic-leaning JSON mode.
	call := client.LastCall()
	if call[0].Role != agent.RoleSystem {
		t.Errorf("first message role = %s, want system", call[0].Role)
	}
}

func TestValidateDerivedDefaults(t *testing.T) {
	// overallScore, issues and suggestions omitted by the model.
	client := agent.NewMockClient(`{"approved": false, "canProceed": false, "qualityScore": 3, "coherenceScore": 6}`)
	g := New(client)

	result := g.Validate(context.Background(), 2, candidate, nil, agent.AccountContext{})

	if result.Approved {
		t.Errorf("verdict approved, want rejected")
	}
	if result.OverallScore != 4.5 {
		t.Errorf("OverallScore = %v, want derived 4.5", result.OverallScore)
	}
	if result.Issues == nil || result.Suggestions == nil {
		t.Errorf("missing lists not defaulted: %+v", result)
	}
}

func TestValidateFencedVerdict(t *testing.T) {
	client := agent.NewMockClient("Here is my assessment:\n```json\n{\"approved\": true, \"canProceed\": true, \"qualityScore\": 7, \"coherenceScore\": 7, \"overallScore\": 7}\n```")
	g := New(client)

	result := g.Validate(context.Background(), 1, candidate, nil, agent.AccountContext{})
	if !result.Approved || result.Failed {
		t.Errorf("fenced verdict not recovered: %+v", result)
	}
}

func TestValidateFallback(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
		setup    func(*agent.MockClient)
	}{
		{
			name:     "client error",
			failOpen: true,
			setup:    func(m *agent.MockClient) { m.FailWith(errors.New("timeout")) },
		},
		{
			name:     "unparseable verdict",
			failOpen: true,
			setup:    func(m *agent.MockClient) {},
		},
		{
			name:     "client error fail closed",
			failOpen: false,
			setup:    func(m *agent.MockClient) { m.FailWith(errors.New("timeout")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := agent.NewMockClient("I cannot produce JSON today.")
			tt.setup(client)
			g := New(client, WithFailOpen(tt.failOpen))

			result := g.Validate(context.Background(), 1, candidate, nil, agent.AccountContext{})

			if !result.Failed {
				t.Errorf("fallback verdict not flagged: %+v", result)
			}
			if result.Approved != tt.failOpen || result.CanProceed != tt.failOpen {
				t.Errorf("approved = %t, want fail-open policy %t", result.Approved, tt.failOpen)
			}
			if len(result.Issues) == 0 {
				t.Errorf("fallback verdict carries no warning issue")
			}
		})
	}
}

func TestValidateScoreOutOfRange(t *testing.T) {
	client := agent.NewMockClient(`{"approved": true, "canProceed": true, "qualityScore": 14, "coherenceScore": 8, "overallScore": 11}`)
	g := New(client)

	result := g.Validate(context.Background(), 1, candidate, nil, agent.AccountContext{})
	if !result.Failed {
		t.Errorf("out-of-range scores accepted: %+v", result)
	}
}
