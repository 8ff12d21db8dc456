package stage

import (
	"strings"
	"testing"

	"github.com/vampirenirmal/stageflow/internal/agent"
)

func TestDirective(t *testing.T) {
	journey, _ := agent.ForStage(2)
	pr := NewProgression()

	tests := []struct {
		name         string
		sub          *SubState
		wantOK       bool
		wantFinalize bool
		wantPhases   []string
	}{
		{
			name:   "within budget",
			sub:    &SubState{Phase: "awareness", TurnsInPhase: 2},
			wantOK: false,
		},
		{
			name:       "at threshold advances",
			sub:        &SubState{Phase: "awareness", TurnsInPhase: 3},
			wantOK:     true,
			wantPhases: []string{"awareness", "consideration"},
		},
		{
			name:       "past threshold keeps nagging",
			sub:        &SubState{Phase: "decision", TurnsInPhase: 5},
			wantOK:     true,
			wantPhases: []string{"decision", "delight"},
		},
		{
			name:         "last phase finalizes",
			sub:          &SubState{Phase: "delight", TurnsInPhase: 3},
			wantOK:       true,
			wantFinalize: true,
		},
		{
			name:         "unknown phase finalizes",
			sub:          &SubState{Phase: "improvised", TurnsInPhase: 3},
			wantOK:       true,
			wantFinalize: true,
		},
		{
			name:   "nil substate",
			sub:    nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directive, ok := pr.Directive(journey, tt.sub)
			if ok != tt.wantOK {
				t.Fatalf("ok = %t, want %t", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if tt.wantFinalize {
				if directive != FinalizeDirective {
					t.Errorf("directive = %q, want FinalizeDirective", directive)
				}
				return
			}
			for _, phase := range tt.wantPhases {
				if !strings.Contains(directive, phase) {
					t.Errorf("directive %q missing phase %q", directive, phase)
				}
			}
		})
	}
}

func TestDirectiveZeroThresholdUsesDefault(t *testing.T) {
	booms, _ := agent.ForStage(1)
	pr := Progression{}

	if _, ok := pr.Directive(booms, &SubState{Phase: "company_context", TurnsInPhase: 2}); ok {
		t.Errorf("directive fired below the default threshold")
	}
	if _, ok := pr.Directive(booms, &SubState{Phase: "company_context", TurnsInPhase: DefaultMaxTurnsPerPhase}); !ok {
		t.Errorf("directive did not fire at the default threshold")
	}
}

func TestObserve(t *testing.T) {
	booms, _ := agent.ForStage(1)
	pr := NewProgression()

	tests := []struct {
		name      string
		reported  string
		wantPhase string
		wantTurns int
	}{
		{"empty report keeps counting", "", "company_context", 2},
		{"same phase keeps counting", "company_context", "company_context", 2},
		{"unknown phase ignored", "brand_voice", "company_context", 2},
		{"known phase resets", "persona_profile", "persona_profile", 0},
		{"finished accepted as terminal", "finished", "finished", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &SubState{Phase: "company_context", TurnsInPhase: 2}
			pr.Observe(booms, sub, tt.reported)
			if sub.Phase != tt.wantPhase {
				t.Errorf("Phase = %q, want %q", sub.Phase, tt.wantPhase)
			}
			if sub.TurnsInPhase != tt.wantTurns {
				t.Errorf("TurnsInPhase = %d, want %d", sub.TurnsInPhase, tt.wantTurns)
			}
		})
	}
}
