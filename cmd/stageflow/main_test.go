package main

import (
	"strings"
	"testing"

	"github.com/vampirenirmal/stageflow/internal/agent"
	"github.com/vampirenirmal/stageflow/internal/gate"
	"github.com/vampirenirmal/stageflow/internal/stage"
)

func TestPrintTranscriptHidesSystemTurns(t *testing.T) {
	state := stage.ConversationState{Turns: []stage.Turn{
		{Role: agent.RoleSystem, Content: "stage instructions"},
		{Role: agent.RoleUser, Content: "we sell rockets"},
		{Role: agent.RoleSystem, Content: stage.FinalizeDirective},
		{Role: agent.RoleAssistant, Content: "tell me more"},
	}}

	var b strings.Builder
	printTranscript(&b, state)
	out := b.String()

	if strings.Contains(out, "stage instructions") || strings.Contains(out, stage.FinalizeDirective) {
		t.Errorf("system turns leaked into the transcript:\n%s", out)
	}
	if !strings.Contains(out, "you> we sell rockets") || !strings.Contains(out, "agent> tell me more") {
		t.Errorf("conversation turns missing:\n%s", out)
	}
}

func TestPrintValidation(t *testing.T) {
	verdict := &gate.Result{
		Approved:     false,
		OverallScore: 4.5,
		Issues: []gate.Issue{
			{Type: "error", Severity: "high", Category: "completeness", Message: "persona profile missing"},
		},
		Suggestions: []gate.Suggestion{
			{Type: "improvement", Category: "quality", Message: "add a direct quote", Priority: "low"},
		},
	}

	var b strings.Builder
	printValidation(&b, verdict)
	out := b.String()

	if !strings.Contains(out, "approved=false") || !strings.Contains(out, "score=4.5") {
		t.Errorf("verdict summary missing:\n%s", out)
	}
	if !strings.Contains(out, "high: persona profile missing") {
		t.Errorf("issue line missing:\n%s", out)
	}
	if !strings.Contains(out, "add a direct quote") {
		t.Errorf("suggestion line missing:\n%s", out)
	}
}
