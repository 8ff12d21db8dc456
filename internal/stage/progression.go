package stage

import (
	"fmt"

	"github.com/vampirenirmal/stageflow/internal/agent"
)

// DefaultMaxTurnsPerPhase is how many user turns an agent may spend inside
// one sub-phase before the controller starts forcing it forward.
const DefaultMaxTurnsPerPhase = 3

// FinalizeDirective is the synthetic system turn that forces an agent to
// close out immediately. The loop guard in automated mode injects the same
// directive as the end-of-pipeline forced progression.
const FinalizeDirective = "SYSTEM: Every phase has been covered. MANDATORY: produce the final JSON now with `isComplete: true` and all deliverables."

// Progression is the forced-progression controller: it watches how long a
// stage lingers in one sub-phase and, past the threshold, synthesizes a
// directive pushing the agent to the next phase or to finalization. The
// directive repeats on every turn until the agent complies: the generator
// cannot be forced programmatically, so the policy is nag, not cutoff.
type Progression struct {
	MaxTurnsPerPhase int
}

// NewProgression returns a controller with the reference threshold.
func NewProgression() Progression {
	return Progression{MaxTurnsPerPhase: DefaultMaxTurnsPerPhase}
}

// Directive returns the system directive to inject before the next
// generation call, or false when the agent is still within budget.
func (p Progression) Directive(profile *agent.Profile, sub *SubState) (string, bool) {
	max := p.MaxTurnsPerPhase
	if max <= 0 {
		max = DefaultMaxTurnsPerPhase
	}
	if sub == nil || sub.TurnsInPhase < max {
		return "", false
	}

	next, ok := profile.NextPhase(sub.Phase)
	if !ok {
		return FinalizeDirective, true
	}
	return fmt.Sprintf(
		"SYSTEM: You have discussed the %s phase long enough. MANDATORY: summarize it and move IMMEDIATELY to the %s phase. Ask the %s questions now.",
		sub.Phase, next, next), true
}

// Observe records the phase the agent reported back. A phase change resets
// the turn counter; an ignored directive leaves it growing so the directive
// fires again next turn.
func (p Progression) Observe(profile *agent.Profile, sub *SubState, reportedPhase string) {
	if sub == nil || reportedPhase == "" || reportedPhase == sub.Phase {
		return
	}
	// "finished" is a common terminal report that is not a listed phase.
	if !profile.KnowsPhase(reportedPhase) && reportedPhase != "finished" {
		return
	}
	sub.Phase = reportedPhase
	sub.TurnsInPhase = 0
}
