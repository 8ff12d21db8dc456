package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Profile describes one of the seven stage agents: its position in the
// pipeline, its ordered sub-phases, and where its system prompt lives. The
// prompt text itself is opaque collaborator material; profiles only carry it.
type Profile struct {
	Number int
	Name   string
	Title  string

	// Phases is the strict order the agent walks through. The forced
	// progression controller nags the agent along this sequence.
	Phases []string

	// PromptFile is the file name (under the configured prompt directory)
	// holding the system prompt. A built-in fallback is used when missing.
	PromptFile string

	fallbackPrompt string
	initialMessage func(actx AccountContext, prior map[string]map[string]any) (string, []string)
}

// AccountContext is the account-level context fed into prompts and the
// validation gate.
type AccountContext struct {
	CompanyName    string `json:"company_name"`
	CompanyWebsite string `json:"company_website"`
	ConsultantName string `json:"consultant_name"`
}

// MinStage and MaxStage bound the fixed pipeline topology.
const (
	MinStage = 1
	MaxStage = 7
)

var profiles = map[int]*Profile{
	1: {
		Number:     1,
		Name:       "booms",
		Title:      "Booms (Buyer Persona)",
		Phases:     []string{"company_context", "persona_profile"},
		PromptFile: "agent-1-booms.txt",
		fallbackPrompt: "You are Booms, a buyer-persona architect. Interview the user phase by " +
			"phase (company_context, then persona_profile). Always respond with a single JSON " +
			"object: agentMessage, isComplete, progress, buttons, confidenceScore, " +
			"currentState {stage}, and output (null until finished).",
		initialMessage: func(actx AccountContext, _ map[string]map[string]any) (string, []string) {
			return fmt.Sprintf("Hi %s! I'm Booms. Let's build the buyer persona for **%s**. First, how would you describe the industry you operate in?",
					displayName(actx.ConsultantName, "there"), displayName(actx.CompanyName, "your company")),
				[]string{"SaaS B2B", "E-commerce", "Consulting"}
		},
	},
	2: {
		Number:     2,
		Name:       "journey",
		Title:      "Journey (Buyer's Journey)",
		Phases:     []string{"awareness", "consideration", "decision", "delight"},
		PromptFile: "agent-2-journey.txt",
		fallbackPrompt: "You are the buyer's-journey architect. Walk the user through awareness, " +
			"consideration, decision and delight strictly in order, two to three exchanges per " +
			"phase, then move on. Always respond with a single JSON object: agentMessage, " +
			"progress, isComplete, currentState {stage, step_index}, output.",
		initialMessage: func(actx AccountContext, prior map[string]map[string]any) (string, []string) {
			persona := "your buyer persona"
			if s1 := prior["stage_1"]; s1 != nil {
				if bp, ok := s1["buyerPersona"].(map[string]any); ok {
					if name, ok := bp["name"].(string); ok && name != "" {
						persona = name
					}
				}
			}
			return fmt.Sprintf("Hello! I'm your Journey architect. We'll map the journey for **%s** at **%s**.\n\nPhase 1: **Awareness**. What triggers %s to start looking for a solution? Name one or two main triggers.",
				persona, displayName(actx.CompanyName, "your brand"), persona), nil
		},
	},
	3: {
		Number:     3,
		Name:       "ofertas",
		Title:      "Ofertas 100M",
		Phases:     []string{"value_equation", "storybrand", "offer_stack"},
		PromptFile: "agent-3-ofertas.txt",
		fallbackPrompt: "You are the offer strategist. Phases in order: value_equation, " +
			"storybrand, offer_stack. Always respond with a single JSON object: agentMessage, " +
			"state {currentPhase, collectedData}, completed, output.",
		initialMessage: func(actx AccountContext, _ map[string]map[string]any) (string, []string) {
			return fmt.Sprintf("I'm your offer strategist. We'll turn what %s sells into an offer people feel silly refusing.\n\nPhase 1: the value equation. What is the dream outcome your best customer is really buying?",
				displayName(actx.CompanyName, "your company")), nil
		},
	},
	4: {
		Number:     4,
		Name:       "canales",
		Title:      "Channel Selector",
		Phases:     []string{"discovery", "research", "strategy"},
		PromptFile: "agent-4-canales.txt",
		fallbackPrompt: "You are the channel selector. Phases in order: discovery, research, " +
			"strategy. Always respond with a single JSON object: agentMessage, state " +
			"{currentPhase, collectedData}, completed, output.",
		initialMessage: func(actx AccountContext, _ map[string]map[string]any) (string, []string) {
			return "Time to pick your channels. Phase 1 is discovery: what is your monthly media budget range, and which channels have you already tried?", nil
		},
	},
	5: {
		Number:     5,
		Name:       "atlas",
		Title:      "Atlas (AEO Strategist)",
		Phases:     []string{"pillars", "clusters", "aeo_strategy"},
		PromptFile: "agent-5-atlas.txt",
		fallbackPrompt: "You are Atlas, the AEO strategist. Phases in order: pillars, clusters, " +
			"aeo_strategy. Always respond with a single JSON object: agentMessage, state " +
			"{currentPhase, collectedData}, completed, output.",
		initialMessage: func(actx AccountContext, _ map[string]map[string]any) (string, []string) {
			return "I'm Atlas. We'll make your brand the answer engines' recommended answer.\n\nPhase 1: if you had to write the definitive book on your industry, what would its three main chapters be? Those become your content pillars.", nil
		},
	},
	6: {
		Number:     6,
		Name:       "planner",
		Title:      "Planner (Content Strategist)",
		Phases:     []string{"frequency", "calendar", "briefs"},
		PromptFile: "agent-6-planner.txt",
		fallbackPrompt: "You are the content planner. Phases in order: frequency, calendar, " +
			"briefs. Always respond with a single JSON object: agentMessage, state " +
			"{currentPhase, collectedData}, completed, output.",
		initialMessage: func(actx AccountContext, _ map[string]map[string]any) (string, []string) {
			return "Let's turn strategy into a publishing plan. Phase 1: how many pieces of content per week can your team realistically produce, and in which formats?", nil
		},
	},
	7: {
		Number:     7,
		Name:       "budgets",
		Title:      "Budgets (Media Planner)",
		Phases:     []string{"benchmarks", "allocation", "forecasting"},
		PromptFile: "agent-7-budgets.txt",
		fallbackPrompt: "You are the media planner. Phases in order: benchmarks, allocation, " +
			"forecasting. Always respond with a single JSON object: agentMessage, state " +
			"{currentPhase, collectedData}, completed, output.",
		initialMessage: func(actx AccountContext, _ map[string]map[string]any) (string, []string) {
			return "Final stage: the media budget. Phase 1 is benchmarks. What total monthly budget are we planning against, and what does a customer's lifetime value look like?", nil
		},
	},
}

// ForStage returns the profile for a stage number, or false when the number
// is outside the fixed 1..7 topology.
func ForStage(number int) (*Profile, bool) {
	p, ok := profiles[number]
	return p, ok
}

// SystemPrompt assembles the agent's system turn: the prompt text (from the
// configured directory, falling back to the built-in default) plus the
// account context and prior stage outputs serialized as context blocks.
func (p *Profile) SystemPrompt(promptDir string, actx AccountContext, prior map[string]map[string]any) string {
	prompt := p.fallbackPrompt
	if promptDir != "" {
		if data, err := os.ReadFile(filepath.Join(promptDir, p.PromptFile)); err == nil {
			prompt = strings.TrimSpace(string(data))
		}
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nACCOUNT CONTEXT:\n")
	writeJSONBlock(&b, actx)
	if len(prior) > 0 {
		b.WriteString("\nPREVIOUS STAGE OUTPUTS:\n")
		writeJSONBlock(&b, prior)
	}
	return b.String()
}

// InitialMessage builds the agent's opening message and quick-reply buttons.
func (p *Profile) InitialMessage(actx AccountContext, prior map[string]map[string]any) (string, []string) {
	return p.initialMessage(actx, prior)
}

// FirstPhase returns the agent's starting sub-phase.
func (p *Profile) FirstPhase() string {
	return p.Phases[0]
}

// NextPhase returns the phase after current, or ("", false) when current is
// the last phase or unknown.
func (p *Profile) NextPhase(current string) (string, bool) {
	for i, phase := range p.Phases {
		if phase == current {
			if i+1 < len(p.Phases) {
				return p.Phases[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// KnowsPhase reports whether name is one of the agent's phases.
func (p *Profile) KnowsPhase(name string) bool {
	for _, phase := range p.Phases {
		if phase == name {
			return true
		}
	}
	return false
}

func writeJSONBlock(b *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	b.Write(data)
	b.WriteString("\n")
}

func displayName(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
