// Package contract recovers structured agent replies from raw model output.
//
// Models routinely wrap their JSON in prose or markdown fences, rename the
// message field, or skip JSON entirely. The parser here never fails: when no
// object can be recovered, the whole response becomes the user-facing message
// and the conversation simply continues.
package contract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reply is the structured result of parsing one model response.
type Reply struct {
	// Message is the user-facing text. Always non-empty for non-empty input.
	Message string

	// Completed reports whether the agent declared the stage finished.
	Completed bool

	// Phase is the sub-phase the agent reports being in ("" when absent).
	Phase string

	// PhaseData carries agent-specific collected data from the state block.
	PhaseData map[string]any

	// Output is the candidate final deliverable (nil unless provided).
	Output map[string]any

	Progress      int
	ProgressLabel string
	ProgressStep  string

	Buttons         []string
	ConfidenceScore int

	// Structured reports whether a JSON object was actually recovered.
	// When false, every field other than Message holds its zero value and
	// Completed is forced to false.
	Structured bool
}

// Parse extracts a Reply from raw model output.
func Parse(raw string) Reply {
	obj, ok := extractObject(raw)
	if !ok {
		return Reply{Message: strings.TrimSpace(raw)}
	}

	r := Reply{Structured: true}

	r.Message = firstString(obj, "agentMessage", "message", "response")
	if r.Message == "" {
		// Structured but message-less responses still need something to show.
		r.Message = strings.TrimSpace(raw)
	}

	r.Completed = firstBool(obj, "isComplete", "completed")

	if state, ok := subObject(obj, "currentState", "state"); ok {
		r.Phase = firstString(state, "stage", "currentPhase", "phase")
		if data, ok := subObject(state, "collectedData", "journeyData", "data"); ok {
			r.PhaseData = data
		}
	}

	if out, ok := subObject(obj, "output"); ok {
		r.Output = out
	}

	r.Progress, r.ProgressLabel, r.ProgressStep = parseProgress(obj["progress"])
	r.Buttons = parseButtons(obj["buttons"])
	if v, ok := asInt(obj["confidenceScore"]); ok {
		r.ConfidenceScore = v
	}

	return r
}

// CleanJSON strips markdown fences and surrounding prose, returning the
// outermost {...} span of the text. Returns "" when no object is present.
func CleanJSON(raw string) string {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(cleaned[start : end+1])
}

// extractObject finds the outermost JSON object in text and decodes it.
// Markdown fences are stripped first so a fence's closing brace cannot
// shadow the object's.
func extractObject(raw string) (map[string]any, bool) {
	cleaned := CleanJSON(raw)
	if cleaned == "" {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstBool(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := obj[k].(bool); ok {
			return b
		}
	}
	return false
}

func subObject(obj map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if m, ok := obj[k].(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

// parseProgress accepts either a bare number or a structured
// {percentage, label, stepText} block.
func parseProgress(v any) (pct int, label, step string) {
	switch p := v.(type) {
	case map[string]any:
		pct, _ = asInt(p["percentage"])
		label, _ = p["label"].(string)
		step, _ = p["stepText"].(string)
		if label == "" {
			label = fmt.Sprintf("%d%%", pct)
		}
	default:
		if n, ok := asInt(v); ok {
			pct = n
			label = fmt.Sprintf("%d%%", n)
		}
	}
	return pct, label, step
}

func parseButtons(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	buttons := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			buttons = append(buttons, s)
		}
	}
	if len(buttons) == 0 {
		return nil
	}
	return buttons
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case int:
		return n, true
	}
	return 0, false
}
