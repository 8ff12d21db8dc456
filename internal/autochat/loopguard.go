package autochat

// loop detection threshold: this many identical consecutive agent messages
// trigger a forced finalize.
const loopThreshold = 3

// DefaultWindow is how many recent agent messages the guard remembers.
const DefaultWindow = 5

// LoopGuard watches the agent side of an automated conversation for
// repetition. An agent stuck emitting the same message would otherwise spin
// the simulated counterpart forever.
type LoopGuard struct {
	window int
	recent []string
}

func NewLoopGuard(window int) *LoopGuard {
	if window < loopThreshold {
		window = DefaultWindow
	}
	return &LoopGuard{window: window}
}

// Observe records one agent message and reports whether a loop is detected:
// the message matches every one of the last three recorded messages.
func (g *LoopGuard) Observe(message string) bool {
	if len(g.recent) >= loopThreshold {
		looping := true
		for _, prev := range g.recent[len(g.recent)-loopThreshold:] {
			if prev != message {
				looping = false
				break
			}
		}
		if looping {
			return true
		}
	}

	g.recent = append(g.recent, message)
	if len(g.recent) > g.window {
		g.recent = g.recent[1:]
	}
	return false
}
