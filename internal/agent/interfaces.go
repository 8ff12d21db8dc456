package agent

import "context"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to the generator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallOptions tune a single generation call. Zero values fall back to the
// client's configured defaults.
type CallOptions struct {
	// Model overrides the client's default model for this call.
	Model string

	// Temperature is the sampling temperature. The validation gate uses a
	// fixed low temperature for determinism; conversational calls run warmer.
	Temperature float64

	// ForceJSON asks the provider for a JSON-only response where the API
	// supports it.
	ForceJSON bool
}

// ChatClient is the narrow interface the pipeline consumes for text
// generation: one conversation in, one raw text response out. Retry behavior
// belongs to the implementation, not the caller.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, opts CallOptions) (string, error)
}
