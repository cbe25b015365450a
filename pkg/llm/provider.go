package llm

import "context"

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)

	// Stream sends a chat completion request and returns a channel of
	// incremental deltas. The channel is closed when the completion ends;
	// a failure after the request was accepted arrives as a Delta with Err.
	// Passing no tools requests a text-only completion.
	Stream(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
