// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, Gemini, a
// local Ollama instance, ...) and exposes the single blocking completion call
// the conversation layer needs, without coupling callers to any SDK.
//
// Implementors must be safe for concurrent use. Failures that callers need to
// tell apart are reported by wrapping one of the sentinel errors below, so
// errors.Is(err, llm.ErrRateLimited) works regardless of the backend.
package llm

import (
	"context"
	"errors"
)

// Sentinel errors shared by all providers.
var (
	// ErrUnauthorized reports a missing, invalid, or revoked API key.
	ErrUnauthorized = errors.New("llm: unauthorized")

	// ErrRateLimited reports that the backend throttled the request.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrUnavailable reports a backend-side failure (5xx, overloaded, unreachable).
	ErrUnavailable = errors.New("llm: service unavailable")
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ResponseFormat selects how the model is asked to shape its reply.
type ResponseFormat string

const (
	// FormatText is free-form text (the default).
	FormatText ResponseFormat = ""

	// FormatJSON asks the model for a single JSON object.
	FormatJSON ResponseFormat = "json_object"
)

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before the conversation history. Providers without
	// a dedicated system field prepend it as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// PresencePenalty and FrequencyPenalty are passed through when non-zero.
	// Backends that do not support them ignore them.
	PresencePenalty  float64
	FrequencyPenalty float64

	// Format requests structured output. Providers whose model does not
	// support JSON mode fall back to plain text and rely on the prompt.
	Format ResponseFormat
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model. The
	// result is constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsJSONMode indicates the model honours FormatJSON natively.
	SupportsJSONMode bool
}

// ClassifyStatus maps an HTTP status code from a provider API onto the
// matching sentinel, or nil when the status carries no special meaning.
func ClassifyStatus(code int) error {
	switch {
	case code == 401 || code == 403:
		return ErrUnauthorized
	case code == 429:
		return ErrRateLimited
	case code >= 500:
		return ErrUnavailable
	}
	return nil
}
