package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/speakingmate/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. Unless cfg already sets one, the breaker only counts errors that
// say something about the backend's health (rate limiting, unavailability,
// bad credentials); a cancelled request does not count.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.CircuitBreaker.Counts == nil {
		cfg.CircuitBreaker.Counts = countsAgainstLLM
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

func countsAgainstLLM(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the capabilities of the primary.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// States reports the breaker state of every backend, for health checks.
func (f *LLMFallback) States() []EntryState {
	return f.group.States()
}
