package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/speakingmate/internal/resilience"
	"github.com/MrWong99/speakingmate/pkg/provider/llm"
)

// Kind classifies a completion failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration means the backend rejected our credentials or none
	// are configured.
	KindConfiguration
	KindRateLimited
	// KindServiceUnavailable covers 5xx responses, transport failures and
	// open circuit breakers.
	KindServiceUnavailable
	// KindAnalysisParseFailure means an analysis reply was not the expected
	// JSON shape.
	KindAnalysisParseFailure
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRateLimited:
		return "rate_limited"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindAnalysisParseFailure:
		return "analysis_parse_failure"
	default:
		return "unknown"
	}
}

// Operation names used in errors, spans and metrics.
const (
	OpRespond = "respond"
	OpSuggest = "suggest"
	OpGrammar = "grammar"
	OpAnalyze = "analyze"
)

// Error is a classified completion failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Kind-only sentinels for errors.Is matching:
//
//	if errors.Is(err, completion.ErrRateLimited) { ... }
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
)

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion: %s", e.Kind)
	}
	return fmt.Sprintf("completion: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or classifies
// err from the llm sentinels when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		return KindConfiguration
	case errors.Is(err, llm.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, llm.ErrUnavailable),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

func wrap(op string, err error) *Error {
	return &Error{Kind: classify(err), Op: op, Err: err}
}
