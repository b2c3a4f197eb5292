// Package mock provides a test double for the completion.Service interface.
//
// Each operation returns its configured result, or delegates to the matching
// *Func hook when set. All calls are recorded.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakingmate/internal/completion"
)

// RespondCall records one Respond invocation.
type RespondCall struct {
	Text        string
	History     []completion.Turn
	Personality string
}

// SuggestCall records one Suggest invocation.
type SuggestCall struct {
	History     []completion.Turn
	Personality string
}

// AnalyzeCall records one Analyze invocation.
type AnalyzeCall struct {
	UserMessages []string
	ContactName  string
	Date         string
}

// Service is a mock implementation of completion.Service.
type Service struct {
	mu sync.Mutex

	RespondFunc   func(ctx context.Context, text string, history []completion.Turn, personality string) (string, error)
	RespondResult string
	RespondErr    error

	SuggestFunc   func(ctx context.Context, history []completion.Turn, personality string) (string, error)
	SuggestResult string
	SuggestErr    error

	// CorrectGrammarFunc, if set, computes corrections. Otherwise
	// CorrectionResult is returned when non-nil, and {Original: text} when nil.
	CorrectGrammarFunc func(ctx context.Context, text string) completion.Correction
	CorrectionResult   *completion.Correction

	AnalyzeFunc   func(ctx context.Context, userMessages []string, contactName, date string) (completion.Analysis, error)
	AnalyzeResult completion.Analysis
	AnalyzeErr    error

	RespondCalls []RespondCall
	SuggestCalls []SuggestCall
	GrammarCalls []string
	AnalyzeCalls []AnalyzeCall
}

var _ completion.Service = (*Service)(nil)

// Respond implements completion.Service.
func (s *Service) Respond(ctx context.Context, text string, history []completion.Turn, personality string) (string, error) {
	s.mu.Lock()
	s.RespondCalls = append(s.RespondCalls, RespondCall{Text: text, History: history, Personality: personality})
	fn, res, err := s.RespondFunc, s.RespondResult, s.RespondErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, text, history, personality)
	}
	return res, err
}

// Suggest implements completion.Service.
func (s *Service) Suggest(ctx context.Context, history []completion.Turn, personality string) (string, error) {
	s.mu.Lock()
	s.SuggestCalls = append(s.SuggestCalls, SuggestCall{History: history, Personality: personality})
	fn, res, err := s.SuggestFunc, s.SuggestResult, s.SuggestErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, history, personality)
	}
	return res, err
}

// CorrectGrammar implements completion.Service.
func (s *Service) CorrectGrammar(ctx context.Context, text string) completion.Correction {
	s.mu.Lock()
	s.GrammarCalls = append(s.GrammarCalls, text)
	fn, res := s.CorrectGrammarFunc, s.CorrectionResult
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	if res != nil {
		return *res
	}
	return completion.Correction{Original: text}
}

// Analyze implements completion.Service.
func (s *Service) Analyze(ctx context.Context, userMessages []string, contactName, date string) (completion.Analysis, error) {
	s.mu.Lock()
	s.AnalyzeCalls = append(s.AnalyzeCalls, AnalyzeCall{UserMessages: userMessages, ContactName: contactName, Date: date})
	fn, res, err := s.AnalyzeFunc, s.AnalyzeResult, s.AnalyzeErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, userMessages, contactName, date)
	}
	return res, err
}

// RespondCallCount returns the number of Respond calls. Thread-safe.
func (s *Service) RespondCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.RespondCalls)
}

// SuggestCallCount returns the number of Suggest calls. Thread-safe.
func (s *Service) SuggestCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SuggestCalls)
}

// Analyzed returns a copy of the recorded Analyze calls. Thread-safe.
func (s *Service) Analyzed() []AnalyzeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AnalyzeCall, len(s.AnalyzeCalls))
	copy(out, s.AnalyzeCalls)
	return out
}
