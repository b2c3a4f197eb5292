// Package mock provides a test double for capture.Service.
//
// Tests drive the subscribed observers directly with Update, Fail, and End,
// and inspect StartCalls/StopCalls/AbortCalls.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakingmate/internal/speech/capture"
)

// Service is a mock implementation of capture.Service. Its zero value is a
// supported service whose Start and Stop succeed.
type Service struct {
	mu sync.Mutex

	// Unsupported makes Supported return false.
	Unsupported bool

	// StartErr, if non-nil, is delivered to observers through OnError and
	// returned by Start, as STTService reports start failures.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// OnStop, if set, runs inside Stop before it returns, so a test can
	// deliver a trailing transcript update the way a real backend flushes one.
	OnStop func(s *Service)

	StartCalls int
	StopCalls  int
	AbortCalls int

	observers []capture.Observer
	listening bool
}

var _ capture.Service = (*Service)(nil)

// Supported implements capture.Service.
func (s *Service) Supported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Unsupported
}

// Subscribe implements capture.Service.
func (s *Service) Subscribe(o capture.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start implements capture.Service. On success it delivers OnStart; on
// failure OnError.
func (s *Service) Start(context.Context) error {
	s.mu.Lock()
	s.StartCalls++
	err := s.StartErr
	if err == nil {
		s.listening = true
	}
	s.mu.Unlock()
	if err != nil {
		s.each(func(o capture.Observer) { o.OnError(err) })
		return err
	}
	s.each(func(o capture.Observer) { o.OnStart() })
	return nil
}

// Stop implements capture.Service. It runs OnStop, then delivers OnEnd.
func (s *Service) Stop() error {
	s.mu.Lock()
	s.StopCalls++
	hook, err, was := s.OnStop, s.StopErr, s.listening
	s.listening = false
	s.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	if was {
		s.each(func(o capture.Observer) { o.OnEnd() })
	}
	return err
}

// Abort implements capture.Service.
func (s *Service) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AbortCalls++
	s.listening = false
}

// Update delivers a transcript update to every observer.
func (s *Service) Update(text string) {
	s.each(func(o capture.Observer) { o.OnTranscriptUpdate(text) })
}

// Fail delivers an advisory to every observer and ends the session.
func (s *Service) Fail(err error) {
	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()
	s.each(func(o capture.Observer) { o.OnError(err) })
}

// End delivers OnEnd to every observer.
func (s *Service) End() {
	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()
	s.each(func(o capture.Observer) { o.OnEnd() })
}

// Counts returns the Start, Stop, and Abort call counts. Thread-safe.
func (s *Service) Counts() (start, stop, abort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCalls, s.StopCalls, s.AbortCalls
}

func (s *Service) each(fn func(capture.Observer)) {
	s.mu.Lock()
	obs := make([]capture.Observer, len(s.observers))
	copy(obs, s.observers)
	s.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}
