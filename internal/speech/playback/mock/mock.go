// Package mock provides a test double for playback.Service.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakingmate/internal/speech/playback"
)

// Service is a mock implementation of playback.Service. Speak marks the
// service as speaking until Stop or Finish is called.
type Service struct {
	mu sync.Mutex

	// Unsupported makes Supported return false.
	Unsupported bool

	// SpeakErr, if non-nil, is returned by Speak.
	SpeakErr error

	Spoken    []string
	StopCalls int

	speaking    bool
	subscribers []func(bool)
}

var _ playback.Service = (*Service)(nil)

// Supported implements playback.Service.
func (s *Service) Supported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Unsupported
}

// Speak implements playback.Service.
func (s *Service) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	s.Spoken = append(s.Spoken, text)
	err := s.SpeakErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.set(true)
	return nil
}

// Stop implements playback.Service.
func (s *Service) Stop() {
	s.mu.Lock()
	s.StopCalls++
	s.mu.Unlock()
	s.set(false)
}

// Finish simulates the end of the current utterance.
func (s *Service) Finish() { s.set(false) }

// Speaking implements playback.Service.
func (s *Service) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Subscribe implements playback.Service.
func (s *Service) Subscribe(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// SpokenTexts returns a copy of every text passed to Speak. Thread-safe.
func (s *Service) SpokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Spoken...)
}

func (s *Service) set(v bool) {
	s.mu.Lock()
	if s.speaking == v {
		s.mu.Unlock()
		return
	}
	s.speaking = v
	subs := append(([]func(bool))(nil), s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}
