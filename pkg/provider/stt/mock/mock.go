// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit(stt.Transcript{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakingmate/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, StartStream returns a new
	// Session from NewSession.
	Session *Session

	// NewSessionFunc, if set, is called on every StartStream to produce a fresh
	// session. Takes precedence over Session.
	NewSessionFunc func() *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.NewSessionFunc != nil {
		return p.NewSessionFunc(), nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// StartCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a mock implementation of stt.SessionHandle. Tests push
// transcripts with Emit; Close closes both channels.
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	closed   bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// OnClose, if set, runs inside Close before the channels are closed, so a
	// test can emit a trailing final the way a real provider flushes one.
	OnClose func(emit func(stt.Transcript))

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// Emit delivers t on the partials or finals channel depending on t.IsFinal.
// Emitting after Close is a no-op.
func (s *Session) Emit(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(t)
}

func (s *Session) emitLocked(t stt.Transcript) {
	if s.closed {
		return
	}
	if t.IsFinal {
		s.finals <- t
	} else {
		s.partials <- t
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Partials returns the partials channel.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the finals channel.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Close runs OnClose, closes both channels, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	if s.OnClose != nil {
		s.OnClose(s.emitLocked)
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return s.CloseErr
}
