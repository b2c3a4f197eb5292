// Package transcript stitches speech capture sessions into one utterance.
//
// A capture backend only reports text heard within one continuous session.
// The [Accumulator] freezes whatever was visible when a session starts into a
// committed prefix, so a user can pause (stop) and resume (start) while
// building a single message. The visible transcript is always the committed
// prefix followed by the live text of the current session.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/speakingmate/internal/speech/capture"
)

// Advisory texts shown to the user. None of them is fatal.
const (
	AdvisoryStartFailed = "Failed to start speech recognition. Please try again."
	AdvisoryUnsupported = "Speech recognition is not supported in your browser. Please try Chrome or Safari."
	AdvisoryDenied      = "Microphone access was denied. Please allow microphone access and try again."
	AdvisoryNoSpeech    = "No speech was detected. Please try again."
	AdvisoryNetwork     = "Speech recognition lost its connection. Please try again."
)

// State is a snapshot of the accumulator.
type State struct {
	CommittedPrefix string `json:"committedPrefix"`
	LiveText        string `json:"liveText"`
	Listening       bool   `json:"isListening"`
	// Advisory is the last non-fatal capture problem, or "".
	Advisory string `json:"error,omitempty"`
}

// Transcript returns the externally visible text.
func (s State) Transcript() string { return s.CommittedPrefix + s.LiveText }

// Accumulator is the Idle/Listening state machine over a capture.Service.
// It is the only subscriber translating capture events into transcript
// state. It is safe for concurrent use; its lock is never held while calling
// the capture service.
type Accumulator struct {
	capture capture.Service

	mu          sync.Mutex
	state       State
	subscribers []func(State)
}

// New returns an Accumulator subscribed to svc.
func New(svc capture.Service) *Accumulator {
	a := &Accumulator{capture: svc}
	svc.Subscribe(observer{a})
	return a
}

// Supported mirrors the capture service's support flag.
func (a *Accumulator) Supported() bool { return a.capture.Supported() }

// Subscribe registers fn to receive the state after every change. fn is
// called without the lock held and must not block.
func (a *Accumulator) Subscribe(fn func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// Start moves Idle to Listening. The visible transcript becomes the committed
// prefix, trimmed and followed by one space when non-empty. Start while
// Listening is a no-op. If capture cannot start, the accumulator returns to
// Idle and the error is returned. The advisory is the one capture reported
// for the failure, or [AdvisoryStartFailed] when it reported none.
func (a *Accumulator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state.Listening {
		a.mu.Unlock()
		return nil
	}
	prefix := strings.TrimSpace(a.state.Transcript())
	if prefix != "" {
		prefix += " "
	}
	a.state = State{CommittedPrefix: prefix, Listening: true}
	a.publishLocked()

	if err := a.capture.Start(ctx); err != nil {
		a.mu.Lock()
		a.state.Listening = false
		if a.state.Advisory == "" {
			a.state.Advisory = AdvisoryStartFailed
		}
		a.publishLocked()
		slog.Warn("speech capture failed to start", "err", err)
		return fmt.Errorf("transcript: start: %w", err)
	}
	return nil
}

// Stop asks capture to stop and moves to Idle. The live text is kept until
// Reset. Updates delivered while capture winds down are still applied.
func (a *Accumulator) Stop() error {
	a.mu.Lock()
	if !a.state.Listening {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	err := a.capture.Stop()

	a.mu.Lock()
	a.state.Listening = false
	a.publishLocked()
	if err != nil {
		return fmt.Errorf("transcript: stop: %w", err)
	}
	return nil
}

// Reset clears the committed prefix, the live text and the advisory. The
// listening flag is left alone.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.state = State{Listening: a.state.Listening}
	a.publishLocked()
}

// Transcript returns committed prefix plus live text.
func (a *Accumulator) Transcript() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Transcript()
}

// Listening reports whether a capture session is active.
func (a *Accumulator) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Listening
}

// Advisory returns the last capture advisory, or "".
func (a *Accumulator) Advisory() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Advisory
}

// Snapshot returns the full state.
func (a *Accumulator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// publishLocked releases a.mu and then hands the new state to subscribers.
func (a *Accumulator) publishLocked() {
	st := a.state
	subs := make([]func(State), len(a.subscribers))
	copy(subs, a.subscribers)
	a.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

// observer adapts capture events onto the accumulator without exporting the
// callback methods.
type observer struct{ a *Accumulator }

var _ capture.Observer = observer{}

func (o observer) OnStart() {}

func (o observer) OnTranscriptUpdate(text string) {
	a := o.a
	a.mu.Lock()
	if !a.state.Listening {
		a.mu.Unlock()
		return
	}
	a.state.LiveText = text
	a.publishLocked()
}

func (o observer) OnEnd() {
	a := o.a
	a.mu.Lock()
	if !a.state.Listening {
		a.mu.Unlock()
		return
	}
	a.state.Listening = false
	a.publishLocked()
}

func (o observer) OnError(err error) {
	slog.Warn("speech capture advisory", "err", err)
	a := o.a
	a.mu.Lock()
	a.state.Listening = false
	a.state.Advisory = advisoryFor(err)
	a.publishLocked()
}

func advisoryFor(err error) string {
	switch {
	case errors.Is(err, capture.ErrUnsupported):
		return AdvisoryUnsupported
	case errors.Is(err, capture.ErrDenied):
		return AdvisoryDenied
	case errors.Is(err, capture.ErrNoSpeech):
		return AdvisoryNoSpeech
	case errors.Is(err, capture.ErrNetwork):
		return AdvisoryNetwork
	default:
		return AdvisoryStartFailed
	}
}
