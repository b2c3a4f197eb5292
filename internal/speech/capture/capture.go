// Package capture turns microphone audio into a running transcript.
//
// A capture session lasts from Start to Stop. During a session the [Service]
// reports, to every subscribed [Observer], the combined final and interim
// text recognised so far in that session only. Text from earlier sessions is
// never repeated; stitching sessions together is the caller's job.
package capture

import (
	"context"
	"errors"
)

// Advisories reported through [Observer.OnError]. None of them is fatal:
// the service stays usable after any of them.
var (
	// ErrUnsupported means no speech recognition backend is configured.
	ErrUnsupported = errors.New("capture: speech recognition is not supported")

	// ErrDenied means no microphone is available to this session, typically
	// because the browser refused permission or no client is connected.
	ErrDenied = errors.New("capture: microphone access denied")

	// ErrNoSpeech means nothing was recognised before the silence timeout.
	ErrNoSpeech = errors.New("capture: no speech detected")

	// ErrNetwork means the recognition backend failed or went away.
	ErrNetwork = errors.New("capture: network error")

	// ErrSourceBusy is returned by an [AudioSource] that is already open.
	ErrSourceBusy = errors.New("capture: audio source already open")
)

// Observer receives capture events. Callbacks are invoked sequentially from a
// single goroutine per session and must not call back into the Service.
type Observer interface {
	OnStart()
	OnTranscriptUpdate(text string)
	OnEnd()
	OnError(err error)
}

// Service is a speech capture backend.
type Service interface {
	// Supported reports whether capture can work at all.
	Supported() bool

	// Subscribe registers o for all future events.
	Subscribe(o Observer)

	// Start opens a new session. Starting while a session is active is a
	// no-op. A failure is also reported through OnError.
	Start(ctx context.Context) error

	// Stop ends the session. It returns after the last transcript update and
	// OnEnd for the session have been delivered.
	Stop() error

	// Abort ends the session without delivering further events.
	Abort()
}

// Unsupported is the [Service] used when no recognition backend exists.
type Unsupported struct{}

var _ Service = Unsupported{}

func (Unsupported) Supported() bool { return false }
func (Unsupported) Subscribe(Observer) {}
func (Unsupported) Start(context.Context) error { return ErrUnsupported }
func (Unsupported) Stop() error { return nil }
func (Unsupported) Abort() {}
