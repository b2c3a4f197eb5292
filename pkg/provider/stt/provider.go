// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. Once opened, a session accepts
// raw audio frames and emits two streams of Transcript values: low-latency
// partials and authoritative finals.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz for raw PCM input. Ignored for
	// containerised encodings such as webm.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Encoding names the audio encoding ("linear16", "opus", or "" for a
	// self-describing container such as the browser's webm/opus).
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	Language string
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of audio to the provider. Calling SendAudio
	// after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim Transcript values. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits authoritative Transcript values. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio, waits for the provider's last results to be
	// delivered, and releases all resources. After Close returns, Partials and
	// Finals are closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
