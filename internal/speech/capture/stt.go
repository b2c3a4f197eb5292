package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/schedule"
	"github.com/MrWong99/speakingmate/pkg/provider/stt"
)

const defaultNoSpeechTimeout = 8 * time.Second

// Option configures an [STTService].
type Option func(*STTService)

// WithStreamConfig sets the audio format announced to the STT provider.
// Default: self-describing container (browser webm/opus), mono, en-US.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(s *STTService) { s.cfg = cfg }
}

// WithScheduler sets the scheduler used for the silence timeout.
func WithScheduler(sched schedule.Scheduler) Option {
	return func(s *STTService) { s.sched = sched }
}

// WithNoSpeechTimeout ends a session with [ErrNoSpeech] when nothing is
// recognised within d of starting. Zero disables the timeout. Default: 8s.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(s *STTService) { s.noSpeech = d }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *STTService) { s.metrics = m }
}

// STTService implements [Service] by streaming frames from an [AudioSource]
// into an [stt.Provider] session. It is safe for concurrent use.
type STTService struct {
	provider stt.Provider
	source   AudioSource
	cfg      stt.StreamConfig
	sched    schedule.Scheduler
	noSpeech time.Duration
	metrics  *observe.Metrics

	// opMu serialises Start and Stop. mu guards the fields below.
	opMu      sync.Mutex
	mu        sync.Mutex
	observers []Observer
	cur       *session
}

var _ Service = (*STTService)(nil)

type session struct {
	handle stt.SessionHandle
	cancel context.CancelFunc
	done   chan struct{}

	// Guarded by STTService.mu.
	stopped     bool
	aborted     bool
	silent      bool
	cancelTimer schedule.Cancel
}

// NewSTTService returns an [STTService] reading audio from source.
func NewSTTService(provider stt.Provider, source AudioSource, opts ...Option) *STTService {
	s := &STTService{
		provider: provider,
		source:   source,
		cfg:      stt.StreamConfig{Channels: 1, Language: "en-US"},
		sched:    schedule.Real{},
		noSpeech: defaultNoSpeechTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Supported implements [Service].
func (s *STTService) Supported() bool { return s.provider != nil }

// Subscribe implements [Service].
func (s *STTService) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start implements [Service]. The session outlives ctx's cancellation; it
// ends only through Stop, Abort, the silence timeout or a backend failure.
func (s *STTService) Start(ctx context.Context) error {
	if s.provider == nil {
		return s.fail(ctx, ErrUnsupported)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	active := s.cur != nil
	s.mu.Unlock()
	if active {
		return nil
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, err := s.source.Open(sctx)
	if err != nil {
		cancel()
		if !errors.Is(err, ErrDenied) {
			err = fmt.Errorf("%w: %w", ErrDenied, err)
		}
		return s.fail(ctx, err)
	}
	handle, err := s.provider.StartStream(sctx, s.cfg)
	if err != nil {
		s.source.Close()
		cancel()
		return s.fail(ctx, fmt.Errorf("%w: %w", ErrNetwork, err))
	}

	sess := &session{handle: handle, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.cur = sess
	if s.noSpeech > 0 {
		sess.cancelTimer = s.sched.AfterFunc(s.noSpeech, func() { s.expire(sess) })
	}
	s.mu.Unlock()

	s.metrics.CaptureSessions.Add(ctx, 1)
	s.metrics.ActiveListeners.Add(ctx, 1)

	go s.pump(frames, handle)
	go s.read(sctx, sess)
	return nil
}

// Stop implements [Service].
func (s *STTService) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	sess := s.cur
	if sess == nil {
		s.mu.Unlock()
		return nil
	}
	sess.stopped = true
	s.stopTimerLocked(sess)
	s.mu.Unlock()

	s.source.Close()
	err := sess.handle.Close()
	<-sess.done
	if err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	return nil
}

// Abort implements [Service]. It does not wait for the session to wind down.
func (s *STTService) Abort() {
	s.mu.Lock()
	sess := s.cur
	if sess == nil {
		s.mu.Unlock()
		return
	}
	sess.stopped = true
	sess.aborted = true
	s.stopTimerLocked(sess)
	s.mu.Unlock()

	s.source.Close()
	if err := sess.handle.Close(); err != nil {
		slog.Debug("capture: abort: close stt session", "err", err)
	}
	sess.cancel()
}

// Listening reports whether a session is active.
func (s *STTService) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

func (s *STTService) stopTimerLocked(sess *session) {
	if sess.cancelTimer != nil {
		sess.cancelTimer()
		sess.cancelTimer = nil
	}
}

// expire ends a session that heard nothing before the silence timeout.
func (s *STTService) expire(sess *session) {
	s.mu.Lock()
	if s.cur != sess || sess.stopped || sess.cancelTimer == nil {
		s.mu.Unlock()
		return
	}
	sess.silent = true
	sess.cancelTimer = nil
	s.mu.Unlock()

	s.source.Close()
	_ = sess.handle.Close()
}

func (s *STTService) pump(frames <-chan []byte, handle stt.SessionHandle) {
	for frame := range frames {
		if err := handle.SendAudio(frame); err != nil {
			if errors.Is(err, stt.ErrSessionClosed) {
				return
			}
			slog.Debug("capture: send audio", "err", err)
		}
	}
}

// read relays provider transcripts to observers until both channels close,
// then reports how the session ended.
func (s *STTService) read(ctx context.Context, sess *session) {
	defer close(sess.done)
	defer sess.cancel()

	s.notify(sess, func(o Observer) { o.OnStart() })

	var final, interim, last string
	partials, finals := sess.handle.Partials(), sess.handle.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			interim = t.Text
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			final = joinText(final, t.Text)
			interim = ""
		}
		text := joinText(final, interim)
		if text == last {
			continue
		}
		last = text
		if text != "" {
			s.mu.Lock()
			s.stopTimerLocked(sess)
			s.mu.Unlock()
		}
		s.notify(sess, func(o Observer) { o.OnTranscriptUpdate(text) })
	}

	s.source.Close()
	_ = sess.handle.Close()

	s.mu.Lock()
	var advisory error
	switch {
	case sess.silent:
		advisory = ErrNoSpeech
	case !sess.stopped:
		advisory = fmt.Errorf("%w: recognition stream ended unexpectedly", ErrNetwork)
	}
	s.stopTimerLocked(sess)
	if s.cur == sess {
		s.cur = nil
	}
	s.mu.Unlock()

	s.metrics.ActiveListeners.Add(ctx, -1)
	if advisory != nil {
		s.report(ctx, sess, advisory)
	}
	s.notify(sess, func(o Observer) { o.OnEnd() })
}

// fail reports an advisory outside of any session and returns it.
func (s *STTService) fail(ctx context.Context, err error) error {
	s.report(ctx, nil, err)
	return err
}

func (s *STTService) report(ctx context.Context, sess *session, err error) {
	slog.Warn("capture advisory", "err", err)
	s.metrics.RecordCaptureError(ctx, advisoryKind(err))
	s.notify(sess, func(o Observer) { o.OnError(err) })
}

// notify calls fn for every observer unless sess was aborted. The lock is not
// held during the callbacks.
func (s *STTService) notify(sess *session, fn func(Observer)) {
	s.mu.Lock()
	if sess != nil && sess.aborted {
		s.mu.Unlock()
		return
	}
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	s.mu.Unlock()

	for _, o := range obs {
		fn(o)
	}
}

func advisoryKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
