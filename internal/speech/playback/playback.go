// Package playback speaks assistant replies aloud through a streaming TTS
// provider. At most one utterance plays at a time; a new Speak interrupts the
// current one.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/pkg/provider/tts"
)

// DefaultSpeed slows synthesis slightly for learners.
const DefaultSpeed = 0.9

// Service is the speech playback contract consumed by the session core.
type Service interface {
	Supported() bool
	Speak(ctx context.Context, text string) error
	Stop()
	Speaking() bool
	// Subscribe registers fn to be called with every change of the speaking
	// flag. fn must not call back into the Service.
	Subscribe(fn func(speaking bool))
}

// AudioSink receives synthesized audio, typically forwarded to the browser.
type AudioSink interface {
	PlayAudio(ctx context.Context, chunk []byte) error
}

// Option configures a [Player].
type Option func(*Player)

// WithVoice sets the voice. A zero SpeedFactor is replaced by [DefaultSpeed].
func WithVoice(v tts.VoiceProfile) Option {
	return func(p *Player) { p.voice = v }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// Player implements [Service] over a [tts.Provider]. It is safe for
// concurrent use.
type Player struct {
	provider tts.Provider
	sink     AudioSink
	voice    tts.VoiceProfile
	metrics  *observe.Metrics

	opMu        sync.Mutex
	mu          sync.Mutex
	cur         *utterance
	speaking    bool
	subscribers []func(bool)
}

var _ Service = (*Player)(nil)

type utterance struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer returns a [Player] streaming audio from provider into sink.
func NewPlayer(provider tts.Provider, sink AudioSink, opts ...Option) *Player {
	p := &Player{provider: provider, sink: sink}
	for _, o := range opts {
		o(p)
	}
	if p.voice.SpeedFactor == 0 {
		p.voice.SpeedFactor = DefaultSpeed
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Supported implements [Service].
func (p *Player) Supported() bool { return p.provider != nil && p.sink != nil }

// Speak implements [Service]. It interrupts any current utterance, starts
// synthesis, and returns once audio is streaming. Playback outlives ctx.
func (p *Player) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || !p.Supported() {
		return nil
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.interrupt()

	uctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audio, err := p.provider.SynthesizeStream(uctx, textCh, p.voice)
	if err != nil {
		cancel()
		return fmt.Errorf("playback: synthesize: %w", err)
	}

	u := &utterance{cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	p.cur = u
	p.mu.Unlock()
	p.setSpeaking(true)

	go p.play(uctx, u, audio)
	return nil
}

// Stop implements [Service]. It returns after the current utterance ended.
func (p *Player) Stop() {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.interrupt()
}

// Speaking implements [Service].
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Subscribe implements [Service].
func (p *Player) Subscribe(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

func (p *Player) interrupt() {
	p.mu.Lock()
	u := p.cur
	p.mu.Unlock()
	if u == nil {
		return
	}
	u.cancel()
	<-u.done
}

func (p *Player) play(ctx context.Context, u *utterance, audio <-chan []byte) {
	defer close(u.done)
	defer u.cancel()

	start := time.Now()
	for chunk := range audio {
		if ctx.Err() != nil {
			continue // drain so the provider goroutine can exit
		}
		if err := p.sink.PlayAudio(ctx, chunk); err != nil && ctx.Err() == nil {
			slog.Warn("playback: sink rejected audio, stopping utterance", "err", err)
			u.cancel()
		}
	}
	if ctx.Err() == nil {
		p.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	}

	p.mu.Lock()
	if p.cur == u {
		p.cur = nil
	}
	p.mu.Unlock()
	p.setSpeaking(false)
}

func (p *Player) setSpeaking(v bool) {
	p.mu.Lock()
	if p.speaking == v {
		p.mu.Unlock()
		return
	}
	p.speaking = v
	subs := make([]func(bool), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Silent is the [Service] used when no TTS backend is configured.
type Silent struct{}

var _ Service = Silent{}

func (Silent) Supported() bool { return false }
func (Silent) Speak(context.Context, string) error { return nil }
func (Silent) Stop() {}
func (Silent) Speaking() bool { return false }
func (Silent) Subscribe(func(bool)) {}
