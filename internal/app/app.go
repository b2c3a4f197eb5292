// Package app wires all SpeakingMate subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP and websocket surface, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithScheduler, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speakingmate/internal/chat"
	"github.com/MrWong99/speakingmate/internal/completion"
	"github.com/MrWong99/speakingmate/internal/config"
	"github.com/MrWong99/speakingmate/internal/contact"
	"github.com/MrWong99/speakingmate/internal/coordinator"
	"github.com/MrWong99/speakingmate/internal/health"
	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/report"
	"github.com/MrWong99/speakingmate/internal/resilience"
	"github.com/MrWong99/speakingmate/internal/schedule"
	"github.com/MrWong99/speakingmate/internal/server"
	"github.com/MrWong99/speakingmate/internal/speech/capture"
	"github.com/MrWong99/speakingmate/internal/speech/playback"
	"github.com/MrWong99/speakingmate/internal/store"
	"github.com/MrWong99/speakingmate/internal/transcript"
	"github.com/MrWong99/speakingmate/pkg/provider/llm"
	"github.com/MrWong99/speakingmate/pkg/provider/stt"
	"github.com/MrWong99/speakingmate/pkg/provider/tts"
)

// audioBuffer is the number of microphone frames queued between the
// websocket reader and the STT stream.
const audioBuffer = 64

// NamedLLM is an LLM provider together with the name it was configured under.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM          llm.Provider
	LLMName      string
	LLMFallbacks []NamedLLM
	STT          stt.Provider
	TTS          tts.Provider

	// Voice is the TTS voice used for every reply.
	Voice tts.VoiceProfile
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store          store.Store
	sched          schedule.Scheduler
	metrics        *observe.Metrics
	metricsHandler http.Handler

	llm         *resilience.LLMFallback
	completion  completion.Service
	audio       *capture.PushSource
	capture     capture.Service
	hub         *server.Hub
	playback    playback.Service
	contacts    *contact.Registry
	chats       *chat.Store
	transcript  *transcript.Accumulator
	reports     *report.Store
	generator   *report.Generator
	coordinator *coordinator.Coordinator
	health      *health.Handler
	server      *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a persistence backend instead of creating one from
// config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithScheduler sets the scheduler used for delayed speech and the capture
// silence timeout. Default: [schedule.Real].
func WithScheduler(s schedule.Scheduler) Option {
	return func(a *App) { a.sched = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together and loading persisted
// state. The providers struct comes from main.go (populated via the config
// registry). A nil providers value runs with every provider unconfigured.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		sched:     schedule.Real{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Persistence ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Completion ────────────────────────────────────────────────────
	a.initCompletion()

	// ── 3. Speech in and out ─────────────────────────────────────────────
	a.initSpeech()

	// ── 4. Conversation state ────────────────────────────────────────────
	if err := a.initState(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init state: %w", err)
	}

	// ── 5. Coordinator + HTTP surface ────────────────────────────────────
	a.coordinator = coordinator.New(coordinator.Config{
		Contacts:        a.contacts,
		Chats:           a.chats,
		Transcript:      a.transcript,
		Completion:      a.completion,
		Playback:        a.playback,
		Reports:         a.reports,
		Generator:       a.generator,
		ResumeUtterance: cfg.Chat.ResumeUtterance,
	})
	a.initHealth()
	a.server = server.New(server.Config{
		Addr:           cfg.Server.ListenAddr,
		CertFile:       tlsCert(cfg),
		KeyFile:        tlsKey(cfg),
		Coordinator:    a.coordinator,
		Reports:        a.reports,
		Audio:          a.audio,
		Hub:            a.hub,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Storage.Backend {
	case config.StorageFile:
		fs, err := store.NewFileStore(a.cfg.Storage.Dir)
		if err != nil {
			return err
		}
		a.store = fs
		slog.Info("using file store", "dir", a.cfg.Storage.Dir)

	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		ps := store.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			return err
		}
		a.store = ps
		slog.Info("using postgres store")

	default:
		a.store = store.NewMemStore(nil)
		slog.Warn("using in-memory store; state is lost on exit")
	}
	return nil
}

// initCompletion puts the configured LLMs behind circuit breakers. Without a
// primary LLM every completion fails with a configuration error.
func (a *App) initCompletion() {
	if a.providers.LLM == nil {
		a.completion = completion.Unconfigured{}
		slog.Warn("no LLM configured; replies, help and reports are unavailable")
		return
	}

	name := a.providers.LLMName
	if name == "" {
		name = a.cfg.Providers.LLM.Name
	}
	r := a.cfg.Resilience
	a.llm = resilience.NewLLMFallback(a.providers.LLM, name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  r.MaxFailures,
			ResetTimeout: r.ResetTimeout,
			HalfOpenMax:  r.HalfOpenMax,
		},
	})
	for _, fb := range a.providers.LLMFallbacks {
		a.llm.AddFallback(fb.Name, fb.Provider)
	}
	a.completion = completion.NewLLMService(a.llm,
		completion.WithHistoryLimit(a.cfg.Chat.HistoryLimit),
		completion.WithMetrics(a.metrics),
	)
}

// initSpeech builds recognition over the websocket microphone stream and
// playback into the websocket hub.
func (a *App) initSpeech() {
	a.audio = capture.NewPushSource(audioBuffer)
	a.hub = server.NewHub()

	if a.providers.STT != nil {
		a.capture = capture.NewSTTService(a.providers.STT, a.audio,
			capture.WithStreamConfig(stt.StreamConfig{
				Channels: 1,
				Language: a.cfg.Chat.Language,
			}),
			capture.WithScheduler(a.sched),
			capture.WithMetrics(a.metrics),
		)
	} else {
		a.capture = capture.Unsupported{}
		slog.Info("no STT configured; speech input disabled")
	}

	if a.providers.TTS != nil {
		a.playback = playback.NewPlayer(a.providers.TTS, a.hub,
			playback.WithVoice(a.providers.Voice),
			playback.WithMetrics(a.metrics),
		)
	} else {
		a.playback = playback.Silent{}
		slog.Info("no TTS configured; speech output disabled")
	}
}

// initState builds and loads the contact registry, conversations and reports.
func (a *App) initState(ctx context.Context) error {
	var builtins []contact.Contact
	if len(a.cfg.Characters) > 0 {
		builtins = a.cfg.Characters
	}
	a.contacts = contact.NewRegistry(a.store, builtins)
	if err := a.contacts.Load(ctx); err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}

	a.chats = chat.NewStore(a.store, a.completion,
		chat.WithScheduler(a.sched),
		chat.WithSpeakDelay(a.cfg.Chat.SpeakDelay),
		chat.WithPreviewLength(a.cfg.Chat.PreviewLength),
		chat.WithMetrics(a.metrics),
	)
	if err := a.chats.Load(ctx); err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	a.transcript = transcript.New(a.capture)

	a.reports = report.NewStore(a.store)
	if err := a.reports.Load(ctx); err != nil {
		return fmt.Errorf("load reports: %w", err)
	}
	a.generator = report.NewGenerator(a.chats, a.contacts, a.completion, a.reports,
		report.WithConcurrency(a.cfg.Chat.ReportConcurrency),
		report.WithMetrics(a.metrics),
	)

	slog.Info("state loaded",
		"contacts", len(a.contacts.All()),
		"conversations", len(a.chats.Snapshot()),
		"reports", len(a.reports.List()),
	)
	return nil
}

// initHealth registers readiness checks for the store and the LLM breakers.
func (a *App) initHealth() {
	var checkers []health.Checker
	if p, ok := a.store.(store.Pinger); ok {
		checkers = append(checkers, health.StoreChecker(p))
	}
	if a.llm != nil {
		checkers = append(checkers, health.BreakerChecker(a.llm.States))
	}
	a.health = health.New(checkers...)
}

func tlsCert(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.CertFile
}

func tlsKey(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.KeyFile
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coordinator }

// Handler returns the HTTP handler serving the API, websocket and health
// routes.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running",
		"addr", a.cfg.Server.ListenAddr,
		"speech_in", a.capture.Supported(),
		"speech_out", a.playback.Supported(),
	)
	return a.server.ListenAndServe(ctx)
}

// Serve is like Run but uses an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	return a.server.Serve(ctx, ln)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, playback and pending replies, drains HTTP, and then
// runs the closers in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.coordinator.Close()
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown error", "err", err)
			shutdownErr = err
		}
		a.audio.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases whatever New opened before failing.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
