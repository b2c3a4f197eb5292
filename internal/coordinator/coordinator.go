// Package coordinator owns which contact is active and drives the user's
// intents (mic button, help, sending, reports) across the transcript, chat,
// contact and report components.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/speakingmate/internal/chat"
	"github.com/MrWong99/speakingmate/internal/completion"
	"github.com/MrWong99/speakingmate/internal/contact"
	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/report"
	"github.com/MrWong99/speakingmate/internal/speech/playback"
	"github.com/MrWong99/speakingmate/internal/transcript"
)

var (
	// ErrUnknownContact is returned when selecting an id the registry does
	// not know.
	ErrUnknownContact = errors.New("coordinator: unknown contact")

	// ErrNoActiveContact is returned by intents that need an active contact.
	ErrNoActiveContact = errors.New("coordinator: no active contact")

	// ErrHelpInFlight is returned by HelpClick while a suggestion is pending.
	ErrHelpInFlight = errors.New("coordinator: suggestion already in flight")

	// ErrPlaybackUnavailable is returned by Speak without a playback backend.
	ErrPlaybackUnavailable = errors.New("coordinator: speech playback unavailable")
)

// Config holds the components a [Coordinator] drives.
type Config struct {
	Contacts   *contact.Registry
	Chats      *chat.Store
	Transcript *transcript.Accumulator
	Completion completion.Service
	Playback   playback.Service
	Reports    *report.Store
	Generator  *report.Generator

	// ResumeUtterance keeps the transcript across mic clicks so a paused
	// utterance continues where it stopped. When false every new listening
	// session starts from an empty transcript.
	ResumeUtterance bool
}

// View is the derived state a presentation layer renders.
type View struct {
	ActiveContact     *contact.Contact  `json:"activeContact"`
	Groups            contact.Groups    `json:"groups"`
	Previews          map[string]string `json:"previews"`
	Favorites         []string          `json:"favorites"`
	Messages          []chat.Message    `json:"messages"`
	Transcript        transcript.State  `json:"transcript"`
	IsLoading         bool              `json:"isLoading"`
	IsGettingHelp     bool              `json:"isGettingHelp"`
	IsSpeaking        bool              `json:"isSpeaking"`
	SpeechSupported   bool              `json:"speechSupported"`
	PlaybackSupported bool              `json:"playbackSupported"`
	Advisory          string            `json:"advisory,omitempty"`
	Suggestion        string            `json:"suggestion,omitempty"`
}

// Coordinator is safe for concurrent use. Its lock is never held while
// calling into another component.
type Coordinator struct {
	contacts   *contact.Registry
	chats      *chat.Store
	transcript *transcript.Accumulator
	completion completion.Service
	playback   playback.Service
	reports    *report.Store
	generator  *report.Generator
	resume     bool

	mu          sync.Mutex
	active      contact.ID
	gettingHelp bool
	advisory    string
	suggestion  string
	subscribers []func()
}

// New returns a Coordinator over cfg and subscribes to every component that
// publishes changes. A nil Playback is replaced by [playback.Silent].
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		contacts:   cfg.Contacts,
		chats:      cfg.Chats,
		transcript: cfg.Transcript,
		completion: cfg.Completion,
		playback:   cfg.Playback,
		reports:    cfg.Reports,
		generator:  cfg.Generator,
		resume:     cfg.ResumeUtterance,
	}
	if c.playback == nil {
		c.playback = playback.Silent{}
	}
	c.chats.Subscribe(c.notify)
	c.transcript.Subscribe(func(transcript.State) { c.notify() })
	c.playback.Subscribe(func(bool) { c.notify() })
	return c
}

// Subscribe registers fn to be called after any change to the view. fn must
// not block.
func (c *Coordinator) Subscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Active returns the active contact id, or "".
func (c *Coordinator) Active() contact.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SelectContact makes id the active contact and drops any pending
// suggestion.
func (c *Coordinator) SelectContact(id contact.ID) error {
	if _, ok := c.contacts.Get(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownContact, id)
	}
	c.mu.Lock()
	c.active = id
	c.suggestion = ""
	c.mu.Unlock()
	c.notify()
	return nil
}

// MicClick drives the mic button.
//
// While idle it starts listening, or sets the unsupported advisory when
// capture is unavailable. While listening it stops, sends the transcript as
// speech when it is non-blank and a contact is active, and clears the
// transcript whatever the send outcome. Only a rejected send is returned;
// capture problems surface as advisories.
func (c *Coordinator) MicClick(ctx context.Context) error {
	if c.transcript.Listening() {
		return c.finishUtterance(ctx)
	}
	if !c.transcript.Supported() {
		c.setAdvisory(transcript.AdvisoryUnsupported)
		return nil
	}
	c.setAdvisory("")
	if !c.resume {
		c.transcript.Reset()
	}
	if err := c.transcript.Start(ctx); err != nil {
		observe.Logger(ctx).Warn("coordinator: start listening", "err", err)
	}
	return nil
}

// CancelClick stops listening and discards the utterance.
func (c *Coordinator) CancelClick(ctx context.Context) {
	if !c.transcript.Listening() {
		return
	}
	if err := c.transcript.Stop(); err != nil {
		observe.Logger(ctx).Warn("coordinator: stop listening", "err", err)
	}
	c.transcript.Reset()
}

// finishUtterance stops capture and dispatches what was heard. The
// transcript is taken before the send so a new listening session started
// while the reply is pending is not wiped afterwards.
func (c *Coordinator) finishUtterance(ctx context.Context) error {
	if err := c.transcript.Stop(); err != nil {
		observe.Logger(ctx).Warn("coordinator: stop listening", "err", err)
	}
	text := strings.TrimSpace(c.transcript.Transcript())
	c.transcript.Reset()

	id, personality := c.activePersonality()
	if text == "" || id == "" {
		return nil
	}
	ctx = observe.WithContact(ctx, id)
	c.clearSuggestion()
	if err := c.chats.SendSpeechText(ctx, id, text, personality, c.speakReply); err != nil {
		return fmt.Errorf("coordinator: send speech: %w", err)
	}
	return nil
}

// SendText sends typed text to the active contact.
func (c *Coordinator) SendText(ctx context.Context, text string) error {
	id, personality := c.activePersonality()
	if id == "" {
		return ErrNoActiveContact
	}
	ctx = observe.WithContact(ctx, id)
	c.clearSuggestion()
	if err := c.chats.SendUserText(ctx, id, text, personality, c.speakReply); err != nil {
		return fmt.Errorf("coordinator: send text: %w", err)
	}
	return nil
}

// HelpClick asks for a suggested reply in the active conversation. Its
// in-flight flag is separate from the chat loading flag; the two do not
// exclude each other.
func (c *Coordinator) HelpClick(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.active
	if id == "" {
		c.mu.Unlock()
		return "", ErrNoActiveContact
	}
	if c.gettingHelp {
		c.mu.Unlock()
		return "", ErrHelpInFlight
	}
	c.gettingHelp = true
	c.mu.Unlock()
	c.notify()
	ctx = observe.WithContact(ctx, id)

	var personality string
	if ct, ok := c.contacts.Get(id); ok {
		personality = ct.Personality
	}
	history := chat.Turns(c.chats.MessagesFor(id))
	s, err := c.completion.Suggest(context.WithoutCancel(ctx), history, personality)

	c.mu.Lock()
	c.gettingHelp = false
	if err == nil && c.active == id {
		c.suggestion = strings.TrimSpace(s)
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		observe.Logger(ctx).Warn("coordinator: suggestion failed", "err", err)
		return "", fmt.Errorf("coordinator: help: %w", err)
	}
	return strings.TrimSpace(s), nil
}

// CreateCharacter builds a custom contact from d, registers it and makes it
// active.
func (c *Coordinator) CreateCharacter(ctx context.Context, d contact.Draft) (contact.Contact, error) {
	ct, err := contact.NewFromDraft(d)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("coordinator: create character: %w", err)
	}
	ct, err = c.contacts.Create(ctx, ct)
	if err != nil {
		return contact.Contact{}, fmt.Errorf("coordinator: create character: %w", err)
	}
	c.mu.Lock()
	c.active = ct.ID
	c.suggestion = ""
	c.mu.Unlock()
	c.notify()
	return ct, nil
}

// ToggleFavorite flips id's favorite flag and returns the new value.
func (c *Coordinator) ToggleFavorite(ctx context.Context, id contact.ID) bool {
	now := c.contacts.ToggleFavorite(ctx, id)
	c.notify()
	return now
}

// ToggleCorrection flips the displayed version of a message in the active
// conversation.
func (c *Coordinator) ToggleCorrection(ctx context.Context, msgID int64) (bool, error) {
	id := c.Active()
	if id == "" {
		return false, ErrNoActiveContact
	}
	return c.chats.ToggleCorrection(ctx, id, msgID), nil
}

// Speak reads text aloud.
func (c *Coordinator) Speak(ctx context.Context, text string) error {
	if !c.playback.Supported() {
		return ErrPlaybackUnavailable
	}
	if err := c.playback.Speak(ctx, text); err != nil {
		return fmt.Errorf("coordinator: speak: %w", err)
	}
	return nil
}

// StopSpeaking interrupts playback.
func (c *Coordinator) StopSpeaking() {
	c.playback.Stop()
}

// GenerateReports analyses every stored conversation and returns the reports
// it saved.
func (c *Coordinator) GenerateReports(ctx context.Context) ([]report.Report, error) {
	rs, err := c.generator.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: generate reports: %w", err)
	}
	return rs, nil
}

// Reports returns the report list.
func (c *Coordinator) Reports() *report.Store { return c.reports }

// View derives the current render state.
func (c *Coordinator) View() View {
	c.mu.Lock()
	active, helping, advisory, suggestion := c.active, c.gettingHelp, c.advisory, c.suggestion
	c.mu.Unlock()

	all := c.contacts.All()
	v := View{
		Groups:            c.contacts.GroupForDisplay(),
		Previews:          make(map[string]string, len(all)),
		Favorites:         []string{},
		Messages:          []chat.Message{},
		Transcript:        c.transcript.Snapshot(),
		IsLoading:         c.chats.IsLoading(),
		IsGettingHelp:     helping,
		IsSpeaking:        c.playback.Speaking(),
		SpeechSupported:   c.transcript.Supported(),
		PlaybackSupported: c.playback.Supported(),
		Advisory:          advisory,
		Suggestion:        suggestion,
	}
	for _, ct := range all {
		v.Previews[ct.ID] = c.chats.LastMessagePreview(ct.ID)
		if c.contacts.IsFavorite(ct.ID) {
			v.Favorites = append(v.Favorites, ct.ID)
		}
	}
	if v.Advisory == "" {
		v.Advisory = v.Transcript.Advisory
	}
	if ct, ok := c.contacts.Get(active); ok {
		v.ActiveContact = &ct
		v.Messages = c.chats.MessagesFor(active)
	}
	return v
}

// Close stops capture and playback and cancels pending speak callbacks.
func (c *Coordinator) Close() {
	if err := c.transcript.Stop(); err != nil {
		observe.Logger(context.Background()).Warn("coordinator: stop listening", "err", err)
	}
	c.playback.Stop()
	c.chats.Close()
}

// speakReply is the chat store's speak hook. It runs on a timer goroutine,
// after the originating request may be gone.
func (c *Coordinator) speakReply(text string) {
	if !c.playback.Supported() {
		return
	}
	if err := c.playback.Speak(context.Background(), text); err != nil {
		observe.Logger(context.Background()).Warn("coordinator: speak reply", "err", err)
	}
}

func (c *Coordinator) activePersonality() (contact.ID, string) {
	id := c.Active()
	if id == "" {
		return "", ""
	}
	ct, ok := c.contacts.Get(id)
	if !ok {
		return id, ""
	}
	return id, ct.Personality
}

func (c *Coordinator) setAdvisory(s string) {
	c.mu.Lock()
	changed := c.advisory != s
	c.advisory = s
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Coordinator) clearSuggestion() {
	c.mu.Lock()
	changed := c.suggestion != ""
	c.suggestion = ""
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	subs := slices.Clone(c.subscribers)
	c.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
