package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speakingmate/internal/completion"
	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/schedule"
	"github.com/MrWong99/speakingmate/internal/store"
)

var (
	// ErrBusy is returned when a send is attempted while another one is in
	// flight. The second send is rejected, not queued.
	ErrBusy = errors.New("chat: a message is already being sent")

	// ErrNoContact is returned when no conversation is selected.
	ErrNoContact = errors.New("chat: no active contact")

	// ErrEmptyText is returned for blank message text.
	ErrEmptyText = errors.New("chat: message text is empty")
)

// Synthetic assistant replies shown when the completion service fails.
const (
	ReplyConfiguration = "Please configure your OpenAI API key in the .env file."
	ReplyRateLimited   = "Too many requests. Please wait a moment and try again."
	ReplyGeneric       = "Sorry, I encountered an error. Please try again."
)

const defaultSpeakDelay = 500 * time.Millisecond

// ReplyFor maps a completion failure to the text shown in the conversation.
func ReplyFor(err error) string {
	switch completion.KindOf(err) {
	case completion.KindConfiguration:
		return ReplyConfiguration
	case completion.KindRateLimited:
		return ReplyRateLimited
	default:
		return ReplyGeneric
	}
}

// Option configures a [Store].
type Option func(*Store)

// WithScheduler sets the scheduler for the delayed speak callback.
func WithScheduler(sched schedule.Scheduler) Option {
	return func(s *Store) { s.sched = sched }
}

// WithClock sets the clock used for message ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSpeakDelay sets the pause between appending a reply and speaking it.
// Default: 500ms.
func WithSpeakDelay(d time.Duration) Option {
	return func(s *Store) { s.speakDelay = d }
}

// WithPreviewLength sets the rune budget of [Store.LastMessagePreview].
// Default: 30.
func WithPreviewLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.previewLen = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is the conversation store. It is safe for concurrent use; its lock
// is never held across a completion call or a store write.
type Store struct {
	store      store.Store
	completion completion.Service
	sched      schedule.Scheduler
	now        func() time.Time
	speakDelay time.Duration
	previewLen int
	metrics    *observe.Metrics

	// writeMu serialises persistence so the last write carries the latest map.
	writeMu     sync.Mutex
	mu          sync.Mutex
	loaded      bool
	logs        map[string][]Message
	lastID      int64
	loading     bool
	closed      bool
	timerSeq    int
	timers      map[int]schedule.Cancel
	subscribers []func()
}

// NewStore returns a Store persisting to st and answering through svc.
func NewStore(st store.Store, svc completion.Service, opts ...Option) *Store {
	s := &Store{
		store:      st,
		completion: svc,
		sched:      schedule.Real{},
		now:        time.Now,
		speakDelay: defaultSpeakDelay,
		previewLen: defaultPreviewLength,
		logs:       make(map[string][]Message),
		timers:     make(map[int]schedule.Cancel),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Load reads the persisted conversation map. It runs once; later calls are
// no-ops.
func (s *Store) Load(ctx context.Context) error {
	logs, _, err := store.Get[map[string][]Message](ctx, s.store, store.KeyConversations)
	if err != nil {
		return fmt.Errorf("chat: load conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	s.loaded = true
	// Messages appended before the load completed are kept after the
	// persisted ones.
	for id, msgs := range logs {
		s.logs[id] = append(msgs, s.logs[id]...)
		for _, m := range msgs {
			s.lastID = max(s.lastID, m.ID)
		}
	}
	return nil
}

// Subscribe registers fn to be called after every change. fn runs without
// the lock held and must not block.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// MessagesFor returns a copy of the log for id, empty if there is none.
func (s *Store) MessagesFor(id string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs[id])
}

// Snapshot returns a copy of every conversation log.
func (s *Store) Snapshot() map[string][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// IsLoading reports whether a send is in flight.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastMessagePreview returns [NoMessagesPreview] for an empty log, otherwise
// the newest message's text, truncated with "..." when it exceeds the
// preview length.
func (s *Store) LastMessagePreview(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.logs[id]
	if len(msgs) == 0 {
		return NoMessagesPreview
	}
	return preview(msgs[len(msgs)-1].Text, s.previewLen)
}

// Append adds a message to id's log with a fresh id and the current time,
// then persists the whole map.
func (s *Store) Append(ctx context.Context, id, text string, isUser bool, original, corrected *string) Message {
	s.mu.Lock()
	m := s.newMessageLocked(text, isUser, original, corrected)
	s.logs[id] = append(s.logs[id], m)
	s.mu.Unlock()

	s.metrics.RecordMessage(ctx, isUser)
	s.persist(ctx)
	s.notify()
	return m
}

// SendUserText appends the user's text and the assistant's reply to id's
// log. See [Store.SendSpeechText] for the spoken variant.
//
// Blank text fails with [ErrEmptyText], an empty id with [ErrNoContact], and
// a send while another is in flight with [ErrBusy]; none of these change
// state. A completion failure is not returned: it becomes a single assistant
// message explaining the problem. If onSpeak is non-nil it is called with the
// reply after the speak delay, unless the store is closed first.
func (s *Store) SendUserText(ctx context.Context, id, text, personality string, onSpeak func(string)) error {
	text = strings.TrimSpace(text)
	if err := s.begin(id, text); err != nil {
		return err
	}
	defer s.end()
	// The reply and its write outlive an abandoned request.
	ctx = context.WithoutCancel(ctx)

	history := s.MessagesFor(id)
	s.Append(ctx, id, text, true, nil, nil)
	s.respond(ctx, id, text, history, personality, onSpeak)
	return nil
}

// SendSpeechText is SendUserText for a spoken utterance. The raw transcript
// first goes through grammar correction; the user message shows the
// punctuated original and keeps the correction for toggling. Grammar
// correction never blocks delivery.
func (s *Store) SendSpeechText(ctx context.Context, id, raw, personality string, onSpeak func(string)) error {
	raw = strings.TrimSpace(raw)
	if err := s.begin(id, raw); err != nil {
		return err
	}
	defer s.end()
	ctx = context.WithoutCancel(ctx)

	corr := s.completion.CorrectGrammar(ctx, raw)
	original := corr.Original
	if strings.TrimSpace(original) == "" {
		original = raw
	}

	history := s.MessagesFor(id)
	s.Append(ctx, id, original, true, &original, corr.Corrected)
	s.respond(ctx, id, original, history, personality, onSpeak)
	return nil
}

// ToggleCorrection swaps the displayed text of a correctable message between
// its original and corrected versions. It reports whether anything changed;
// unknown or non-correctable messages are left alone.
func (s *Store) ToggleCorrection(ctx context.Context, id string, msgID int64) bool {
	s.mu.Lock()
	msgs := s.logs[id]
	i := slices.IndexFunc(msgs, func(m Message) bool { return m.ID == msgID })
	if i < 0 || msgs[i].CorrectedText == nil {
		s.mu.Unlock()
		return false
	}
	m := &msgs[i]
	if m.IsShowingCorrected {
		if m.OriginalText != nil {
			m.Text = *m.OriginalText
		}
	} else {
		if m.OriginalText == nil {
			orig := m.Text
			m.OriginalText = &orig
		}
		m.Text = *m.CorrectedText
	}
	m.IsShowingCorrected = !m.IsShowingCorrected
	s.mu.Unlock()

	s.persist(ctx)
	s.notify()
	return true
}

// Close cancels pending speak callbacks. Sends still in flight finish but
// schedule nothing further.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	timers := s.timers
	s.timers = make(map[int]schedule.Cancel)
	s.mu.Unlock()
	for _, cancel := range timers {
		cancel()
	}
}

func (s *Store) begin(id, text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if id == "" {
		return ErrNoContact
	}
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	s.loading = true
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) end() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

// respond asks for the assistant's reply and appends it. Callers pass a
// context already detached from the request.
func (s *Store) respond(ctx context.Context, id, text string, history []Message, personality string, onSpeak func(string)) {
	reply, err := s.completion.Respond(ctx, text, Turns(history), personality)
	if err != nil {
		observe.Logger(observe.WithContact(ctx, id)).Warn("chat: completion failed", "err", err)
		s.Append(ctx, id, ReplyFor(err), false, nil, nil)
		return
	}
	s.Append(ctx, id, reply, false, nil, nil)
	if onSpeak != nil && reply != "" {
		s.scheduleSpeak(reply, onSpeak)
	}
}

func (s *Store) scheduleSpeak(reply string, onSpeak func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timerSeq++
	seq := s.timerSeq
	s.timers[seq] = s.sched.AfterFunc(s.speakDelay, func() {
		s.mu.Lock()
		_, pending := s.timers[seq]
		delete(s.timers, seq)
		s.mu.Unlock()
		if pending {
			onSpeak(reply)
		}
	})
}

// newMessageLocked stamps a message. Ids are capture-time Unix milliseconds,
// bumped past the previous id so they stay strictly increasing.
func (s *Store) newMessageLocked(text string, isUser bool, original, corrected *string) Message {
	now := s.now()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return Message{
		ID:            id,
		Text:          text,
		IsUser:        isUser,
		Timestamp:     now.UTC().Format(TimestampLayout),
		OriginalText:  original,
		CorrectedText: corrected,
	}
}

// persist writes the whole map. An empty map is never written, so a write
// racing ahead of Load cannot erase stored conversations. The write is
// detached from ctx: a change already made in memory is always saved.
func (s *Store) persist(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if len(snap) == 0 {
		return
	}
	if err := store.Put(ctx, s.store, store.KeyConversations, snap); err != nil {
		observe.Logger(ctx).Warn("chat: persist conversations", "err", err)
	}
}

func (s *Store) snapshotLocked() map[string][]Message {
	out := make(map[string][]Message, len(s.logs))
	for id, msgs := range s.logs {
		out[id] = slices.Clone(msgs)
	}
	return out
}

func (s *Store) notify() {
	s.mu.Lock()
	subs := slices.Clone(s.subscribers)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Turns converts msgs into completion history turns.
func Turns(msgs []Message) []completion.Turn {
	turns := make([]completion.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = completion.Turn{Text: m.Text, IsUser: m.IsUser}
	}
	return turns
}

// UserTexts returns the non-blank texts of the user's messages in msgs.
func UserTexts(msgs []Message) []string {
	var out []string
	for _, m := range msgs {
		if m.IsUser && strings.TrimSpace(m.Text) != "" {
			out = append(out, m.Text)
		}
	}
	return out
}
