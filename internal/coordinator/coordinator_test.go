package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/speakingmate/internal/chat"
	"github.com/MrWong99/speakingmate/internal/completion"
	completionmock "github.com/MrWong99/speakingmate/internal/completion/mock"
	"github.com/MrWong99/speakingmate/internal/contact"
	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/report"
	"github.com/MrWong99/speakingmate/internal/schedule"
	capturemock "github.com/MrWong99/speakingmate/internal/speech/capture/mock"
	playbackmock "github.com/MrWong99/speakingmate/internal/speech/playback/mock"
	"github.com/MrWong99/speakingmate/internal/store"
	"github.com/MrWong99/speakingmate/internal/transcript"
)

type fixture struct {
	coord    *Coordinator
	svc      *completionmock.Service
	capture  *capturemock.Service
	playback *playbackmock.Service
	sched    *schedule.Manual
	chats    *chat.Store
	reports  *report.Store
}

func newFixture(t *testing.T, resume bool) *fixture {
	t.Helper()
	ctx := context.Background()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	mem := store.NewMemStore(nil)
	f := &fixture{
		svc:      &completionmock.Service{RespondResult: "Great!", SuggestResult: "  How was your day?  "},
		capture:  &capturemock.Service{},
		playback: &playbackmock.Service{},
		sched:    schedule.NewManual(),
	}
	contacts := contact.NewRegistry(mem, contact.Builtins())
	if err := contacts.Load(ctx); err != nil {
		t.Fatalf("contacts.Load: %v", err)
	}
	f.chats = chat.NewStore(mem, f.svc, chat.WithScheduler(f.sched), chat.WithMetrics(m))
	if err := f.chats.Load(ctx); err != nil {
		t.Fatalf("chats.Load: %v", err)
	}
	f.reports = report.NewStore(mem)
	f.coord = New(Config{
		Contacts:        contacts,
		Chats:           f.chats,
		Transcript:      transcript.New(f.capture),
		Completion:      f.svc,
		Playback:        f.playback,
		Reports:         f.reports,
		Generator:       report.NewGenerator(f.chats, contacts, f.svc, f.reports, report.WithMetrics(m)),
		ResumeUtterance: resume,
	})
	return f
}

func TestSelectContact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	if err := f.coord.SelectContact("nobody"); !errors.Is(err, ErrUnknownContact) {
		t.Fatalf("SelectContact(nobody) = %v, want ErrUnknownContact", err)
	}
	if err := f.coord.SelectContact("mike"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	v := f.coord.View()
	if v.ActiveContact == nil || v.ActiveContact.ID != "mike" {
		t.Errorf("active = %v, want mike", v.ActiveContact)
	}
	if v.Previews["mike"] != chat.NoMessagesPreview {
		t.Errorf("preview = %q", v.Previews["mike"])
	}
}

func TestMicClick_SpeechRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()
	corrected := "I have an apple."
	f.svc.CorrectionResult = &completion.Correction{Original: "I has a apple.", Corrected: &corrected}
	f.capture.OnStop = func(s *capturemock.Service) { s.Update("I has a apple") }
	if err := f.coord.SelectContact("mike"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}

	if err := f.coord.MicClick(ctx); err != nil {
		t.Fatalf("MicClick(start): %v", err)
	}
	if !f.coord.View().Transcript.Listening {
		t.Fatal("not listening after first click")
	}
	f.capture.Update("I has")
	if err := f.coord.MicClick(ctx); err != nil {
		t.Fatalf("MicClick(stop): %v", err)
	}

	v := f.coord.View()
	if v.Transcript.Listening || v.Transcript.Transcript() != "" {
		t.Errorf("transcript = %+v, want idle and empty", v.Transcript)
	}
	if len(v.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(v.Messages))
	}
	user := v.Messages[0]
	if user.Text != "I has a apple." || user.IsShowingCorrected || user.CorrectedText == nil {
		t.Errorf("user message = %+v", user)
	}
	if got := f.svc.GrammarCalls; len(got) != 1 || got[0] != "I has a apple" {
		t.Errorf("grammar calls = %q", got)
	}

	ok, err := f.coord.ToggleCorrection(ctx, user.ID)
	if err != nil || !ok {
		t.Fatalf("ToggleCorrection = %v, %v", ok, err)
	}
	if got := f.coord.View().Messages[0]; got.Text != corrected || !got.IsShowingCorrected {
		t.Errorf("after toggle = %+v", got)
	}
}

func TestMicClick_BlankOrNoContactDoesNotSend(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()

	// Speech without an active contact is dropped.
	_ = f.coord.MicClick(ctx)
	f.capture.Update("hello there")
	if err := f.coord.MicClick(ctx); err != nil {
		t.Fatalf("MicClick: %v", err)
	}
	if f.svc.RespondCallCount() != 0 {
		t.Error("sent without an active contact")
	}
	if got := f.coord.View().Transcript.Transcript(); got != "" {
		t.Errorf("transcript = %q, want reset", got)
	}

	// A blank utterance is dropped too.
	_ = f.coord.SelectContact("mike")
	_ = f.coord.MicClick(ctx)
	f.capture.Update("   ")
	_ = f.coord.MicClick(ctx)
	if f.svc.RespondCallCount() != 0 {
		t.Error("sent a blank utterance")
	}
}

func TestMicClick_Unsupported(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.capture.Unsupported = true

	if err := f.coord.MicClick(context.Background()); err != nil {
		t.Fatalf("MicClick: %v", err)
	}
	v := f.coord.View()
	if v.Advisory != transcript.AdvisoryUnsupported {
		t.Errorf("advisory = %q", v.Advisory)
	}
	if v.Transcript.Listening || v.SpeechSupported {
		t.Errorf("view = %+v, want idle and unsupported", v)
	}
	if start, _, _ := f.capture.Counts(); start != 0 {
		t.Errorf("Start called %d times", start)
	}
}

func TestMicClick_StartFailureLeavesIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.capture.StartErr = errors.New("device busy")

	if err := f.coord.MicClick(context.Background()); err != nil {
		t.Fatalf("MicClick: %v", err)
	}
	v := f.coord.View()
	if v.Transcript.Listening || v.Advisory != transcript.AdvisoryStartFailed {
		t.Errorf("view = listening %v advisory %q", v.Transcript.Listening, v.Advisory)
	}
}

func TestMicClick_RejectedSendStillResets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()
	_ = f.coord.SelectContact("mike")

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	f.svc.RespondFunc = func(context.Context, string, []completion.Turn, string) (string, error) {
		once.Do(func() { close(entered) })
		<-release
		return "Great!", nil
	}

	sent := make(chan error, 1)
	go func() { sent <- f.coord.SendText(ctx, "typed first") }()
	<-entered

	if err := f.coord.MicClick(ctx); err != nil {
		t.Fatalf("MicClick(start): %v", err)
	}
	f.capture.Update("spoken while busy")
	if err := f.coord.MicClick(ctx); !errors.Is(err, chat.ErrBusy) {
		t.Fatalf("MicClick(stop) = %v, want ErrBusy", err)
	}

	st := f.coord.View().Transcript
	if st.Listening || st.Transcript() != "" {
		t.Errorf("transcript = %+v, want idle and empty", st)
	}

	close(release)
	if err := <-sent; err != nil {
		t.Fatalf("SendText: %v", err)
	}
	var users []string
	for _, m := range f.chats.MessagesFor("mike") {
		if m.IsUser {
			users = append(users, m.Text)
		}
	}
	if len(users) != 1 || users[0] != "typed first" {
		t.Errorf("user messages = %q, want only the typed one", users)
	}
}

func TestMicClick_ResumeUtterance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		resume bool
		want   string
	}{
		{"reset per click", false, "world"},
		{"stitch across pauses", true, "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.resume)
			ctx := context.Background()

			// Capture ends on its own, leaving the text visible.
			_ = f.coord.MicClick(ctx)
			f.capture.Update("hello")
			f.capture.End()

			_ = f.coord.MicClick(ctx)
			f.capture.Update("world")
			if got := f.coord.View().Transcript.Transcript(); got != tt.want {
				t.Errorf("transcript = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCancelClick(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()
	_ = f.coord.SelectContact("mike")

	f.coord.CancelClick(ctx) // idle: no-op
	if _, stop, _ := f.capture.Counts(); stop != 0 {
		t.Errorf("Stop called while idle")
	}

	_ = f.coord.MicClick(ctx)
	f.capture.Update("never mind")
	f.coord.CancelClick(ctx)

	v := f.coord.View()
	if v.Transcript.Listening || v.Transcript.Transcript() != "" {
		t.Errorf("transcript = %+v, want discarded", v.Transcript)
	}
	if f.svc.RespondCallCount() != 0 || len(v.Messages) != 0 {
		t.Error("cancel dispatched the utterance")
	}
}

func TestHelpClick(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.coord.HelpClick(ctx); !errors.Is(err, ErrNoActiveContact) {
		t.Fatalf("HelpClick without contact = %v, want ErrNoActiveContact", err)
	}
	if f.svc.SuggestCallCount() != 0 {
		t.Fatal("Suggest called without a contact")
	}

	_ = f.coord.SelectContact("mike")
	s, err := f.coord.HelpClick(ctx)
	if err != nil {
		t.Fatalf("HelpClick: %v", err)
	}
	if s != "How was your day?" {
		t.Errorf("suggestion = %q", s)
	}
	v := f.coord.View()
	if v.Suggestion != s || v.IsGettingHelp {
		t.Errorf("view suggestion = %q, helping = %v", v.Suggestion, v.IsGettingHelp)
	}

	// Selecting another contact drops the suggestion.
	_ = f.coord.SelectContact("donna")
	if got := f.coord.View().Suggestion; got != "" {
		t.Errorf("suggestion after switch = %q", got)
	}
}

func TestHelpClick_SingleFlightIndependentOfLoading(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()
	_ = f.coord.SelectContact("mike")

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	f.svc.SuggestFunc = func(context.Context, []completion.Turn, string) (string, error) {
		once.Do(func() { close(entered) })
		<-release
		return "Try asking a question.", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.HelpClick(ctx)
		done <- err
	}()
	<-entered

	if !f.coord.View().IsGettingHelp {
		t.Error("IsGettingHelp = false while suggestion pending")
	}
	if _, err := f.coord.HelpClick(ctx); !errors.Is(err, ErrHelpInFlight) {
		t.Errorf("second HelpClick = %v, want ErrHelpInFlight", err)
	}
	// Sending is not blocked by a pending suggestion.
	if err := f.coord.SendText(ctx, "hello"); err != nil {
		t.Errorf("SendText during help: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("HelpClick: %v", err)
	}
	if f.coord.View().IsGettingHelp {
		t.Error("IsGettingHelp still set")
	}
}

func TestHelpClick_Failure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.svc.SuggestErr = &completion.Error{Kind: completion.KindRateLimited, Op: completion.OpSuggest, Err: errors.New("429")}
	_ = f.coord.SelectContact("mike")

	_, err := f.coord.HelpClick(context.Background())
	if completion.KindOf(err) != completion.KindRateLimited {
		t.Fatalf("HelpClick = %v, want rate limited", err)
	}
	if v := f.coord.View(); v.IsGettingHelp || v.Suggestion != "" {
		t.Errorf("view = helping %v suggestion %q", v.IsGettingHelp, v.Suggestion)
	}
}

func TestSendText_SpeaksReplyAfterDelay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()

	if err := f.coord.SendText(ctx, "hi"); !errors.Is(err, ErrNoActiveContact) {
		t.Fatalf("SendText without contact = %v", err)
	}
	_ = f.coord.SelectContact("harvey")
	if err := f.coord.SendText(ctx, "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := f.playback.SpokenTexts(); len(got) != 0 {
		t.Fatalf("spoke before the delay: %q", got)
	}
	f.sched.Advance(500 * time.Millisecond)
	if got := f.playback.SpokenTexts(); len(got) != 1 || got[0] != "Great!" {
		t.Errorf("spoken = %q, want [Great!]", got)
	}
	if !f.coord.View().IsSpeaking {
		t.Error("IsSpeaking = false after reply was spoken")
	}
	f.coord.StopSpeaking()
	if f.coord.View().IsSpeaking {
		t.Error("IsSpeaking = true after StopSpeaking")
	}
}

func TestSpeak_Unavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.playback.Unsupported = true
	if err := f.coord.Speak(context.Background(), "hello"); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("Speak = %v, want ErrPlaybackUnavailable", err)
	}
}

func TestCreateCharacterAndFavorite(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.coord.CreateCharacter(ctx, contact.Draft{Name: "  "}); !errors.Is(err, contact.ErrEmptyName) {
		t.Fatalf("CreateCharacter(blank) = %v, want ErrEmptyName", err)
	}
	ct, err := f.coord.CreateCharacter(ctx, contact.Draft{Name: "Barista", CharacterRole: "a barista", Topic: "coffee"})
	if err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	if f.coord.Active() != ct.ID {
		t.Errorf("active = %q, want new character %q", f.coord.Active(), ct.ID)
	}

	if !f.coord.ToggleFavorite(ctx, ct.ID) {
		t.Fatal("ToggleFavorite = false, want true")
	}
	v := f.coord.View()
	if len(v.Groups.Favorites) != 1 || v.Groups.Favorites[0].ID != ct.ID || len(v.Groups.Custom) != 0 {
		t.Errorf("groups = %+v", v.Groups)
	}
	if len(v.Favorites) != 1 || v.Favorites[0] != ct.ID {
		t.Errorf("favorites = %v", v.Favorites)
	}
}

func TestGenerateReports(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()
	f.svc.AnalyzeResult = completion.Analysis{
		Errors: []completion.LanguageError{{MessageText: "I has", ErrorType: "grammar"}},
	}
	_ = f.coord.SelectContact("robert")
	if err := f.coord.SendText(ctx, "I has a question"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	rs, err := f.coord.GenerateReports(ctx)
	if err != nil {
		t.Fatalf("GenerateReports: %v", err)
	}
	if len(rs) != 1 || len(f.coord.Reports().List()) != 1 {
		t.Errorf("reports = %d saved, %d listed", len(rs), len(f.coord.Reports().List()))
	}
}

func TestSubscribe_NotifiesOnChange(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	var n atomic.Int32
	f.coord.Subscribe(func() { n.Add(1) })

	_ = f.coord.SelectContact("jessica")
	_ = f.coord.MicClick(context.Background())
	if n.Load() < 2 {
		t.Errorf("notifications = %d, want at least 2", n.Load())
	}
}

func TestSendText_TagsContactOnContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	var seen atomic.Value
	f.svc.RespondFunc = func(ctx context.Context, _ string, _ []completion.Turn, _ string) (string, error) {
		seen.Store(observe.ContactFrom(ctx))
		return "Sure.", nil
	}
	if err := f.coord.SelectContact("jessica"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	if err := f.coord.SendText(context.Background(), "Tell me about music."); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got, _ := seen.Load().(string); got != "jessica" {
		t.Errorf("completion saw contact %q, want jessica", got)
	}
}
