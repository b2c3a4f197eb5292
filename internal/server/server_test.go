package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/speakingmate/internal/chat"
	"github.com/MrWong99/speakingmate/internal/completion"
	completionmock "github.com/MrWong99/speakingmate/internal/completion/mock"
	"github.com/MrWong99/speakingmate/internal/contact"
	"github.com/MrWong99/speakingmate/internal/coordinator"
	"github.com/MrWong99/speakingmate/internal/health"
	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/report"
	"github.com/MrWong99/speakingmate/internal/schedule"
	"github.com/MrWong99/speakingmate/internal/speech/capture"
	capturemock "github.com/MrWong99/speakingmate/internal/speech/capture/mock"
	playbackmock "github.com/MrWong99/speakingmate/internal/speech/playback/mock"
	"github.com/MrWong99/speakingmate/internal/store"
	"github.com/MrWong99/speakingmate/internal/transcript"
)

type fixture struct {
	srv     *httptest.Server
	server  *Server
	svc     *completionmock.Service
	capture *capturemock.Service
	audio   *capture.PushSource
	reports *report.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	mem := store.NewMemStore(nil)
	f := &fixture{
		svc:     &completionmock.Service{RespondResult: "Nice!", SuggestResult: "Ask about the weather."},
		capture: &capturemock.Service{},
		audio:   capture.NewPushSource(8),
	}
	contacts := contact.NewRegistry(mem, contact.Builtins())
	if err := contacts.Load(ctx); err != nil {
		t.Fatalf("contacts.Load: %v", err)
	}
	chats := chat.NewStore(mem, f.svc, chat.WithScheduler(schedule.NewManual()), chat.WithMetrics(m))
	if err := chats.Load(ctx); err != nil {
		t.Fatalf("chats.Load: %v", err)
	}
	f.reports = report.NewStore(mem)
	coord := coordinator.New(coordinator.Config{
		Contacts:   contacts,
		Chats:      chats,
		Transcript: transcript.New(f.capture),
		Completion: f.svc,
		Playback:   &playbackmock.Service{},
		Reports:    f.reports,
		Generator:  report.NewGenerator(chats, contacts, f.svc, f.reports, report.WithMetrics(m)),
	})
	f.server = New(Config{
		Coordinator: coord,
		Reports:     f.reports,
		Audio:       f.audio,
		Health:      health.New(health.StoreChecker(mem)),
		Metrics:     m,
	})
	f.srv = httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		f.server.Hub().Close()
		f.srv.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/state", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	v := decode[coordinator.View](t, body)
	if v.ActiveContact != nil || len(v.Groups.Default) != len(contact.Builtins()) {
		t.Errorf("view = %+v", v)
	}
	if v.Previews["mike"] != chat.NoMessagesPreview {
		t.Errorf("preview = %q", v.Previews["mike"])
	}
}

func TestSelectAndSend(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if code, _ := f.do(t, http.MethodPost, "/api/messages", `{"text":"hi"}`); code != http.StatusConflict {
		t.Errorf("send without contact = %d, want 409", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/contacts/nobody/select", ""); code != http.StatusNotFound {
		t.Errorf("select unknown = %d, want 404", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/contacts/mike/select", ""); code != http.StatusOK {
		t.Fatalf("select mike = %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/messages", `{"text":"  "}`); code != http.StatusBadRequest {
		t.Errorf("blank send = %d, want 400", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/messages", `not json`); code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", code)
	}

	code, body := f.do(t, http.MethodPost, "/api/messages", `{"text":"Hello Mike"}`)
	if code != http.StatusOK {
		t.Fatalf("send = %d: %s", code, body)
	}
	v := decode[coordinator.View](t, body)
	if len(v.Messages) != 2 || v.Messages[0].Text != "Hello Mike" || v.Messages[1].Text != "Nice!" {
		t.Errorf("messages = %+v", v.Messages)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/messages/abc/toggle", ""); code != http.StatusBadRequest {
		t.Errorf("toggle bad id = %d, want 400", code)
	}
	code, body = f.do(t, http.MethodPost, "/api/messages/1/toggle", "")
	if code != http.StatusOK || decode[map[string]bool](t, body)["changed"] {
		t.Errorf("toggle non-correctable = %d %s", code, body)
	}
}

func TestCreateContactAndFavorite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/api/contacts", `{"name":""}`); code != http.StatusBadRequest {
		t.Errorf("blank name = %d, want 400", code)
	}
	code, body := f.do(t, http.MethodPost, "/api/contacts", `{"name":"Chef","characterRole":"a chef","topic":"cooking"}`)
	if code != http.StatusCreated {
		t.Fatalf("create = %d: %s", code, body)
	}
	c := decode[contact.Contact](t, body)
	if !strings.HasPrefix(c.ID, "custom_") || c.Name != "Chef" {
		t.Errorf("created = %+v", c)
	}

	code, body = f.do(t, http.MethodPost, "/api/contacts/"+c.ID+"/favorite", "")
	if code != http.StatusOK || !decode[map[string]bool](t, body)["favorite"] {
		t.Errorf("favorite = %d %s", code, body)
	}
}

func TestHelp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/api/help", ""); code != http.StatusConflict {
		t.Errorf("help without contact = %d, want 409", code)
	}
	f.do(t, http.MethodPost, "/api/contacts/donna/select", "")
	code, body := f.do(t, http.MethodPost, "/api/help", "")
	if code != http.StatusOK || decode[map[string]string](t, body)["suggestion"] != "Ask about the weather." {
		t.Errorf("help = %d %s", code, body)
	}

	f.svc.SuggestErr = &completion.Error{Kind: completion.KindRateLimited, Op: completion.OpSuggest, Err: errors.New("429")}
	code, body = f.do(t, http.MethodPost, "/api/help", "")
	if code != http.StatusTooManyRequests {
		t.Fatalf("rate limited help = %d", code)
	}
	eb := decode[errorBody](t, body)
	if eb.Kind != completion.KindRateLimited.String() || eb.Error != chat.ReplyRateLimited {
		t.Errorf("error body = %+v", eb)
	}
}

func TestMicFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/contacts/harvey/select", "")

	code, body := f.do(t, http.MethodPost, "/api/mic", "")
	if code != http.StatusOK || !decode[coordinator.View](t, body).Transcript.Listening {
		t.Fatalf("mic start = %d %s", code, body)
	}
	f.capture.Update("good morning")
	code, body = f.do(t, http.MethodPost, "/api/mic", "")
	if code != http.StatusOK {
		t.Fatalf("mic stop = %d", code)
	}
	v := decode[coordinator.View](t, body)
	if len(v.Messages) != 2 || v.Messages[0].Text != "good morning" {
		t.Errorf("messages = %+v", v.Messages)
	}

	f.do(t, http.MethodPost, "/api/mic", "")
	f.capture.Update("scratch that")
	code, body = f.do(t, http.MethodPost, "/api/mic/cancel", "")
	if v := decode[coordinator.View](t, body); code != http.StatusOK || v.Transcript.Listening || len(v.Messages) != 2 {
		t.Errorf("cancel = %d %+v", code, v)
	}
}

func TestReports(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.AnalyzeResult = completion.Analysis{Errors: []completion.LanguageError{{MessageText: "x"}}}
	f.do(t, http.MethodPost, "/api/contacts/robert/select", "")
	f.do(t, http.MethodPost, "/api/messages", `{"text":"me go clinic"}`)

	code, body := f.do(t, http.MethodPost, "/api/reports/generate", "")
	if code != http.StatusOK {
		t.Fatalf("generate = %d %s", code, body)
	}
	gen := decode[struct {
		Generated int             `json:"generated"`
		Reports   []report.Report `json:"reports"`
	}](t, body)
	if gen.Generated != 1 || len(gen.Reports) != 1 {
		t.Fatalf("generated = %+v", gen)
	}

	code, body = f.do(t, http.MethodGet, "/api/reports?page=1", "")
	p := decode[report.Page](t, body)
	if code != http.StatusOK || p.TotalItems != 1 || p.PerPage != report.DefaultPerPage {
		t.Errorf("page = %d %+v", code, p)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/reports?page=x", ""); code != http.StatusBadRequest {
		t.Errorf("bad page = %d", code)
	}

	id := string(gen.Reports[0].ID)
	if code, _ := f.do(t, http.MethodDelete, "/api/reports/"+id, ""); code != http.StatusNoContent {
		t.Errorf("delete = %d", code)
	}
	if code, _ := f.do(t, http.MethodDelete, "/api/reports/"+id, ""); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
	if code, _ := f.do(t, http.MethodDelete, "/api/reports", ""); code != http.StatusNoContent {
		t.Errorf("clear = %d", code)
	}
}

func TestSpeak(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/api/speak", `{"text":"hello"}`); code != http.StatusAccepted {
		t.Errorf("speak = %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/speak/stop", ""); code != http.StatusNoContent {
		t.Errorf("stop = %d", code)
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if code, _ := f.do(t, http.MethodGet, path, ""); code != http.StatusOK {
			t.Errorf("%s = %d", path, code)
		}
	}
}

func TestWebsocket(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The current view arrives on connect.
	typ, data, err := conn.Read(ctx)
	if err != nil || typ != websocket.MessageText {
		t.Fatalf("first frame = %v, %v", typ, err)
	}
	if v := decode[coordinator.View](t, data); v.ActiveContact != nil {
		t.Errorf("initial view = %+v", v)
	}

	// A change pushes a new view.
	f.do(t, http.MethodPost, "/api/contacts/mike/select", "")
	for {
		typ, data, err = conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if v := decode[coordinator.View](t, data); v.ActiveContact != nil && v.ActiveContact.ID == "mike" {
			break
		}
	}

	// Binary frames feed the capture source once a session is open.
	var frames <-chan []byte
	for frames == nil {
		frames, err = f.audio.Open(ctx)
		if errors.Is(err, capture.ErrDenied) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	defer f.audio.Close()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case got := <-frames:
		if !bytes.Equal(got, []byte{1, 2, 3}) {
			t.Errorf("frame = %v", got)
		}
	case <-ctx.Done():
		t.Fatal("audio frame not delivered")
	}

	// Playback audio is broadcast as binary frames.
	if err := f.server.Hub().PlayAudio(ctx, []byte{9, 9}); err != nil {
		t.Fatalf("PlayAudio: %v", err)
	}
	for {
		typ, data, err = conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if typ == websocket.MessageBinary {
			if !bytes.Equal(data, []byte{9, 9}) {
				t.Errorf("audio = %v", data)
			}
			break
		}
	}
}
