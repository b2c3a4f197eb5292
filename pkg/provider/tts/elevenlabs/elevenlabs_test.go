package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/speakingmate/pkg/provider/tts"
)

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildWSMessage(t *testing.T) {
	t.Parallel()

	data, err := buildWSMessage("hello", &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: 0.9}, "")
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}
	var got map[string]any
	if err := sonic.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["text"] != "hello" {
		t.Errorf("text = %v, want hello", got["text"])
	}
	if _, ok := got["xi_api_key"]; ok {
		t.Error("xi_api_key must be omitted when empty")
	}
	vs, ok := got["voice_settings"].(map[string]any)
	if !ok {
		t.Fatalf("voice_settings missing: %s", data)
	}
	if vs["speed"] != 0.9 {
		t.Errorf("speed = %v, want 0.9", vs["speed"])
	}
}

func TestDecodeAudio(t *testing.T) {
	t.Parallel()

	enc := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	pcm, final, ok := decodeAudio([]byte(`{"audio":"` + enc + `"}`))
	if !ok || final || len(pcm) != 3 {
		t.Errorf("decodeAudio(audio) = %v, %v, %v", pcm, final, ok)
	}
	_, final, ok = decodeAudio([]byte(`{"audio":"","isFinal":true}`))
	if ok || !final {
		t.Errorf("decodeAudio(final) = final %v ok %v, want final true ok false", final, ok)
	}
	if _, _, ok := decodeAudio([]byte(`nope`)); ok {
		t.Error("decodeAudio(garbage) should not be ok")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURLs("ws://unused", srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" || voices[0].Metadata["category"] != "premade" {
		t.Fatalf("voices = %+v", voices)
	}
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	enc := base64.StdEncoding.EncodeToString([]byte("pcm"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var msg textMessage
			_ = sonic.Unmarshal(data, &msg)
			switch {
			case msg.Text == "":
				_ = c.Write(ctx, websocket.MessageText, []byte(`{"isFinal":true}`))
				return
			case strings.TrimSpace(msg.Text) != "":
				_ = c.Write(ctx, websocket.MessageText, []byte(`{"audio":"`+enc+`"}`))
			}
		}
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 1)
	text <- "Hello there."
	close(text)

	audio, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []string
	for chunk := range audio {
		got = append(got, string(chunk))
	}
	if len(got) != 1 || got[0] != "pcm" {
		t.Fatalf("audio = %v, want [pcm]", got)
	}
}
