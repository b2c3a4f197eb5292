package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/speakingmate/internal/resilience"
	"github.com/MrWong99/speakingmate/internal/store"
)

func serve(t *testing.T, h *Handler, path string, ctx context.Context) (int, result, *httptest.ResponseRecorder) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body result
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body, rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	code, body, rec := serve(t, h, "/healthz", context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{"no checkers", nil, http.StatusOK, nil},
		{
			"all pass",
			[]Checker{{Name: "store", Check: ok}, {Name: "llm", Check: ok}},
			http.StatusOK,
			map[string]string{"store": "ok", "llm": "ok"},
		},
		{
			"one fails",
			[]Checker{{Name: "store", Check: fail}, {Name: "llm", Check: ok}},
			http.StatusServiceUnavailable,
			map[string]string{"store": "fail: connection refused", "llm": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body, _ := serve(t, New(tt.checkers...), "/readyz", context.Background())
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			for k, want := range tt.wantChecks {
				if body.Checks[k] != want {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _, _ := serve(t, h, "/readyz", ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestStoreChecker(t *testing.T) {
	t.Parallel()

	c := StoreChecker(store.NewMemStore(nil))
	if c.Name != "store" {
		t.Errorf("name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		states  []resilience.EntryState
		wantErr bool
	}{
		{"none configured", nil, false},
		{"primary closed", []resilience.EntryState{{Name: "openai", State: resilience.StateClosed}}, false},
		{"fallback half open", []resilience.EntryState{
			{Name: "openai", State: resilience.StateOpen},
			{Name: "anyllm", State: resilience.StateHalfOpen},
		}, false},
		{"all open", []resilience.EntryState{
			{Name: "openai", State: resilience.StateOpen},
			{Name: "anyllm", State: resilience.StateOpen},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := BreakerChecker(func() []resilience.EntryState { return tt.states })
			err := c.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && (!errors.Is(err, ErrAllBackendsOpen) || !strings.Contains(err.Error(), "2 open")) {
				t.Errorf("err = %v", err)
			}
		})
	}
}
