// Package health serves the liveness and readiness probes.
//
//   - /healthz reports that the process can serve HTTP.
//   - /readyz reports 200 only when every [Checker] passes: the persistent
//     store answers and at least one LLM backend is accepting calls.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakingmate/internal/resilience"
	"github.com/MrWong99/speakingmate/internal/store"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// ErrAllBackendsOpen is reported when every LLM circuit breaker is open.
var ErrAllBackendsOpen = errors.New("health: every LLM backend is unavailable")

// Checker is a named readiness probe.
type Checker struct {
	// Name is the key used in the response's checks map.
	Name string

	// Check returns nil when healthy. It must respect ctx.
	Check func(ctx context.Context) error
}

// StoreChecker probes a store backend that can ping itself.
func StoreChecker(p store.Pinger) Checker {
	return Checker{Name: "store", Check: p.Ping}
}

// BreakerChecker fails when every entry reported by states is open. It
// passes with no entries, since an unconfigured LLM degrades replies into
// explanatory messages rather than taking the service down.
func BreakerChecker(states func() []resilience.EntryState) Checker {
	return Checker{Name: "llm", Check: func(context.Context) error {
		es := states()
		if len(es) == 0 {
			return nil
		}
		for _, e := range es {
			if e.State != resilience.StateOpen {
				return nil
			}
		}
		return fmt.Errorf("%w (%d open)", ErrAllBackendsOpen, len(es))
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under [checkTimeout], and
// answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)
			if err == nil {
				err = ctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res, status := result{Status: "ok", Checks: checks}, http.StatusOK
	if !allOK {
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
