// Package server exposes the coordinator over a JSON HTTP API and a
// websocket that pushes view updates and carries microphone audio.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/speakingmate/internal/chat"
	"github.com/MrWong99/speakingmate/internal/completion"
	"github.com/MrWong99/speakingmate/internal/contact"
	"github.com/MrWong99/speakingmate/internal/coordinator"
	"github.com/MrWong99/speakingmate/internal/health"
	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/report"
	"github.com/MrWong99/speakingmate/internal/speech/capture"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Config holds the dependencies of a [Server].
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	Coordinator *coordinator.Coordinator
	Reports     *report.Store

	// Audio receives microphone frames from websocket clients. May be nil,
	// in which case binary frames are ignored.
	Audio *capture.PushSource

	// Hub fans view updates and playback audio out to websocket clients.
	Hub *Hub

	Health  *health.Handler
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Nil disables the route.
	MetricsHandler http.Handler
}

// Server is the HTTP surface.
type Server struct {
	cfg  Config
	srv  *http.Server
	root http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	cfg.Hub.watch(cfg.Coordinator)
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/contacts", s.handleCreateContact)
	mux.HandleFunc("POST /api/contacts/{id}/select", s.handleSelect)
	mux.HandleFunc("POST /api/contacts/{id}/favorite", s.handleFavorite)
	mux.HandleFunc("POST /api/messages", s.handleSend)
	mux.HandleFunc("POST /api/messages/{id}/toggle", s.handleToggle)
	mux.HandleFunc("POST /api/mic", s.handleMic)
	mux.HandleFunc("POST /api/mic/cancel", s.handleMicCancel)
	mux.HandleFunc("POST /api/help", s.handleHelp)
	mux.HandleFunc("GET /api/reports", s.handleReports)
	mux.HandleFunc("POST /api/reports/generate", s.handleGenerate)
	mux.HandleFunc("DELETE /api/reports/{id}", s.handleDeleteReport)
	mux.HandleFunc("DELETE /api/reports", s.handleClearReports)
	mux.HandleFunc("POST /api/speak", s.handleSpeak)
	mux.HandleFunc("POST /api/speak/stop", s.handleSpeakStop)
	mux.HandleFunc("GET /ws", s.handleWS)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	var root http.Handler = mux
	if cfg.Metrics != nil {
		root = observe.Middleware(cfg.Metrics)(mux)
	}
	s.root = root
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler { return s.root }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.cfg.Hub }

// ListenAndServe serves until ctx ends or the listener fails. A clean
// shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", ln.Addr().String(), "tls", s.cfg.CertFile != "")
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			errCh <- s.srv.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			errCh <- s.srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown closes websocket clients and drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cfg.Hub.Close()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// ── handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.View())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Coordinator.SelectContact(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.View())
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var d contact.Draft
	if !readJSON(w, r, &d) {
		return
	}
	c, err := s.cfg.Coordinator.CreateCharacter(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	fav := s.cfg.Coordinator.ToggleFavorite(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": fav})
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.cfg.Coordinator.SendText(r.Context(), req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.View())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "message id must be an integer")
		return
	}
	changed, err := s.cfg.Coordinator.ToggleCorrection(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) handleMic(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Coordinator.MicClick(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.View())
}

func (s *Server) handleMicCancel(w http.ResponseWriter, r *http.Request) {
	s.cfg.Coordinator.CancelClick(r.Context())
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.View())
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	suggestion, err := s.cfg.Coordinator.HelpClick(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"suggestion": suggestion})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	page, perPage := 1, report.DefaultPerPage
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		page = n
	}
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "per_page must be an integer")
			return
		}
		perPage = n
	}
	writeJSON(w, http.StatusOK, s.cfg.Reports.Page(page, perPage))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	saved, err := s.cfg.Coordinator.GenerateReports(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if saved == nil {
		saved = []report.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"generated": len(saved), "reports": saved})
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Reports.Delete(r.Context(), report.ID(r.PathValue("id"))) {
		writeMessage(w, http.StatusNotFound, "report not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearReports(w http.ResponseWriter, r *http.Request) {
	s.cfg.Reports.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !readJSON(w, r, &req) {
		return
	}
	// Playback outlives the request.
	if err := s.cfg.Coordinator.Speak(context.WithoutCancel(r.Context()), req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSpeakStop(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Coordinator.StopSpeaking()
	w.WriteHeader(http.StatusNoContent)
}

// ── encoding ────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnknownContact):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyText), errors.Is(err, contact.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNoActiveContact), errors.Is(err, chat.ErrNoContact),
		errors.Is(err, chat.ErrBusy), errors.Is(err, coordinator.ErrHelpInFlight),
		errors.Is(err, contact.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrPlaybackUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch completion.KindOf(err) {
	case completion.KindRateLimited:
		return http.StatusTooManyRequests
	case completion.KindConfiguration, completion.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if k := completion.KindOf(err); k != completion.KindUnknown {
		body.Kind = k.String()
		body.Error = chat.ReplyFor(err)
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("server: request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
