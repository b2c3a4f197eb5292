package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/speakingmate/internal/coordinator"
	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/internal/speech/playback"
)

const (
	// audioQueue is the per-client buffer of outbound playback chunks.
	audioQueue = 64

	writeTimeout = 5 * time.Second
)

// viewSource is the part of the coordinator the hub pushes.
type viewSource interface {
	View() coordinator.View
	Subscribe(fn func())
}

// Hub tracks websocket clients. It pushes the coordinator's view to each
// client whenever it changes and implements [playback.AudioSink] by
// broadcasting synthesized audio as binary frames.
//
// A Hub exists before the coordinator it serves, since the playback player
// needs it as a sink; the server binds the two with watch.
type Hub struct {
	mu      sync.Mutex
	views   viewSource
	clients map[*client]struct{}
	closed  bool
}

var _ playback.AudioSink = (*Hub)(nil)

// NewHub returns a Hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) watch(views viewSource) {
	h.mu.Lock()
	h.views = views
	h.mu.Unlock()
	views.Subscribe(h.markDirty)
}

func (h *Hub) view() coordinator.View {
	h.mu.Lock()
	v := h.views
	h.mu.Unlock()
	return v.View()
}

type client struct {
	conn  *websocket.Conn
	dirty chan struct{}
	audio chan []byte
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PlayAudio implements [playback.AudioSink]. Slow clients drop chunks rather
// than stall playback for everyone.
func (h *Hub) PlayAudio(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.audio <- chunk:
		default:
			slog.Debug("server: audio queue full, dropping chunk")
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) markDirty() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.dirty <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// handleWS upgrades to a websocket. Text frames from the client are
// ignored; binary frames are microphone audio. The server writes the view
// as a text frame on connect and after every change, and playback audio as
// binary frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("server: websocket accept", "err", err)
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	c := &client{conn: conn, dirty: make(chan struct{}, 1), audio: make(chan []byte, audioQueue)}
	c.dirty <- struct{}{}
	hub := s.cfg.Hub
	if !hub.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer hub.remove(c)

	if s.cfg.Audio != nil {
		detach := s.cfg.Audio.Attach()
		defer detach()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		s.readLoop(ctx, c)
	}()

	err = s.writeLoop(ctx, c, hub)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
	default:
		observe.Logger(r.Context()).Debug("server: websocket closed", "err", err)
		conn.Close(websocket.StatusInternalError, "write failed")
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary && s.cfg.Audio != nil {
			s.cfg.Audio.Push(data)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client, hub *Hub) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.dirty:
			data, err := sonic.Marshal(hub.view())
			if err != nil {
				return err
			}
			if err := write(ctx, c.conn, websocket.MessageText, data); err != nil {
				return err
			}
		case chunk := <-c.audio:
			if err := write(ctx, c.conn, websocket.MessageBinary, chunk); err != nil {
				return err
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, typ, data)
}
