package capture

import (
	"context"
	"log/slog"
	"sync"
)

// AudioSource yields microphone frames for one capture session at a time.
type AudioSource interface {
	// Open starts delivering frames. The channel is closed by Close.
	Open(ctx context.Context) (<-chan []byte, error)

	// Close stops delivery and closes the channel returned by Open. Safe to
	// call when not open.
	Close()
}

// PushSource is an [AudioSource] fed by a transport, typically the browser
// websocket. Frames pushed while no session is open are dropped.
type PushSource struct {
	mu      sync.Mutex
	clients int
	frames  chan []byte
	buffer  int
}

var _ AudioSource = (*PushSource)(nil)

// NewPushSource returns a PushSource that buffers up to buffer frames.
func NewPushSource(buffer int) *PushSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &PushSource{buffer: buffer}
}

// Attach registers a connected microphone client. The returned func detaches
// it. Open fails with [ErrDenied] while no client is attached.
func (p *PushSource) Attach() (detach func()) {
	p.mu.Lock()
	p.clients++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.clients--
			p.mu.Unlock()
		})
	}
}

// Push offers one frame to the open session. It never blocks; when the
// buffer is full the frame is dropped.
func (p *PushSource) Push(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames == nil {
		return
	}
	select {
	case p.frames <- frame:
	default:
		slog.Debug("capture: audio buffer full, dropping frame", "bytes", len(frame))
	}
}

// Open implements [AudioSource].
func (p *PushSource) Open(context.Context) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients == 0 {
		return nil, ErrDenied
	}
	if p.frames != nil {
		return nil, ErrSourceBusy
	}
	p.frames = make(chan []byte, p.buffer)
	return p.frames, nil
}

// Close implements [AudioSource].
func (p *PushSource) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames != nil {
		close(p.frames)
		p.frames = nil
	}
}

// Listening reports whether a session is currently open.
func (p *PushSource) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames != nil
}
