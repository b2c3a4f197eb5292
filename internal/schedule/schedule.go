// Package schedule provides cancellable delayed callbacks behind an interface
// so that time-dependent behaviour can be driven deterministically in tests.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Cancel stops a scheduled callback. It reports whether the call stopped the
// callback before it ran. Calling Cancel more than once is safe.
type Cancel func() bool

// Scheduler runs f once after d has elapsed, on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Cancel
}

// Real schedules callbacks on the wall clock.
type Real struct{}

var _ Scheduler = Real{}

// AfterFunc implements Scheduler using time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Cancel {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// Manual is a Scheduler whose clock only moves when Advance is called.
// Callbacks run synchronously inside Advance, in due order.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*timer
}

var _ Scheduler = (*Manual)(nil)

type timer struct {
	due time.Duration
	seq int
	f   func()
}

// NewManual returns a Manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{}
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, f func()) Cancel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &timer{due: m.now + d, seq: m.seq, f: f}
	m.pending = append(m.pending, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, p := range m.pending {
			if p == t {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				return true
			}
		}
		return false
	}
}

// Advance moves the clock forward by d and runs every callback that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.Slice(m.pending, func(i, j int) bool {
			if m.pending[i].due != m.pending[j].due {
				return m.pending[i].due < m.pending[j].due
			}
			return m.pending[i].seq < m.pending[j].seq
		})
		if len(m.pending) == 0 || m.pending[0].due > target {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := m.pending[0]
		m.pending = m.pending[1:]
		m.now = t.due
		m.mu.Unlock()

		t.f()
	}
}

// Pending returns the number of callbacks not yet run or cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
