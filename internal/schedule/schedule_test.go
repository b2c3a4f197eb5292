package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManual_RunsInDueOrder(t *testing.T) {
	t.Parallel()

	m := NewManual()
	var order []int
	m.AfterFunc(300*time.Millisecond, func() { order = append(order, 3) })
	m.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })
	m.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })

	m.Advance(150 * time.Millisecond)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("after 150ms order = %v, want [1]", order)
	}
	m.Advance(time.Second)
	if len(order) != 3 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
	if m.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", m.Pending())
	}
}

func TestManual_Cancel(t *testing.T) {
	t.Parallel()

	m := NewManual()
	ran := false
	cancel := m.AfterFunc(time.Second, func() { ran = true })

	if !cancel() {
		t.Fatal("first cancel should report true")
	}
	if cancel() {
		t.Error("second cancel should report false")
	}
	m.Advance(2 * time.Second)
	if ran {
		t.Error("cancelled callback ran")
	}
}

func TestManual_CallbackSchedulesMore(t *testing.T) {
	t.Parallel()

	m := NewManual()
	var n int
	m.AfterFunc(10*time.Millisecond, func() {
		n++
		m.AfterFunc(10*time.Millisecond, func() { n++ })
	})
	m.Advance(25 * time.Millisecond)
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}

func TestReal_AfterFunc(t *testing.T) {
	t.Parallel()

	var fired atomic.Bool
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
	if !fired.Load() {
		t.Error("fired flag not set")
	}

	cancel := Real{}.AfterFunc(time.Hour, func() { t.Error("should not run") })
	if !cancel() {
		t.Error("cancel of pending real timer should report true")
	}
}
