package focus

import (
	"testing"
	"time"
)

type focusSink chan State

func (c focusSink) OnFocusChanged(st State) { c <- st }

func waitState(t *testing.T, ch focusSink, want State) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("focus = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("no callback, wanted %v", want)
	}
}

func TestAcquireGrantsForeground(t *testing.T) {
	t.Parallel()
	m := NewManager()
	ch := make(focusSink, 4)

	if !m.Acquire(ch) {
		t.Fatal("Acquire refused")
	}
	waitState(t, ch, StateForeground)
	if m.State() != StateForeground {
		t.Fatalf("State = %v", m.State())
	}
}

func TestAcquireRefusedWhileHeld(t *testing.T) {
	t.Parallel()
	m := NewManager()
	first := make(focusSink, 4)
	second := make(focusSink, 4)

	if !m.Acquire(first) {
		t.Fatal("first Acquire refused")
	}
	if m.Acquire(second) {
		t.Fatal("second Acquire succeeded while channel held")
	}
	// Re-acquiring by the holder is fine.
	if !m.Acquire(first) {
		t.Fatal("holder re-Acquire refused")
	}
}

func TestReleaseConfirmsWithNone(t *testing.T) {
	t.Parallel()
	m := NewManager()
	ch := make(focusSink, 4)

	m.Acquire(ch)
	waitState(t, ch, StateForeground)
	m.Release(ch)
	waitState(t, ch, StateNone)
	if m.State() != StateNone {
		t.Fatalf("State = %v after release", m.State())
	}

	// Releasing when not the holder is ignored.
	other := make(focusSink, 1)
	m.Release(other)
	select {
	case st := <-other:
		t.Fatalf("unexpected callback %v", st)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPreempt(t *testing.T) {
	t.Parallel()
	m := NewManager()
	ch := make(focusSink, 4)

	m.Acquire(ch)
	waitState(t, ch, StateForeground)

	m.Preempt(StateBackground)
	waitState(t, ch, StateBackground)
	if m.State() != StateBackground {
		t.Fatalf("State = %v", m.State())
	}

	m.Preempt(StateNone)
	waitState(t, ch, StateNone)
	// The holder was evicted; someone else may acquire now.
	other := make(focusSink, 1)
	if !m.Acquire(other) {
		t.Fatal("Acquire refused after NONE preemption")
	}
}
