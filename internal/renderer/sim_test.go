package renderer

import (
	"testing"
	"time"

	logx "alertd/pkg/logx"
)

type eventRec struct {
	ev     Event
	reason string
}

type eventSink chan eventRec

func (c eventSink) OnRendererStateChange(ev Event, reason string) {
	c <- eventRec{ev: ev, reason: reason}
}

func waitEvent(t *testing.T, ch eventSink, want Event) eventRec {
	t.Helper()
	select {
	case got := <-ch:
		if got.ev != want {
			t.Fatalf("event = %v, want %v", got.ev, want)
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("no event, wanted %v", want)
		return eventRec{}
	}
}

func newTestSim() *Sim {
	s := NewSim(logx.Nop())
	s.ToneLength = 20 * time.Millisecond
	return s
}

func TestSimCompletesAfterLoops(t *testing.T) {
	t.Parallel()
	s := newTestSim()
	ch := make(eventSink, 8)

	s.Start(ch, Request{LoopCount: 2, LoopPause: 10 * time.Millisecond})
	waitEvent(t, ch, EventStarted)
	waitEvent(t, ch, EventCompleted)
}

func TestSimStopEmitsStopped(t *testing.T) {
	t.Parallel()
	s := newTestSim()
	ch := make(eventSink, 8)

	s.Start(ch, Request{LoopCount: 1000})
	waitEvent(t, ch, EventStarted)
	s.Stop()
	waitEvent(t, ch, EventStopped)
}

func TestSimInfiniteLoopRunsUntilStopped(t *testing.T) {
	t.Parallel()
	s := newTestSim()
	ch := make(eventSink, 8)

	s.Start(ch, Request{LoopCount: -1, LoopPause: 5 * time.Millisecond})
	waitEvent(t, ch, EventStarted)
	time.Sleep(150 * time.Millisecond)
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %v while looping", got.ev)
	default:
	}
	s.Stop()
	waitEvent(t, ch, EventStopped)
}

func TestSimStartWithPauseDelaysStart(t *testing.T) {
	t.Parallel()
	s := newTestSim()
	ch := make(eventSink, 8)

	begin := time.Now()
	s.Start(ch, Request{LoopCount: 1, LoopPause: 80 * time.Millisecond, StartWithPause: true})
	waitEvent(t, ch, EventStarted)
	if elapsed := time.Since(begin); elapsed < 60*time.Millisecond {
		t.Fatalf("started after %v, expected the leading pause", elapsed)
	}
	waitEvent(t, ch, EventCompleted)
}

func TestSimRejectsConcurrentStart(t *testing.T) {
	t.Parallel()
	s := newTestSim()
	first := make(eventSink, 8)
	second := make(eventSink, 8)

	s.Start(first, Request{LoopCount: 1000})
	waitEvent(t, first, EventStarted)

	s.Start(second, Request{LoopCount: 1})
	got := waitEvent(t, second, EventError)
	if got.reason == "" {
		t.Fatal("busy error carries no reason")
	}
	s.Stop()
	waitEvent(t, first, EventStopped)
}

func TestSimRestartAfterStop(t *testing.T) {
	t.Parallel()
	s := newTestSim()
	ch := make(eventSink, 8)

	s.Start(ch, Request{LoopCount: 1000})
	waitEvent(t, ch, EventStarted)
	s.Stop()
	waitEvent(t, ch, EventStopped)

	// The run is over once STOPPED is observed; a new Start must succeed.
	s.Start(ch, Request{LoopCount: 1})
	waitEvent(t, ch, EventStarted)
	waitEvent(t, ch, EventCompleted)
}
