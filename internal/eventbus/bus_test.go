package eventbus

import (
	"testing"
	"time"

	"alertd/internal/alert"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Info: alert.Info{Token: "t1", State: alert.LifecycleStarted}})

	select {
	case ev := <-ch:
		if ev.Info.Token != "t1" || ev.Info.State != alert.LifecycleStarted {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Fatal("Publish did not stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusImplementsAlertObserver(t *testing.T) {
	t.Parallel()
	b := New()
	obs, ok := b.(alert.Observer)
	if !ok {
		t.Fatal("bus does not implement alert.Observer")
	}
	ch, unsub := b.Subscribe(1)
	defer unsub()

	obs.OnAlertStateChange(alert.Info{Token: "t1", State: alert.LifecycleReady})
	select {
	case ev := <-ch:
		if ev.Info.State != alert.LifecycleReady {
			t.Fatalf("state = %s", ev.Info.State)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Info: alert.Info{Token: "flood"}})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffered %d events, want 1", len(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // second call is a no-op

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Info: alert.Info{Token: "t1"}})
}
