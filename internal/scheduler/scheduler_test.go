package scheduler

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"alertd/internal/alert"
	"alertd/internal/focus"
	"alertd/internal/renderer"
	"alertd/internal/storage"
	logx "alertd/pkg/logx"
)

type infoSink chan alert.Info

func (c infoSink) OnAlertStateChange(info alert.Info) { c <- info }

type harness struct {
	sched  *Scheduler
	store  *storage.SQLiteStore
	focus  *focus.Manager
	events infoSink
}

func newHarness(t *testing.T, cfg Config, online func() bool) *harness {
	t.Helper()
	store := storage.NewSQLite(storage.Config{
		Path: filepath.Join(t.TempDir(), "alerts.db"),
	}, logx.Nop())
	if err := store.Open(); err != nil {
		t.Fatalf("store Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sim := renderer.NewSim(logx.Nop())
	sim.ToneLength = 30 * time.Millisecond

	fm := focus.NewManager()
	events := make(infoSink, 64)

	sched, err := New(cfg, Deps{
		Store:    store,
		Renderer: sim,
		Focus:    fm,
		Observer: events,
		Online:   online,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(sched.Shutdown)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	return &harness{sched: sched, store: store, focus: fm, events: events}
}

func (h *harness) waitFor(t *testing.T, state alert.LifecycleState, timeout time.Duration) alert.Info {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case info := <-h.events:
			if info.State == state {
				return info
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", state)
		}
	}
}

func newAlert(t *testing.T, token string, typ alert.Type, at time.Time, loops int) *alert.Record {
	t.Helper()
	r, err := alert.New(token, typ, at)
	if err != nil {
		t.Fatalf("alert.New error: %v", err)
	}
	r.LoopCount = loops
	return r
}

func TestAlertActivatesWhenDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "t1", alert.TypeTimer, time.Now().Add(time.Second), 500)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}

	h.waitFor(t, alert.LifecycleReady, 3*time.Second)
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)
	if !h.sched.IsAlertActive("t1") {
		t.Fatal("t1 should be active after STARTED")
	}
	ctx := h.sched.ContextInfo()
	if len(ctx.All) != 1 || len(ctx.Active) != 1 || ctx.Active[0].Token != "t1" {
		t.Fatalf("ContextInfo = %+v, want t1 in both lists", ctx)
	}

	h.sched.OnLocalStop()
	info := h.waitFor(t, alert.LifecycleStopped, 3*time.Second)
	if info.Reason != string(alert.StopReasonLocalStop) {
		t.Fatalf("stop reason = %q, want local_stop", info.Reason)
	}
	if h.sched.IsAlertActive("t1") {
		t.Fatal("t1 still active after STOPPED")
	}
	if got := len(h.sched.ContextInfo().All); got != 0 {
		t.Fatalf("ContextInfo.All has %d entries after terminal state, want 0", got)
	}
}

func TestAlertCompletesWhenLoopsRunOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(200*time.Millisecond), 1)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)
	h.waitFor(t, alert.LifecycleCompleted, 3*time.Second)

	recs, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("store still holds %d records after COMPLETED", len(recs))
	}
}

func TestScheduleRejectsPastDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{PastDueLimit: 30 * time.Minute}, nil)

	r := newAlert(t, "stale", alert.TypeAlarm, time.Now().Add(-time.Hour), 1)
	if err := h.sched.ScheduleAlert(r); !errors.Is(err, ErrPastDue) {
		t.Fatalf("ScheduleAlert err = %v, want ErrPastDue", err)
	}
}

func TestReschedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "t1", alert.TypeReminder, time.Now().Add(time.Hour), 1)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}

	later := time.Now().Add(2 * time.Hour)
	if err := h.sched.ScheduleAlert(newAlert(t, "t1", alert.TypeReminder, later, 1)); err != nil {
		t.Fatalf("reschedule error: %v", err)
	}
	h.waitFor(t, alert.LifecycleScheduledForLater, time.Second)

	info := h.sched.ContextInfo()
	if len(info.All) != 1 {
		t.Fatalf("ContextInfo.All = %d entries, want 1", len(info.All))
	}
	if !info.All[0].ScheduledTime.Equal(later.UTC().Truncate(time.Second)) {
		t.Fatalf("rescheduled time = %v", info.All[0].ScheduledTime)
	}
}

func TestRescheduleRefusedWhileRendering(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(200*time.Millisecond), 500)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)

	err := h.sched.ScheduleAlert(newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(time.Hour), 1))
	if !errors.Is(err, alert.ErrRecordLocked) {
		t.Fatalf("reschedule err = %v, want ErrRecordLocked", err)
	}
}

func TestSnoozeActiveAlert(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(200*time.Millisecond), 500)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)

	if err := h.sched.SnoozeAlert("t1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SnoozeAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleSnoozed, 3*time.Second)
	if h.sched.IsAlertActive("t1") {
		t.Fatal("t1 still active after snooze")
	}
	if len(h.sched.ContextInfo().All) != 1 {
		t.Fatal("snoozed alert should stay in the arena")
	}
}

func TestSnoozeUnknownToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	if err := h.sched.SnoozeAlert("ghost", time.Now().Add(time.Hour)); !errors.Is(err, ErrUnknownAlert) {
		t.Fatalf("unknown token err = %v, want ErrUnknownAlert", err)
	}
}

func TestSnoozeInactiveAlertRearmsDirectly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "idle", alert.TypeAlarm, time.Now().Add(time.Hour), 1)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	until := time.Now().Add(2 * time.Hour)
	if err := h.sched.SnoozeAlert("idle", until); err != nil {
		t.Fatalf("SnoozeAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleSnoozed, time.Second)

	info := h.sched.ContextInfo()
	if len(info.All) != 1 {
		t.Fatalf("ContextInfo.All = %d entries, want 1", len(info.All))
	}
	if !info.All[0].ScheduledTime.Equal(until.UTC().Truncate(time.Second)) {
		t.Fatalf("snoozed time = %v, want %v", info.All[0].ScheduledTime, until)
	}
}

func TestDeleteAlertsIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	for _, token := range []string{"t1", "t2"} {
		if err := h.sched.ScheduleAlert(newAlert(t, token, alert.TypeTimer, time.Now().Add(time.Hour), 1)); err != nil {
			t.Fatalf("ScheduleAlert error: %v", err)
		}
	}

	// Duplicates and unknown tokens are tolerated; each alert is
	// reported deleted exactly once.
	tokens := []string{"t1", "t1", "t2", "ghost"}
	if err := h.sched.DeleteAlerts(tokens); err != nil {
		t.Fatalf("DeleteAlerts error: %v", err)
	}
	deleted := 0
	for len(h.events) > 0 {
		if info := <-h.events; info.State == alert.LifecycleDeleted {
			deleted++
		}
	}
	if deleted != 2 {
		t.Fatalf("DELETED notifications = %d, want 2", deleted)
	}

	// Repeating the same batch is a no-op.
	if err := h.sched.DeleteAlerts(tokens); err != nil {
		t.Fatalf("repeat DeleteAlerts error: %v", err)
	}
	if got := len(h.sched.ContextInfo().All); got != 0 {
		t.Fatalf("ContextInfo.All = %d entries after delete, want 0", got)
	}
}

func TestDeleteActiveAlertStopsIt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(200*time.Millisecond), 500)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)

	if err := h.sched.DeleteAlert("t1"); err != nil {
		t.Fatalf("DeleteAlert error: %v", err)
	}
	info := h.waitFor(t, alert.LifecycleStopped, 3*time.Second)
	if info.Reason != string(alert.StopReasonCloudStop) {
		t.Fatalf("stop reason = %q, want cloud_stop", info.Reason)
	}
}

func TestFocusLossStopsActiveAlert(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(200*time.Millisecond), 500)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)

	h.focus.Preempt(focus.StateNone)
	info := h.waitFor(t, alert.LifecycleStopped, 3*time.Second)
	if info.Reason != string(alert.StopReasonLocalStop) {
		t.Fatalf("stop reason = %q, want local_stop", info.Reason)
	}
}

func TestFocusBackgroundAndBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BackgroundPause: 20 * time.Millisecond}, nil)

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(200*time.Millisecond), 500)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)

	h.focus.Preempt(focus.StateBackground)
	h.waitFor(t, alert.LifecycleFocusBackground, 3*time.Second)
	if !h.sched.IsAlertActive("t1") {
		t.Fatal("t1 should keep sounding in the background")
	}

	h.focus.Preempt(focus.StateForeground)
	h.waitFor(t, alert.LifecycleFocusForeground, 3*time.Second)
}

func TestOfflineStopIsParked(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, func() bool { return false })

	r := newAlert(t, "t1", alert.TypeTimer, time.Now().Add(200*time.Millisecond), 500)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)
	h.sched.OnLocalStop()
	h.waitFor(t, alert.LifecycleStopped, 3*time.Second)

	rows, err := h.store.LoadOfflineStopped()
	if err != nil {
		t.Fatalf("LoadOfflineStopped error: %v", err)
	}
	if len(rows) != 1 || rows[0].Token != "t1" {
		t.Fatalf("offline rows = %+v, want one for t1", rows)
	}
}

func TestInitializePurgesPastDue(t *testing.T) {
	t.Parallel()
	store := storage.NewSQLite(storage.Config{
		Path: filepath.Join(t.TempDir(), "alerts.db"),
	}, logx.Nop())
	if err := store.Open(); err != nil {
		t.Fatalf("store Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	stale := newAlert(t, "stale", alert.TypeAlarm, time.Now().Add(-2*time.Hour), 1)
	stale.State = alert.StateSet
	if err := store.Store(stale); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	fresh := newAlert(t, "fresh", alert.TypeTimer, time.Now().Add(time.Hour), 1)
	fresh.State = alert.StateSet
	if err := store.Store(fresh); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	events := make(infoSink, 64)
	sched, err := New(Config{PastDueLimit: 30 * time.Minute}, Deps{
		Store:    store,
		Renderer: renderer.NewSim(logx.Nop()),
		Focus:    focus.NewManager(),
		Observer: events,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(sched.Shutdown)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	h := &harness{sched: sched, store: store, events: events}
	info := h.waitFor(t, alert.LifecyclePastDue, time.Second)
	if info.Token != "stale" {
		t.Fatalf("past-due token = %q, want stale", info.Token)
	}

	ctx := sched.ContextInfo()
	if len(ctx.All) != 1 || ctx.All[0].Token != "fresh" {
		t.Fatalf("ContextInfo.All = %+v, want only fresh", ctx.All)
	}
}

func TestReloadWithoutSchedulingRetainsPastDue(t *testing.T) {
	t.Parallel()
	store := storage.NewSQLite(storage.Config{
		Path: filepath.Join(t.TempDir(), "alerts.db"),
	}, logx.Nop())
	if err := store.Open(); err != nil {
		t.Fatalf("store Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	stale := newAlert(t, "stale", alert.TypeAlarm, time.Now().Add(-2*time.Hour), 1)
	stale.State = alert.StateSet
	if err := store.Store(stale); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	// A row persisted mid-render by a previous process.
	mid := newAlert(t, "mid", alert.TypeTimer, time.Now().Add(time.Hour), 1)
	mid.State = alert.StateActive
	if err := store.Store(mid); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	events := make(infoSink, 64)
	sched, err := New(Config{PastDueLimit: 30 * time.Minute}, Deps{
		Store:    store,
		Renderer: renderer.NewSim(logx.Nop()),
		Focus:    focus.NewManager(),
		Observer: events,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(sched.Shutdown)

	if err := sched.ReloadAlertsFromDatabase(false); err != nil {
		t.Fatalf("ReloadAlertsFromDatabase error: %v", err)
	}
	info := sched.ContextInfo()
	if len(info.All) != 2 {
		t.Fatalf("ContextInfo.All = %+v, want both records retained", info.All)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s during reload(false)", ev.State)
	default:
	}

	// Nothing may be written back on a read-only refresh.
	recs, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	states := map[string]alert.State{}
	for _, r := range recs {
		states[r.Token] = r.State
	}
	if states["mid"] != alert.StateActive {
		t.Fatalf("mid stored state = %v, want ACTIVE untouched", states["mid"])
	}
	if states["stale"] != alert.StateSet {
		t.Fatalf("stale stored state = %v, want SET untouched", states["stale"])
	}
}

func TestMaxRenderDurationStopsAlert(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxRenderDuration: 300 * time.Millisecond}, nil)

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(100*time.Millisecond), 10000)
	if err := h.sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)

	info := h.waitFor(t, alert.LifecycleStopped, 3*time.Second)
	if info.Reason != string(alert.StopReasonLocalStop) {
		t.Fatalf("stop reason = %q, want local_stop", info.Reason)
	}
}

func TestClearDataDropsEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	for _, token := range []string{"t1", "t2"} {
		if err := h.sched.ScheduleAlert(newAlert(t, token, alert.TypeReminder, time.Now().Add(time.Hour), 1)); err != nil {
			t.Fatalf("ScheduleAlert error: %v", err)
		}
	}
	if err := h.sched.ClearData(alert.StopReasonLogOut); err != nil {
		t.Fatalf("ClearData error: %v", err)
	}
	h.waitFor(t, alert.LifecycleDeleted, time.Second)
	h.waitFor(t, alert.LifecycleDeleted, time.Second)

	if got := len(h.sched.ContextInfo().All); got != 0 {
		t.Fatalf("ContextInfo.All = %d entries after ClearData", got)
	}
	recs, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("store still holds %d records after ClearData", len(recs))
	}
}

func TestSimultaneousAlertsSoundInDueOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)

	base := time.Now().Add(300 * time.Millisecond)
	if err := h.sched.ScheduleAlert(newAlert(t, "second", alert.TypeTimer, base.Add(time.Second), 1)); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}
	if err := h.sched.ScheduleAlert(newAlert(t, "first", alert.TypeTimer, base, 1)); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}

	started := h.waitFor(t, alert.LifecycleStarted, 3*time.Second)
	if started.Token != "first" {
		t.Fatalf("first STARTED token = %q, want first", started.Token)
	}
	h.waitFor(t, alert.LifecycleCompleted, 3*time.Second)

	started = h.waitFor(t, alert.LifecycleStarted, 5*time.Second)
	if started.Token != "second" {
		t.Fatalf("second STARTED token = %q, want second", started.Token)
	}
}

func TestReadyRecordRecoversOnInitialize(t *testing.T) {
	t.Parallel()
	store := storage.NewSQLite(storage.Config{
		Path: filepath.Join(t.TempDir(), "alerts.db"),
	}, logx.Nop())
	if err := store.Open(); err != nil {
		t.Fatalf("store Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	// Persisted READY by a process that died between wake promotion and
	// activation. Still within the past-due limit, so it must sound.
	r := newAlert(t, "ready", alert.TypeAlarm, time.Now().Add(-time.Minute), 500)
	r.State = alert.StateReady
	if err := store.Store(r); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	sim := renderer.NewSim(logx.Nop())
	sim.ToneLength = 30 * time.Millisecond
	events := make(infoSink, 64)
	sched, err := New(Config{PastDueLimit: 30 * time.Minute}, Deps{
		Store:    store,
		Renderer: sim,
		Focus:    focus.NewManager(),
		Observer: events,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(sched.Shutdown)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	h := &harness{sched: sched, store: store, events: events}
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)
	if !sched.IsAlertActive("ready") {
		t.Fatal("recovered alert should be rendering")
	}
}

// captureRenderer records Start requests and only speaks when told,
// keeping the alert in its pre-STARTED window for as long as the test
// needs.
type captureRenderer struct {
	mu   sync.Mutex
	obs  renderer.Observer
	reqs chan renderer.Request
}

func newCaptureRenderer() *captureRenderer {
	return &captureRenderer{reqs: make(chan renderer.Request, 4)}
}

func (c *captureRenderer) Start(o renderer.Observer, req renderer.Request) {
	c.mu.Lock()
	c.obs = o
	c.mu.Unlock()
	c.reqs <- req
}

func (c *captureRenderer) Stop() {
	c.mu.Lock()
	o := c.obs
	c.mu.Unlock()
	if o != nil {
		go o.OnRendererStateChange(renderer.EventStopped, "")
	}
}

func (c *captureRenderer) next(t *testing.T) renderer.Request {
	t.Helper()
	select {
	case req := <-c.reqs:
		return req
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for renderer Start")
		return renderer.Request{}
	}
}

func TestFocusMoveWhileActivatingRestartsRenderer(t *testing.T) {
	t.Parallel()
	store := storage.NewSQLite(storage.Config{
		Path: filepath.Join(t.TempDir(), "alerts.db"),
	}, logx.Nop())
	if err := store.Open(); err != nil {
		t.Fatalf("store Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cr := newCaptureRenderer()
	fm := focus.NewManager()
	events := make(infoSink, 64)
	sched, err := New(Config{}, Deps{
		Store:    store,
		Renderer: cr,
		Focus:    fm,
		Observer: events,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(sched.Shutdown)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(50*time.Millisecond), 500)
	if err := sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}

	first := cr.next(t)
	if first.LoopCount != 500 {
		t.Fatalf("foreground LoopCount = %d, want 500", first.LoopCount)
	}

	// The renderer has not reported STARTED yet; the alert is still
	// activating when focus moves to the background.
	fm.Preempt(focus.StateBackground)

	second := cr.next(t)
	if second.LoopCount != -1 || !second.StartWithPause {
		t.Fatalf("background request = %+v, want infinite short-tone loop", second)
	}
}

// refusingArbiter denies the first n acquisitions before behaving like
// the real single-channel arbiter.
type refusingArbiter struct {
	inner *focus.Manager

	mu       sync.Mutex
	refusals int
}

func (f *refusingArbiter) Acquire(o focus.Observer) bool {
	f.mu.Lock()
	if f.refusals > 0 {
		f.refusals--
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()
	return f.inner.Acquire(o)
}

func (f *refusingArbiter) Release(o focus.Observer) { f.inner.Release(o) }

func TestRefusedFocusIsRetried(t *testing.T) {
	t.Parallel()
	store := storage.NewSQLite(storage.Config{
		Path: filepath.Join(t.TempDir(), "alerts.db"),
	}, logx.Nop())
	if err := store.Open(); err != nil {
		t.Fatalf("store Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sim := renderer.NewSim(logx.Nop())
	sim.ToneLength = 30 * time.Millisecond
	events := make(infoSink, 64)
	sched, err := New(Config{FocusRetry: 50 * time.Millisecond}, Deps{
		Store:    store,
		Renderer: sim,
		Focus:    &refusingArbiter{inner: focus.NewManager(), refusals: 1},
		Observer: events,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(sched.Shutdown)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	r := newAlert(t, "t1", alert.TypeAlarm, time.Now().Add(50*time.Millisecond), 500)
	if err := sched.ScheduleAlert(r); err != nil {
		t.Fatalf("ScheduleAlert error: %v", err)
	}

	h := &harness{sched: sched, store: store, events: events}
	h.waitFor(t, alert.LifecycleReady, 3*time.Second)
	h.waitFor(t, alert.LifecycleStarted, 3*time.Second)
}
