// Package scheduler owns the alert arena: the in-memory record map, the
// wake timer, focus acquisition and the single active rendering alert.
// Every mutation runs on one executor goroutine, so records need no locks
// and storage sees strictly ordered writes.
package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alertd/internal/alert"
	"alertd/internal/focus"
	"alertd/internal/renderer"
	"alertd/internal/storage"
	logx "alertd/pkg/logx"
)

type Scheduler struct {
	cfg Config
	log logx.Logger

	store    storage.Store
	renderer renderer.Renderer
	tones    renderer.Tones
	focus    focus.Arbiter
	observer alert.Observer
	online   func() bool

	exec *executor
	now  func() time.Time

	// fallbackRetry throttles how often a failing renderer may be
	// retried with the built-in tone.
	fallbackRetry *rate.Limiter

	// Fields below are owned by the executor goroutine.
	alerts        map[string]*alert.Record
	active        string
	activeStarted bool
	usedFallback  bool
	focusState    focus.State
	renderGen     uint64
	wakeTimer     *time.Timer
	maxTimer      *time.Timer
	focusTimer    *time.Timer

	shutdownOnce sync.Once
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("scheduler: renderer is required")
	}
	if deps.Focus == nil {
		return nil, errors.New("scheduler: focus arbiter is required")
	}
	if deps.Observer == nil {
		return nil, errors.New("scheduler: observer is required")
	}
	if deps.Tones == nil {
		deps.Tones = renderer.DefaultTones()
	}
	if deps.Online == nil {
		deps.Online = func() bool { return true }
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	s := &Scheduler{
		cfg:           cfg.withDefaults(),
		log:           deps.Log,
		store:         deps.Store,
		renderer:      deps.Renderer,
		tones:         deps.Tones,
		focus:         deps.Focus,
		observer:      deps.Observer,
		online:        deps.Online,
		now:           time.Now,
		fallbackRetry: rate.NewLimiter(rate.Every(30*time.Second), 3),
		alerts:        map[string]*alert.Record{},
		exec:          newExecutor(),
	}
	return s, nil
}

// Initialize loads persisted records, purges everything past due and arms
// the wake timer. Call once after the store is open.
func (s *Scheduler) Initialize() error {
	var err error
	if !s.exec.do(func() { err = s.reload(true) }) {
		return ErrShutdown
	}
	return err
}

// ReloadAlertsFromDatabase rebuilds the in-memory arena from storage. The
// rendering alert, if any, survives untouched. With shouldSchedule false
// this is a read-only refresh: records are taken as persisted, past-due
// records are retained and the wake timer is left alone (used when a
// settings change only needs the records reloaded).
func (s *Scheduler) ReloadAlertsFromDatabase(shouldSchedule bool) error {
	var err error
	if !s.exec.do(func() { err = s.reload(shouldSchedule) }) {
		return ErrShutdown
	}
	return err
}

func (s *Scheduler) reload(shouldSchedule bool) error {
	recs, err := s.store.Load()
	if err != nil {
		return err
	}
	now := s.now()
	next := make(map[string]*alert.Record, len(recs))
	var expired []*alert.Record
	for _, r := range recs {
		if s.active != "" && r.Token == s.active {
			// Keep the live record; rendering continues uninterrupted.
			next[r.Token] = s.alerts[r.Token]
			continue
		}
		if shouldSchedule && r.IsPastDue(now, s.cfg.PastDueLimit) {
			expired = append(expired, r)
			continue
		}
		if shouldSchedule {
			switch r.State {
			case alert.StateActivating, alert.StateActive, alert.StateStopping,
				alert.StateSnoozing, alert.StateReady:
				// Persisted mid-render or mid-promotion by a process that
				// died. Re-arm so the wake timer picks it up again.
				r.Reset()
				if err := s.store.Modify(r); err != nil {
					s.log.Warn("failed resetting reloaded alert",
						logx.String("token", r.Token), logx.Err(err))
				}
			case alert.StateUnset:
				r.State = alert.StateSet
			}
		}
		next[r.Token] = r
	}
	if len(expired) > 0 {
		if err := s.store.BulkErase(expired); err != nil {
			s.log.Error("failed purging past-due alerts", logx.Err(err))
		}
		for _, r := range expired {
			s.notify(r.Info(alert.LifecyclePastDue, ""))
		}
	}
	s.alerts = next
	s.log.Info("alerts reloaded",
		logx.Int("loaded", len(next)), logx.Int("past_due", len(expired)))
	if shouldSchedule {
		s.armWakeTimer()
	}
	return nil
}

// ScheduleAlert adds a new alert or re-arms an existing token for a new
// time. Rescheduling is refused while the alert is rendering.
func (s *Scheduler) ScheduleAlert(r *alert.Record) error {
	if r == nil {
		return errors.New("scheduler: nil alert")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	var err error
	if !s.exec.do(func() { err = s.scheduleAlert(r) }) {
		return ErrShutdown
	}
	return err
}

func (s *Scheduler) scheduleAlert(r *alert.Record) error {
	if existing, ok := s.alerts[r.Token]; ok {
		snapshot := existing.Clone()
		if err := existing.UpdateScheduledTime(r.ScheduledTime()); err != nil {
			return err
		}
		if err := s.store.Modify(existing); err != nil {
			// Roll back the in-memory change so arena and disk agree.
			*existing = *snapshot
			return err
		}
		s.notify(existing.Info(alert.LifecycleScheduledForLater, ""))
		s.armWakeTimer()
		return nil
	}

	if r.IsPastDue(s.now(), s.cfg.PastDueLimit) {
		return ErrPastDue
	}
	cp := r.Clone()
	cp.State = alert.StateSet
	if err := s.store.Store(cp); err != nil {
		return err
	}
	s.alerts[cp.Token] = cp
	s.log.Debug("alert scheduled",
		logx.String("token", cp.Token),
		logx.String("type", cp.Type.String()),
		logx.Time("at", cp.ScheduledTime()))
	s.armWakeTimer()
	return nil
}

// SnoozeAlert re-arms an alert for a later time. A rendering alert goes
// quiet first; anything else is re-armed in place.
func (s *Scheduler) SnoozeAlert(token string, until time.Time) error {
	var err error
	if !s.exec.do(func() { err = s.snoozeAlert(token, until) }) {
		return ErrShutdown
	}
	return err
}

func (s *Scheduler) snoozeAlert(token string, until time.Time) error {
	r, ok := s.alerts[token]
	if !ok {
		return ErrUnknownAlert
	}
	if token == s.active && (r.State == alert.StateActive || r.State == alert.StateActivating) {
		r.Snooze(until)
		// The SNOOZED transition completes in the renderer's STOPPED event.
		s.renderer.Stop()
		return nil
	}

	// Not sounding; re-arm directly.
	snapshot := r.Clone()
	if err := r.UpdateScheduledTime(until); err != nil {
		return err
	}
	r.State = alert.StateSnoozed
	if err := s.store.Modify(r); err != nil {
		*r = *snapshot
		return err
	}
	s.notify(r.Info(alert.LifecycleSnoozed, ""))
	s.armWakeTimer()
	return nil
}

// DeleteAlert removes one alert. Unknown tokens succeed silently; a
// rendering alert is stopped first and erased when it goes quiet.
func (s *Scheduler) DeleteAlert(token string) error {
	return s.DeleteAlerts([]string{token})
}

// DeleteAlerts removes a batch of alerts in one storage transaction.
// The operation is idempotent per token.
func (s *Scheduler) DeleteAlerts(tokens []string) error {
	var err error
	if !s.exec.do(func() { err = s.deleteAlerts(tokens) }) {
		return ErrShutdown
	}
	return err
}

func (s *Scheduler) deleteAlerts(tokens []string) error {
	var gone []*alert.Record
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		r, ok := s.alerts[token]
		if !ok {
			continue
		}
		if token == s.active {
			// Erasure happens when the renderer confirms the stop.
			s.beginStop(r, alert.StopReasonCloudStop)
			continue
		}
		gone = append(gone, r)
	}
	if len(gone) > 0 {
		if err := s.store.BulkErase(gone); err != nil {
			return err
		}
		for _, r := range gone {
			delete(s.alerts, r.Token)
			s.notify(r.Info(alert.LifecycleDeleted, ""))
		}
		s.armWakeTimer()
	}
	return nil
}

// OnLocalStop stops the rendering alert on behalf of the user (button
// press, voice barge-in already resolved locally). No-op when idle.
func (s *Scheduler) OnLocalStop() {
	s.exec.submit(func() {
		if r := s.activeRecord(); r != nil {
			s.beginStop(r, alert.StopReasonLocalStop)
		}
	})
}

// ClearData erases every alert, memory and disk, stopping whatever is
// sounding without waiting for the renderer.
func (s *Scheduler) ClearData(reason alert.StopReason) error {
	var err error
	if !s.exec.do(func() { err = s.clearData(reason) }) {
		return ErrShutdown
	}
	return err
}

func (s *Scheduler) clearData(reason alert.StopReason) error {
	if s.active != "" {
		s.renderGen++ // orphan any in-flight renderer callbacks
		s.renderer.Stop()
	}
	for _, r := range s.alerts {
		r.StopReason = reason
		s.notify(r.Info(alert.LifecycleDeleted, string(reason)))
	}
	err := s.store.Clear()
	s.alerts = map[string]*alert.Record{}
	s.clearActive()
	s.stopWakeTimer()
	s.stopFocusRetry()
	if s.focusState != focus.StateNone {
		s.focus.Release(s)
	}
	return err
}

// IsAlertActive reports whether the token is currently rendering.
func (s *Scheduler) IsAlertActive(token string) bool {
	var active bool
	s.exec.do(func() {
		r, ok := s.alerts[token]
		active = ok && token == s.active &&
			(r.State == alert.StateActive || r.State == alert.StateActivating)
	})
	return active
}

// ContextInfo snapshots the arena for device-context reporting. Both
// lists are sorted by due time.
func (s *Scheduler) ContextInfo() ContextInfo {
	var info ContextInfo
	s.exec.do(func() {
		for _, r := range s.alerts {
			sum := Summary{Token: r.Token, Type: r.Type, ScheduledTime: r.ScheduledTime()}
			info.All = append(info.All, sum)
			if r.Token == s.active &&
				(r.State == alert.StateActive || r.State == alert.StateActivating) {
				info.Active = append(info.Active, sum)
			}
		}
	})
	sort.Slice(info.All, func(i, j int) bool {
		return info.All[i].ScheduledTime.Before(info.All[j].ScheduledTime)
	})
	return info
}

// Shutdown silences the renderer, stops all timers and drains the
// executor. The arena stays on disk for the next boot.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.exec.do(func() {
			if r := s.activeRecord(); r != nil {
				s.renderGen++
				s.renderer.Stop()
				// The record stays on disk for the next boot; only the
				// rendering run ends here.
				r.StopReason = alert.StopReasonShutdown
				s.notify(r.Info(alert.LifecycleStopped, string(alert.StopReasonShutdown)))
				s.clearActive()
			}
			s.stopWakeTimer()
			s.stopFocusRetry()
			if s.focusState != focus.StateNone {
				s.focus.Release(s)
			}
		})
		s.exec.shutdown()
	})
}

// OnFocusChanged implements focus.Observer. Grants and revocations arrive
// here and are applied on the executor.
func (s *Scheduler) OnFocusChanged(st focus.State) {
	s.exec.submit(func() { s.updateFocus(st) })
}

func (s *Scheduler) updateFocus(st focus.State) {
	if st == s.focusState {
		return
	}
	s.log.Debug("focus changed",
		logx.String("from", s.focusState.String()), logx.String("to", st.String()))
	s.focusState = st
	switch st {
	case focus.StateForeground, focus.StateBackground:
		s.stopFocusRetry()
		if r := s.activeRecord(); r != nil {
			if r.State == alert.StateActive || r.State == alert.StateActivating {
				// Restart with the tone for the new focus; the STOPPED
				// event sees a live record and re-renders.
				s.renderer.Stop()
			}
			return
		}
		s.activateNext()
	case focus.StateNone:
		if r := s.activeRecord(); r != nil {
			s.beginStop(r, alert.StopReasonLocalStop)
		}
	}
}

// ---- internals (executor goroutine only) ----

func (s *Scheduler) activeRecord() *alert.Record {
	if s.active == "" {
		return nil
	}
	return s.alerts[s.active]
}

func (s *Scheduler) notify(info alert.Info) {
	s.observer.OnAlertStateChange(info)
}

func (s *Scheduler) earliest(match func(*alert.Record) bool) *alert.Record {
	var best *alert.Record
	for _, r := range s.alerts {
		if !match(r) {
			continue
		}
		if best == nil || r.ScheduledUnix < best.ScheduledUnix ||
			(r.ScheduledUnix == best.ScheduledUnix && r.Token < best.Token) {
			best = r
		}
	}
	return best
}

func (s *Scheduler) stopWakeTimer() {
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
		s.wakeTimer = nil
	}
}

// armWakeTimer points the one-shot timer at the earliest schedulable
// record. A due time already behind the clock fires immediately.
func (s *Scheduler) armWakeTimer() {
	s.stopWakeTimer()
	next := s.earliest(func(r *alert.Record) bool {
		return r.State == alert.StateSet || r.State == alert.StateSnoozed
	})
	if next == nil {
		return
	}
	wait := next.ScheduledTime().Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	s.wakeTimer = time.AfterFunc(wait, func() {
		s.exec.submit(s.onWake)
	})
}

// onWake promotes every due record to READY and asks for the audio
// channel. Promoting all of them at once means a backlog of simultaneous
// alerts sounds in due order without re-arming per record.
func (s *Scheduler) onWake() {
	now := s.now()
	for _, r := range s.alerts {
		if r.State != alert.StateSet && r.State != alert.StateSnoozed {
			continue
		}
		if r.ScheduledTime().After(now) {
			continue
		}
		r.State = alert.StateReady
		if err := s.store.Modify(r); err != nil {
			s.log.Warn("failed persisting READY state",
				logx.String("token", r.Token), logx.Err(err))
		}
		s.notify(r.Info(alert.LifecycleReady, ""))
	}
	if s.active == "" && s.earliest(isReady) != nil {
		if s.focusState == focus.StateNone {
			if s.focus.Acquire(s) {
				// Activation continues in OnFocusChanged.
				s.stopFocusRetry()
			} else {
				s.log.Warn("focus acquisition refused; will retry")
				s.retryFocusLater()
			}
		} else {
			s.activateNext()
		}
	}
	s.armWakeTimer()
}

func isReady(r *alert.Record) bool { return r.State == alert.StateReady }

func (s *Scheduler) stopFocusRetry() {
	if s.focusTimer != nil {
		s.focusTimer.Stop()
		s.focusTimer = nil
	}
}

// retryFocusLater re-runs the wake pass after FocusRetry so a refused
// channel does not strand a READY record.
func (s *Scheduler) retryFocusLater() {
	s.stopFocusRetry()
	s.focusTimer = time.AfterFunc(s.cfg.FocusRetry, func() {
		s.exec.submit(s.onWake)
	})
}

// activateNext starts rendering the earliest READY record, or gives the
// audio channel back when there is nothing left to sound.
func (s *Scheduler) activateNext() {
	if s.active != "" {
		return
	}
	r := s.earliest(isReady)
	if r == nil {
		if s.focusState != focus.StateNone {
			s.focus.Release(s)
		}
		return
	}
	r.State = alert.StateActivating
	s.active = r.Token
	s.activeStarted = false
	s.usedFallback = false
	s.startRender(r, false)
	s.armMaxTimer()
}

func (s *Scheduler) clearActive() {
	s.active = ""
	s.activeStarted = false
	s.usedFallback = false
	if s.maxTimer != nil {
		s.maxTimer.Stop()
		s.maxTimer = nil
	}
}

func (s *Scheduler) armMaxTimer() {
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}
	s.maxTimer = time.AfterFunc(s.cfg.MaxRenderDuration, func() {
		s.exec.submit(func() {
			r := s.activeRecord()
			if r == nil {
				return
			}
			if r.State == alert.StateActive || r.State == alert.StateActivating {
				s.log.Info("max render time reached; stopping alert",
					logx.String("token", r.Token))
				s.beginStop(r, alert.StopReasonLocalStop)
			}
		})
	})
}

// beginStop moves a record to STOPPING. For the rendering alert the
// terminal transition completes in the renderer's STOPPED event; anything
// else finishes immediately.
func (s *Scheduler) beginStop(r *alert.Record, reason alert.StopReason) {
	if r.State == alert.StateStopping {
		return
	}
	r.StopReason = reason
	r.State = alert.StateStopping
	if r.Token == s.active {
		s.renderer.Stop()
		return
	}
	s.finishStopped(r)
}
