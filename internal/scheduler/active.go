package scheduler

import (
	"alertd/internal/alert"
	"alertd/internal/focus"
	"alertd/internal/renderer"
	logx "alertd/pkg/logx"
)

// renderObserver routes one rendering run's events onto the executor. The
// generation stamp orphans callbacks from runs the scheduler has already
// moved past (refocus restarts, ClearData, Shutdown).
type renderObserver struct {
	s     *Scheduler
	token string
	gen   uint64
}

func (o *renderObserver) OnRendererStateChange(ev renderer.Event, reason string) {
	o.s.exec.submit(func() {
		o.s.handleRenderEvent(o.token, o.gen, ev, reason)
	})
}

// startRender hands the active record to the renderer. In the background
// the custom assets are dropped in favor of the short built-in tone,
// looped with pauses until focus comes back or the alert is stopped.
func (s *Scheduler) startRender(r *alert.Record, fallback bool) {
	ts := s.tones.For(r.Type)
	req := renderer.Request{VolumeRamp: s.cfg.VolumeRamp}
	if s.focusState == focus.StateBackground {
		req.Audio = ts.Short
		req.LoopCount = -1
		req.LoopPause = s.cfg.BackgroundPause
		req.StartWithPause = true
	} else {
		req.Audio = ts.Default
		req.LoopCount = r.LoopCount
		req.LoopPause = r.LoopPause
		if !fallback {
			req.URLs = r.Assets.OrderedURLs()
		}
	}
	s.renderGen++
	s.renderer.Start(&renderObserver{s: s, token: r.Token, gen: s.renderGen}, req)
}

func (s *Scheduler) handleRenderEvent(token string, gen uint64, ev renderer.Event, reason string) {
	if gen != s.renderGen || token != s.active {
		return
	}
	r := s.alerts[token]
	if r == nil {
		return
	}

	switch ev {
	case renderer.EventStarted:
		s.onRenderStarted(r)

	case renderer.EventStopped:
		s.onRenderStopped(r)

	case renderer.EventCompleted:
		r.State = alert.StateCompleted
		s.notify(r.Info(alert.LifecycleCompleted, ""))
		s.retireActive(r)

	case renderer.EventError:
		s.onRenderError(r, reason)
	}
}

func (s *Scheduler) onRenderStarted(r *alert.Record) {
	if r.State == alert.StateActivating {
		r.State = alert.StateActive
		if err := s.store.Modify(r); err != nil {
			s.log.Warn("failed persisting ACTIVE state",
				logx.String("token", r.Token), logx.Err(err))
		}
	}
	if !s.activeStarted {
		s.activeStarted = true
		s.notify(r.Info(alert.LifecycleStarted, ""))
		return
	}
	// A restart after a focus move; report which side we landed on.
	if s.focusState == focus.StateBackground {
		s.notify(r.Info(alert.LifecycleFocusBackground, ""))
	} else {
		s.notify(r.Info(alert.LifecycleFocusForeground, ""))
	}
}

func (s *Scheduler) onRenderStopped(r *alert.Record) {
	switch r.State {
	case alert.StateStopping:
		s.finishStopped(r)

	case alert.StateSnoozing:
		r.State = alert.StateSnoozed
		if err := s.store.Modify(r); err != nil {
			s.log.Warn("failed persisting SNOOZED state",
				logx.String("token", r.Token), logx.Err(err))
		}
		s.notify(r.Info(alert.LifecycleSnoozed, ""))
		s.clearActive()
		s.armWakeTimer()
		s.activateNext()

	case alert.StateActive, alert.StateActivating:
		// Quiet because focus moved, not because anyone stopped it.
		if s.focusState == focus.StateNone {
			r.StopReason = alert.StopReasonLocalStop
			r.State = alert.StateStopping
			s.finishStopped(r)
			return
		}
		s.startRender(r, s.usedFallback)
	}
}

func (s *Scheduler) onRenderError(r *alert.Record, reason string) {
	if !s.usedFallback && s.fallbackRetry.Allow() {
		// Custom asset playback failed; fall back to the built-in tone
		// so the alert still makes noise.
		s.usedFallback = true
		s.log.Warn("renderer failed; retrying with built-in tone",
			logx.String("token", r.Token), logx.String("reason", reason))
		s.startRender(r, true)
		return
	}
	s.log.Error("renderer failed",
		logx.String("token", r.Token), logx.String("reason", reason))
	s.notify(r.Info(alert.LifecycleError, reason))
	s.retireActive(r)
}

// finishStopped completes the STOPPING -> STOPPED transition.
func (s *Scheduler) finishStopped(r *alert.Record) {
	reason := r.StopReason
	if reason == "" {
		reason = alert.StopReasonUnset
	}
	r.State = alert.StateStopped
	s.notify(r.Info(alert.LifecycleStopped, string(reason)))
	s.retireActive(r)
}

// retireActive erases a terminal record and moves on to whatever alert is
// ready next. Terminal stop events observed while offline are parked so
// they can be reported once connectivity returns.
func (s *Scheduler) retireActive(r *alert.Record) {
	if !s.online() {
		eventISO := s.now().UTC().Format(alert.ISO8601Format)
		if err := s.store.StoreOfflineStopped(r.Token, r.ScheduledISO, eventISO); err != nil {
			s.log.Warn("failed parking offline stop event",
				logx.String("token", r.Token), logx.Err(err))
		}
	}
	if err := s.store.Erase(r); err != nil {
		s.log.Error("failed erasing terminal alert",
			logx.String("token", r.Token), logx.Err(err))
	}
	delete(s.alerts, r.Token)
	wasActive := r.Token == s.active
	if wasActive {
		s.clearActive()
	}
	s.armWakeTimer()
	if wasActive {
		s.activateNext()
	}
}
