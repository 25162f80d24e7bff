package renderer

import (
	"sync"
	"time"

	logx "alertd/pkg/logx"
)

// Sim is a renderer that "plays" by waiting out the configured loops. It
// honors the full observer contract (STARTED, then STOPPED on Stop() or
// COMPLETED when the loops run out) so the scheduler cannot tell it apart
// from a real audio backend. Used by the daemon when no backend is wired
// and by the scheduler tests.
type Sim struct {
	log logx.Logger

	// ToneLength is how long one pass of the tone "plays".
	ToneLength time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

func NewSim(log logx.Logger) *Sim {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sim{log: log, ToneLength: 250 * time.Millisecond}
}

func (s *Sim) Start(o Observer, req Request) {
	s.mu.Lock()
	if s.running {
		// One alert at a time; a second Start while running is a
		// scheduler bug surfaced as a renderer error.
		s.mu.Unlock()
		go o.OnRendererStateChange(EventError, "renderer busy")
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.running = true
	s.mu.Unlock()

	go s.run(o, req, stopCh)
}

func (s *Sim) Stop() {
	s.mu.Lock()
	if s.running && s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()
}

// finish marks the run over. Called before emitting a terminal event so
// an observer may synchronously Start the next run.
func (s *Sim) finish() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Sim) run(o Observer, req Request, stopCh <-chan struct{}) {
	if req.StartWithPause && req.LoopPause > 0 {
		select {
		case <-stopCh:
			s.finish()
			o.OnRendererStateChange(EventStopped, "")
			return
		case <-time.After(req.LoopPause):
		}
	}

	s.log.Debug("render start",
		logx.Int("urls", len(req.URLs)),
		logx.Int("loop_count", req.LoopCount),
		logx.Duration("loop_pause", req.LoopPause),
		logx.Bool("volume_ramp", req.VolumeRamp))
	o.OnRendererStateChange(EventStarted, "")

	loops := req.LoopCount
	if loops == 0 {
		loops = 1
	}
	for i := 0; loops < 0 || i < loops; i++ {
		select {
		case <-stopCh:
			s.log.Debug("render stopped", logx.Int("loop", i))
			s.finish()
			o.OnRendererStateChange(EventStopped, "")
			return
		case <-time.After(s.ToneLength):
		}
		if req.LoopPause > 0 && (loops < 0 || i < loops-1) {
			select {
			case <-stopCh:
				s.finish()
				o.OnRendererStateChange(EventStopped, "")
				return
			case <-time.After(req.LoopPause):
			}
		}
	}

	s.log.Debug("render completed")
	s.finish()
	o.OnRendererStateChange(EventCompleted, "")
}
