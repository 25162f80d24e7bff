// Package renderer defines the audio rendering contract consumed by the
// scheduler, plus the per-type tone table. The real backend lives outside
// this repo; Sim provides a timing-faithful stand-in for the daemon and
// the test suite.
package renderer

import "time"

// Event is a renderer observer callback kind.
type Event int

const (
	EventUnset Event = iota
	EventStarted
	EventStopped
	EventCompleted
	EventError
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "STARTED"
	case EventStopped:
		return "STOPPED"
	case EventCompleted:
		return "COMPLETED"
	case EventError:
		return "ERROR"
	}
	return "UNSET"
}

// Observer receives renderer state changes. Callbacks are asynchronous
// with respect to Start/Stop and must not block.
type Observer interface {
	OnRendererStateChange(ev Event, reason string)
}

// Request carries everything the backend needs for one rendering run.
// URLs empty means "play the built-in tone from Audio". A negative
// LoopCount loops until Stop is called.
type Request struct {
	Audio          AudioFactory
	VolumeRamp     bool
	URLs           []string
	LoopCount      int
	LoopPause      time.Duration
	StartWithPause bool
}

// Renderer plays or stops audio for exactly one alert at a time.
type Renderer interface {
	Start(o Observer, req Request)
	Stop()
}
