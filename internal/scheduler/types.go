package scheduler

import (
	"errors"
	"time"

	"alertd/internal/alert"
	"alertd/internal/focus"
	"alertd/internal/renderer"
	"alertd/internal/storage"
	logx "alertd/pkg/logx"
)

var (
	// ErrPastDue is returned when a new alert's due time is already more
	// than the past-due limit behind the clock.
	ErrPastDue = errors.New("alert is past due")
	// ErrUnknownAlert is returned by operations that need an existing
	// record (snooze) for a token the scheduler does not hold.
	ErrUnknownAlert = errors.New("unknown alert token")
	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("scheduler is shut down")
)

// Config holds the scheduling policy knobs.
type Config struct {
	// PastDueLimit is how far behind the clock a due time may be and
	// still activate (covers reboots and short clock skew). Alerts past
	// this limit are purged with a PAST_DUE notification.
	PastDueLimit time.Duration
	// MaxRenderDuration caps how long one alert may sound before the
	// scheduler stops it on the user's behalf.
	MaxRenderDuration time.Duration
	// BackgroundPause is the silence between short-tone repetitions
	// while the alerts channel is backgrounded.
	BackgroundPause time.Duration
	// FocusRetry is how long to wait before asking for the audio channel
	// again after a refusal, so a READY alert is not stranded behind a
	// transiently held channel.
	FocusRetry time.Duration
	// VolumeRamp asks the renderer to fade the tone in.
	VolumeRamp bool
}

func (c Config) withDefaults() Config {
	if c.PastDueLimit <= 0 {
		c.PastDueLimit = 30 * time.Minute
	}
	if c.MaxRenderDuration <= 0 {
		c.MaxRenderDuration = time.Hour
	}
	if c.BackgroundPause <= 0 {
		c.BackgroundPause = 10 * time.Second
	}
	if c.FocusRetry <= 0 {
		c.FocusRetry = time.Second
	}
	return c
}

// Deps are the collaborators the scheduler drives. All are required
// except Online, which defaults to "always connected".
type Deps struct {
	Store    storage.Store
	Renderer renderer.Renderer
	Tones    renderer.Tones
	Focus    focus.Arbiter
	Observer alert.Observer
	// Online reports current cloud connectivity. Stop events observed
	// while offline are parked in storage for later delivery.
	Online func() bool
	Log    logx.Logger
}

// Summary is the context snapshot of one alert.
type Summary struct {
	Token         string
	Type          alert.Type
	ScheduledTime time.Time
}

// ContextInfo is the device-context view of the scheduler: everything it
// holds plus whatever is currently sounding.
type ContextInfo struct {
	All    []Summary
	Active []Summary
}
