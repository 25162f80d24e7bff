// Package maintenance runs the periodic janitor: parked offline stop
// events that nobody delivered within the retention window get dropped so
// the table cannot grow without bound.
package maintenance

import (
	"time"

	"github.com/robfig/cron/v3"

	"alertd/internal/storage"
	logx "alertd/pkg/logx"
)

type Config struct {
	// PruneSchedule is a cron expression; supports the @every and
	// @hourly style descriptors.
	PruneSchedule string
	// PruneAge is how old a parked stop event must be before it is
	// dropped.
	PruneAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.PruneSchedule == "" {
		c.PruneSchedule = "@hourly"
	}
	if c.PruneAge <= 0 {
		c.PruneAge = 72 * time.Hour
	}
	return c
}

type Janitor struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	cron  *cron.Cron
	now   func() time.Time
}

func NewJanitor(cfg Config, store storage.Store, log logx.Logger) *Janitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Janitor{
		cfg:   cfg.withDefaults(),
		log:   log,
		store: store,
		now:   time.Now,
	}
}

// Start arms the cron schedule. Returns an error only for an unparsable
// schedule expression.
func (j *Janitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(j.cfg.PruneSchedule, j.runOnce); err != nil {
		return err
	}
	j.cron = c
	c.Start()
	j.log.Info("janitor started",
		logx.String("schedule", j.cfg.PruneSchedule),
		logx.Duration("prune_age", j.cfg.PruneAge))
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

func (j *Janitor) runOnce() {
	cutoff := j.now().Add(-j.cfg.PruneAge)
	n, err := j.store.PruneOfflineStopped(cutoff)
	if err != nil {
		j.log.Warn("offline stop prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		j.log.Info("pruned stale offline stop events", logx.Int("pruned", n))
	}
}
