package scanner

import (
	"context"
	"log/slog"
	"time"
)

// ActivityCleaner purges activity older than the retention period and
// sweeps the process-local memos.
type ActivityCleaner struct {
	purger    Purger
	sweepers  []Sweeper
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewActivityCleaner(purger Purger, retention, interval time.Duration, now func() time.Time, logger *slog.Logger, sweepers ...Sweeper) *ActivityCleaner {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityCleaner{
		purger:    purger,
		sweepers:  sweepers,
		retention: retention,
		interval:  interval,
		now:       now,
		log:       logger.With("component", "activity_cleaner"),
	}
}

// AddSweeper registers another memo. It must be called before Run.
func (c *ActivityCleaner) AddSweeper(s Sweeper) {
	c.sweepers = append(c.sweepers, s)
}

// CleanOnce runs a single purge and sweep. Memos are swept even when the
// purge fails.
func (c *ActivityCleaner) CleanOnce(ctx context.Context) (int64, error) {
	swept := 0
	for _, s := range c.sweepers {
		swept += s.Sweep()
	}

	cutoff := c.now().Add(-c.retention).UnixMilli()
	purged, err := c.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	activityPurgedCount.Add(float64(purged))
	if purged > 0 || swept > 0 {
		c.log.Info("cleaned old activity", "purged", purged, "swept", swept)
	}
	return purged, nil
}

// Run cleans every interval until ctx is cancelled.
func (c *ActivityCleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.CleanOnce(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("failed to clean old activity", "err", err)
			}
		}
	}
}
