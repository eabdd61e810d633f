package bot

import (
	"context"
	"log/slog"
	"sync"

	"chatwarden/model"
	"chatwarden/moderation"
	"chatwarden/scanner"
	"chatwarden/utils"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Scheduler runs the background loops: one expiry scanner per enforced
// kind plus the activity cleaner.
type Scheduler struct {
	scanners []*scanner.ExpiryScanner
	cleaner  *scanner.ActivityCleaner
	memo     *utils.RecentSet[int64]
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewScheduler wires the loops. The expiry scanners share one limiter and
// one recently-closed memo; the cleaner sweeps the memo and any extra
// sweepers.
func NewScheduler(manager *moderation.Manager, compensator scanner.Compensator, purger scanner.Purger, cfg model.SchedulerConfig, logger *slog.Logger, sweepers ...scanner.Sweeper) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := semaphore.NewWeighted(cfg.MaxConcurrentScans)
	memo := utils.NewRecentSet[int64](cfg.ClosedMemoTTL, nil)

	s := &Scheduler{memo: memo, log: logger.With("component", "scheduler")}
	for _, kind := range []model.Kind{model.KindMute, model.KindBan} {
		s.scanners = append(s.scanners, scanner.NewExpiryScanner(kind, manager, compensator, limiter, memo, cfg, logger))
	}
	s.cleaner = scanner.NewActivityCleaner(purger, cfg.ActivityRetention, cfg.CleanupInterval, nil, logger, append(sweepers, memo)...)
	return s
}

// Start launches every loop. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	for _, sc := range s.scanners {
		group.Go(func() error { return sc.Run(ctx) })
	}
	group.Go(func() error { return s.cleaner.Run(ctx) })

	s.cancel = cancel
	s.group = group
	s.log.Info("scheduler started", "scanners", len(s.scanners))
}

// Stop cancels every loop and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}

	s.log.Info("stopping scheduler")
	s.cancel()
	if err := s.group.Wait(); err != nil {
		s.log.Error("scheduler loop failed", "err", err)
	}
	s.cancel = nil
	s.group = nil
	s.log.Info("scheduler stopped")
}
