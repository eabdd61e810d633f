package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatwarden/model"
	"chatwarden/moderation"
	"chatwarden/utils"

	"golang.org/x/sync/semaphore"
)

// ExpiryScanner closes due punishments of one kind and compensates on the
// platform. Each close is a conditional update, so concurrent passes and
// explicit revokes cannot close a row twice. The memo additionally keeps a
// second compensating call for the same id out of a short window.
type ExpiryScanner struct {
	kind        model.Kind
	manager     *moderation.Manager
	compensator Compensator
	limiter     *semaphore.Weighted
	memo        *utils.RecentSet[int64]
	cfg         model.SchedulerConfig
	log         *slog.Logger
}

// NewExpiryScanner creates a scanner for kind. limiter bounds concurrent chat
// scans and may be shared with other scanners.
func NewExpiryScanner(kind model.Kind, manager *moderation.Manager, compensator Compensator, limiter *semaphore.Weighted, memo *utils.RecentSet[int64], cfg model.SchedulerConfig, logger *slog.Logger) *ExpiryScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryScanner{
		kind:        kind,
		manager:     manager,
		compensator: compensator,
		limiter:     limiter,
		memo:        memo,
		cfg:         cfg,
		log:         logger.With("component", "expiry_scanner", "kind", kind),
	}
}

// Run scans until ctx is cancelled. In-flight chat scans finish before Run
// returns.
func (s *ExpiryScanner) Run(ctx context.Context) error {
	s.log.Info("expiry scanner started")
	for {
		res, err := s.ScanOnce(ctx)
		wait := s.NextInterval(res)
		if err != nil && ctx.Err() == nil {
			s.log.Error("expiry pass failed", "err", err)
			wait = s.cfg.BusyInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("expiry scanner stopped")
			return nil
		case <-timer.C:
		}
	}
}

// NextInterval is the busy interval when the pass saw any punishment of the
// scanner's kind and the idle interval otherwise.
func (s *ExpiryScanner) NextInterval(res PassResult) time.Duration {
	if res.Seen > 0 {
		return s.cfg.BusyInterval
	}
	return s.cfg.IdleInterval
}

// ScanOnce runs one pass over every chat with active punishments of the
// scanner's kind. A failing chat or punishment does not stop the others; the
// returned error only reports a failure to enumerate chats.
func (s *ExpiryScanner) ScanOnce(ctx context.Context) (PassResult, error) {
	start := time.Now()
	defer func() {
		expiryPassDuration.WithLabelValues(string(s.kind)).Observe(time.Since(start).Seconds())
	}()

	chats, err := s.manager.Store().ListChatsWithActive(ctx, s.kind)
	if err != nil {
		expiryErrorCount.WithLabelValues(string(s.kind)).Inc()
		return PassResult{}, &moderation.StoreError{Op: "list chats", Err: err}
	}

	var (
		mu    sync.Mutex
		total = PassResult{Chats: len(chats)}
		wg    sync.WaitGroup
	)
	for _, chatID := range chats {
		if err := s.limiter.Acquire(ctx, 1); err != nil {
			// cancelled while waiting for a slot
			break
		}
		wg.Add(1)
		go func(chatID string) {
			defer func() {
				s.limiter.Release(1)
				wg.Done()
			}()
			res := s.scanChat(ctx, chatID)
			mu.Lock()
			total.Seen += res.Seen
			total.Closed += res.Closed
			total.RaceLost += res.RaceLost
			total.Errors += res.Errors
			mu.Unlock()
		}(chatID)
	}
	wg.Wait()

	if total.Closed > 0 || total.Errors > 0 {
		s.log.Info("expiry pass finished", "chats", total.Chats, "seen", total.Seen, "closed", total.Closed, "race_lost", total.RaceLost, "errors", total.Errors)
	}
	return total, nil
}

func (s *ExpiryScanner) scanChat(ctx context.Context, chatID string) PassResult {
	var res PassResult
	active, err := s.manager.Store().ListActiveByChat(ctx, chatID, s.kind)
	if err != nil {
		s.log.Error("failed to list active punishments", "chat", chatID, "err", err)
		expiryErrorCount.WithLabelValues(string(s.kind)).Inc()
		res.Errors++
		return res
	}

	now := s.manager.Now()
	for _, p := range active {
		res.Seen++
		if !p.Due(now) {
			continue
		}
		if ctx.Err() != nil {
			return res
		}
		s.expire(ctx, p, &res)
	}
	return res
}

func (s *ExpiryScanner) expire(ctx context.Context, p model.Punishment, res *PassResult) {
	closed, err := s.manager.CloseExpired(ctx, p)
	if err != nil {
		s.log.Error("failed to close expired punishment", "chat", p.ChatID, "user", p.UserID, "id", p.ID, "err", err)
		expiryErrorCount.WithLabelValues(string(s.kind)).Inc()
		res.Errors++
		return
	}
	if !closed {
		expiryRaceLostCount.WithLabelValues(string(s.kind)).Inc()
		res.RaceLost++
		return
	}
	res.Closed++
	expiryClosedCount.WithLabelValues(string(s.kind)).Inc()
	s.log.Info("punishment expired", "chat", p.ChatID, "user", p.UserID, "id", p.ID)

	if !s.memo.MarkIfAbsent(p.ID) {
		s.log.Debug("compensation already sent recently", "id", p.ID)
		return
	}

	// the close is committed, so the compensation runs to completion even
	// when the scanner is being stopped
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()
	if err := s.compensator.CompensateExpiry(cctx, p); err != nil {
		level := slog.LevelError
		var apiErr *moderation.ExternalAPIError
		if errors.As(err, &apiErr) {
			level = slog.LevelWarn
		}
		s.log.Log(ctx, level, "failed to compensate expiry", "chat", p.ChatID, "user", p.UserID, "id", p.ID, "err", err)
		expiryErrorCount.WithLabelValues(string(s.kind)).Inc()
		res.Errors++
	}
}
