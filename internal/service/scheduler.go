package service

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hwalton/brickstock/internal/domain"
)

// RetryPolicy is an exponential backoff for failed scheduled runs.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries after 1m then 2m, capped at 30m, three attempts in all.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, Multiplier: 2, MaxDelay: 30 * time.Minute}

// Backoff returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Housekeeper runs maintenance on each tick.
type Housekeeper interface {
	PurgeExpiredOAuthStates(ctx context.Context) (int64, error)
}

// Scheduler syncs every connected owner/platform on a fixed interval.
type Scheduler struct {
	sync        *SyncService
	conns       ConnectionLister
	house       Housekeeper
	interval    time.Duration
	retry       RetryPolicy
	concurrency int
	logger      *zap.Logger
	sleep       func(context.Context, time.Duration) error
}

func NewScheduler(sync *SyncService, conns ConnectionLister, house Housekeeper, interval time.Duration, retry RetryPolicy, concurrency int, logger *zap.Logger) *Scheduler {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Scheduler{
		sync:        sync,
		conns:       conns,
		house:       house,
		interval:    interval,
		retry:       retry,
		concurrency: max(concurrency, 1),
		logger:      logger.Named("scheduler"),
		sleep:       sleepCtx,
	}
}

// Start runs a tick immediately and then every interval until ctx is done.
// Ticks never overlap: a slow tick delays the next one.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-t.C:
		}
	}
}

// Tick runs one scheduled pass over every connection.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.house != nil {
		if n, err := s.house.PurgeExpiredOAuthStates(ctx); err != nil {
			s.logger.Warn("purge oauth states", zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("purged oauth states", zap.Int64("count", n))
		}
	}

	conns, err := s.conns.ListAllConnections(ctx)
	if err != nil {
		s.logger.Error("list connections", zap.Error(err))
		return
	}
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, c := range conns {
		for _, kind := range s.sync.Kinds(c.Platform) {
			g.Go(func() error {
				s.runWithRetry(ctx, c.OwnerID, c.Platform, kind)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (s *Scheduler) runWithRetry(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind) {
	log := s.logger.With(zap.String("owner_id", ownerID), zap.String("platform", string(platform)), zap.String("kind", string(kind)))
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		_, err := s.sync.Run(ctx, ownerID, platform, kind)
		if err == nil || !retryable(err) {
			return
		}
		if attempt == s.retry.MaxAttempts-1 {
			log.Error("sync gave up", zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}
		wait := s.retry.Backoff(attempt)
		log.Warn("sync failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(err))
		if s.sleep(ctx, wait) != nil {
			return
		}
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrNotConnected), errors.Is(err, ErrUnsupported),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
