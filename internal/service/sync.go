package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/metrics"
)

// Counts are the record tallies of one sync run.
type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

func (c *Counts) Add(o Counts) {
	c.Processed += o.Processed
	c.Created += o.Created
	c.Updated += o.Updated
	c.Failed += o.Failed
}

// SyncResult is the outcome of one Syncer.Run.
type SyncResult struct {
	SyncLogID string            `json:"sync_log_id,omitempty"`
	Platform  domain.Platform   `json:"platform"`
	Kind      domain.SyncKind   `json:"kind"`
	Status    domain.SyncStatus `json:"status"`
	Counts
	Error    string        `json:"error,omitempty"`
	Since    time.Time     `json:"since"`
	Duration time.Duration `json:"duration"`
}

// SyncFunc performs the work of a run for records changed after since.
// It returns the counts reached so far even when it fails.
type SyncFunc func(ctx context.Context, since time.Time) (Counts, error)

// SyncerConfig holds the incremental window settings.
type SyncerConfig struct {
	Lookback   time.Duration
	Overlap    time.Duration
	StaleAfter time.Duration
}

// Syncer wraps each sync run in a sync log, metrics and logging.
type Syncer struct {
	store   SyncLogStore
	metrics *metrics.Sync
	logger  *zap.Logger
	cfg     SyncerConfig
	now     func() time.Time
}

func NewSyncer(s SyncLogStore, m *metrics.Sync, logger *zap.Logger, cfg SyncerConfig) *Syncer {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 90 * 24 * time.Hour
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &Syncer{store: s, metrics: m, logger: logger.Named("sync"), cfg: cfg, now: time.Now}
}

// Since returns the start of the incremental window: the last successful run
// minus the overlap, or the lookback for a first sync.
func (s *Syncer) Since(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind) (time.Time, error) {
	last, ok, err := s.store.LastSuccessfulSync(ctx, ownerID, platform, kind)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return s.now().Add(-s.cfg.Lookback), nil
	}
	return last.Add(-s.cfg.Overlap), nil
}

// Run executes fn inside a sync log. The returned error is non-nil when the
// run could not start or ended failed.
func (s *Syncer) Run(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind, fn SyncFunc) (SyncResult, error) {
	res := SyncResult{Platform: platform, Kind: kind}
	log := s.logger.With(zap.String("owner_id", ownerID), zap.String("platform", string(platform)), zap.String("kind", string(kind)))

	since, err := s.Since(ctx, ownerID, platform, kind)
	if err != nil {
		return res, err
	}
	res.Since = since

	sl, err := s.store.StartSyncLog(ctx, ownerID, platform, kind, s.cfg.StaleAfter)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			log.Info("sync skipped: already running")
		}
		return res, err
	}
	res.SyncLogID = sl.ID
	log = log.With(zap.String("sync_log_id", sl.ID))
	log.Info("sync started", zap.Time("since", since))

	start := s.now()
	counts, runErr := fn(ctx, since)
	res.Duration = s.now().Sub(start)
	res.Counts = counts
	res.Status = classify(counts, runErr)
	if runErr != nil {
		res.Error = runErr.Error()
	} else if res.Status == domain.SyncPartial || res.Status == domain.SyncFailed {
		res.Error = "some records failed"
	}

	sl.Status = res.Status
	sl.RecordsProcessed = counts.Processed
	sl.RecordsCreated = counts.Created
	sl.RecordsUpdated = counts.Updated
	sl.RecordsFailed = counts.Failed
	sl.Error = res.Error
	// the log must close even when ctx was cancelled mid-run
	if err := s.store.FinishSyncLog(context.WithoutCancel(ctx), sl); err != nil {
		log.Error("finish sync log", zap.Error(err))
	}
	s.metrics.ObserveRun(string(platform), string(kind), string(res.Status), counts.Created, counts.Updated, counts.Failed, res.Duration)

	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int("processed", counts.Processed),
		zap.Int("created", counts.Created),
		zap.Int("updated", counts.Updated),
		zap.Int("failed", counts.Failed),
		zap.Duration("took", res.Duration),
	}
	switch res.Status {
	case domain.SyncFailed:
		log.Error("sync failed", append(fields, zap.Error(runErr))...)
		if runErr == nil {
			runErr = errors.New(res.Error)
		}
		return res, runErr
	case domain.SyncPartial:
		log.Warn("sync finished with failures", fields...)
	default:
		log.Info("sync completed", fields...)
	}
	return res, nil
}

// classify maps a run outcome to a status: any fatal error or a run in which
// every record failed is failed; some failures is partial.
func classify(c Counts, err error) domain.SyncStatus {
	switch {
	case err != nil:
		return domain.SyncFailed
	case c.Failed > 0 && c.Created+c.Updated == 0:
		return domain.SyncFailed
	case c.Failed > 0:
		return domain.SyncPartial
	default:
		return domain.SyncCompleted
	}
}
