package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

type ConnectionLister interface {
	ListConnections(ctx context.Context, ownerID string) ([]store.Connection, error)
	ListAllConnections(ctx context.Context) ([]store.OwnerPlatform, error)
}

// SyncService dispatches sync runs to the platform integrations.
type SyncService struct {
	syncer      *Syncer
	platforms   map[domain.Platform]PlatformSyncer
	conns       ConnectionLister
	matcher     *InventoryMatcher
	concurrency int
	logger      *zap.Logger
}

func NewSyncService(syncer *Syncer, conns ConnectionLister, matcher *InventoryMatcher, concurrency int, logger *zap.Logger, platforms ...PlatformSyncer) *SyncService {
	s := &SyncService{
		syncer:      syncer,
		platforms:   map[domain.Platform]PlatformSyncer{},
		conns:       conns,
		matcher:     matcher,
		concurrency: max(concurrency, 1),
		logger:      logger.Named("sync.service"),
	}
	for _, p := range platforms {
		s.platforms[p.Platform()] = p
	}
	return s
}

// Kinds returns the sync kinds supported for a platform.
func (s *SyncService) Kinds(p domain.Platform) []domain.SyncKind {
	if ps, ok := s.platforms[p]; ok {
		return ps.Kinds()
	}
	return nil
}

// Run performs one sync of kind for an owner's platform. After an order sync
// that stored anything, sold lines are linked to inventory.
func (s *SyncService) Run(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind) (SyncResult, error) {
	ps, ok := s.platforms[platform]
	if !ok || !supports(ps, kind) {
		return SyncResult{Platform: platform, Kind: kind}, fmt.Errorf("%s %s: %w", platform, kind, ErrUnsupported)
	}
	res, err := s.syncer.Run(ctx, ownerID, platform, kind, func(ctx context.Context, since time.Time) (Counts, error) {
		return ps.Sync(ctx, ownerID, kind, since)
	})
	if err == nil && kind == domain.SyncOrders && s.matcher != nil && res.Created+res.Updated > 0 {
		if _, lerr := s.matcher.LinkSoldItems(ctx, ownerID, platform, res.Since); lerr != nil {
			s.logger.Warn("link sold items", zap.String("owner_id", ownerID), zap.String("platform", string(platform)), zap.Error(lerr))
		}
	}
	return res, err
}

// SyncAll runs every supported kind for every platform the owner connected,
// at most concurrency runs at a time. Per-run failures are reported in the
// results, not as an error.
func (s *SyncService) SyncAll(ctx context.Context, ownerID string) ([]SyncResult, error) {
	conns, err := s.conns.ListConnections(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	type job struct {
		platform domain.Platform
		kind     domain.SyncKind
	}
	var jobs []job
	for _, c := range conns {
		for _, k := range s.Kinds(c.Platform) {
			jobs = append(jobs, job{c.Platform, k})
		}
	}

	results := make([]SyncResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			res, err := s.Run(ctx, ownerID, j.platform, j.kind)
			res.Platform, res.Kind = j.platform, j.kind
			if err != nil {
				if errors.Is(err, ErrSyncInProgress) {
					res.Status = domain.SyncRunning
				}
				if res.Error == "" {
					res.Error = err.Error()
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func supports(ps PlatformSyncer, kind domain.SyncKind) bool {
	for _, k := range ps.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
