package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hwalton/brickstock/internal/domain"
)

// StartSyncLog opens a running sync log. Running rows older than staleAfter are
// marked failed first; a fresher running row yields ErrSyncInProgress.
func (s *Store) StartSyncLog(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind, staleAfter time.Duration) (domain.SyncLog, error) {
	l := domain.SyncLog{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Platform: platform,
		Kind:     kind,
		Status:   domain.SyncRunning,
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// serialize concurrent starts for the same owner/platform/kind
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
			ownerID+"|"+string(platform)+"|"+string(kind)); err != nil {
			return fmt.Errorf("lock sync: %w", err)
		}
		if _, err := tx.Exec(ctx, `
UPDATE sync_logs SET status = 'failed', error = 'stale: no completion recorded', completed_at = now()
WHERE owner_id = $1 AND platform = $2 AND kind = $3 AND status = 'running'
  AND started_at < now() - make_interval(secs => $4)`,
			ownerID, string(platform), string(kind), staleAfter.Seconds()); err != nil {
			return fmt.Errorf("expire stale syncs: %w", err)
		}
		var running bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM sync_logs WHERE owner_id = $1 AND platform = $2 AND kind = $3 AND status = 'running')`,
			ownerID, string(platform), string(kind)).Scan(&running); err != nil {
			return fmt.Errorf("check running sync: %w", err)
		}
		if running {
			return ErrSyncInProgress
		}
		return tx.QueryRow(ctx, `
INSERT INTO sync_logs (id, owner_id, platform, kind, status, started_at)
VALUES ($1, $2, $3, $4, 'running', now())
RETURNING started_at`, l.ID, ownerID, string(platform), string(kind)).Scan(&l.StartedAt)
	})
	if err != nil {
		return l, err
	}
	return l, nil
}

// FinishSyncLog records the final status and counts.
func (s *Store) FinishSyncLog(ctx context.Context, l domain.SyncLog) error {
	_, err := s.pool.Exec(ctx, `
UPDATE sync_logs
SET status = $2, records_processed = $3, records_created = $4, records_updated = $5, records_failed = $6,
    error = $7, completed_at = now()
WHERE id = $1`, l.ID, string(l.Status), l.RecordsProcessed, l.RecordsCreated, l.RecordsUpdated, l.RecordsFailed, l.Error)
	if err != nil {
		return fmt.Errorf("finish sync log: %w", err)
	}
	return nil
}

// LastSuccessfulSync returns the start time of the latest completed run.
// Partial runs may have stored orders without their items, so they do not
// move the incremental window forward.
func (s *Store) LastSuccessfulSync(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind) (time.Time, bool, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `
SELECT started_at FROM sync_logs
WHERE owner_id = $1 AND platform = $2 AND kind = $3 AND status = 'completed'
ORDER BY started_at DESC LIMIT 1`, ownerID, string(platform), string(kind)).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, false, nil
	}
	if err != nil {
		return t, false, fmt.Errorf("query last sync: %w", err)
	}
	return t, true, nil
}

// ListSyncLogs returns recent runs for an owner, optionally for one platform.
func (s *Store) ListSyncLogs(ctx context.Context, ownerID string, platform domain.Platform, limit int) ([]domain.SyncLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, owner_id, platform, kind, status, records_processed, records_created, records_updated, records_failed,
       error, started_at, completed_at
FROM sync_logs
WHERE owner_id = $1 AND ($2 = '' OR platform = $2)
ORDER BY started_at DESC
LIMIT $3`, ownerID, string(platform), limit)
	if err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncLog
	for rows.Next() {
		var l domain.SyncLog
		var p, k, st string
		if err := rows.Scan(&l.ID, &l.OwnerID, &p, &k, &st, &l.RecordsProcessed, &l.RecordsCreated, &l.RecordsUpdated,
			&l.RecordsFailed, &l.Error, &l.StartedAt, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		l.Platform, l.Kind, l.Status = domain.Platform(p), domain.SyncKind(k), domain.SyncStatus(st)
		out = append(out, l)
	}
	return out, rows.Err()
}

// LatestSyncPerPlatform returns the most recent run per platform and kind.
func (s *Store) LatestSyncPerPlatform(ctx context.Context, ownerID string) ([]domain.SyncLog, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (platform, kind) id, owner_id, platform, kind, status, records_processed, records_created,
       records_updated, records_failed, error, started_at, completed_at
FROM sync_logs
WHERE owner_id = $1
ORDER BY platform, kind, started_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query latest syncs: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncLog
	for rows.Next() {
		var l domain.SyncLog
		var p, k, st string
		if err := rows.Scan(&l.ID, &l.OwnerID, &p, &k, &st, &l.RecordsProcessed, &l.RecordsCreated, &l.RecordsUpdated,
			&l.RecordsFailed, &l.Error, &l.StartedAt, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		l.Platform, l.Kind, l.Status = domain.Platform(p), domain.SyncKind(k), domain.SyncStatus(st)
		out = append(out, l)
	}
	return out, rows.Err()
}
