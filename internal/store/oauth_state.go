package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateOAuthState stores a state->ownerID mapping that expires after ttl.
func (s *Store) CreateOAuthState(ctx context.Context, state, ownerID string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO oauth_states (state, owner_id, expires_at, created_at)
VALUES ($1, $2, now() + make_interval(secs => $3), now())
ON CONFLICT (state) DO UPDATE
SET owner_id = EXCLUDED.owner_id, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
`, state, ownerID, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("create oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState atomically returns the ownerID for state and deletes the row.
// Expired or unknown states report found=false.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (string, bool, error) {
	var ownerID string
	err := s.pool.QueryRow(ctx, `
DELETE FROM oauth_states
WHERE state = $1 AND expires_at > now()
RETURNING owner_id
`, state).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume oauth state: %w", err)
	}
	return ownerID, true, nil
}

// PurgeExpiredOAuthStates removes stale rows.
func (s *Store) PurgeExpiredOAuthStates(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge oauth states: %w", err)
	}
	return tag.RowsAffected(), nil
}
