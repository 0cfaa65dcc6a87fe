package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hwalton/brickstock/internal/domain"
)

// Credentials is the decrypted secret material for one platform connection.
// Only the fields relevant to the platform are set.
type Credentials struct {
	// OAuth2 platforms (eBay, Amazon LWA refresh token).
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`

	// API key platforms (Brick Owl, Bricqer).
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	// BrickLink OAuth 1.0a.
	ConsumerKey    string `json:"consumer_key,omitempty"`
	ConsumerSecret string `json:"consumer_secret,omitempty"`
	Token          string `json:"token,omitempty"`
	TokenSecret    string `json:"token_secret,omitempty"`

	// Amazon seller identity.
	SellerID      string `json:"seller_id,omitempty"`
	MarketplaceID string `json:"marketplace_id,omitempty"`
}

// Connection is the non-secret view of stored credentials.
type Connection struct {
	Platform  domain.Platform `json:"platform"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OwnerPlatform pairs an owner with one of their connected platforms.
type OwnerPlatform struct {
	OwnerID  string
	Platform domain.Platform
}

// SaveCredentials encrypts and upserts credentials for (owner, platform).
func (s *Store) SaveCredentials(ctx context.Context, ownerID string, platform domain.Platform, c Credentials) error {
	if len(s.secretKey) == 0 {
		return fmt.Errorf("encryption key not configured")
	}
	plain, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	enc, err := EncryptSecret(plain, s.secretKey)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO platform_credentials (owner_id, platform, secret, created_at, updated_at)
VALUES ($1, $2, $3, now(), now())
ON CONFLICT (owner_id, platform) DO UPDATE
SET secret = EXCLUDED.secret, updated_at = now()
`, ownerID, string(platform), enc)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}

// LoadCredentials returns decrypted credentials or ErrNotFound.
func (s *Store) LoadCredentials(ctx context.Context, ownerID string, platform domain.Platform) (Credentials, error) {
	var c Credentials
	if len(s.secretKey) == 0 {
		return c, fmt.Errorf("encryption key not configured")
	}
	var enc []byte
	err := s.pool.QueryRow(ctx, `SELECT secret FROM platform_credentials WHERE owner_id = $1 AND platform = $2`,
		ownerID, string(platform)).Scan(&enc)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("query credentials: %w", err)
	}
	plain, err := DecryptSecret(enc, s.secretKey)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(plain, &c); err != nil {
		return c, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return c, nil
}

// ListConnections returns the platforms an owner has connected.
func (s *Store) ListConnections(ctx context.Context, ownerID string) ([]Connection, error) {
	rows, err := s.pool.Query(ctx, `
SELECT platform, created_at, updated_at FROM platform_credentials WHERE owner_id = $1 ORDER BY platform`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var c Connection
		var p string
		if err := rows.Scan(&p, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		c.Platform = domain.Platform(p)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAllConnections returns every (owner, platform) pair; used by the scheduler.
func (s *Store) ListAllConnections(ctx context.Context) ([]OwnerPlatform, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner_id, platform FROM platform_credentials ORDER BY owner_id, platform`)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []OwnerPlatform
	for rows.Next() {
		var op OwnerPlatform
		var p string
		if err := rows.Scan(&op.OwnerID, &p); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		op.Platform = domain.Platform(p)
		out = append(out, op)
	}
	return out, rows.Err()
}

// DeleteCredentials disconnects a platform.
func (s *Store) DeleteCredentials(ctx context.Context, ownerID string, platform domain.Platform) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM platform_credentials WHERE owner_id = $1 AND platform = $2`, ownerID, string(platform))
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
