package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a row scoped to the owner does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSyncInProgress is returned when a sync of the same kind is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// DefaultBatchSize bounds the number of rows written per batch round trip.
const DefaultBatchSize = 200

// Store is the Postgres persistence layer. Every owner-scoped query takes the owner id.
type Store struct {
	pool      *pgxpool.Pool
	secretKey []byte
	batchSize int
}

// Option customizes a Store.
type Option func(*Store)

// WithSecretKey sets the AES-256 key used for platform credentials.
func WithSecretKey(key []byte) Option {
	return func(s *Store) { s.secretKey = key }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New opens a connection pool and checks it with a ping.
func New(ctx context.Context, dbURL string, opts ...Option) (*Store, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("db url missing")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{pool: pool, batchSize: DefaultBatchSize}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// chunk splits n items into [start,end) windows of at most size.
func chunk(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
