package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hwalton/brickstock/internal/domain"
)

// UpsertWatchItem adds or updates an arbitrage watchlist entry.
func (s *Store) UpsertWatchItem(ctx context.Context, ownerID string, w domain.WatchItem) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO arbitrage_watchlist (owner_id, asin, set_number, bricklink_item, active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (owner_id, asin) DO UPDATE
SET set_number = EXCLUDED.set_number, bricklink_item = EXCLUDED.bricklink_item, active = EXCLUDED.active`,
		ownerID, w.ASIN, w.SetNumber, w.BrickLinkItem, w.Active)
	if err != nil {
		return fmt.Errorf("upsert watch item: %w", err)
	}
	return nil
}

// ListWatchlist returns the active watchlist for an owner.
func (s *Store) ListWatchlist(ctx context.Context, ownerID string) ([]domain.WatchItem, error) {
	rows, err := s.pool.Query(ctx, `
SELECT asin, set_number, bricklink_item, active FROM arbitrage_watchlist
WHERE owner_id = $1 AND active ORDER BY asin`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var out []domain.WatchItem
	for rows.Next() {
		var w domain.WatchItem
		if err := rows.Scan(&w.ASIN, &w.SetNumber, &w.BrickLinkItem, &w.Active); err != nil {
			return nil, fmt.Errorf("scan watch item: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InsertPriceSnapshots stores snapshots, skipping duplicates of (set, source, captured_at).
// It returns how many rows were new.
func (s *Store) InsertPriceSnapshots(ctx context.Context, snaps []domain.PriceSnapshot) (int, error) {
	inserted := 0
	for _, w := range chunk(len(snaps), s.batchSize) {
		part := snaps[w[0]:w[1]]
		b := &pgx.Batch{}
		for _, sn := range part {
			b.Queue(`
INSERT INTO price_snapshots (set_number, asin, source, price, currency, seller_count, buy_box_owner, was_price, captured_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (set_number, source, captured_at) DO NOTHING`,
				sn.SetNumber, sn.ASIN, sn.Source, sn.Price, currencyOrDefault(sn.Currency), sn.SellerCount, sn.BuyBoxOwner,
				sn.WasPrice, sn.CapturedAt)
		}
		br := s.pool.SendBatch(ctx, b)
		for range part {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return inserted, fmt.Errorf("insert price snapshot: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return inserted, fmt.Errorf("close snapshot batch: %w", err)
		}
	}
	return inserted, nil
}

// SnapshotsForSets returns snapshots since the given time grouped by set, oldest first.
// An empty source matches every source.
func (s *Store) SnapshotsForSets(ctx context.Context, setNumbers []string, source string, since time.Time) (map[string][]domain.PriceSnapshot, error) {
	out := make(map[string][]domain.PriceSnapshot, len(setNumbers))
	if len(setNumbers) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT set_number, asin, source, price, currency, seller_count, buy_box_owner, was_price, captured_at
FROM price_snapshots
WHERE set_number = ANY($1) AND ($2 = '' OR source = $2) AND captured_at >= $3
ORDER BY set_number, captured_at`, setNumbers, source, since)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sn domain.PriceSnapshot
		if err := rows.Scan(&sn.SetNumber, &sn.ASIN, &sn.Source, &sn.Price, &sn.Currency, &sn.SellerCount, &sn.BuyBoxOwner,
			&sn.WasPrice, &sn.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[sn.SetNumber] = append(out[sn.SetNumber], sn)
	}
	return out, rows.Err()
}

// SetsWithSnapshotSource returns the set numbers that have at least one snapshot from source.
func (s *Store) SetsWithSnapshotSource(ctx context.Context, source string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT set_number FROM price_snapshots WHERE source = $1`, source)
	if err != nil {
		return nil, fmt.Errorf("query snapshot sets: %w", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var sn string
		if err := rows.Scan(&sn); err != nil {
			return nil, fmt.Errorf("scan set number: %w", err)
		}
		out[sn] = true
	}
	return out, rows.Err()
}

// UpsertArbitrageResults replaces the stored calculation per (owner, asin).
func (s *Store) UpsertArbitrageResults(ctx context.Context, ownerID string, results []domain.ArbitrageResult) error {
	for _, w := range chunk(len(results), s.batchSize) {
		b := &pgx.Batch{}
		for _, r := range results[w[0]:w[1]] {
			b.Queue(`
INSERT INTO arbitrage_results (owner_id, asin, set_number, amazon_price, bricklink_price, fees, profit, margin,
    is_opportunity, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (owner_id, asin) DO UPDATE
SET set_number = EXCLUDED.set_number, amazon_price = EXCLUDED.amazon_price, bricklink_price = EXCLUDED.bricklink_price,
    fees = EXCLUDED.fees, profit = EXCLUDED.profit, margin = EXCLUDED.margin,
    is_opportunity = EXCLUDED.is_opportunity, computed_at = EXCLUDED.computed_at`,
				ownerID, r.ASIN, r.SetNumber, r.AmazonPrice, r.BrickLinkPrice, r.Fees, r.Profit, r.Margin, r.IsOpportunity, r.ComputedAt)
		}
		if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("upsert arbitrage results: %w", err)
		}
	}
	return nil
}

// ListArbitrage returns results with margin >= minMargin, best first.
func (s *Store) ListArbitrage(ctx context.Context, ownerID string, minMargin float64) ([]domain.ArbitrageResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT asin, set_number, amazon_price, bricklink_price, fees, profit, margin, is_opportunity, computed_at
FROM arbitrage_results
WHERE owner_id = $1 AND margin >= $2
ORDER BY margin DESC`, ownerID, minMargin)
	if err != nil {
		return nil, fmt.Errorf("query arbitrage: %w", err)
	}
	defer rows.Close()

	var out []domain.ArbitrageResult
	for rows.Next() {
		var r domain.ArbitrageResult
		if err := rows.Scan(&r.ASIN, &r.SetNumber, &r.AmazonPrice, &r.BrickLinkPrice, &r.Fees, &r.Profit, &r.Margin,
			&r.IsOpportunity, &r.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan arbitrage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
