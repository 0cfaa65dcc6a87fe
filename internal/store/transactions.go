package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hwalton/brickstock/internal/domain"
)

const upsertTransactionSQL = `
INSERT INTO platform_transactions (owner_id, platform, transaction_id, platform_order_id, type, amount, fee,
    currency, description, occurred_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
ON CONFLICT (owner_id, platform, transaction_id) DO UPDATE
SET platform_order_id = EXCLUDED.platform_order_id,
    type = EXCLUDED.type,
    amount = EXCLUDED.amount,
    fee = EXCLUDED.fee,
    currency = EXCLUDED.currency,
    description = EXCLUDED.description,
    occurred_at = EXCLUDED.occurred_at,
    updated_at = now()
RETURNING (xmax = 0) AS inserted`

// UpsertTransactions writes transactions in batches keyed on (owner_id, platform, transaction_id).
func (s *Store) UpsertTransactions(ctx context.Context, ownerID string, txs []domain.Transaction) (UpsertResult, error) {
	var total UpsertResult
	for _, w := range chunk(len(txs), s.batchSize) {
		part := txs[w[0]:w[1]]
		var res UpsertResult
		err := s.withTx(ctx, func(tx pgx.Tx) error {
			b := &pgx.Batch{}
			for _, t := range part {
				b.Queue(upsertTransactionSQL, ownerID, string(t.Platform), t.TransactionID, t.PlatformOrderID, string(t.Type),
					t.Amount, t.Fee, currencyOrDefault(t.Currency), t.Description, t.OccurredAt)
			}
			br := tx.SendBatch(ctx, b)
			defer br.Close()
			for _, t := range part {
				var inserted bool
				if err := br.QueryRow().Scan(&inserted); err != nil {
					return fmt.Errorf("upsert transaction %s: %w", t.TransactionID, err)
				}
				if inserted {
					res.Created++
				} else {
					res.Updated++
				}
			}
			return br.Close()
		})
		if err != nil {
			return total, err
		}
		total.Add(res)
	}
	return total, nil
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Platform domain.Platform
	Type     domain.TransactionType
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ListTransactions returns transactions for an owner, newest first.
func (s *Store) ListTransactions(ctx context.Context, ownerID string, f TransactionFilter) ([]domain.Transaction, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	to := f.To
	if to.IsZero() {
		to = time.Now().Add(24 * time.Hour)
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, owner_id, platform, transaction_id, platform_order_id, type, amount, fee, currency, description, occurred_at
FROM platform_transactions
WHERE owner_id = $1
  AND ($2 = '' OR platform = $2)
  AND ($3 = '' OR type = $3)
  AND occurred_at >= $4 AND occurred_at < $5
ORDER BY occurred_at DESC
LIMIT $6 OFFSET $7`, ownerID, string(f.Platform), string(f.Type), f.From, to, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var p, typ string
		if err := rows.Scan(&t.ID, &t.OwnerID, &p, &t.TransactionID, &t.PlatformOrderID, &typ, &t.Amount, &t.Fee,
			&t.Currency, &t.Description, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Platform = domain.Platform(p)
		t.Type = domain.TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}
