package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hwalton/brickstock/internal/domain"
)

// MonthlyAmount is a per-month, per-platform aggregate.
type MonthlyAmount struct {
	Month    int
	Platform domain.Platform
	Amount   decimal.Decimal
	Count    int
}

func (s *Store) monthly(ctx context.Context, q string, args ...any) ([]MonthlyAmount, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query monthly totals: %w", err)
	}
	defer rows.Close()

	var out []MonthlyAmount
	for rows.Next() {
		var m MonthlyAmount
		var p string
		if err := rows.Scan(&m.Month, &p, &m.Amount, &m.Count); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		m.Platform = domain.Platform(p)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MonthlySales sums order totals (excluding cancelled and refunded) by month of order.
func (s *Store) MonthlySales(ctx context.Context, ownerID string, from, to time.Time) ([]MonthlyAmount, error) {
	return s.monthly(ctx, `
SELECT EXTRACT(MONTH FROM ordered_at)::int, platform, COALESCE(SUM(total), 0), COUNT(*)::int
FROM platform_orders
WHERE owner_id = $1 AND ordered_at >= $2 AND ordered_at < $3 AND status NOT IN ('cancelled', 'refunded', 'pending')
GROUP BY 1, 2 ORDER BY 1, 2`, ownerID, from, to)
}

// MonthlyOrderFees sums fees carried on order headers.
func (s *Store) MonthlyOrderFees(ctx context.Context, ownerID string, from, to time.Time) ([]MonthlyAmount, error) {
	return s.monthly(ctx, `
SELECT EXTRACT(MONTH FROM ordered_at)::int, platform, COALESCE(SUM(fees), 0), COUNT(*)::int
FROM platform_orders
WHERE owner_id = $1 AND ordered_at >= $2 AND ordered_at < $3 AND status NOT IN ('cancelled', 'refunded', 'pending')
GROUP BY 1, 2 ORDER BY 1, 2`, ownerID, from, to)
}

// MonthlyTransactionFees sums platform fees from financial transactions.
// Fee-type rows contribute their absolute amount; other rows contribute their fee column.
func (s *Store) MonthlyTransactionFees(ctx context.Context, ownerID string, from, to time.Time) ([]MonthlyAmount, error) {
	return s.monthly(ctx, `
SELECT EXTRACT(MONTH FROM occurred_at)::int, platform,
       COALESCE(SUM(CASE WHEN type IN ('fee', 'shipping_label') THEN ABS(amount) ELSE ABS(fee) END), 0), COUNT(*)::int
FROM platform_transactions
WHERE owner_id = $1 AND occurred_at >= $2 AND occurred_at < $3
GROUP BY 1, 2 ORDER BY 1, 2`, ownerID, from, to)
}

// MonthlyRefunds sums refund transactions.
func (s *Store) MonthlyRefunds(ctx context.Context, ownerID string, from, to time.Time) ([]MonthlyAmount, error) {
	return s.monthly(ctx, `
SELECT EXTRACT(MONTH FROM occurred_at)::int, platform, COALESCE(SUM(ABS(amount)), 0), COUNT(*)::int
FROM platform_transactions
WHERE owner_id = $1 AND occurred_at >= $2 AND occurred_at < $3 AND type = 'refund'
GROUP BY 1, 2 ORDER BY 1, 2`, ownerID, from, to)
}

// MonthlyCOG sums the cost of inventory sold per month and sale platform.
func (s *Store) MonthlyCOG(ctx context.Context, ownerID string, from, to time.Time) ([]MonthlyAmount, error) {
	return s.monthly(ctx, `
SELECT EXTRACT(MONTH FROM sold_at)::int, sold_platform, COALESCE(SUM(cost), 0), COUNT(*)::int
FROM inventory_items
WHERE owner_id = $1 AND status = 'sold' AND sold_at >= $2 AND sold_at < $3
GROUP BY 1, 2 ORDER BY 1, 2`, ownerID, from, to)
}

// PurchaseTotal sums inventory purchase costs in the period (stock bought).
func (s *Store) PurchaseTotal(ctx context.Context, ownerID string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(cost), 0) FROM inventory_items
WHERE owner_id = $1 AND COALESCE(purchased_at, created_at) >= $2 AND COALESCE(purchased_at, created_at) < $3`,
		ownerID, from, to).Scan(&total)
	if err != nil {
		return total, fmt.Errorf("query purchases: %w", err)
	}
	return total, nil
}

// TransactionPlatforms returns platforms with any transactions for the owner.
func (s *Store) TransactionPlatforms(ctx context.Context, ownerID string) (map[domain.Platform]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT platform FROM platform_transactions WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query transaction platforms: %w", err)
	}
	defer rows.Close()
	out := map[domain.Platform]bool{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		out[domain.Platform(p)] = true
	}
	return out, rows.Err()
}

// InventoryStats summarises stock for the dashboard.
type InventoryStats struct {
	CountByStatus map[domain.InventoryStatus]int `json:"count_by_status"`
	StockCost     decimal.Decimal                `json:"stock_cost"`
	ListedValue   decimal.Decimal                `json:"listed_value"`
}

// InventoryStats aggregates an owner's inventory.
func (s *Store) InventoryStats(ctx context.Context, ownerID string) (InventoryStats, error) {
	st := InventoryStats{CountByStatus: map[domain.InventoryStatus]int{}}
	rows, err := s.pool.Query(ctx, `
SELECT status, COUNT(*)::int,
       COALESCE(SUM(cost) FILTER (WHERE status <> 'sold'), 0),
       COALESCE(SUM(listing_price) FILTER (WHERE status = 'listed'), 0)
FROM inventory_items WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return st, fmt.Errorf("query inventory stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status       string
			n            int
			cost, listed decimal.Decimal
		)
		if err := rows.Scan(&status, &n, &cost, &listed); err != nil {
			return st, fmt.Errorf("scan inventory stats: %w", err)
		}
		st.CountByStatus[domain.InventoryStatus(status)] = n
		st.StockCost = st.StockCost.Add(cost)
		st.ListedValue = st.ListedValue.Add(listed)
	}
	return st, rows.Err()
}

// OrderStats aggregates recent orders.
type OrderStats struct {
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
}

// OrderStatsSince counts live orders and revenue since the given time.
func (s *Store) OrderStatsSince(ctx context.Context, ownerID string, since time.Time) (OrderStats, error) {
	var st OrderStats
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*)::int, COALESCE(SUM(total), 0) FROM platform_orders
WHERE owner_id = $1 AND ordered_at >= $2 AND status NOT IN ('cancelled', 'refunded')`, ownerID, since).Scan(&st.Count, &st.Revenue)
	if err != nil {
		return st, fmt.Errorf("query order stats: %w", err)
	}
	return st, nil
}
