package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hwalton/brickstock/internal/domain"
)

// UpsertResult counts rows written by a batch upsert.
type UpsertResult struct {
	Created int
	Updated int
}

// Add accumulates another result.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Created += o.Created
	r.Updated += o.Updated
}

const upsertOrderSQL = `
INSERT INTO platform_orders (owner_id, platform, platform_order_id, status, raw_status, buyer_name, currency,
    subtotal, shipping, fees, total, ordered_at, platform_updated_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
ON CONFLICT (owner_id, platform, platform_order_id) DO UPDATE
SET status = EXCLUDED.status,
    raw_status = EXCLUDED.raw_status,
    buyer_name = EXCLUDED.buyer_name,
    currency = EXCLUDED.currency,
    subtotal = EXCLUDED.subtotal,
    shipping = EXCLUDED.shipping,
    fees = EXCLUDED.fees,
    total = EXCLUDED.total,
    ordered_at = EXCLUDED.ordered_at,
    platform_updated_at = EXCLUDED.platform_updated_at,
    updated_at = now()
RETURNING id, (xmax = 0) AS inserted`

// order items keep their inventory link across re-syncs
const upsertOrderItemSQL = `
INSERT INTO order_items (order_id, line_no, sku, item_number, title, condition, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (order_id, line_no) DO UPDATE
SET sku = EXCLUDED.sku,
    item_number = EXCLUDED.item_number,
    title = EXCLUDED.title,
    condition = EXCLUDED.condition,
    quantity = EXCLUDED.quantity,
    unit_price = EXCLUDED.unit_price`

// UpsertOrders writes orders and their items in batches keyed on
// (owner_id, platform, platform_order_id). Orders with nil Items keep their stored lines.
func (s *Store) UpsertOrders(ctx context.Context, ownerID string, orders []domain.Order) (UpsertResult, error) {
	var total UpsertResult
	for _, w := range chunk(len(orders), s.batchSize) {
		res, err := s.upsertOrderBatch(ctx, ownerID, orders[w[0]:w[1]])
		if err != nil {
			return total, err
		}
		total.Add(res)
	}
	return total, nil
}

func (s *Store) upsertOrderBatch(ctx context.Context, ownerID string, orders []domain.Order) (UpsertResult, error) {
	var pending UpsertResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		pending = UpsertResult{}
		b := &pgx.Batch{}
		for _, o := range orders {
			updated := o.UpdatedAt
			if updated.IsZero() {
				updated = o.OrderedAt
			}
			b.Queue(upsertOrderSQL, ownerID, string(o.Platform), o.PlatformOrderID, string(o.Status), o.RawStatus,
				o.BuyerName, currencyOrDefault(o.Currency), o.Subtotal, o.Shipping, o.Fees, o.Total, o.OrderedAt, updated)
		}
		ids := make([]string, len(orders))
		br := tx.SendBatch(ctx, b)
		for i := range orders {
			var inserted bool
			if err := br.QueryRow().Scan(&ids[i], &inserted); err != nil {
				br.Close()
				return fmt.Errorf("upsert order %s: %w", orders[i].PlatformOrderID, err)
			}
			if inserted {
				pending.Created++
			} else {
				pending.Updated++
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close order batch: %w", err)
		}

		items := &pgx.Batch{}
		for i, o := range orders {
			if o.Items == nil {
				continue
			}
			for n, it := range o.Items {
				qty := it.Quantity
				if qty <= 0 {
					qty = 1
				}
				items.Queue(upsertOrderItemSQL, ids[i], n, it.SKU, it.ItemNumber, it.Title, it.Condition, qty, it.UnitPrice)
			}
			items.Queue(`DELETE FROM order_items WHERE order_id = $1 AND line_no >= $2`, ids[i], len(o.Items))
		}
		if items.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, items).Close(); err != nil {
			return fmt.Errorf("upsert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		// nothing was written
		return UpsertResult{}, err
	}
	return pending, nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "GBP"
	}
	return strings.ToUpper(c)
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	Platform domain.Platform
	Status   domain.OrderStatus
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ListOrders returns order headers for an owner, newest first.
func (s *Store) ListOrders(ctx context.Context, ownerID string, f OrderFilter) ([]domain.Order, error) {
	var (
		where = []string{"owner_id = $1"}
		args  = []any{ownerID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Platform != "" {
		add("platform = $%d", string(f.Platform))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("ordered_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ordered_at < $%d", f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	q := fmt.Sprintf(`
SELECT id, owner_id, platform, platform_order_id, status, raw_status, buyer_name, currency,
       subtotal, shipping, fees, total, ordered_at, platform_updated_at
FROM platform_orders
WHERE %s
ORDER BY ordered_at DESC
LIMIT $%d OFFSET $%d`, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o              domain.Order
		platform, stat string
	)
	if err := row.Scan(&o.ID, &o.OwnerID, &platform, &o.PlatformOrderID, &stat, &o.RawStatus, &o.BuyerName, &o.Currency,
		&o.Subtotal, &o.Shipping, &o.Fees, &o.Total, &o.OrderedAt, &o.UpdatedAt); err != nil {
		return o, fmt.Errorf("scan order: %w", err)
	}
	o.Platform = domain.Platform(platform)
	o.Status = domain.OrderStatus(stat)
	return o, nil
}

// GetOrder returns one order with its items.
func (s *Store) GetOrder(ctx context.Context, ownerID, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, owner_id, platform, platform_order_id, status, raw_status, buyer_name, currency,
       subtotal, shipping, fees, total, ordered_at, platform_updated_at
FROM platform_orders WHERE owner_id = $1 AND id = $2`, ownerID, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT sku, item_number, title, condition, quantity, unit_price, COALESCE(inventory_id::text, '')
FROM order_items WHERE order_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return o, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	o.Items = []domain.OrderItem{}
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.SKU, &it.ItemNumber, &it.Title, &it.Condition, &it.Quantity, &it.UnitPrice, &it.InventoryID); err != nil {
			return o, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// SoldLine is an order line not yet linked to an inventory item.
type SoldLine struct {
	OrderID         string
	LineNo          int
	Platform        domain.Platform
	PlatformOrderID string
	SKU             string
	ItemNumber      string
	Title           string
	Quantity        int
	UnitPrice       decimal.Decimal
	OrderedAt       time.Time
}

// UnlinkedSoldLines returns lines of live orders written since the given time
// with no inventory link. It filters on the row's own updated_at so an order
// stored as pending and paid in a later sync is still picked up.
func (s *Store) UnlinkedSoldLines(ctx context.Context, ownerID string, platform domain.Platform, since time.Time) ([]SoldLine, error) {
	rows, err := s.pool.Query(ctx, `
SELECT o.id, i.line_no, o.platform, o.platform_order_id, i.sku, i.item_number, i.title, i.quantity, i.unit_price, o.ordered_at
FROM order_items i
JOIN platform_orders o ON o.id = i.order_id
WHERE o.owner_id = $1 AND o.platform = $2 AND o.updated_at >= $3
  AND o.status IN ('paid', 'shipped', 'completed')
  AND i.inventory_id IS NULL
ORDER BY o.ordered_at, i.line_no`, ownerID, string(platform), since)
	if err != nil {
		return nil, fmt.Errorf("query unlinked lines: %w", err)
	}
	defer rows.Close()

	var out []SoldLine
	for rows.Next() {
		var l SoldLine
		var p string
		if err := rows.Scan(&l.OrderID, &l.LineNo, &p, &l.PlatformOrderID, &l.SKU, &l.ItemNumber, &l.Title, &l.Quantity, &l.UnitPrice, &l.OrderedAt); err != nil {
			return nil, fmt.Errorf("scan unlinked line: %w", err)
		}
		l.Platform = domain.Platform(p)
		out = append(out, l)
	}
	return out, rows.Err()
}

// LinkSale marks unsold inventory items as sold through the given order line,
// one item per unit of quantity. The line keeps a reference to the first item.
// It fails with ErrNotFound if any item is missing or already sold, in which
// case nothing changes.
func (s *Store) LinkSale(ctx context.Context, ownerID string, line SoldLine, inventoryIDs []string) error {
	if len(inventoryIDs) == 0 {
		return ErrNotFound
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE inventory_items
SET status = 'sold', sold_price = $3, sold_platform = $4, sold_order_id = $5, sold_at = $6, updated_at = now()
WHERE owner_id = $1 AND id = ANY($2::uuid[]) AND status <> 'sold'`,
			ownerID, inventoryIDs, line.UnitPrice, string(line.Platform), line.PlatformOrderID, line.OrderedAt)
		if err != nil {
			return fmt.Errorf("mark inventory sold: %w", err)
		}
		if tag.RowsAffected() != int64(len(inventoryIDs)) {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE order_items SET inventory_id = $3 WHERE order_id = $1 AND line_no = $2`,
			line.OrderID, line.LineNo, inventoryIDs[0]); err != nil {
			return fmt.Errorf("link order item: %w", err)
		}
		return nil
	})
}
