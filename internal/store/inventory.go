package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hwalton/brickstock/internal/domain"
)

const inventoryColumns = `id, owner_id, sku, set_number, name, condition, status, cost, listing_price, listing_platform,
       sold_price, sold_platform, sold_order_id, purchased_at, sold_at, created_at, updated_at`

func scanInventory(row pgx.Row) (domain.InventoryItem, error) {
	var it domain.InventoryItem
	var status string
	err := row.Scan(&it.ID, &it.OwnerID, &it.SKU, &it.SetNumber, &it.Name, &it.Condition, &status, &it.Cost,
		&it.ListingPrice, &it.ListingPlatform, &it.SoldPrice, &it.SoldPlatform, &it.SoldOrderID,
		&it.PurchasedAt, &it.SoldAt, &it.CreatedAt, &it.UpdatedAt)
	it.Status = domain.InventoryStatus(status)
	return it, err
}

// CreateInventoryItem inserts a new item and returns it with id and timestamps.
func (s *Store) CreateInventoryItem(ctx context.Context, ownerID string, it domain.InventoryItem) (domain.InventoryItem, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Status == "" {
		it.Status = domain.InventoryNotListed
	}
	if it.Condition == "" {
		it.Condition = "new"
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO inventory_items (id, owner_id, sku, set_number, name, condition, status, cost, listing_price,
    listing_platform, purchased_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
RETURNING `+inventoryColumns,
		it.ID, ownerID, it.SKU, it.SetNumber, it.Name, it.Condition, string(it.Status), it.Cost, it.ListingPrice,
		it.ListingPlatform, it.PurchasedAt)
	out, err := scanInventory(row)
	if err != nil {
		return out, fmt.Errorf("insert inventory item: %w", err)
	}
	return out, nil
}

// InventoryUpdate holds optional field changes; nil means unchanged.
type InventoryUpdate struct {
	SKU             *string
	SetNumber       *string
	Name            *string
	Condition       *string
	Status          *domain.InventoryStatus
	Cost            *decimal.Decimal
	ListingPrice    *decimal.Decimal
	ListingPlatform *string
}

// UpdateInventoryItem applies a partial update.
func (s *Store) UpdateInventoryItem(ctx context.Context, ownerID, id string, u InventoryUpdate) (domain.InventoryItem, error) {
	var (
		sets = []string{"updated_at = now()"}
		args = []any{ownerID, id}
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.SKU != nil {
		set("sku", *u.SKU)
	}
	if u.SetNumber != nil {
		set("set_number", *u.SetNumber)
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Condition != nil {
		set("condition", *u.Condition)
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.Cost != nil {
		set("cost", *u.Cost)
	}
	if u.ListingPrice != nil {
		set("listing_price", *u.ListingPrice)
	}
	if u.ListingPlatform != nil {
		set("listing_platform", *u.ListingPlatform)
	}
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
UPDATE inventory_items SET %s WHERE owner_id = $1 AND id = $2
RETURNING %s`, strings.Join(sets, ", "), inventoryColumns), args...)
	out, err := scanInventory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("update inventory item: %w", err)
	}
	return out, nil
}

// GetInventoryItem returns one item.
func (s *Store) GetInventoryItem(ctx context.Context, ownerID, id string) (domain.InventoryItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventory_items WHERE owner_id = $1 AND id = $2`, ownerID, id)
	out, err := scanInventory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("get inventory item: %w", err)
	}
	return out, nil
}

// InventoryFilter narrows ListInventory.
type InventoryFilter struct {
	Status    domain.InventoryStatus
	SetNumber string
	Limit     int
	Offset    int
}

// ListInventory lists an owner's stock. Limit 0 returns everything.
func (s *Store) ListInventory(ctx context.Context, ownerID string, f InventoryFilter) ([]domain.InventoryItem, error) {
	q := `SELECT ` + inventoryColumns + ` FROM inventory_items
WHERE owner_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR set_number = $3)
ORDER BY created_at DESC`
	args := []any{ownerID, string(f.Status), f.SetNumber}
	if f.Limit > 0 {
		q += ` LIMIT $4 OFFSET $5`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryItem
	for rows.Next() {
		it, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListUnsoldInventory returns items that can still be matched to a sale, oldest first.
func (s *Store) ListUnsoldInventory(ctx context.Context, ownerID string) ([]domain.InventoryItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+inventoryColumns+` FROM inventory_items
WHERE owner_id = $1 AND status IN ('not_listed', 'listed', 'returned')
ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query unsold inventory: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryItem
	for rows.Next() {
		it, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListedForSchedule returns listed items not refreshed since cutoff, for listing schedules.
func (s *Store) ListedForSchedule(ctx context.Context, ownerID string, cutoff time.Time) ([]domain.InventoryItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+inventoryColumns+` FROM inventory_items
WHERE owner_id = $1 AND status IN ('not_listed', 'listed') AND updated_at < $2
ORDER BY id`, ownerID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query schedulable inventory: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryItem
	for rows.Next() {
		it, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
