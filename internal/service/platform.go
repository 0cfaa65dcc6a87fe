package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

// PlatformSyncer is implemented by every marketplace integration.
type PlatformSyncer interface {
	Platform() domain.Platform
	Kinds() []domain.SyncKind
	Sync(ctx context.Context, ownerID string, kind domain.SyncKind, since time.Time) (Counts, error)
}

func loadCredentials(ctx context.Context, cs CredentialStore, ownerID string, p domain.Platform) (store.Credentials, error) {
	c, err := cs.LoadCredentials(ctx, ownerID, p)
	if errors.Is(err, store.ErrNotFound) {
		return c, fmt.Errorf("%s: %w", p, ErrNotConnected)
	}
	if err != nil {
		return c, fmt.Errorf("load %s credentials: %w", p, err)
	}
	return c, nil
}

// storeOrders upserts normalized orders and converts the result to counts.
// failed is the number of records that could not be fetched or normalized.
func storeOrders(ctx context.Context, st OrderStore, ownerID string, orders []domain.Order, failed int) (Counts, error) {
	c := Counts{Processed: len(orders) + failed, Failed: failed}
	if len(orders) == 0 {
		return c, nil
	}
	res, err := st.UpsertOrders(ctx, ownerID, orders)
	c.Created, c.Updated = res.Created, res.Updated
	if err != nil {
		return c, fmt.Errorf("store orders: %w", err)
	}
	return c, nil
}

func storeTransactions(ctx context.Context, ts TransactionStore, ownerID string, txs []domain.Transaction) (Counts, error) {
	c := Counts{Processed: len(txs)}
	if len(txs) == 0 {
		return c, nil
	}
	res, err := ts.UpsertTransactions(ctx, ownerID, txs)
	c.Created, c.Updated = res.Created, res.Updated
	if err != nil {
		return c, fmt.Errorf("store transactions: %w", err)
	}
	return c, nil
}
