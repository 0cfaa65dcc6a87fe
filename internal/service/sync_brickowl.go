package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/brickowl"
)

type BrickOwlAPI interface {
	ListOrders(ctx context.Context, status string) ([]brickowl.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]brickowl.OrderItem, error)
}

type BrickOwlClientFactory func(c store.Credentials) BrickOwlAPI

func NewBrickOwlClient(c store.Credentials) BrickOwlAPI {
	if c.BaseURL != "" {
		return brickowl.NewClientWithBaseURL(c.APIKey, c.BaseURL)
	}
	return brickowl.NewClient(c.APIKey)
}

// brickOwlRefresh is how far back orders are re-read on every run. Brick Owl
// order lists carry no modification time, so status changes on older orders
// are only seen inside this window.
const brickOwlRefresh = 30 * 24 * time.Hour

type BrickOwlSyncService struct {
	newClient BrickOwlClientFactory
	creds     CredentialStore
	orders    OrderStore
	batch     BatchOptions
	refresh   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewBrickOwlSyncService(newClient BrickOwlClientFactory, creds CredentialStore, orders OrderStore, batch BatchOptions, logger *zap.Logger) *BrickOwlSyncService {
	return &BrickOwlSyncService{
		newClient: newClient,
		creds:     creds,
		orders:    orders,
		batch:     batch,
		refresh:   brickOwlRefresh,
		now:       time.Now,
		logger:    logger.Named("sync.brickowl"),
	}
}

func (s *BrickOwlSyncService) Platform() domain.Platform { return domain.PlatformBrickOwl }

func (s *BrickOwlSyncService) Kinds() []domain.SyncKind { return []domain.SyncKind{domain.SyncOrders} }

func (s *BrickOwlSyncService) Sync(ctx context.Context, ownerID string, kind domain.SyncKind, since time.Time) (Counts, error) {
	if kind != domain.SyncOrders {
		return Counts{}, fmt.Errorf("brickowl %s: %w", kind, ErrUnsupported)
	}
	return s.SyncOrders(ctx, ownerID, since)
}

func (s *BrickOwlSyncService) SyncOrders(ctx context.Context, ownerID string, since time.Time) (Counts, error) {
	c, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformBrickOwl)
	if err != nil {
		return Counts{}, err
	}
	client := s.newClient(c)

	all, err := client.ListOrders(ctx, "")
	if err != nil {
		return Counts{}, err
	}
	cutoff := since
	if r := s.now().Add(-s.refresh); r.Before(cutoff) {
		cutoff = r
	}
	var recent []brickowl.Order
	seen := map[string]bool{}
	for _, o := range all {
		if seen[o.OrderID] || o.OrderedAt().Before(cutoff) {
			continue
		}
		seen[o.OrderID] = true
		recent = append(recent, o)
	}

	ids := make([]string, len(recent))
	for i, o := range recent {
		ids[i] = o.OrderID
	}
	opts := s.batch
	opts.Limiter = rate.NewLimiter(rate.Limit(2), 2)
	items := BatchFetch(ctx, ids, opts, client.GetOrderItems)

	orders := make([]domain.Order, 0, len(recent))
	failed := 0
	for i, o := range recent {
		order := brickOwlOrder(ownerID, o)
		if r := items[i]; r.Err != nil {
			failed++
			s.logger.Warn("order items fetch failed", zap.String("owner_id", ownerID),
				zap.String("order_id", o.OrderID), zap.Error(r.Err))
		} else {
			order.Items = brickOwlItems(r.Value)
		}
		orders = append(orders, order)
	}
	counts, err := storeOrders(ctx, s.orders, ownerID, orders, 0)
	counts.Failed = failed
	return counts, err
}

func brickOwlStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "payment received", "processing", "processed":
		return domain.OrderPaid
	case "shipped":
		return domain.OrderShipped
	case "received":
		return domain.OrderCompleted
	case "cancelled":
		return domain.OrderCancelled
	}
	return domain.OrderPending
}

func brickOwlOrder(ownerID string, o brickowl.Order) domain.Order {
	at := o.OrderedAt()
	return domain.Order{
		OwnerID:         ownerID,
		Platform:        domain.PlatformBrickOwl,
		PlatformOrderID: o.OrderID,
		Status:          brickOwlStatus(o.Status),
		RawStatus:       o.Status,
		BuyerName:       o.BuyerName,
		Currency:        o.Currency,
		Subtotal:        o.SubTotal,
		Shipping:        o.ShippingTotal,
		Total:           o.BaseOrderTotal,
		OrderedAt:       at,
		UpdatedAt:       at,
	}
}

func brickOwlItems(items []brickowl.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		no := it.SetNumber()
		if no == "" {
			no = it.BOID
		}
		out = append(out, domain.OrderItem{
			SKU:        it.ExternalLotIDs.Other,
			ItemNumber: no,
			Title:      it.Name,
			Condition:  it.Condition,
			Quantity:   it.Quantity(),
			UnitPrice:  it.BasePrice,
		})
	}
	return out
}
