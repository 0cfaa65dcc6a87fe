package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/bricklink"
)

// BrickLinkAPI is the part of *bricklink.Client the services use.
type BrickLinkAPI interface {
	GetOrders(ctx context.Context, direction string, statuses []string) ([]bricklink.Order, error)
	GetOrderItems(ctx context.Context, orderID int) ([]bricklink.OrderItem, error)
	GetPriceGuide(ctx context.Context, itemType, no string, opts bricklink.PriceGuideOptions) (*bricklink.PriceGuide, error)
	GetSubsets(ctx context.Context, itemType, no string) ([]bricklink.SubsetEntry, error)
}

type BrickLinkClientFactory func(c store.Credentials) BrickLinkAPI

func NewBrickLinkClient(c store.Credentials) BrickLinkAPI {
	return bricklink.NewClient(bricklink.Credentials{
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
		Token:          c.Token,
		TokenSecret:    c.TokenSecret,
	})
}

// BrickLink allows 5000 calls a day; one per second keeps bursts polite.
const brickLinkRate = rate.Limit(1)

// BrickLinkSyncService lists received orders and fetches items for the ones
// whose status changed inside the window.
type BrickLinkSyncService struct {
	newClient BrickLinkClientFactory
	creds     CredentialStore
	orders    OrderStore
	batch     BatchOptions
	limit     rate.Limit
	logger    *zap.Logger
}

func NewBrickLinkSyncService(newClient BrickLinkClientFactory, creds CredentialStore, orders OrderStore, batch BatchOptions, logger *zap.Logger) *BrickLinkSyncService {
	return &BrickLinkSyncService{
		newClient: newClient,
		creds:     creds,
		orders:    orders,
		batch:     batch,
		limit:     brickLinkRate,
		logger:    logger.Named("sync.bricklink"),
	}
}

func (s *BrickLinkSyncService) Platform() domain.Platform { return domain.PlatformBrickLink }

func (s *BrickLinkSyncService) Kinds() []domain.SyncKind { return []domain.SyncKind{domain.SyncOrders} }

func (s *BrickLinkSyncService) Sync(ctx context.Context, ownerID string, kind domain.SyncKind, since time.Time) (Counts, error) {
	if kind != domain.SyncOrders {
		return Counts{}, fmt.Errorf("bricklink %s: %w", kind, ErrUnsupported)
	}
	return s.SyncOrders(ctx, ownerID, since)
}

func (s *BrickLinkSyncService) SyncOrders(ctx context.Context, ownerID string, since time.Time) (Counts, error) {
	c, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformBrickLink)
	if err != nil {
		return Counts{}, err
	}
	client := s.newClient(c)

	all, err := client.GetOrders(ctx, "in", nil)
	if err != nil {
		return Counts{}, err
	}
	var changed []bricklink.Order
	seen := map[int]bool{}
	for _, o := range all {
		if seen[o.OrderID] {
			continue
		}
		seen[o.OrderID] = true
		if o.DateStatusChanged.IsZero() || !o.DateStatusChanged.Before(since) || !o.DateOrdered.Before(since) {
			changed = append(changed, o)
		}
	}

	ids := make([]int, len(changed))
	for i, o := range changed {
		ids[i] = o.OrderID
	}
	opts := s.batch
	opts.Limiter = rate.NewLimiter(s.limit, 1)
	items := BatchFetch(ctx, ids, opts, client.GetOrderItems)

	orders := make([]domain.Order, 0, len(changed))
	failed := 0
	for i, o := range changed {
		order := brickLinkOrder(ownerID, o)
		if r := items[i]; r.Err != nil {
			failed++
			s.logger.Warn("order items fetch failed", zap.String("owner_id", ownerID),
				zap.Int("order_id", o.OrderID), zap.Error(r.Err))
		} else {
			order.Items = brickLinkItems(r.Value)
		}
		orders = append(orders, order)
	}
	counts, err := storeOrders(ctx, s.orders, ownerID, orders, 0)
	counts.Failed = failed
	return counts, err
}

var brickLinkStatuses = map[string]domain.OrderStatus{
	"PENDING":    domain.OrderPending,
	"UPDATED":    domain.OrderPending,
	"PROCESSING": domain.OrderPaid,
	"READY":      domain.OrderPaid,
	"PAID":       domain.OrderPaid,
	"PACKED":     domain.OrderPaid,
	"SHIPPED":    domain.OrderShipped,
	"RECEIVED":   domain.OrderCompleted,
	"COMPLETED":  domain.OrderCompleted,
	"OCR":        domain.OrderCancelled,
	"NPB":        domain.OrderCancelled,
	"NPX":        domain.OrderCancelled,
	"NRS":        domain.OrderCancelled,
	"NSS":        domain.OrderCancelled,
	"CANCELLED":  domain.OrderCancelled,
	"PURGED":     domain.OrderCancelled,
}

func brickLinkOrder(ownerID string, o bricklink.Order) domain.Order {
	st, ok := brickLinkStatuses[o.Status]
	if !ok {
		st = domain.OrderPending
	}
	updated := o.DateStatusChanged
	if updated.IsZero() {
		updated = o.DateOrdered
	}
	return domain.Order{
		OwnerID:         ownerID,
		Platform:        domain.PlatformBrickLink,
		PlatformOrderID: strconv.Itoa(o.OrderID),
		Status:          st,
		RawStatus:       o.Status,
		BuyerName:       o.BuyerName,
		Currency:        o.Cost.CurrencyCode,
		Subtotal:        o.Cost.Subtotal,
		Shipping:        o.Cost.Shipping,
		Total:           o.Cost.GrandTotal,
		OrderedAt:       o.DateOrdered,
		UpdatedAt:       updated,
	}
}

func brickLinkItems(items []bricklink.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.OrderItem{
			SKU:        it.Remarks,
			ItemNumber: it.Item.No,
			Title:      it.Item.Name,
			Condition:  it.NewOrUsed,
			Quantity:   max(it.Quantity, 1),
			UnitPrice:  it.UnitPriceFinal,
		})
	}
	return out
}
