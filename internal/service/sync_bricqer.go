package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/bricqer"
)

type BricqerAPI interface {
	ListOrders(ctx context.Context, page, pageSize int, since time.Time) (*bricqer.OrderPage, error)
	GetOrder(ctx context.Context, id int) (*bricqer.Order, error)
}

type BricqerClientFactory func(c store.Credentials) BricqerAPI

func NewBricqerClient(c store.Credentials) BricqerAPI {
	return bricqer.NewClient(c.BaseURL, c.APIKey)
}

const bricqerPageSize = 100

// BricqerSyncService walks the paged order list by following "next".
// Orders listed without lines are completed with a detail fetch.
type BricqerSyncService struct {
	newClient BricqerClientFactory
	creds     CredentialStore
	orders    OrderStore
	batch     BatchOptions
	logger    *zap.Logger
}

func NewBricqerSyncService(newClient BricqerClientFactory, creds CredentialStore, orders OrderStore, batch BatchOptions, logger *zap.Logger) *BricqerSyncService {
	return &BricqerSyncService{
		newClient: newClient,
		creds:     creds,
		orders:    orders,
		batch:     batch,
		logger:    logger.Named("sync.bricqer"),
	}
}

func (s *BricqerSyncService) Platform() domain.Platform { return domain.PlatformBricqer }

func (s *BricqerSyncService) Kinds() []domain.SyncKind { return []domain.SyncKind{domain.SyncOrders} }

func (s *BricqerSyncService) Sync(ctx context.Context, ownerID string, kind domain.SyncKind, since time.Time) (Counts, error) {
	if kind != domain.SyncOrders {
		return Counts{}, fmt.Errorf("bricqer %s: %w", kind, ErrUnsupported)
	}
	return s.SyncOrders(ctx, ownerID, since)
}

func (s *BricqerSyncService) SyncOrders(ctx context.Context, ownerID string, since time.Time) (Counts, error) {
	c, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformBricqer)
	if err != nil {
		return Counts{}, err
	}
	if c.BaseURL == "" {
		return Counts{}, fmt.Errorf("bricqer: tenant url missing: %w", ErrNotConnected)
	}
	client := s.newClient(c)

	raw, err := Paginate(ctx, func(ctx context.Context, cursor string) ([]bricqer.Order, string, error) {
		page := 1
		if cursor != "" {
			page, _ = strconv.Atoi(cursor)
		}
		res, err := client.ListOrders(ctx, page, bricqerPageSize, since)
		if err != nil {
			return nil, "", err
		}
		if res.Next == "" || len(res.Results) == 0 {
			return res.Results, "", nil
		}
		return res.Results, strconv.Itoa(page + 1), nil
	}, func(o bricqer.Order) string { return strconv.Itoa(o.ID) })
	if err != nil {
		return Counts{Processed: len(raw)}, err
	}

	var missing []int
	for _, o := range raw {
		if len(o.Items) == 0 {
			missing = append(missing, o.ID)
		}
	}
	failedIDs := map[int]bool{}
	if len(missing) > 0 {
		details := map[int]*bricqer.Order{}
		for _, r := range BatchFetch(ctx, missing, s.batch, client.GetOrder) {
			if r.Err != nil {
				failedIDs[r.ID] = true
				s.logger.Warn("order detail fetch failed", zap.String("owner_id", ownerID),
					zap.Int("order_id", r.ID), zap.Error(r.Err))
				continue
			}
			details[r.ID] = r.Value
		}
		for i, o := range raw {
			if d, ok := details[o.ID]; ok {
				raw[i].Items = d.Items
			}
		}
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		order := bricqerOrder(ownerID, o)
		if failedIDs[o.ID] {
			order.Items = nil
		}
		orders = append(orders, order)
	}
	counts, err := storeOrders(ctx, s.orders, ownerID, orders, 0)
	counts.Failed = len(failedIDs)
	return counts, err
}

func bricqerStatus(status, payment string) domain.OrderStatus {
	switch strings.ToLower(status) {
	case "cancelled", "canceled":
		return domain.OrderCancelled
	case "refunded":
		return domain.OrderRefunded
	case "shipped", "sent":
		return domain.OrderShipped
	case "completed", "delivered":
		return domain.OrderCompleted
	case "paid", "ready", "picking", "packed":
		return domain.OrderPaid
	}
	if strings.EqualFold(payment, "paid") {
		return domain.OrderPaid
	}
	return domain.OrderPending
}

func bricqerOrder(ownerID string, o bricqer.Order) domain.Order {
	id := o.OrderNumber
	if id == "" {
		id = strconv.Itoa(o.ID)
	}
	updated := o.Updated
	if updated.IsZero() {
		updated = o.Created
	}
	out := domain.Order{
		OwnerID:         ownerID,
		Platform:        domain.PlatformBricqer,
		PlatformOrderID: id,
		Status:          bricqerStatus(o.Status, o.PaymentStatus),
		RawStatus:       o.Status,
		BuyerName:       o.CustomerName,
		Currency:        o.Currency,
		Subtotal:        o.Subtotal,
		Shipping:        o.ShippingCost,
		Fees:            o.Fees,
		Total:           o.Total,
		OrderedAt:       o.Created,
		UpdatedAt:       updated,
	}
	if len(o.Items) > 0 {
		out.Items = make([]domain.OrderItem, 0, len(o.Items))
		for _, it := range o.Items {
			out.Items = append(out.Items, domain.OrderItem{
				SKU:        it.SKU,
				ItemNumber: it.ItemNumber,
				Title:      it.Name,
				Condition:  it.Condition,
				Quantity:   max(it.Quantity, 1),
				UnitPrice:  it.UnitPrice,
			})
		}
	}
	return out
}
