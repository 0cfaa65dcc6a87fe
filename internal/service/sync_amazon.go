package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/amazon"
)

// AmazonAPI is the part of *amazon.Client the services use.
type AmazonAPI interface {
	GetOrders(ctx context.Context, p amazon.OrdersParams) (*amazon.OrdersPage, error)
	GetOrderItems(ctx context.Context, orderID string) ([]amazon.OrderItem, error)
	GetCompetitivePricing(ctx context.Context, asins []string) ([]amazon.CompetitivePrice, error)
}

// AmazonClientFactory builds a seller's client from stored credentials.
type AmazonClientFactory func(ctx context.Context, c store.Credentials) AmazonAPI

// NewAmazonClientFactory returns a factory using the app's LWA keys.
func NewAmazonClientFactory(clientID, clientSecret, marketplaceID, endpoint string) AmazonClientFactory {
	return func(ctx context.Context, c store.Credentials) AmazonAPI {
		mp := c.MarketplaceID
		if mp == "" {
			mp = marketplaceID
		}
		return amazon.NewClient(ctx, amazon.Config{
			ClientID:      clientID,
			ClientSecret:  clientSecret,
			RefreshToken:  c.RefreshToken,
			MarketplaceID: mp,
			Endpoint:      endpoint,
		})
	}
}

// getOrderItems quota: 0.5 requests/second, burst 30.
const (
	amazonItemsRate  = rate.Limit(0.5)
	amazonItemsBurst = 30
)

// AmazonSyncService syncs SP-API orders: NextToken pages of headers, then
// order items through a rate limited BatchFetch.
type AmazonSyncService struct {
	newClient AmazonClientFactory
	creds     CredentialStore
	orders    OrderStore
	batch     BatchOptions
	limit     rate.Limit
	burst     int
	logger    *zap.Logger
}

func NewAmazonSyncService(newClient AmazonClientFactory, creds CredentialStore, orders OrderStore, batch BatchOptions, logger *zap.Logger) *AmazonSyncService {
	return &AmazonSyncService{
		newClient: newClient,
		creds:     creds,
		orders:    orders,
		batch:     batch,
		limit:     amazonItemsRate,
		burst:     amazonItemsBurst,
		logger:    logger.Named("sync.amazon"),
	}
}

func (s *AmazonSyncService) Platform() domain.Platform { return domain.PlatformAmazon }

func (s *AmazonSyncService) Kinds() []domain.SyncKind { return []domain.SyncKind{domain.SyncOrders} }

func (s *AmazonSyncService) Sync(ctx context.Context, ownerID string, kind domain.SyncKind, since time.Time) (Counts, error) {
	if kind != domain.SyncOrders {
		return Counts{}, fmt.Errorf("amazon %s: %w", kind, ErrUnsupported)
	}
	return s.SyncOrders(ctx, ownerID, since)
}

// SyncOrders stores every order updated since the window start. An order
// whose items could not be fetched is stored with its header only and
// counted as failed.
func (s *AmazonSyncService) SyncOrders(ctx context.Context, ownerID string, since time.Time) (Counts, error) {
	c, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformAmazon)
	if err != nil {
		return Counts{}, err
	}
	client := s.newClient(ctx, c)

	raw, err := Paginate(ctx, func(ctx context.Context, cursor string) ([]amazon.Order, string, error) {
		page, err := client.GetOrders(ctx, amazon.OrdersParams{LastUpdatedAfter: since, NextToken: cursor})
		if err != nil {
			return nil, "", err
		}
		return page.Orders, page.NextToken, nil
	}, func(o amazon.Order) string { return o.AmazonOrderID })
	if err != nil {
		return Counts{Processed: len(raw)}, err
	}

	ids := make([]string, len(raw))
	for i, o := range raw {
		ids[i] = o.AmazonOrderID
	}
	opts := s.batch
	opts.Limiter = rate.NewLimiter(s.limit, s.burst)
	items := BatchFetch(ctx, ids, opts, client.GetOrderItems)

	orders := make([]domain.Order, 0, len(raw))
	failed := 0
	for i, o := range raw {
		order := amazonOrder(ownerID, o)
		if r := items[i]; r.Err != nil {
			failed++
			s.logger.Warn("order items fetch failed", zap.String("owner_id", ownerID),
				zap.String("order_id", o.AmazonOrderID), zap.Error(r.Err))
		} else {
			order.Items, order.Subtotal, order.Shipping = amazonItems(r.Value)
		}
		orders = append(orders, order)
	}
	counts, err := storeOrders(ctx, s.orders, ownerID, orders, 0)
	counts.Failed = failed
	return counts, err
}

var amazonStatuses = map[string]domain.OrderStatus{
	"Pending":             domain.OrderPending,
	"PendingAvailability": domain.OrderPending,
	"Unshipped":           domain.OrderPaid,
	"PartiallyShipped":    domain.OrderPaid,
	"Shipped":             domain.OrderShipped,
	"InvoiceUnconfirmed":  domain.OrderShipped,
	"Canceled":            domain.OrderCancelled,
	"Unfulfillable":       domain.OrderCancelled,
}

func amazonOrder(ownerID string, o amazon.Order) domain.Order {
	st, ok := amazonStatuses[o.OrderStatus]
	if !ok {
		st = domain.OrderPending
	}
	out := domain.Order{
		OwnerID:         ownerID,
		Platform:        domain.PlatformAmazon,
		PlatformOrderID: o.AmazonOrderID,
		Status:          st,
		RawStatus:       o.OrderStatus,
		BuyerName:       o.BuyerInfo.BuyerName,
		OrderedAt:       o.PurchaseDate,
		UpdatedAt:       o.LastUpdateDate,
	}
	if o.OrderTotal != nil {
		out.Total = o.OrderTotal.Amount
		out.Currency = o.OrderTotal.CurrencyCode
	}
	return out
}

// amazonItems converts lines and returns them with the summed item and shipping prices.
func amazonItems(items []amazon.OrderItem) ([]domain.OrderItem, decimal.Decimal, decimal.Decimal) {
	out := make([]domain.OrderItem, 0, len(items))
	subtotal, shipping := decimal.Zero, decimal.Zero
	for _, it := range items {
		qty := max(it.QuantityOrdered, 1)
		unit := decimal.Zero
		if it.ItemPrice != nil {
			subtotal = subtotal.Add(it.ItemPrice.Amount)
			unit = round2(it.ItemPrice.Amount.Div(decimalInt(qty)))
		}
		if it.ShippingPrice != nil {
			shipping = shipping.Add(it.ShippingPrice.Amount)
		}
		out = append(out, domain.OrderItem{
			SKU:        it.SellerSKU,
			ItemNumber: it.ASIN,
			Title:      it.Title,
			Quantity:   qty,
			UnitPrice:  unit,
		})
	}
	return out, subtotal, shipping
}
