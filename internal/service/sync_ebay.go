package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/pkg/ebay"
)

// EbaySyncService syncs eBay orders (Fulfillment API) and finance
// transactions (Finances API) with limit/offset paging.
type EbaySyncService struct {
	client   *ebay.Client
	creds    CredentialStore
	orders   OrderStore
	txs      TransactionStore
	pageSize int
	logger   *zap.Logger
}

func NewEbaySyncService(client *ebay.Client, creds CredentialStore, orders OrderStore, txs TransactionStore, logger *zap.Logger) *EbaySyncService {
	return &EbaySyncService{
		client:   client,
		creds:    creds,
		orders:   orders,
		txs:      txs,
		pageSize: ebay.MaxPageSize,
		logger:   logger.Named("sync.ebay"),
	}
}

func (s *EbaySyncService) Platform() domain.Platform { return domain.PlatformEbay }

func (s *EbaySyncService) Kinds() []domain.SyncKind {
	return []domain.SyncKind{domain.SyncOrders, domain.SyncTransactions}
}

func (s *EbaySyncService) Sync(ctx context.Context, ownerID string, kind domain.SyncKind, since time.Time) (Counts, error) {
	switch kind {
	case domain.SyncOrders:
		return s.SyncOrders(ctx, ownerID, since)
	case domain.SyncTransactions:
		return s.SyncTransactions(ctx, ownerID, since)
	}
	return Counts{}, fmt.Errorf("ebay %s: %w", kind, ErrUnsupported)
}

// accessToken returns a valid access token, persisting it when the refresh
// token was used.
func (s *EbaySyncService) accessToken(ctx context.Context, ownerID string) (string, error) {
	c, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformEbay)
	if err != nil {
		return "", err
	}
	tok, err := s.client.TokenSource(ctx, &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh ebay token: %w", err)
	}
	if tok.AccessToken != c.AccessToken {
		c.AccessToken, c.Expiry = tok.AccessToken, tok.Expiry
		if tok.RefreshToken != "" {
			c.RefreshToken = tok.RefreshToken
		}
		if err := s.creds.SaveCredentials(ctx, ownerID, domain.PlatformEbay, c); err != nil {
			return "", fmt.Errorf("save refreshed ebay token: %w", err)
		}
		s.logger.Debug("ebay token refreshed", zap.String("owner_id", ownerID))
	}
	return tok.AccessToken, nil
}

// SyncOrders fetches orders modified since the window start and upserts them.
func (s *EbaySyncService) SyncOrders(ctx context.Context, ownerID string, since time.Time) (Counts, error) {
	token, err := s.accessToken(ctx, ownerID)
	if err != nil {
		return Counts{}, err
	}
	filter := ebay.ModifiedSinceFilter(since)
	raw, err := Paginate(ctx, func(ctx context.Context, cursor string) ([]ebay.Order, string, error) {
		offset, _ := strconv.Atoi(cursor)
		page, err := s.client.GetOrders(ctx, token, filter, s.pageSize, offset)
		if err != nil {
			return nil, "", err
		}
		if !ebay.HasMore(page.Total, s.pageSize, offset, len(page.Orders)) {
			return page.Orders, "", nil
		}
		return page.Orders, strconv.Itoa(offset + len(page.Orders)), nil
	}, func(o ebay.Order) string { return o.OrderID })
	if err != nil {
		return Counts{Processed: len(raw)}, err
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, ebayOrder(ownerID, o))
	}
	return storeOrders(ctx, s.orders, ownerID, orders, 0)
}

// SyncTransactions fetches finance transactions since the window start.
func (s *EbaySyncService) SyncTransactions(ctx context.Context, ownerID string, since time.Time) (Counts, error) {
	token, err := s.accessToken(ctx, ownerID)
	if err != nil {
		return Counts{}, err
	}
	filter := ebay.TransactionDateFilter(since)
	raw, err := Paginate(ctx, func(ctx context.Context, cursor string) ([]ebay.Transaction, string, error) {
		offset, _ := strconv.Atoi(cursor)
		page, err := s.client.GetTransactions(ctx, token, filter, s.pageSize, offset)
		if err != nil {
			return nil, "", err
		}
		if !ebay.HasMore(page.Total, s.pageSize, offset, len(page.Transactions)) {
			return page.Transactions, "", nil
		}
		return page.Transactions, strconv.Itoa(offset + len(page.Transactions)), nil
	}, func(t ebay.Transaction) string { return t.TransactionID })
	if err != nil {
		return Counts{Processed: len(raw)}, err
	}

	txs := make([]domain.Transaction, 0, len(raw))
	for _, t := range raw {
		txs = append(txs, ebayTransaction(ownerID, t))
	}
	return storeTransactions(ctx, s.txs, ownerID, txs)
}

func ebayOrder(ownerID string, o ebay.Order) domain.Order {
	ps := o.PricingSummary
	out := domain.Order{
		OwnerID:         ownerID,
		Platform:        domain.PlatformEbay,
		PlatformOrderID: o.OrderID,
		Status:          ebayStatus(o),
		RawStatus:       o.OrderFulfillmentStatus + "/" + o.OrderPaymentStatus,
		BuyerName:       o.Buyer.Username,
		Currency:        ps.Total.Currency,
		Subtotal:        ps.PriceSubtotal.Value,
		Shipping:        ps.DeliveryCost.Value,
		Fees:            o.TotalMarketplaceFee.Value,
		Total:           ps.Total.Value,
		OrderedAt:       o.CreationDate,
		UpdatedAt:       o.LastModifiedDate,
		Items:           make([]domain.OrderItem, 0, len(o.LineItems)),
	}
	for _, li := range o.LineItems {
		qty := max(li.Quantity, 1)
		out.Items = append(out.Items, domain.OrderItem{
			SKU:        li.SKU,
			ItemNumber: li.LegacyItemID,
			Title:      li.Title,
			Quantity:   qty,
			UnitPrice:  round2(li.LineItemCost.Value.Div(decimalInt(qty))),
		})
	}
	return out
}

func ebayStatus(o ebay.Order) domain.OrderStatus {
	switch {
	case o.CancelStatus.CancelState == "CANCELED":
		return domain.OrderCancelled
	case o.OrderPaymentStatus == "FULLY_REFUNDED":
		return domain.OrderRefunded
	case o.OrderFulfillmentStatus == "FULFILLED":
		return domain.OrderShipped
	case o.OrderPaymentStatus == "PAID" || o.OrderPaymentStatus == "PARTIALLY_REFUNDED" || o.OrderFulfillmentStatus == "IN_PROGRESS":
		return domain.OrderPaid
	}
	return domain.OrderPending
}

var ebayTxTypes = map[string]domain.TransactionType{
	"SALE":            domain.TxSale,
	"REFUND":          domain.TxRefund,
	"CREDIT":          domain.TxAdjustment,
	"DISPUTE":         domain.TxAdjustment,
	"ADJUSTMENT":      domain.TxAdjustment,
	"NON_SALE_CHARGE": domain.TxFee,
	"SHIPPING_LABEL":  domain.TxShipping,
	"TRANSFER":        domain.TxPayout,
	"WITHDRAWAL":      domain.TxPayout,
}

func ebayTransaction(ownerID string, t ebay.Transaction) domain.Transaction {
	typ, ok := ebayTxTypes[strings.ToUpper(t.TransactionType)]
	if !ok {
		typ = domain.TxAdjustment
	}
	amount := t.Amount.Value
	if t.BookingEntry == "DEBIT" && amount.IsPositive() {
		amount = amount.Neg()
	}
	desc := t.TransactionMemo
	if desc == "" {
		desc = t.TransactionType
	}
	return domain.Transaction{
		OwnerID:         ownerID,
		Platform:        domain.PlatformEbay,
		TransactionID:   t.TransactionID,
		PlatformOrderID: t.OrderID,
		Type:            typ,
		Amount:          amount,
		Fee:             t.TotalFeeAmount.Value.Abs(),
		Currency:        t.Amount.Currency,
		Description:     desc,
		OccurredAt:      t.TransactionDate,
	}
}
