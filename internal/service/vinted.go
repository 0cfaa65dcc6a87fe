package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
)

// RowError reports one rejected CSV row (1-based, header is row 1).
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

var vintedDateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "02/01/2006", "02.01.2006"}

var vintedAliases = map[string]string{
	"order id":       "order_id",
	"transaction id": "order_id",
	"item":           "title",
	"item title":     "title",
	"sale date":      "date",
	"sold at":        "date",
	"amount":         "price",
	"sale price":     "price",
	"postage":        "shipping",
	"fees":           "fee",
	"buyer name":     "buyer",
}

// VintedImportService imports sales from a Vinted CSV export. Required
// columns: order_id, date, title, price. Optional: sku, shipping, fee,
// status, buyer, currency. Rows sharing an order_id become lines of one order.
type VintedImportService struct {
	orders  OrderStore
	matcher *InventoryMatcher
	logger  *zap.Logger
	now     func() time.Time
}

// NewVintedImportService builds the importer. matcher may be nil, in which
// case imported sales are not linked to inventory.
func NewVintedImportService(orders OrderStore, matcher *InventoryMatcher, logger *zap.Logger) *VintedImportService {
	return &VintedImportService{orders: orders, matcher: matcher, logger: logger.Named("import.vinted"), now: time.Now}
}

// vintedLinkSkew covers clock drift between this process and the database
// when picking out the rows an import just wrote.
const vintedLinkSkew = time.Minute

// Import parses r, upserts the orders and links the sold lines to inventory.
// Bad rows are skipped, counted as failed and reported in the returned row
// errors. A linking failure is logged and does not fail the import.
func (s *VintedImportService) Import(ctx context.Context, ownerID string, r io.Reader) (Counts, []RowError, error) {
	orders, rowErrs, err := parseVintedCSV(ownerID, r)
	if err != nil {
		return Counts{}, nil, err
	}
	started := s.now().Add(-vintedLinkSkew)
	counts, err := storeOrders(ctx, s.orders, ownerID, orders, len(rowErrs))
	s.logger.Info("vinted import", zap.String("owner_id", ownerID), zap.Int("orders", len(orders)), zap.Int("rejected_rows", len(rowErrs)))
	if err != nil {
		return counts, rowErrs, err
	}
	if s.matcher != nil && counts.Created+counts.Updated > 0 {
		if _, lerr := s.matcher.LinkSoldItems(ctx, ownerID, domain.PlatformVinted, started); lerr != nil {
			s.logger.Warn("link sold items", zap.String("owner_id", ownerID), zap.Error(lerr))
		}
	}
	return counts, rowErrs, nil
}

func parseVintedCSV(ownerID string, r io.Reader) ([]domain.Order, []RowError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := vintedAliases[name]; ok {
			name = alias
		}
		col[strings.ReplaceAll(name, " ", "_")] = i
	}
	for _, req := range []string{"order_id", "date", "title", "price"} {
		if _, ok := col[req]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", req)
		}
	}

	var (
		orders  []domain.Order
		byID    = map[string]int{}
		rowErrs []RowError
	)
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: row, Message: err.Error()})
			continue
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		id := get("order_id")
		if id == "" {
			rowErrs = append(rowErrs, RowError{Row: row, Message: "order_id is empty"})
			continue
		}
		at, err := parseVintedDate(get("date"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: row, Message: err.Error()})
			continue
		}
		price, err := parseMoney(get("price"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: row, Message: "price: " + err.Error()})
			continue
		}
		shipping, err := parseOptionalMoney(get("shipping"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: row, Message: "shipping: " + err.Error()})
			continue
		}
		fee, err := parseOptionalMoney(get("fee"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: row, Message: "fee: " + err.Error()})
			continue
		}

		i, ok := byID[id]
		if !ok {
			currency := strings.ToUpper(get("currency"))
			if currency == "" {
				currency = "GBP"
			}
			byID[id] = len(orders)
			i = len(orders)
			orders = append(orders, domain.Order{
				OwnerID:         ownerID,
				Platform:        domain.PlatformVinted,
				PlatformOrderID: id,
				Status:          vintedStatus(get("status")),
				RawStatus:       get("status"),
				BuyerName:       get("buyer"),
				Currency:        currency,
				OrderedAt:       at,
				UpdatedAt:       at,
			})
		}
		o := &orders[i]
		o.Subtotal = o.Subtotal.Add(price)
		o.Shipping = o.Shipping.Add(shipping)
		o.Fees = o.Fees.Add(fee)
		o.Total = o.Subtotal.Add(o.Shipping)
		o.Items = append(o.Items, domain.OrderItem{
			SKU:       get("sku"),
			Title:     get("title"),
			Quantity:  1,
			UnitPrice: price,
		})
	}
	return orders, rowErrs, nil
}

func vintedStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "", "completed", "complete", "sold":
		return domain.OrderCompleted
	case "shipped", "sent":
		return domain.OrderShipped
	case "paid":
		return domain.OrderPaid
	case "cancelled", "canceled":
		return domain.OrderCancelled
	case "refunded":
		return domain.OrderRefunded
	}
	return domain.OrderPending
}

func parseVintedDate(s string) (time.Time, error) {
	for _, layout := range vintedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// parseMoney accepts "12.50", "£1,250.00", "12,50" and "1.250,00". A comma
// is the decimal separator only when exactly two digits follow it at the end;
// otherwise commas group thousands.
func parseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimLeft(s, "£€$ "))
	if i := strings.LastIndex(s, ","); i >= 0 && len(s)-i-1 == 2 && isDigits(s[i+1:]) {
		s = strings.ReplaceAll(s[:i], ".", "") + "." + s[i+1:]
	}
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func parseOptionalMoney(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return parseMoney(s)
}
