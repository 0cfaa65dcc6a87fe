package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/amazon"
	"github.com/hwalton/brickstock/pkg/bricklink"
	"github.com/hwalton/brickstock/pkg/brickowl"
	"github.com/hwalton/brickstock/pkg/bricqer"
	"github.com/hwalton/brickstock/pkg/ebay"
)

func TestEbaySync(t *testing.T) {
	orders := []map[string]any{
		{"orderId": "E-1", "orderPaymentStatus": "PAID", "orderFulfillmentStatus": "NOT_STARTED",
			"pricingSummary": map[string]any{"total": map[string]string{"value": "25.00", "currency": "GBP"}},
			"totalMarketplaceFee": map[string]string{"value": "3.10", "currency": "GBP"},
			"lineItems": []map[string]any{{"sku": "S1", "title": "Set", "quantity": 2,
				"lineItemCost": map[string]string{"value": "20.00", "currency": "GBP"}}}},
		{"orderId": "E-2", "orderFulfillmentStatus": "FULFILLED", "orderPaymentStatus": "PAID"},
		{"orderId": "E-3", "cancelStatus": map[string]string{"cancelState": "CANCELED"}},
	}
	var (
		mu   sync.Mutex
		auth []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sell/fulfillment/v1/order":
			assert.True(t, strings.HasPrefix(r.URL.Query().Get("filter"), "lastmodifieddate:["))
			end := min(offset+limit, len(orders))
			_ = json.NewEncoder(w).Encode(map[string]any{"total": len(orders), "limit": limit, "offset": offset, "orders": orders[offset:end]})
		case "/sell/finances/v1/transaction":
			_ = json.NewEncoder(w).Encode(map[string]any{"total": 2, "transactions": []map[string]any{
				{"transactionId": "T-1", "orderId": "E-1", "transactionType": "SALE", "bookingEntry": "CREDIT",
					"amount": map[string]string{"value": "25.00", "currency": "GBP"}, "totalFeeAmount": map[string]string{"value": "-3.10"}},
				{"transactionId": "T-2", "transactionType": "SHIPPING_LABEL", "bookingEntry": "DEBIT",
					"amount": map[string]string{"value": "3.50", "currency": "GBP"}},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := ebay.NewClient(ebay.Config{ClientID: "app", ClientSecret: "secret"})
	client.APIBaseURL, client.APIZBaseURL = srv.URL, srv.URL
	st := newMemStore()
	st.creds[key("u1", "ebay")] = store.Credentials{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	svc := NewEbaySyncService(client, st, st, st, zap.NewNop())
	svc.pageSize = 2

	c, err := svc.Sync(context.Background(), "u1", domain.SyncOrders, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 3, Created: 3}, c)
	mu.Lock()
	assert.Equal(t, "Bearer at", auth[0])
	assert.Len(t, auth, 2, "two pages of orders")
	mu.Unlock()

	o, ok := st.order("u1", domain.PlatformEbay, "E-1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderPaid, o.Status)
	assert.True(t, dec("3.10").Equal(o.Fees))
	require.Len(t, o.Items, 1)
	assert.True(t, dec("10").Equal(o.Items[0].UnitPrice))
	o, _ = st.order("u1", domain.PlatformEbay, "E-2")
	assert.Equal(t, domain.OrderShipped, o.Status)
	o, _ = st.order("u1", domain.PlatformEbay, "E-3")
	assert.Equal(t, domain.OrderCancelled, o.Status)

	c, err = svc.Sync(context.Background(), "u1", domain.SyncTransactions, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Created)
	tx := st.txs[key("u1", "ebay", "T-2")]
	assert.Equal(t, domain.TxShipping, tx.Type)
	assert.True(t, dec("-3.50").Equal(tx.Amount))
	assert.True(t, dec("3.10").Equal(st.txs[key("u1", "ebay", "T-1")].Fee))

	_, err = svc.Sync(context.Background(), "u2", domain.SyncOrders, testEpoch)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = svc.Sync(context.Background(), "u1", domain.SyncPricing, testEpoch)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAmazonSync(t *testing.T) {
	st := newMemStore()
	st.creds[key("u1", "amazon")] = store.Credentials{RefreshToken: "r"}
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeAmazon{
		pages: []amazon.OrdersPage{
			{Orders: []amazon.Order{
				{AmazonOrderID: "A-1", OrderStatus: "Shipped", PurchaseDate: at, OrderTotal: &amazon.Money{CurrencyCode: "GBP", Amount: dec("54.98")}},
				{AmazonOrderID: "A-2", OrderStatus: "Unshipped", PurchaseDate: at},
			}, NextToken: "page-1"},
			{Orders: []amazon.Order{
				{AmazonOrderID: "A-3", OrderStatus: "Canceled", PurchaseDate: at},
				{AmazonOrderID: "A-2", OrderStatus: "Shipped", PurchaseDate: at},
			}},
		},
		items: map[string][]amazon.OrderItem{
			"A-1": {{ASIN: "B000000001", SellerSKU: "S1", QuantityOrdered: 2,
				ItemPrice: &amazon.Money{Amount: dec("49.98")}, ShippingPrice: &amazon.Money{Amount: dec("5.00")}}},
			"A-2": {{ASIN: "B000000002", QuantityOrdered: 1, ItemPrice: &amazon.Money{Amount: dec("10")}}},
		},
	}
	svc := NewAmazonSyncService(func(context.Context, store.Credentials) AmazonAPI { return api }, st, st, BatchOptions{Concurrency: 2}, zap.NewNop())
	svc.limit = rate.Inf

	c, err := svc.Sync(context.Background(), "u1", domain.SyncOrders, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 3, Created: 3, Failed: 1}, c)

	o, _ := st.order("u1", domain.PlatformAmazon, "A-1")
	assert.Equal(t, domain.OrderShipped, o.Status)
	assert.True(t, dec("49.98").Equal(o.Subtotal))
	assert.True(t, dec("5").Equal(o.Shipping))
	require.Len(t, o.Items, 1)
	assert.True(t, dec("24.99").Equal(o.Items[0].UnitPrice))

	o, _ = st.order("u1", domain.PlatformAmazon, "A-2")
	assert.Equal(t, domain.OrderShipped, o.Status, "later page wins")
	o, ok := st.order("u1", domain.PlatformAmazon, "A-3")
	require.True(t, ok, "stored without items")
	assert.Empty(t, o.Items)
}

func TestBrickLinkSync(t *testing.T) {
	st := newMemStore()
	st.creds[key("u1", "bricklink")] = store.Credentials{ConsumerKey: "k"}
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	old := since.Add(-48 * time.Hour)
	item := bricklink.OrderItem{Quantity: 3, NewOrUsed: "N", UnitPriceFinal: dec("0.25"), Remarks: "BIN-4"}
	item.Item.No, item.Item.Name = "3001", "Brick 2 x 4"
	api := &fakeBrickLink{
		orders: []bricklink.Order{
			{OrderID: 1, Status: "PAID", DateOrdered: since.Add(time.Hour), Cost: bricklink.Cost{CurrencyCode: "GBP", GrandTotal: dec("3.75")}},
			{OrderID: 2, Status: "SHIPPED", DateOrdered: old, DateStatusChanged: since.Add(2 * time.Hour)},
			{OrderID: 3, Status: "COMPLETED", DateOrdered: old, DateStatusChanged: old},
			{OrderID: 4, Status: "NPB", DateOrdered: since.Add(time.Hour)},
		},
		items: map[int][]bricklink.OrderItem{1: {item}, 2: {}},
	}
	svc := NewBrickLinkSyncService(func(store.Credentials) BrickLinkAPI { return api }, st, st, BatchOptions{Concurrency: 2}, zap.NewNop())
	svc.limit = rate.Inf

	c, err := svc.Sync(context.Background(), "u1", domain.SyncOrders, since)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 3, Created: 3, Failed: 1}, c)

	o, ok := st.order("u1", domain.PlatformBrickLink, "1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderPaid, o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "BIN-4", o.Items[0].SKU)
	assert.Equal(t, 3, o.Items[0].Quantity)
	o, _ = st.order("u1", domain.PlatformBrickLink, "2")
	assert.Equal(t, domain.OrderShipped, o.Status)
	assert.Equal(t, since.Add(2*time.Hour), o.UpdatedAt)
	_, ok = st.order("u1", domain.PlatformBrickLink, "3")
	assert.False(t, ok, "unchanged order skipped")
	o, _ = st.order("u1", domain.PlatformBrickLink, "4")
	assert.Equal(t, domain.OrderCancelled, o.Status)
}

type fakeBrickOwl struct {
	orders []brickowl.Order
	items  map[string][]brickowl.OrderItem
}

func (f *fakeBrickOwl) ListOrders(context.Context, string) ([]brickowl.Order, error) { return f.orders, nil }

func (f *fakeBrickOwl) GetOrderItems(_ context.Context, id string) ([]brickowl.OrderItem, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return it, nil
}

func TestBrickOwlSync(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	unix := func(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
	setItem := brickowl.OrderItem{BOID: "123456", Name: "Millennium Falcon", OrderedQuantity: "1", BasePrice: dec("650")}
	setItem.ExternalLotIDs.Other = "SKU-9"
	setItem.IDs = append(setItem.IDs, struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}{ID: "75192-1", Type: "set_number"})

	api := &fakeBrickOwl{
		orders: []brickowl.Order{
			{OrderID: "BO-1", OrderDate: unix(now.AddDate(0, 0, -2)), Status: "Shipped", BaseOrderTotal: dec("655")},
			// older than since but inside the refresh window
			{OrderID: "BO-2", OrderDate: unix(now.AddDate(0, 0, -20)), Status: "Received"},
			{OrderID: "BO-3", OrderDate: unix(now.AddDate(0, 0, -60)), Status: "Received"},
		},
		items: map[string][]brickowl.OrderItem{"BO-1": {setItem}, "BO-2": {}},
	}
	st := newMemStore()
	st.creds[key("u1", "brickowl")] = store.Credentials{APIKey: "k"}
	svc := NewBrickOwlSyncService(func(store.Credentials) BrickOwlAPI { return api }, st, st, BatchOptions{Concurrency: 2}, zap.NewNop())
	svc.now = func() time.Time { return now }

	c, err := svc.Sync(context.Background(), "u1", domain.SyncOrders, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 2, Created: 2}, c)

	o, ok := st.order("u1", domain.PlatformBrickOwl, "BO-1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderShipped, o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "75192-1", o.Items[0].ItemNumber)
	assert.Equal(t, "SKU-9", o.Items[0].SKU)
	o, _ = st.order("u1", domain.PlatformBrickOwl, "BO-2")
	assert.Equal(t, domain.OrderCompleted, o.Status)
	_, ok = st.order("u1", domain.PlatformBrickOwl, "BO-3")
	assert.False(t, ok)
}

type fakeBricqer struct {
	pages  [][]bricqer.Order
	detail map[int]bricqer.Order
	since  time.Time
}

func (f *fakeBricqer) ListOrders(_ context.Context, page, _ int, since time.Time) (*bricqer.OrderPage, error) {
	f.since = since
	if page > len(f.pages) {
		return &bricqer.OrderPage{}, nil
	}
	res := &bricqer.OrderPage{Results: f.pages[page-1]}
	if page < len(f.pages) {
		res.Next = fmt.Sprintf("/api/orders/?page=%d", page+1)
	}
	return res, nil
}

func (f *fakeBricqer) GetOrder(_ context.Context, id int) (*bricqer.Order, error) {
	o, ok := f.detail[id]
	if !ok {
		return nil, errors.New("gateway timeout")
	}
	return &o, nil
}

func TestBricqerSync(t *testing.T) {
	line := bricqer.OrderItem{SKU: "L1", ItemNumber: "3001", Name: "Brick", Quantity: 4, UnitPrice: dec("0.20")}
	api := &fakeBricqer{
		pages: [][]bricqer.Order{
			{{ID: 1, OrderNumber: "BQ-1", Status: "Shipped", Items: []bricqer.OrderItem{line}}, {ID: 2, Status: "new", PaymentStatus: "paid"}},
			{{ID: 3, OrderNumber: "BQ-3", Status: "Refunded"}},
		},
		detail: map[int]bricqer.Order{2: {ID: 2, Items: []bricqer.OrderItem{line, line}}},
	}
	st := newMemStore()
	st.creds[key("u1", "bricqer")] = store.Credentials{APIKey: "k", BaseURL: "https://shop.bricqer.com"}
	svc := NewBricqerSyncService(func(store.Credentials) BricqerAPI { return api }, st, st, BatchOptions{Concurrency: 2}, zap.NewNop())

	c, err := svc.Sync(context.Background(), "u1", domain.SyncOrders, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 3, Created: 3, Failed: 1}, c)
	assert.Equal(t, testEpoch, api.since)

	o, _ := st.order("u1", domain.PlatformBricqer, "BQ-1")
	assert.Equal(t, domain.OrderShipped, o.Status)
	assert.Len(t, o.Items, 1)
	o, ok := st.order("u1", domain.PlatformBricqer, "2")
	require.True(t, ok, "order number falls back to id")
	assert.Equal(t, domain.OrderPaid, o.Status)
	assert.Len(t, o.Items, 2, "lines filled from detail")
	o, _ = st.order("u1", domain.PlatformBricqer, "BQ-3")
	assert.Equal(t, domain.OrderRefunded, o.Status)

	st.creds[key("u2", "bricqer")] = store.Credentials{APIKey: "k"}
	_, err = svc.Sync(context.Background(), "u2", domain.SyncOrders, testEpoch)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestVintedImport(t *testing.T) {
	csvData := "\ufeffOrder ID,Sale date,Item title,Sale price,Postage,Fees,SKU,Status\n" +
		"V-1,2026-02-01,LEGO 75192,£650.00,5.99,0.00,SKU-1,Completed\n" +
		"V-1,2026-02-01,LEGO minifig,\"12,50\",,,SKU-2,Completed\n" +
		"V-2,03/02/2026,LEGO 10294,400,,,,\n" +
		"V-3,yesterday,LEGO 10497,20,,,,\n" +
		",2026-02-04,No id,5,,,,\n" +
		"V-4,2026-02-05,Bad price,abc,,,,\n"
	st := newMemStore()
	svc := NewVintedImportService(st, nil, zap.NewNop())

	c, rowErrs, err := svc.Import(context.Background(), "u1", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 5, Created: 2, Failed: 3}, c)
	require.Len(t, rowErrs, 3)
	assert.Equal(t, 5, rowErrs[0].Row)
	assert.Contains(t, rowErrs[0].Message, "unrecognised date")
	assert.Equal(t, 6, rowErrs[1].Row)
	assert.Equal(t, 7, rowErrs[2].Row)

	o, ok := st.order("u1", domain.PlatformVinted, "V-1")
	require.True(t, ok)
	assert.Len(t, o.Items, 2)
	assert.True(t, dec("662.50").Equal(o.Subtotal), o.Subtotal.String())
	assert.True(t, dec("668.49").Equal(o.Total), o.Total.String())
	assert.Equal(t, "GBP", o.Currency)
	assert.Equal(t, domain.OrderCompleted, o.Status)

	o, _ = st.order("u1", domain.PlatformVinted, "V-2")
	assert.Equal(t, time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), o.OrderedAt)
}

func TestVintedImport_MissingColumn(t *testing.T) {
	_, _, err := NewVintedImportService(newMemStore(), nil, zap.NewNop()).Import(context.Background(), "u1", strings.NewReader("order_id,title,price\n1,x,2\n"))
	assert.ErrorContains(t, err, `missing column "date"`)

	_, _, err = NewVintedImportService(newMemStore(), nil, zap.NewNop()).Import(context.Background(), "u1", strings.NewReader(""))
	assert.Error(t, err)
}

func TestVintedImport_LinksInventory(t *testing.T) {
	st := newMemStore()
	st.unsold = []domain.InventoryItem{{ID: "inv-1", SKU: "SKU-9"}, {ID: "inv-2", SKU: "OTHER"}}
	st.soldLines = []store.SoldLine{{Platform: domain.PlatformVinted, PlatformOrderID: "V-9", SKU: "SKU-9", Quantity: 1}}
	svc := NewVintedImportService(st, NewInventoryMatcher(st, zap.NewNop()), zap.NewNop())

	csvData := "order_id,date,title,price,sku\nV-9,2026-02-10,LEGO 40567,25,SKU-9\n"
	c, rowErrs, err := svc.Import(context.Background(), "u1", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	assert.Equal(t, 1, c.Created)
	assert.Equal(t, map[string]string{"inv-1": "V-9"}, st.links)
}

func TestVintedImport_NoLinkWhenStoreFails(t *testing.T) {
	st := newMemStore()
	st.upsertErr = errors.New("db down")
	st.unsold = []domain.InventoryItem{{ID: "inv-1", SKU: "SKU-9"}}
	st.soldLines = []store.SoldLine{{Platform: domain.PlatformVinted, PlatformOrderID: "V-9", SKU: "SKU-9"}}
	svc := NewVintedImportService(st, NewInventoryMatcher(st, zap.NewNop()), zap.NewNop())

	_, _, err := svc.Import(context.Background(), "u1", strings.NewReader("order_id,date,title,price,sku\nV-9,2026-02-10,x,25,SKU-9\n"))
	require.Error(t, err)
	assert.Empty(t, st.links)
}

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12.50", "12.5"},
		{"£12.50", "12.5"},
		{"12,50", "12.5"},
		{"1,250", "1250"},
		{"1,250.00", "1250"},
		{"£1,250,000", "1250000"},
		{"1.250,00", "1250"},
		{"400", "400"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseMoney(tc.in)
			require.NoError(t, err)
			assert.True(t, dec(tc.want).Equal(got), "got %s", got)
		})
	}
	_, err := parseMoney("abc")
	assert.Error(t, err)
}
