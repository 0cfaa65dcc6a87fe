package amazon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSPAPI serves an LWA token endpoint and hands the rest to h.
func fakeSPAPI(t *testing.T, h http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var tokenCalls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/o2/token" {
			atomic.AddInt32(&tokenCalls, 1)
			_ = r.ParseForm()
			if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt" || r.Form.Get("client_id") != "cid" {
				http.Error(w, "bad token request", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"bearer","expires_in":3600}`))
			return
		}
		if r.Header.Get("x-amz-access-token") != "at" {
			t.Errorf("missing access token header")
		}
		h(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts, &tokenCalls
}

func newTestClient(ts *httptest.Server) *Client {
	return NewClient(context.Background(), Config{
		ClientID: "cid", ClientSecret: "cs", RefreshToken: "rt",
		Endpoint: ts.URL, TokenURL: ts.URL + "/auth/o2/token",
	})
}

func TestGetOrders_NextToken(t *testing.T) {
	ts, tokenCalls := fakeSPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("MarketplaceIds") != UKMarketplaceID {
			t.Errorf("unexpected marketplace %q", q.Get("MarketplaceIds"))
		}
		if q.Get("NextToken") == "" {
			if q.Get("LastUpdatedAfter") != "2026-03-01T00:00:00Z" {
				t.Errorf("unexpected LastUpdatedAfter %q", q.Get("LastUpdatedAfter"))
			}
			_, _ = w.Write([]byte(`{"payload":{"Orders":[{"AmazonOrderId":"202-1","OrderStatus":"Shipped","OrderTotal":{"CurrencyCode":"GBP","Amount":"19.99"}}],"NextToken":"p2"}}`))
			return
		}
		if q.Get("LastUpdatedAfter") != "" {
			t.Errorf("NextToken requests must not repeat filters")
		}
		_, _ = w.Write([]byte(`{"payload":{"Orders":[{"AmazonOrderId":"202-2","OrderStatus":"Canceled"}]}}`))
	})
	c := newTestClient(ts)
	ctx := context.Background()

	p1, err := c.GetOrders(ctx, OrdersParams{LastUpdatedAfter: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p1.Orders) != 1 || p1.NextToken != "p2" || p1.Orders[0].OrderTotal.Amount.String() != "19.99" {
		t.Fatalf("unexpected page 1 %+v", p1)
	}
	p2, err := c.GetOrders(ctx, OrdersParams{NextToken: p1.NextToken})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if p2.NextToken != "" || p2.Orders[0].AmazonOrderID != "202-2" || p2.Orders[0].OrderTotal != nil {
		t.Fatalf("unexpected page 2 %+v", p2)
	}
	if n := atomic.LoadInt32(tokenCalls); n != 1 {
		t.Fatalf("expected access token reuse, got %d token calls", n)
	}
}

func TestGetOrderItems_FollowsNextToken(t *testing.T) {
	ts, _ := fakeSPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/v0/orders/202-1/orderItems" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("NextToken") == "" {
			_, _ = w.Write([]byte(`{"payload":{"OrderItems":[{"ASIN":"B01","SellerSKU":"S1","QuantityOrdered":1,"ItemPrice":{"CurrencyCode":"GBP","Amount":10}}],"NextToken":"n"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"payload":{"OrderItems":[{"ASIN":"B02","SellerSKU":"S2","QuantityOrdered":2}]}}`))
	})
	items, err := newTestClient(ts).GetOrderItems(context.Background(), "202-1")
	if err != nil {
		t.Fatalf("GetOrderItems: %v", err)
	}
	if len(items) != 2 || items[1].SellerSKU != "S2" || items[0].ItemPrice.Amount.String() != "10" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestGetCompetitivePricing(t *testing.T) {
	ts, _ := fakeSPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("Asins"); got != "B0A,B0B" {
			t.Errorf("unexpected asins %q", got)
		}
		_, _ = w.Write([]byte(`{"payload":[
			{"ASIN":"B0A","status":"Success","Product":{"CompetitivePricing":{
				"CompetitivePrices":[{"CompetitivePriceId":"2","Price":{"LandedPrice":{"CurrencyCode":"GBP","Amount":50}}},
				                     {"CompetitivePriceId":"1","belongsToRequester":true,"Price":{"LandedPrice":{"CurrencyCode":"GBP","Amount":89.99}}}],
				"NumberOfOfferListings":[{"condition":"New","Count":7},{"condition":"Used","Count":3}]}}},
			{"ASIN":"B0B","status":"Success","Product":{"CompetitivePricing":{"CompetitivePrices":[]}}}
		]}`))
	})
	got, err := newTestClient(ts).GetCompetitivePricing(context.Background(), []string{"B0A", "B0B"})
	if err != nil {
		t.Fatalf("GetCompetitivePricing: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if !got[0].HasBuyBoxData || got[0].Price.String() != "89.99" || !got[0].OwnsBuyBox || got[0].OfferCount != 7 {
		t.Fatalf("unexpected buy box %+v", got[0])
	}
	if got[1].HasBuyBoxData {
		t.Fatalf("B0B has no buy box: %+v", got[1])
	}
}

func TestGetCompetitivePricing_TooMany(t *testing.T) {
	c := NewClient(context.Background(), Config{})
	_, err := c.GetCompetitivePricing(context.Background(), make([]string, MaxPricingASINs+1))
	if err == nil || !strings.Contains(err.Error(), "at most") {
		t.Fatalf("expected batch size error, got %v", err)
	}
}
