package brickowl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListOrders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "k" || r.URL.Query().Get("status") != "Shipped" {
			t.Errorf("unexpected query %v", r.URL.Query())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"order_id":"1001","order_date":"1767225600","status":"Shipped","base_currency":"GBP","sub_total":"20.00","total_shipping":"3.10","base_order_total":"23.10"}]`))
	}))
	defer ts.Close()

	orders, err := NewClientWithBaseURL("k", ts.URL).ListOrders(context.Background(), "Shipped")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].BaseOrderTotal.String() != "23.1" {
		t.Fatalf("unexpected orders %+v", orders)
	}
	if want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC); !orders[0].OrderedAt().Equal(want) {
		t.Fatalf("unexpected order date %v", orders[0].OrderedAt())
	}
}

func TestGetOrderItems(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order_id") != "1001" {
			t.Errorf("missing order id")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"order_item_id":"5","name":"Millennium Falcon","type":"Set","ordered_quantity":"2","base_price":"10.50",
			"external_lot_ids":{"other":"SKU-9"},"ids":[{"id":"75192-1","type":"set_number"}]}]`))
	}))
	defer ts.Close()

	items, err := NewClientWithBaseURL("k", ts.URL).GetOrderItems(context.Background(), "1001")
	if err != nil {
		t.Fatalf("GetOrderItems: %v", err)
	}
	it := items[0]
	if it.Quantity() != 2 || it.SetNumber() != "75192-1" || it.ExternalLotIDs.Other != "SKU-9" {
		t.Fatalf("unexpected item %+v", it)
	}
}

func TestAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Invalid Key"}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := NewClientWithBaseURL("bad", ts.URL).ListOrders(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
}
