// Package brickowl reads store orders from the Brick Owl API.
package brickowl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.brickowl.com/v1"

// Client authenticates with the store API key as the "key" query parameter.
type Client struct {
	rest *resty.Client
}

func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, DefaultBaseURL)
}

func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetQueryParam("key", apiKey).
		SetHeader("Accept", "application/json")
	return &Client{rest: rc}
}

// APIError is a non-2xx Brick Owl reply.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brickowl: status %d: %s", e.Status, e.Body)
}

// Order is an order summary. Brick Owl encodes numbers and dates as strings.
type Order struct {
	OrderID        string          `json:"order_id"`
	OrderDate      string          `json:"order_date"`
	Status         string          `json:"status"`
	StatusID       string          `json:"status_id"`
	BuyerName      string          `json:"buyer_name"`
	Currency       string          `json:"base_currency"`
	SubTotal       decimal.Decimal `json:"sub_total"`
	ShippingTotal  decimal.Decimal `json:"total_shipping"`
	BaseOrderTotal decimal.Decimal `json:"base_order_total"`
}

// OrderedAt parses the Unix-seconds order_date.
func (o Order) OrderedAt() time.Time {
	sec, err := strconv.ParseInt(o.OrderDate, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// OrderItem is one line of an order.
type OrderItem struct {
	OrderItemID     string          `json:"order_item_id"`
	BOID            string          `json:"boid"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Condition       string          `json:"condition"`
	OrderedQuantity string          `json:"ordered_quantity"`
	BasePrice       decimal.Decimal `json:"base_price"`
	ExternalLotIDs  struct {
		Other string `json:"other"`
	} `json:"external_lot_ids"`
	IDs []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"ids"`
}

// Quantity parses ordered_quantity, defaulting to 1.
func (i OrderItem) Quantity() int {
	n, err := strconv.Atoi(i.OrderedQuantity)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// SetNumber returns the item's set_number id when Brick Owl lists one.
func (i OrderItem) SetNumber() string {
	for _, id := range i.IDs {
		if id.Type == "set_number" {
			return id.ID
		}
	}
	return ""
}

// ListOrders lists store orders, optionally filtered by status name.
func (c *Client) ListOrders(ctx context.Context, status string) ([]Order, error) {
	var out []Order
	req := c.rest.R().SetContext(ctx).SetResult(&out)
	if status != "" {
		req.SetQueryParam("status", status)
	}
	resp, err := req.Get("/order/list")
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return out, nil
}

// GetOrderItems returns the lines of one order.
func (c *Client) GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	var out []OrderItem
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("order_id", orderID).
		SetResult(&out).
		Get("/order/items")
	if err != nil {
		return nil, fmt.Errorf("order items %s: %w", orderID, err)
	}
	if !resp.IsSuccess() {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return out, nil
}
