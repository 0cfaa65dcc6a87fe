// Package bricqer reads orders from a Bricqer store's REST API.
package bricqer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Client talks to one tenant, e.g. https://mystore.bricqer.com/api/v1.
type Client struct {
	rest *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Authorization", "Api-Key "+apiKey).
		SetHeader("Accept", "application/json")
	return &Client{rest: rc}
}

// APIError is a non-2xx Bricqer reply.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bricqer: status %d: %s", e.Status, e.Body)
}

type Order struct {
	ID            int             `json:"id"`
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	CustomerName  string          `json:"customer_name"`
	Currency      string          `json:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"`
	Fees          decimal.Decimal `json:"fees"`
	Total         decimal.Decimal `json:"total"`
	Created       time.Time       `json:"created"`
	Updated       time.Time       `json:"updated"`
	Items         []OrderItem     `json:"items"`
}

type OrderItem struct {
	ID         int             `json:"id"`
	SKU        string          `json:"sku"`
	ItemNumber string          `json:"item_number"`
	Name       string          `json:"name"`
	Condition  string          `json:"condition"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// OrderPage is one page of a paginated order listing.
type OrderPage struct {
	Count    int     `json:"count"`
	Next     string  `json:"next"`
	Previous string  `json:"previous"`
	Results  []Order `json:"results"`
}

// ListOrders fetches one page of orders updated after since (zero means all).
func (c *Client) ListOrders(ctx context.Context, page, pageSize int, since time.Time) (*OrderPage, error) {
	if page < 1 {
		page = 1
	}
	var out OrderPage
	req := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":      strconv.Itoa(page),
			"page_size": strconv.Itoa(pageSize),
			"ordering":  "updated",
		}).
		SetResult(&out)
	if !since.IsZero() {
		req.SetQueryParam("updated_after", since.UTC().Format(time.RFC3339))
	}
	resp, err := req.Get("/orders/order/")
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return &out, nil
}

// GetOrder fetches one order with its items.
func (c *Client) GetOrder(ctx context.Context, id int) (*Order, error) {
	var out Order
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).Get(fmt.Sprintf("/orders/order/%d/", id))
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	if !resp.IsSuccess() {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return &out, nil
}
