// Package bricklink is a client for the BrickLink Store API v1.
package bricklink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.bricklink.com/api/store/v1"

// Client signs every request with the store's OAuth credentials.
type Client struct {
	BaseURL string

	creds Credentials
	rest  *resty.Client
	now   func() time.Time
	nonce func() string
}

func NewClient(creds Credentials) *Client {
	rc := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{
		BaseURL: DefaultBaseURL,
		creds:   creds,
		rest:    rc,
		now:     time.Now,
		nonce:   newNonce,
	}
}

// APIError is a failed BrickLink call. BrickLink reports most failures
// inside a 200 response through meta.code.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bricklink: code %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("bricklink: status %d: %s", e.Status, e.Body)
}

// CatalogItem identifies a catalogue entry.
type CatalogItem struct {
	No   string `json:"no"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Cost is the money block of an order.
type Cost struct {
	CurrencyCode string          `json:"currency_code"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
	Shipping     decimal.Decimal `json:"shipping"`
	Insurance    decimal.Decimal `json:"insurance"`
	Etc1         decimal.Decimal `json:"etc1"`
	Etc2         decimal.Decimal `json:"etc2"`
}

// Order is an order summary from /orders.
type Order struct {
	OrderID           int       `json:"order_id"`
	DateOrdered       time.Time `json:"date_ordered"`
	DateStatusChanged time.Time `json:"date_status_changed"`
	BuyerName         string    `json:"buyer_name"`
	Status            string    `json:"status"`
	TotalCount        int       `json:"total_count"`
	Cost              Cost      `json:"cost"`
}

// OrderItem is one lot of an order.
type OrderItem struct {
	InventoryID    int             `json:"inventory_id"`
	Item           CatalogItem     `json:"item"`
	ColorID        int             `json:"color_id"`
	Quantity       int             `json:"quantity"`
	NewOrUsed      string          `json:"new_or_used"`
	UnitPriceFinal decimal.Decimal `json:"unit_price_final"`
	Remarks        string          `json:"remarks"`
}

// PriceGuide is the aggregate price statistics for an item.
type PriceGuide struct {
	Item          CatalogItem     `json:"item"`
	NewOrUsed     string          `json:"new_or_used"`
	CurrencyCode  string          `json:"currency_code"`
	MinPrice      decimal.Decimal `json:"min_price"`
	MaxPrice      decimal.Decimal `json:"max_price"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	QtyAvgPrice   decimal.Decimal `json:"qty_avg_price"`
	UnitQuantity  int             `json:"unit_quantity"`
	TotalQuantity int             `json:"total_quantity"`
}

// PriceGuideOptions selects the guide variant.
type PriceGuideOptions struct {
	GuideType    string // "sold" or "stock"
	NewOrUsed    string // "N" or "U"
	ColorID      int
	CountryCode  string
	CurrencyCode string
}

// SubsetEntry is one part within a set inventory.
type SubsetEntry struct {
	Item          CatalogItem `json:"item"`
	ColorID       int         `json:"color_id"`
	Quantity      int         `json:"quantity"`
	ExtraQuantity int         `json:"extra_quantity"`
	IsAlternate   bool        `json:"is_alternate"`
	IsCounterpart bool        `json:"is_counterpart"`
}

// GetOrders lists orders received ("in") or placed ("out"), optionally by status.
func (c *Client) GetOrders(ctx context.Context, direction string, statuses []string) ([]Order, error) {
	q := url.Values{}
	if direction == "" {
		direction = "in"
	}
	q.Set("direction", direction)
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	var out []Order
	if err := c.get(ctx, "/orders?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return out, nil
}

// GetOrderItems returns an order's lots. BrickLink groups them in batches.
func (c *Client) GetOrderItems(ctx context.Context, orderID int) ([]OrderItem, error) {
	var batches [][]OrderItem
	if err := c.get(ctx, fmt.Sprintf("/orders/%d/items", orderID), &batches); err != nil {
		return nil, fmt.Errorf("get order items %d: %w", orderID, err)
	}
	var out []OrderItem
	for _, b := range batches {
		out = append(out, b...)
	}
	return out, nil
}

// GetPriceGuide fetches price statistics for an item, e.g. ("SET", "75192-1").
func (c *Client) GetPriceGuide(ctx context.Context, itemType, no string, opts PriceGuideOptions) (*PriceGuide, error) {
	q := url.Values{}
	if opts.GuideType != "" {
		q.Set("guide_type", opts.GuideType)
	}
	if opts.NewOrUsed != "" {
		q.Set("new_or_used", opts.NewOrUsed)
	}
	if opts.ColorID > 0 {
		q.Set("color_id", fmt.Sprint(opts.ColorID))
	}
	if opts.CountryCode != "" {
		q.Set("country_code", opts.CountryCode)
	}
	if opts.CurrencyCode != "" {
		q.Set("currency_code", opts.CurrencyCode)
	}
	path := fmt.Sprintf("/items/%s/%s/price", url.PathEscape(strings.ToLower(itemType)), url.PathEscape(no))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var pg PriceGuide
	if err := c.get(ctx, path, &pg); err != nil {
		return nil, fmt.Errorf("get price guide %s %s: %w", itemType, no, err)
	}
	return &pg, nil
}

// GetSubsets returns the parts of an item, flattening BrickLink's match groups.
// Alternates and counterparts are dropped.
func (c *Client) GetSubsets(ctx context.Context, itemType, no string) ([]SubsetEntry, error) {
	var groups []struct {
		MatchNo int           `json:"match_no"`
		Entries []SubsetEntry `json:"entries"`
	}
	path := fmt.Sprintf("/items/%s/%s/subsets?break_minifigs=false", url.PathEscape(strings.ToLower(itemType)), url.PathEscape(no))
	if err := c.get(ctx, path, &groups); err != nil {
		return nil, fmt.Errorf("get subsets %s %s: %w", itemType, no, err)
	}
	var out []SubsetEntry
	for _, g := range groups {
		for _, e := range g.Entries {
			if e.IsAlternate || e.IsCounterpart {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// get signs the absolute URL, since the OAuth base string covers the query.
func (c *Client) get(ctx context.Context, path string, data any) error {
	u := strings.TrimRight(c.BaseURL, "/") + path
	auth, err := authorization(http.MethodGet, u, c.creds, c.now(), c.nonce())
	if err != nil {
		return err
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Authorization", auth).
		Get(u)
	if err != nil {
		return err
	}
	body := resp.Body()
	if resp.StatusCode() >= 300 {
		return &APIError{Status: resp.StatusCode(), Body: truncate(string(body))}
	}

	var env struct {
		Meta struct {
			Code        int    `json:"code"`
			Message     string `json:"message"`
			Description string `json:"description"`
		} `json:"meta"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Meta.Code >= 300 {
		msg := env.Meta.Message
		if env.Meta.Description != "" {
			msg += ": " + env.Meta.Description
		}
		return &APIError{Status: env.Meta.Code, Message: msg}
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, data)
}

func truncate(s string) string {
	if len(s) > 4096 {
		return s[:4096]
	}
	return s
}
