// Package keepa fetches Amazon price history from the Keepa API.
package keepa

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://api.keepa.com"
	DomainUK       = 2

	// CSVBuyBoxShipping is the csv index of the buy box price including shipping.
	CSVBuyBoxShipping = 18

	keepaEpochMinutes = 21564000
)

// Client is a Keepa API client. Keepa meters calls in tokens; the last seen
// balance is exposed through TokensLeft and RefillIn.
type Client struct {
	rest *resty.Client

	TokensLeft int
	RefillIn   time.Duration
}

func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, DefaultBaseURL)
}

func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60*time.Second).
		SetQueryParam("key", apiKey)
	return &Client{rest: rc}
}

// RateLimitError is returned on HTTP 429; RefillIn says when tokens return.
type RateLimitError struct {
	RefillIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("keepa: out of tokens, refill in %s", e.RefillIn)
}

// APIError is any other Keepa failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keepa: status %d: %s", e.Status, e.Body)
}

// Product is the subset of the product object used here. CSV holds one
// history series per price type; nil entries mean no data.
type Product struct {
	ASIN  string  `json:"asin"`
	Title string  `json:"title"`
	CSV   [][]int       `json:"csv"`
	Stats *ProductStats `json:"stats"`
}

// ProductStats holds per-price-type aggregates, indexed like Product.CSV.
type ProductStats struct {
	Current []int `json:"current"`
	Avg90   []int `json:"avg90"`
}

type productResponse struct {
	TokensLeft int       `json:"tokensLeft"`
	RefillIn   int       `json:"refillIn"`
	Products   []Product `json:"products"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetProducts requests products with buy box history for the last days days
// (0 means full history).
func (c *Client) GetProducts(ctx context.Context, asins []string, domain, days int) ([]Product, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	if domain == 0 {
		domain = DomainUK
	}
	var out productResponse
	req := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"domain":  strconv.Itoa(domain),
			"asin":    strings.Join(asins, ","),
			"buybox":  "1",
			"history": "1",
			"stats":   "90",
		}).
		SetResult(&out).
		SetError(&out).
		ForceContentType("application/json")
	if days > 0 {
		req.SetQueryParam("days", strconv.Itoa(days))
	}
	resp, err := req.Get("/product")
	if err != nil {
		return nil, fmt.Errorf("keepa product: %w", err)
	}
	c.TokensLeft = out.TokensLeft
	c.RefillIn = time.Duration(out.RefillIn) * time.Millisecond

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, &RateLimitError{RefillIn: c.RefillIn}
	}
	if !resp.IsSuccess() {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	if out.Error != nil {
		return nil, &APIError{Status: resp.StatusCode(), Body: out.Error.Type + ": " + out.Error.Message}
	}
	return out.Products, nil
}

// PricePoint is one observation of a history series.
type PricePoint struct {
	At    time.Time
	Price decimal.Decimal
}

// KeepaTime converts Keepa minutes to UTC time.
func KeepaTime(minutes int) time.Time {
	return time.Unix(int64(minutes+keepaEpochMinutes)*60, 0).UTC()
}

// BuyBoxHistory decodes the buy box series: [keepaMinute, pence, ...].
// Points with a negative price (no offer) are dropped.
func BuyBoxHistory(p Product) []PricePoint {
	if len(p.CSV) <= CSVBuyBoxShipping {
		return nil
	}
	series := p.CSV[CSVBuyBoxShipping]
	out := make([]PricePoint, 0, len(series)/2)
	for i := 0; i+1 < len(series); i += 2 {
		if series[i+1] < 0 {
			continue
		}
		out = append(out, PricePoint{
			At:    KeepaTime(series[i]),
			Price: decimal.New(int64(series[i+1]), -2),
		})
	}
	return out
}

// CurrentBuyBox is the live buy box price from the stats block.
func CurrentBuyBox(p Product) decimal.NullDecimal {
	if p.Stats == nil {
		return decimal.NullDecimal{}
	}
	return statPrice(p.Stats.Current)
}

// Avg90BuyBox is the 90 day average buy box price from the stats block.
func Avg90BuyBox(p Product) decimal.NullDecimal {
	if p.Stats == nil {
		return decimal.NullDecimal{}
	}
	return statPrice(p.Stats.Avg90)
}

func statPrice(vals []int) decimal.NullDecimal {
	if len(vals) <= CSVBuyBoxShipping || vals[CSVBuyBoxShipping] <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.New(int64(vals[CSVBuyBoxShipping]), -2))
}
