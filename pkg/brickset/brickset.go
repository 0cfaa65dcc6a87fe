// Package brickset queries set metadata and retail prices from Brickset API v3.
package brickset

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://brickset.com/api/v3.asmx"
	MaxPageSize    = 500
)

type Client struct {
	rest   *resty.Client
	apiKey string

	// PageDelay is slept between pages of one query.
	PageDelay time.Duration
}

func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, DefaultBaseURL)
}

func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		rest:      resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
		apiKey:    apiKey,
		PageDelay: time.Second,
	}
}

// APIError is a transport failure or a status other than "success".
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brickset: status %d: %s", e.Status, e.Message)
}

// RegionPrice is one LEGO.com region block.
type RegionPrice struct {
	RetailPrice        *decimal.Decimal `json:"retailPrice"`
	DateFirstAvailable string           `json:"dateFirstAvailable"`
	DateLastAvailable  string           `json:"dateLastAvailable"`
}

type Set struct {
	SetID         int    `json:"setID"`
	Number        string `json:"number"`
	NumberVariant int    `json:"numberVariant"`
	Name          string `json:"name"`
	Year          int    `json:"year"`
	Theme         string `json:"theme"`
	Pieces        int    `json:"pieces"`
	Minifigs      int    `json:"minifigs"`
	LEGOCom       struct {
		US RegionPrice `json:"US"`
		UK RegionPrice `json:"UK"`
		CA RegionPrice `json:"CA"`
		DE RegionPrice `json:"DE"`
	} `json:"LEGOCom"`
}

// SetNumber is the "<number>-<variant>" form used throughout the store.
func (s Set) SetNumber() string {
	v := s.NumberVariant
	if v == 0 {
		v = 1
	}
	return fmt.Sprintf("%s-%d", s.Number, v)
}

// SetsPage is one getSets response.
type SetsPage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Matches int    `json:"matches"`
	Sets    []Set  `json:"sets"`
}

// GetSets calls getSets with the given query params (e.g. {"year": "2024"}).
func (c *Client) GetSets(ctx context.Context, params map[string]string, pageSize, page int) (*SetsPage, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	p, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var out SetsPage
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"apiKey":       c.apiKey,
			"userHash":     "",
			"params":       string(p),
			"pageSize":     strconv.Itoa(pageSize),
			"pageNumber":   strconv.Itoa(page),
			"extendedData": "1",
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/getSets")
	if err != nil {
		return nil, fmt.Errorf("getSets: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	if out.Status != "success" {
		return nil, &APIError{Status: resp.StatusCode(), Message: out.Message}
	}
	return &out, nil
}

// UKRetailPrices returns UK LEGO.com retail prices of at least minPrice for
// sets released in the given years, keyed by set number.
func (c *Client) UKRetailPrices(ctx context.Context, years []int, minPrice decimal.Decimal) (map[string]decimal.Decimal, error) {
	prices := map[string]decimal.Decimal{}
	for _, year := range years {
		for page := 1; ; page++ {
			res, err := c.GetSets(ctx, map[string]string{"year": strconv.Itoa(year)}, MaxPageSize, page)
			if err != nil {
				return prices, fmt.Errorf("year %d page %d: %w", year, page, err)
			}
			for _, s := range res.Sets {
				if s.Number == "" || s.LEGOCom.UK.RetailPrice == nil {
					continue
				}
				if p := *s.LEGOCom.UK.RetailPrice; p.GreaterThanOrEqual(minPrice) {
					prices[s.SetNumber()] = p
				}
			}
			if len(res.Sets) == 0 || page*MaxPageSize >= res.Matches {
				break
			}
			select {
			case <-ctx.Done():
				return prices, ctx.Err()
			case <-time.After(c.PageDelay):
			}
		}
	}
	return prices, nil
}
