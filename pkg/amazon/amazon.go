// Package amazon reads orders and competitive pricing from the Selling Partner API.
package amazon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
)

const (
	LWATokenURL     = "https://api.amazon.com/auth/o2/token"
	EUEndpoint      = "https://sellingpartnerapi-eu.amazon.com"
	UKMarketplaceID = "A1F83G8C2ARO7P"

	// MaxPricingASINs is the competitive pricing batch limit.
	MaxPricingASINs = 20
)

// Config identifies the app (LWA client) and the seller authorization (refresh token).
type Config struct {
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	MarketplaceID string
	Endpoint      string
	TokenURL      string
}

// Client is a Selling Partner API client for one seller.
type Client struct {
	BaseURL       string
	MarketplaceID string

	tokens oauth2.TokenSource
	http   *http.Client
}

// NewClient returns a client whose access tokens come from an LWA refresh-token source.
func NewClient(ctx context.Context, cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = EUEndpoint
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = LWATokenURL
	}
	if cfg.MarketplaceID == "" {
		cfg.MarketplaceID = UKMarketplaceID
	}
	lwa := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	return &Client{
		BaseURL:       strings.TrimRight(cfg.Endpoint, "/"),
		MarketplaceID: cfg.MarketplaceID,
		tokens:        lwa.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}),
		http:          &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx SP-API reply.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amazon: status %d: %s", e.Status, e.Body)
}

// Money is the SP-API money type.
type Money struct {
	CurrencyCode string          `json:"CurrencyCode"`
	Amount       decimal.Decimal `json:"Amount"`
}

// Order is the subset of getOrders used for syncing.
type Order struct {
	AmazonOrderID  string    `json:"AmazonOrderId"`
	PurchaseDate   time.Time `json:"PurchaseDate"`
	LastUpdateDate time.Time `json:"LastUpdateDate"`
	OrderStatus    string    `json:"OrderStatus"`
	OrderTotal     *Money    `json:"OrderTotal"`
	BuyerInfo      struct {
		BuyerName string `json:"BuyerName"`
	} `json:"BuyerInfo"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ASIN            string `json:"ASIN"`
	SellerSKU       string `json:"SellerSKU"`
	OrderItemID     string `json:"OrderItemId"`
	Title           string `json:"Title"`
	QuantityOrdered int    `json:"QuantityOrdered"`
	ItemPrice       *Money `json:"ItemPrice"`
	ShippingPrice   *Money `json:"ShippingPrice"`
}

// OrdersParams filters getOrders. NextToken continues a previous page.
type OrdersParams struct {
	LastUpdatedAfter time.Time
	NextToken        string
}

// OrdersPage is one page of getOrders.
type OrdersPage struct {
	Orders    []Order `json:"Orders"`
	NextToken string  `json:"NextToken"`
}

// GetOrders fetches one page of orders updated after LastUpdatedAfter.
func (c *Client) GetOrders(ctx context.Context, p OrdersParams) (*OrdersPage, error) {
	q := url.Values{}
	q.Set("MarketplaceIds", c.MarketplaceID)
	if p.NextToken != "" {
		q.Set("NextToken", p.NextToken)
	} else {
		q.Set("LastUpdatedAfter", p.LastUpdatedAfter.UTC().Format(time.RFC3339))
	}
	var env struct {
		Payload OrdersPage `json:"payload"`
	}
	if err := c.get(ctx, "/orders/v0/orders?"+q.Encode(), &env); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return &env.Payload, nil
}

// GetOrderItems returns every line of an order, following NextToken.
func (c *Client) GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	var items []OrderItem
	next := ""
	for {
		path := "/orders/v0/orders/" + url.PathEscape(orderID) + "/orderItems"
		if next != "" {
			path += "?NextToken=" + url.QueryEscape(next)
		}
		var env struct {
			Payload struct {
				OrderItems []OrderItem `json:"OrderItems"`
				NextToken  string      `json:"NextToken"`
			} `json:"payload"`
		}
		if err := c.get(ctx, path, &env); err != nil {
			return nil, fmt.Errorf("get order items %s: %w", orderID, err)
		}
		items = append(items, env.Payload.OrderItems...)
		if env.Payload.NextToken == "" {
			return items, nil
		}
		next = env.Payload.NextToken
	}
}

// CompetitivePrice is the buy box summary for one ASIN.
type CompetitivePrice struct {
	ASIN          string
	Price         decimal.Decimal
	Currency      string
	OfferCount    int
	OwnsBuyBox    bool
	HasBuyBoxData bool
}

// GetCompetitivePricing returns buy box prices for up to MaxPricingASINs ASINs.
// ASINs without buy box data are returned with HasBuyBoxData false.
func (c *Client) GetCompetitivePricing(ctx context.Context, asins []string) ([]CompetitivePrice, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	if len(asins) > MaxPricingASINs {
		return nil, fmt.Errorf("at most %d asins per call, got %d", MaxPricingASINs, len(asins))
	}
	q := url.Values{}
	q.Set("MarketplaceId", c.MarketplaceID)
	q.Set("ItemType", "Asin")
	q.Set("Asins", strings.Join(asins, ","))

	var env struct {
		Payload []struct {
			ASIN    string `json:"ASIN"`
			Status  string `json:"status"`
			Product struct {
				CompetitivePricing struct {
					CompetitivePrices []struct {
						CompetitivePriceID string `json:"CompetitivePriceId"`
						BelongsToRequester bool   `json:"belongsToRequester"`
						Price              struct {
							LandedPrice  *Money `json:"LandedPrice"`
							ListingPrice *Money `json:"ListingPrice"`
						} `json:"Price"`
					} `json:"CompetitivePrices"`
					NumberOfOfferListings []struct {
						Condition string `json:"condition"`
						Count     int    `json:"Count"`
					} `json:"NumberOfOfferListings"`
				} `json:"CompetitivePricing"`
			} `json:"Product"`
		} `json:"payload"`
	}
	if err := c.get(ctx, "/products/pricing/v0/competitivePrice?"+q.Encode(), &env); err != nil {
		return nil, fmt.Errorf("get competitive pricing: %w", err)
	}

	out := make([]CompetitivePrice, 0, len(env.Payload))
	for _, p := range env.Payload {
		cp := CompetitivePrice{ASIN: p.ASIN}
		for _, n := range p.Product.CompetitivePricing.NumberOfOfferListings {
			if strings.EqualFold(n.Condition, "new") || n.Condition == "Any" {
				cp.OfferCount = max(cp.OfferCount, n.Count)
			}
		}
		for _, pr := range p.Product.CompetitivePricing.CompetitivePrices {
			// "1" is the new buy box.
			if pr.CompetitivePriceID != "1" {
				continue
			}
			m := pr.Price.LandedPrice
			if m == nil {
				m = pr.Price.ListingPrice
			}
			if m == nil {
				continue
			}
			cp.Price, cp.Currency, cp.OwnsBuyBox, cp.HasBuyBoxData = m.Amount, m.CurrencyCode, pr.BelongsToRequester, true
		}
		out = append(out, cp)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("lwa token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-amz-access-token", tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
