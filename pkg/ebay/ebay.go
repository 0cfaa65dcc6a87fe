// Package ebay is a small client for the eBay Sell Fulfillment and Finances APIs.
package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
)

const (
	SandboxAuthURL     = "https://auth.sandbox.ebay.com/oauth2/authorize"
	SandboxTokenURL    = "https://api.sandbox.ebay.com/identity/v1/oauth2/token"
	SandboxAPIBaseURL  = "https://api.sandbox.ebay.com"
	SandboxAPIZBaseURL = "https://apiz.sandbox.ebay.com"

	ProductionAuthURL     = "https://auth.ebay.com/oauth2/authorize"
	ProductionTokenURL    = "https://api.ebay.com/identity/v1/oauth2/token"
	ProductionAPIBaseURL  = "https://api.ebay.com"
	ProductionAPIZBaseURL = "https://apiz.ebay.com"

	// MaxPageSize is the largest limit the order and transaction endpoints accept.
	MaxPageSize = 200
)

var defaultScopes = []string{
	"https://api.ebay.com/oauth/api_scope",
	"https://api.ebay.com/oauth/api_scope/sell.fulfillment.readonly",
	"https://api.ebay.com/oauth/api_scope/sell.finances",
}

// Config holds the eBay application keys.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Sandbox      bool
	Scopes       []string
}

// Client talks to eBay on behalf of a seller. It holds no per-seller state;
// callers pass the seller's access token on every call.
type Client struct {
	oauth *oauth2.Config
	http  *http.Client

	// APIBaseURL serves the Fulfillment API, APIZBaseURL the Finances API.
	APIBaseURL  string
	APIZBaseURL string
}

// NewClient builds a client for the sandbox or production environment.
func NewClient(cfg Config) *Client {
	authURL, tokenURL, api, apiz := ProductionAuthURL, ProductionTokenURL, ProductionAPIBaseURL, ProductionAPIZBaseURL
	if cfg.Sandbox {
		authURL, tokenURL, api, apiz = SandboxAuthURL, SandboxTokenURL, SandboxAPIBaseURL, SandboxAPIZBaseURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http:        &http.Client{Timeout: 30 * time.Second},
		APIBaseURL:  api,
		APIZBaseURL: apiz,
	}
}

// Configured reports whether application keys are present.
func (c *Client) Configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

// AuthURL returns the consent URL for the authorization-code flow.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token pair.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

// TokenSource refreshes tok when it expires.
func (c *Client) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return c.oauth.TokenSource(ctx, tok)
}

// APIError is a non-2xx reply from eBay.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ebay: status %d: %s", e.Status, e.Body)
}

// Amount is eBay's money representation.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// Order is the subset of the Fulfillment API order used for syncing.
type Order struct {
	OrderID                string    `json:"orderId"`
	CreationDate           time.Time `json:"creationDate"`
	LastModifiedDate       time.Time `json:"lastModifiedDate"`
	OrderFulfillmentStatus string    `json:"orderFulfillmentStatus"`
	OrderPaymentStatus     string    `json:"orderPaymentStatus"`
	CancelStatus           struct {
		CancelState string `json:"cancelState"`
	} `json:"cancelStatus"`
	Buyer struct {
		Username string `json:"username"`
	} `json:"buyer"`
	PricingSummary struct {
		PriceSubtotal Amount `json:"priceSubtotal"`
		DeliveryCost  Amount `json:"deliveryCost"`
		Total         Amount `json:"total"`
	} `json:"pricingSummary"`
	TotalMarketplaceFee Amount     `json:"totalMarketplaceFee"`
	LineItems           []LineItem `json:"lineItems"`
}

// LineItem is one order line.
type LineItem struct {
	LineItemID   string `json:"lineItemId"`
	LegacyItemID string `json:"legacyItemId"`
	SKU          string `json:"sku"`
	Title        string `json:"title"`
	Quantity     int    `json:"quantity"`
	LineItemCost Amount `json:"lineItemCost"`
}

// OrderPage is one page of getOrders.
type OrderPage struct {
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   string  `json:"next"`
	Orders []Order `json:"orders"`
}

// Transaction is one Finances API transaction.
type Transaction struct {
	TransactionID     string    `json:"transactionId"`
	OrderID           string    `json:"orderId"`
	TransactionType   string    `json:"transactionType"`
	TransactionStatus string    `json:"transactionStatus"`
	TransactionDate   time.Time `json:"transactionDate"`
	Amount            Amount    `json:"amount"`
	TotalFeeAmount    Amount    `json:"totalFeeAmount"`
	BookingEntry      string    `json:"bookingEntry"`
	TransactionMemo   string    `json:"transactionMemo"`
}

// TransactionPage is one page of getTransactions.
type TransactionPage struct {
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
	Next         string        `json:"next"`
	Transactions []Transaction `json:"transactions"`
}

// ModifiedSinceFilter builds the getOrders filter for orders changed after since.
func ModifiedSinceFilter(since time.Time) string {
	return fmt.Sprintf("lastmodifieddate:[%s..]", since.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// TransactionDateFilter builds the getTransactions filter for transactions after since.
func TransactionDateFilter(since time.Time) string {
	return fmt.Sprintf("transactionDate:[%s..]", since.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// GetOrders fetches one page of seller orders.
func (c *Client) GetOrders(ctx context.Context, accessToken, filter string, limit, offset int) (*OrderPage, error) {
	q := pageQuery(filter, limit, offset)
	var page OrderPage
	if err := c.get(ctx, accessToken, c.APIBaseURL+"/sell/fulfillment/v1/order?"+q.Encode(), &page); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return &page, nil
}

// GetTransactions fetches one page of finance transactions.
func (c *Client) GetTransactions(ctx context.Context, accessToken, filter string, limit, offset int) (*TransactionPage, error) {
	q := pageQuery(filter, limit, offset)
	var page TransactionPage
	if err := c.get(ctx, accessToken, c.APIZBaseURL+"/sell/finances/v1/transaction?"+q.Encode(), &page); err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}
	return &page, nil
}

// HasMore reports whether another page follows one that returned n records.
func HasMore(total, limit, offset, n int) bool {
	if n == 0 || n < limit {
		return false
	}
	return offset+n < total
}

func pageQuery(filter string, limit, offset int) url.Values {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	q := url.Values{}
	if filter != "" {
		q.Set("filter", filter)
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return q
}

func (c *Client) get(ctx context.Context, accessToken, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
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
