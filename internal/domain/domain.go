// Package domain holds the records shared between the marketplace sync
// services, the store and the HTTP layer.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies a sales channel or data provider.
type Platform string

const (
	PlatformEbay      Platform = "ebay"
	PlatformAmazon    Platform = "amazon"
	PlatformBrickLink Platform = "bricklink"
	PlatformBrickOwl  Platform = "brickowl"
	PlatformBricqer   Platform = "bricqer"
	PlatformVinted    Platform = "vinted"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{
	PlatformEbay, PlatformAmazon, PlatformBrickLink, PlatformBrickOwl, PlatformBricqer, PlatformVinted,
}

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// OrderStatus is the normalized order state across platforms.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

// Order is a platform order normalized for storage.
type Order struct {
	ID              string          `json:"id,omitempty"`
	OwnerID         string          `json:"owner_id"`
	Platform        Platform        `json:"platform"`
	PlatformOrderID string          `json:"platform_order_id"`
	Status          OrderStatus     `json:"status"`
	RawStatus       string          `json:"raw_status"`
	BuyerName       string          `json:"buyer_name"`
	Currency        string          `json:"currency"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Fees            decimal.Decimal `json:"fees"`
	Total           decimal.Decimal `json:"total"`
	OrderedAt       time.Time       `json:"ordered_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem is one order line.
type OrderItem struct {
	SKU         string          `json:"sku"`
	ItemNumber  string          `json:"item_number"`
	Title       string          `json:"title"`
	Condition   string          `json:"condition"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	InventoryID string          `json:"inventory_id,omitempty"`
}

// TransactionType categorizes financial movements.
type TransactionType string

const (
	TxSale       TransactionType = "sale"
	TxRefund     TransactionType = "refund"
	TxFee        TransactionType = "fee"
	TxShipping   TransactionType = "shipping_label"
	TxPayout     TransactionType = "payout"
	TxAdjustment TransactionType = "adjustment"
)

// Transaction is a financial movement reported by a platform.
type Transaction struct {
	ID              string          `json:"id,omitempty"`
	OwnerID         string          `json:"owner_id"`
	Platform        Platform        `json:"platform"`
	TransactionID   string          `json:"transaction_id"`
	PlatformOrderID string          `json:"platform_order_id,omitempty"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// InventoryStatus tracks an item through the resale lifecycle.
type InventoryStatus string

const (
	InventoryNotListed InventoryStatus = "not_listed"
	InventoryListed    InventoryStatus = "listed"
	InventorySold      InventoryStatus = "sold"
	InventoryReturned  InventoryStatus = "returned"
)

// InventoryItem is a unit of stock with its cost of goods.
type InventoryItem struct {
	ID              string              `json:"id"`
	OwnerID         string              `json:"owner_id"`
	SKU             string              `json:"sku"`
	SetNumber       string              `json:"set_number"`
	Name            string              `json:"name"`
	Condition       string              `json:"condition"`
	Status          InventoryStatus     `json:"status"`
	Cost            decimal.Decimal     `json:"cost"`
	ListingPrice    decimal.NullDecimal `json:"listing_price"`
	ListingPlatform string              `json:"listing_platform,omitempty"`
	SoldPrice       decimal.NullDecimal `json:"sold_price"`
	SoldPlatform    string              `json:"sold_platform,omitempty"`
	SoldOrderID     string              `json:"sold_order_id,omitempty"`
	PurchasedAt     *time.Time          `json:"purchased_at,omitempty"`
	SoldAt          *time.Time          `json:"sold_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// SyncKind is the type of data a sync run moves.
type SyncKind string

const (
	SyncOrders       SyncKind = "orders"
	SyncTransactions SyncKind = "transactions"
	SyncPricing      SyncKind = "pricing"
)

// SyncStatus is the lifecycle state of a sync log.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncPartial   SyncStatus = "partial"
	SyncFailed    SyncStatus = "failed"
)

// SyncLog records one sync run.
type SyncLog struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	Platform         Platform   `json:"platform"`
	Kind             SyncKind   `json:"kind"`
	Status           SyncStatus `json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsCreated   int        `json:"records_created"`
	RecordsUpdated   int        `json:"records_updated"`
	RecordsFailed    int        `json:"records_failed"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// PriceSnapshot is a point-in-time price observation for a set.
type PriceSnapshot struct {
	SetNumber   string              `json:"set_number"`
	ASIN        string              `json:"asin,omitempty"`
	Source      string              `json:"source"`
	Price       decimal.Decimal     `json:"price"`
	Currency    string              `json:"currency"`
	SellerCount int                 `json:"seller_count"`
	BuyBoxOwner string              `json:"buy_box_owner,omitempty"`
	WasPrice    decimal.NullDecimal `json:"was_price"`
	CapturedAt  time.Time           `json:"captured_at"`
}

// Snapshot sources.
const (
	SourceAmazonBuyBox      = "amazon_buybox"
	SourceBrickLinkSold     = "bricklink_sold_6m"
	SourceKeepaAmazonBuyBox = "keepa_amazon_buybox"
)

// LegoSet is catalogue metadata used by pricing and investment tools.
type LegoSet struct {
	SetNumber        string              `json:"set_number"`
	Name             string              `json:"name"`
	Theme            string              `json:"theme"`
	Year             int                 `json:"year"`
	Pieces           int                 `json:"pieces"`
	Minifigs         int                 `json:"minifigs"`
	RRP              decimal.NullDecimal `json:"rrp_gbp"`
	RRPSource        string              `json:"rrp_source,omitempty"`
	USPrice          decimal.NullDecimal `json:"us_price"`
	DEPrice          decimal.NullDecimal `json:"de_price"`
	AmazonPrice      decimal.NullDecimal `json:"amazon_price"`
	ASIN             string              `json:"asin,omitempty"`
	RetirementStatus string              `json:"retirement_status"`
	ExitDate         *time.Time          `json:"exit_date,omitempty"`
	Exclusivity      string              `json:"exclusivity_tier"`
	IsLicensed       bool                `json:"is_licensed"`
}

// WatchItem maps an Amazon listing to a BrickLink catalogue item for arbitrage tracking.
type WatchItem struct {
	ASIN          string `json:"asin" validate:"required,len=10,alphanum"`
	SetNumber     string `json:"set_number" validate:"required"`
	BrickLinkItem string `json:"bricklink_item"`
	Active        bool   `json:"active"`
}

// ArbitrageResult is the latest buy-on-BrickLink / sell-on-Amazon calculation for a watch item.
type ArbitrageResult struct {
	ASIN           string          `json:"asin"`
	SetNumber      string          `json:"set_number"`
	AmazonPrice    decimal.Decimal `json:"amazon_price"`
	BrickLinkPrice decimal.Decimal `json:"bricklink_price"`
	Fees           decimal.Decimal `json:"fees"`
	Profit         decimal.Decimal `json:"profit"`
	Margin         float64         `json:"margin"`
	IsOpportunity  bool            `json:"is_opportunity"`
	ComputedAt     time.Time       `json:"computed_at"`
}
