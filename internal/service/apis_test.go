package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hwalton/brickstock/pkg/amazon"
	"github.com/hwalton/brickstock/pkg/bricklink"
)

// fakeBrickLink serves price guides keyed "TYPE:no:color:guide:cond" and
// subsets keyed by set number.
type fakeBrickLink struct {
	mu       sync.Mutex
	guides   map[string]string
	subsets  map[string][]bricklink.SubsetEntry
	failNo   map[string]bool
	pgCalls  atomic.Int32
	subCalls atomic.Int32
	lastOpts bricklink.PriceGuideOptions

	orders []bricklink.Order
	items  map[int][]bricklink.OrderItem
}

func (f *fakeBrickLink) GetOrders(context.Context, string, []string) ([]bricklink.Order, error) {
	return f.orders, nil
}

func (f *fakeBrickLink) GetOrderItems(_ context.Context, id int) ([]bricklink.OrderItem, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("order %d: not found", id)
	}
	return it, nil
}

func (f *fakeBrickLink) GetPriceGuide(_ context.Context, itemType, no string, opts bricklink.PriceGuideOptions) (*bricklink.PriceGuide, error) {
	f.pgCalls.Add(1)
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	if f.failNo[no] {
		return nil, &bricklink.APIError{Status: 500, Message: "boom"}
	}
	pg := &bricklink.PriceGuide{CurrencyCode: "GBP", NewOrUsed: opts.NewOrUsed, UnitQuantity: 7}
	pg.Item.No, pg.Item.Type = no, itemType
	if v, ok := f.guides[fmt.Sprintf("%s:%s:%d:%s:%s", strings.ToUpper(itemType), no, opts.ColorID, opts.GuideType, opts.NewOrUsed)]; ok {
		pg.AvgPrice = dec(v)
	}
	return pg, nil
}

func (f *fakeBrickLink) GetSubsets(_ context.Context, _ string, no string) ([]bricklink.SubsetEntry, error) {
	f.subCalls.Add(1)
	return f.subsets[no], nil
}

type fakeAmazon struct {
	prices  map[string]amazon.CompetitivePrice
	batches [][]string
	failAll bool

	pages []amazon.OrdersPage
	items map[string][]amazon.OrderItem
}

func (f *fakeAmazon) GetOrders(_ context.Context, p amazon.OrdersParams) (*amazon.OrdersPage, error) {
	i := 0
	if p.NextToken != "" {
		fmt.Sscanf(p.NextToken, "page-%d", &i)
	}
	if i >= len(f.pages) {
		return &amazon.OrdersPage{}, nil
	}
	return &f.pages[i], nil
}

func (f *fakeAmazon) GetOrderItems(_ context.Context, id string) ([]amazon.OrderItem, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, &amazon.APIError{Status: 429, Body: "QuotaExceeded"}
	}
	return it, nil
}

func (f *fakeAmazon) GetCompetitivePricing(_ context.Context, asins []string) ([]amazon.CompetitivePrice, error) {
	f.batches = append(f.batches, asins)
	if f.failAll {
		return nil, &amazon.APIError{Status: 503}
	}
	var out []amazon.CompetitivePrice
	for _, a := range asins {
		if p, ok := f.prices[a]; ok {
			out = append(out, p)
		} else {
			out = append(out, amazon.CompetitivePrice{ASIN: a})
		}
	}
	return out, nil
}
