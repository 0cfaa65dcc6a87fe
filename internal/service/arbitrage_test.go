package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/amazon"
)

func TestCompute(t *testing.T) {
	c := Compute(dec("100"), dec("50"), DefaultArbitrageFees)
	assert.True(t, dec("18.55").Equal(c.Fees), c.Fees.String())
	assert.True(t, dec("31.45").Equal(c.Profit), c.Profit.String())
	assert.InDelta(t, 0.3145, c.Margin, 1e-9)

	c = Compute(dec("50"), dec("30"), DefaultArbitrageFees)
	assert.True(t, dec("9.1").Equal(c.Profit), c.Profit.String())
	assert.InDelta(t, 0.182, c.Margin, 1e-9)

	c = Compute(dec("0"), dec("10"), DefaultArbitrageFees)
	assert.Zero(t, c.Margin)
	assert.True(t, c.Profit.IsNegative())
}

func newTestArbitrage(st *memStore, amz *fakeAmazon, bl *fakeBrickLink) *ArbitrageService {
	s := NewArbitrageService(newTestSyncer(st), st, st,
		func(context.Context, store.Credentials) AmazonAPI { return amz },
		func(store.Credentials) BrickLinkAPI { return bl },
		0.2, BatchOptions{Concurrency: 2}, zap.NewNop())
	s.amazonLimit, s.blLimit = rate.Inf, rate.Inf
	s.now = func() time.Time { return testEpoch }
	return s
}

func TestSyncPricing(t *testing.T) {
	st := newMemStore()
	st.creds[key("u1", "amazon")] = store.Credentials{RefreshToken: "r"}
	st.creds[key("u1", "bricklink")] = store.Credentials{ConsumerKey: "k"}
	st.watch = []domain.WatchItem{
		{ASIN: "B000000001", SetNumber: "75192-1", Active: true},
		{ASIN: "B000000002", SetNumber: "10294", Active: true},
		{ASIN: "B000000003", SetNumber: "21318-1", Active: true},
		{ASIN: "B000000004", SetNumber: "60000-1", Active: false},
	}
	amz := &fakeAmazon{prices: map[string]amazon.CompetitivePrice{
		"B000000001": {ASIN: "B000000001", Price: dec("100"), Currency: "GBP", OfferCount: 4, HasBuyBoxData: true, OwnsBuyBox: true},
		"B000000002": {ASIN: "B000000002", Price: dec("50"), Currency: "GBP", OfferCount: 2, HasBuyBoxData: true},
	}}
	bl := &fakeBrickLink{guides: map[string]string{
		"SET:75192-1:0:sold:N": "50",
		"SET:10294-1:0:sold:N": "45",
		"SET:21318-1:0:sold:N": "80",
	}}
	s := newTestArbitrage(st, amz, bl)

	res, err := s.SyncPricing(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPartial, res.Status, "21318 has no buy box")
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Failed)

	require.Len(t, amz.batches, 1)
	assert.Len(t, amz.batches[0], 3)
	assert.Equal(t, "GBP", bl.lastOpts.CurrencyCode)

	// two buy box snapshots and three sold guide snapshots
	assert.Len(t, st.snapshots, 5)
	for _, sn := range st.snapshots {
		if sn.ASIN == "B000000001" {
			assert.Equal(t, "self", sn.BuyBoxOwner)
			assert.Equal(t, "75192-1", sn.SetNumber)
		}
	}

	require.Len(t, st.arbitrage, 2)
	byASIN := map[string]domain.ArbitrageResult{}
	for _, r := range st.arbitrage {
		byASIN[r.ASIN] = r
	}
	assert.True(t, byASIN["B000000001"].IsOpportunity)
	assert.InDelta(t, 0.3145, byASIN["B000000001"].Margin, 1e-9)
	assert.False(t, byASIN["B000000002"].IsOpportunity)
	assert.True(t, byASIN["B000000002"].Profit.IsNegative())
}

func TestSyncPricing_NotConnected(t *testing.T) {
	st := newMemStore()
	st.creds[key("u1", "amazon")] = store.Credentials{RefreshToken: "r"}
	st.watch = []domain.WatchItem{{ASIN: "B000000001", SetNumber: "75192-1", Active: true}}
	s := newTestArbitrage(st, &fakeAmazon{}, &fakeBrickLink{})

	res, err := s.SyncPricing(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, domain.SyncFailed, res.Status)
}

func TestSyncPricing_EmptyWatchlist(t *testing.T) {
	st := newMemStore()
	s := newTestArbitrage(st, &fakeAmazon{}, &fakeBrickLink{})
	res, err := s.SyncPricing(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncCompleted, res.Status)
	assert.Zero(t, res.Processed)
}
