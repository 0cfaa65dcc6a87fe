package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/cache"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/pkg/bricklink"
)

func partoutFixture() *fakeBrickLink {
	brick := bricklink.SubsetEntry{Quantity: 10, ColorID: 5}
	brick.Item.No, brick.Item.Type, brick.Item.Name = "3001", "PART", "Brick 2 x 4"
	plate := bricklink.SubsetEntry{Quantity: 4, ColorID: 11}
	plate.Item.No, plate.Item.Type, plate.Item.Name = "3020", "PART", "Plate 2 x 4"
	fig := bricklink.SubsetEntry{Quantity: 1}
	fig.Item.No, fig.Item.Type, fig.Item.Name = "sw0001", "MINIFIG", "Pilot"

	return &fakeBrickLink{
		subsets: map[string][]bricklink.SubsetEntry{"6000-1": {brick, plate, fig}},
		guides: map[string]string{
			"PART:3001:5:sold:N":   "0.10",
			"PART:3020:11:stock:N": "0.50",
			"SET:6000-1:0:sold:N":  "1.50",
		},
	}
}

func newTestPartout(st *memStore, bl *fakeBrickLink) *PartoutService {
	s := NewPartoutService(st, func(store.Credentials) BrickLinkAPI { return bl }, cache.NewMemory(), BatchOptions{Concurrency: 3}, zap.NewNop())
	s.limit = rate.Inf
	return s
}

func TestPartoutValue(t *testing.T) {
	st := newMemStore()
	st.creds[key("u1", "bricklink")] = store.Credentials{ConsumerKey: "k"}
	bl := partoutFixture()
	s := newTestPartout(st, bl)

	res, err := s.Value(context.Background(), "u1", "6000", "new")
	require.NoError(t, err)
	assert.Equal(t, "6000-1", res.SetNumber)
	assert.Equal(t, "new", res.Condition)
	assert.True(t, dec("3.00").Equal(res.POV), res.POV.String())
	assert.Equal(t, 15, res.TotalParts)
	assert.Equal(t, 14, res.PricedParts)
	assert.InDelta(t, 14.0/15.0, res.Coverage, 1e-9)
	require.NotNil(t, res.Ratio)
	assert.InDelta(t, 2.0, *res.Ratio, 1e-9)
	assert.Equal(t, RecommendPartout, res.Recommendation)

	require.Len(t, res.Parts, 3)
	assert.Equal(t, "sold", res.Parts[0].PriceSource)
	assert.Equal(t, "stock", res.Parts[1].PriceSource)
	assert.Empty(t, res.Parts[2].PriceSource)

	calls := bl.pgCalls.Load()
	_, err = s.Value(context.Background(), "u1", "6000-1", "new")
	require.NoError(t, err)
	assert.Equal(t, calls, bl.pgCalls.Load(), "second valuation is served from cache")
	assert.EqualValues(t, 1, bl.subCalls.Load())
}

func TestPartoutValue_SellCompleteWithoutSetPrice(t *testing.T) {
	st := newMemStore()
	st.creds[key("u1", "bricklink")] = store.Credentials{ConsumerKey: "k"}
	bl := partoutFixture()
	delete(bl.guides, "SET:6000-1:0:sold:N")
	s := newTestPartout(st, bl)

	res, err := s.Value(context.Background(), "u1", "6000-1", "")
	require.NoError(t, err)
	assert.Nil(t, res.Ratio)
	assert.False(t, res.SetPrice.Valid)
	assert.Equal(t, RecommendSellComplete, res.Recommendation)
}

func TestPartoutValue_Errors(t *testing.T) {
	st := newMemStore()
	s := newTestPartout(st, partoutFixture())

	_, err := s.Value(context.Background(), "u1", "6000-1", "new")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = s.Value(context.Background(), "u1", "6000-1", "mint")
	assert.Error(t, err)

	st.creds[key("u1", "bricklink")] = store.Credentials{ConsumerKey: "k"}
	_, err = s.Value(context.Background(), "u1", "9999-1", "used")
	assert.ErrorContains(t, err, "no parts")
}

func TestRecommend(t *testing.T) {
	r := func(v float64) *float64 { return &v }
	assert.Equal(t, RecommendPartout, recommend(r(1.5), 0.8))
	assert.Equal(t, RecommendSellComplete, recommend(r(1.49), 0.95))
	assert.Equal(t, RecommendSellComplete, recommend(r(3), 0.79))
	assert.Equal(t, RecommendSellComplete, recommend(nil, 1))
}
