package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

func TestTrajectoryFeatures(t *testing.T) {
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	snaps := []domain.PriceSnapshot{
		{Price: dec("10"), SellerCount: 3, BuyBoxOwner: "A1B2C3", CapturedAt: day},
		{Price: dec("20"), SellerCount: 5, BuyBoxOwner: "Amazon.co.uk", CapturedAt: day.AddDate(0, 0, 1)},
		{Price: dec("30"), CapturedAt: day.AddDate(0, 0, 2)},
	}
	f := trajectoryFeatures(snaps, 40).features()
	assert.InDelta(t, 0.25, f["discount_at_retirement"], 1e-9)
	assert.InDelta(t, 0.5, f["price_momentum_90d"], 1e-9)
	assert.InDelta(t, 0.5, f["price_volatility_180d"], 1e-9)
	assert.Equal(t, 5.0, f["seller_count_at_retirement"])
	assert.Equal(t, 1.0, f["buy_box_is_amazon"])

	f = trajectoryFeatures(snaps[:1], 0).features()
	assert.NotContains(t, f, "discount_at_retirement")
	assert.NotContains(t, f, "price_momentum_90d")
	assert.Equal(t, 0.0, f["buy_box_is_amazon"])

	assert.Empty(t, trajectoryFeatures(nil, 40).features())
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 1.0, confidence(store.Quantiles{P25: 0.2, P75: 0.2}))
	assert.InDelta(t, 1/1.5, confidence(store.Quantiles{P25: -0.25, P75: 0.25}), 1e-9)
}

func TestScore(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	st := newMemStore()
	st.sets = []domain.LegoSet{
		{SetNumber: "10001-1", Theme: "Icons", RRP: nullDec("100"), Pieces: 1500},
		{SetNumber: "10002-1", Theme: "City", RRP: nullDec("250"), Pieces: 80},
		{SetNumber: "10003-1", Theme: "Dots", RRP: nullDec("20"), Pieces: 300},
	}
	st.quantiles = map[string]map[string]store.Quantiles{
		"10001-1": {"1yr": {P25: 0.1, P50: 0.2, P75: 0.3}, "3yr": {P25: 0.3, P50: 0.5, P75: 0.7}},
	}
	st.themes = map[string]map[string][]float64{
		"City": {"1yr": {-0.2, -0.1, 0}},
	}

	svc := NewInvestmentService(st, zap.NewNop())
	svc.now = func() time.Time { return now }
	sum, err := svc.Score(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScoreSummary{Sets: 3, Scored: 3, Written: 3, ModelVersion: ModelVersion}, sum)

	preds := map[string]store.Prediction{}
	for _, p := range st.preds {
		preds[p.SetNumber] = p
	}

	icons := preds["10001-1"]
	require.NotNil(t, icons.AppreciationPct["1yr"])
	assert.InDelta(t, 22.14, *icons.AppreciationPct["1yr"], 1e-9)
	assert.InDelta(t, round((math.Exp(0.5)-1)*100, 2), *icons.AppreciationPct["3yr"], 1e-9)
	assert.Nil(t, icons.AppreciationPct["6m"], "no model output and no theme history")
	assert.InDelta(t, 0.8333, *icons.Confidence1yr, 1e-9)
	assert.True(t, dec("122.14").Equal(icons.PredictedPrice1yr.Decimal), icons.PredictedPrice1yr.Decimal.String())
	assert.Equal(t, ModelVersion, icons.ModelVersion)
	assert.Equal(t, now, icons.ScoredAt)

	city := preds["10002-1"]
	require.NotNil(t, city.AppreciationPct["1yr"])
	assert.Less(t, *city.AppreciationPct["1yr"], 0.0)
	factors := map[string]bool{}
	for _, f := range city.RiskFactors {
		factors[f.Factor] = true
	}
	assert.True(t, factors["high_rrp"])
	assert.True(t, factors["low_piece_count"])
	assert.True(t, factors["thin_theme_data"])
	assert.True(t, factors["negative_forecast"])

	// Dots has no history of its own and falls back to the pooled targets.
	dots := preds["10003-1"]
	require.NotNil(t, dots.AppreciationPct["1yr"])
	assert.InDelta(t, *city.AppreciationPct["1yr"], *dots.AppreciationPct["1yr"], 1e-9)

	assert.Greater(t, icons.Score, city.Score)
	for _, p := range st.preds {
		assert.GreaterOrEqual(t, p.Score, 0.0)
		assert.LessOrEqual(t, p.Score, 10.0)
	}
}

func TestScore_UsesSnapshotsOlderThanAYear(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	retired := now.AddDate(-2, 0, 0)
	st := newMemStore()
	st.sets = []domain.LegoSet{{SetNumber: "10179-1", Theme: "Star Wars", RRP: nullDec("350"), Pieces: 5195}}
	st.snapshots = []domain.PriceSnapshot{
		{SetNumber: "10179-1", Price: dec("300"), CapturedAt: retired.AddDate(0, 0, -100)},
		{SetNumber: "10179-1", Price: dec("400"), CapturedAt: retired.AddDate(0, 0, -50)},
		{SetNumber: "10179-1", Price: dec("500"), CapturedAt: retired},
	}
	svc := NewInvestmentService(st, zap.NewNop())
	svc.now = func() time.Time { return now }

	_, err := svc.Score(context.Background())
	require.NoError(t, err)
	require.Len(t, st.preds, 1)
	f := st.preds[0].Features
	assert.Contains(t, f, "price_volatility_180d")
	assert.InDelta(t, -0.4286, f["discount_at_retirement"], 1e-4)
}

func TestScore_NoSets(t *testing.T) {
	sum, err := NewInvestmentService(newMemStore(), zap.NewNop()).Score(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Scored)
	assert.Equal(t, ModelVersion, sum.ModelVersion)
}
