package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

const ModelVersion = "v2.1"

// Composite score weights.
const (
	weightAppreciation = 0.30
	weightConfidence   = 0.25
	weightProfit       = 0.25
	weightRiskAdjusted = 0.20
)

var scoreRetiredSince = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// ScoreSummary reports a scoring run.
type ScoreSummary struct {
	Sets         int    `json:"sets"`
	Scored       int    `json:"scored"`
	Written      int    `json:"written"`
	ModelVersion string `json:"model_version"`
}

// InvestmentService scores active and recently retired sets for post-retirement growth.
type InvestmentService struct {
	store  InvestmentStore
	logger *zap.Logger
	now    func() time.Time
}

func NewInvestmentService(s InvestmentStore, logger *zap.Logger) *InvestmentService {
	return &InvestmentService{store: s, logger: logger.Named("investment"), now: time.Now}
}

// trajectory holds the price history features of one set. NaN is missing.
type trajectory struct {
	Discount, Momentum, Volatility, Sellers, BuyBoxAmazon float64
}

func (t trajectory) features() map[string]float64 {
	out := map[string]float64{}
	for k, v := range map[string]float64{
		"discount_at_retirement":     t.Discount,
		"price_momentum_90d":         t.Momentum,
		"price_volatility_180d":      t.Volatility,
		"seller_count_at_retirement": t.Sellers,
		"buy_box_is_amazon":          t.BuyBoxAmazon,
	} {
		if !math.IsNaN(v) {
			out[k] = math.Round(v*1e4) / 1e4
		}
	}
	return out
}

// trajectoryFeatures derives features from snapshots ordered oldest first.
// Windows are relative to the latest snapshot.
func trajectoryFeatures(snaps []domain.PriceSnapshot, rrp float64) trajectory {
	t := trajectory{math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	var priced []domain.PriceSnapshot
	for _, s := range snaps {
		if s.Price.IsPositive() {
			priced = append(priced, s)
		}
	}
	if len(priced) == 0 {
		return t
	}
	latest := priced[len(priced)-1]
	if rrp > 0 {
		t.Discount = (rrp - latest.Price.InexactFloat64()) / rrp
	}
	last := latest.CapturedAt
	var p90, p180 []float64
	for _, s := range priced {
		p := s.Price.InexactFloat64()
		if !s.CapturedAt.Before(last.AddDate(0, 0, -90)) {
			p90 = append(p90, p)
		}
		if !s.CapturedAt.Before(last.AddDate(0, 0, -180)) {
			p180 = append(p180, p)
		}
	}
	if len(p90) >= 2 {
		xs := make([]float64, len(p90))
		for i := range xs {
			xs[i] = float64(i)
		}
		if m := mean(p90); m > 0 {
			t.Momentum = slope(xs, p90) / m
		} else {
			t.Momentum = 0
		}
	}
	if len(p180) >= 2 {
		if m := mean(p180); m > 0 {
			t.Volatility = stdev(p180) / m
		} else {
			t.Volatility = 0
		}
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].SellerCount > 0 {
			t.Sellers = float64(snaps[i].SellerCount)
			break
		}
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].BuyBoxOwner != "" {
			t.BuyBoxAmazon = 0
			if strings.Contains(strings.ToLower(snaps[i].BuyBoxOwner), "amazon") {
				t.BuyBoxAmazon = 1
			}
			break
		}
	}
	return t
}

// confidence maps a quantile spread to (0, 1].
func confidence(q store.Quantiles) float64 {
	return 1 / (1 + math.Abs(q.P75-q.P25))
}

// themeQuantiles summarizes historical log returns when no model output exists.
func themeQuantiles(targets []float64) (store.Quantiles, bool) {
	if len(targets) == 0 {
		return store.Quantiles{}, false
	}
	return store.Quantiles{
		P25: percentile(targets, 25),
		P50: median(targets),
		P75: percentile(targets, 75),
	}, true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// riskFactors flags concerns for a scored set. themeN of 0 means unknown.
func riskFactors(set domain.LegoSet, themeN int, app1y, conf1y *float64) []store.RiskFactor {
	rrp := set.RRP.Decimal.InexactFloat64()
	var out []store.RiskFactor
	if rrp > 200 {
		out = append(out, store.RiskFactor{Factor: "high_rrp", Severity: "medium",
			Detail: fmt.Sprintf("RRP of %.2f may limit buyer pool", rrp)})
	}
	if set.Pieces < 100 && rrp > 30 {
		out = append(out, store.RiskFactor{Factor: "low_piece_count", Severity: "low",
			Detail: "Low piece count relative to price"})
	}
	if themeN > 0 && themeN < 5 {
		out = append(out, store.RiskFactor{Factor: "thin_theme_data", Severity: "medium",
			Detail: fmt.Sprintf("Only %d historical comps for %s", themeN, set.Theme)})
	}
	if app1y != nil && *app1y < 0 {
		out = append(out, store.RiskFactor{Factor: "negative_forecast", Severity: "high",
			Detail: "Predicted price decline at 1yr"})
	}
	if conf1y != nil && *conf1y < 0.3 {
		out = append(out, store.RiskFactor{Factor: "high_uncertainty", Severity: "medium",
			Detail: "Wide prediction interval at 1yr"})
	}
	return out
}

// Score predicts every scoreable set and stores the ranked predictions.
func (s *InvestmentService) Score(ctx context.Context) (ScoreSummary, error) {
	sum := ScoreSummary{ModelVersion: ModelVersion}
	sets, err := s.store.ScoreableSets(ctx, scoreRetiredSince, minRRP)
	if err != nil {
		return sum, err
	}
	sum.Sets = len(sets)
	if len(sets) == 0 {
		return sum, nil
	}
	now := s.now().UTC()
	// full history: trajectory windows are relative to each set's latest snapshot
	snaps, err := loadSnapshots(ctx, s.store, sets, "", time.Time{})
	if err != nil {
		return sum, err
	}
	nums := make([]string, len(sets))
	for i, set := range sets {
		nums[i] = set.SetNumber
	}
	model, err := s.store.QuantilePredictions(ctx, nums)
	if err != nil {
		return sum, err
	}
	themes, err := s.store.ThemeTargets(ctx)
	if err != nil {
		return sum, err
	}
	pooled := map[string][]float64{}
	for _, byH := range themes {
		for h, v := range byH {
			pooled[h] = append(pooled[h], v...)
		}
	}

	preds := scoreSets(sets, snaps, model, themes, pooled, now)
	sum.Scored = len(preds)
	for _, part := range chunks(preds, upsertBatch) {
		n, err := s.store.UpsertPredictions(ctx, part)
		sum.Written += n
		if err != nil {
			return sum, err
		}
	}
	s.logger.Info("sets scored", zap.Int("sets", sum.Sets), zap.Int("written", sum.Written),
		zap.String("model_version", ModelVersion))
	return sum, nil
}

func scoreSets(sets []domain.LegoSet, snaps map[string][]domain.PriceSnapshot, model map[string]map[string]store.Quantiles,
	themes map[string]map[string][]float64, pooled map[string][]float64, now time.Time) []store.Prediction {
	preds := make([]store.Prediction, len(sets))
	themeN := make([]int, len(sets))
	app1y := make([]float64, len(sets))
	profit1y := make([]float64, len(sets))
	riskAdj := make([]float64, len(sets))
	conf1y := make([]float64, len(sets))

	for i, set := range sets {
		rrp := set.RRP.Decimal.InexactFloat64()
		p := store.Prediction{
			SetNumber:       set.SetNumber,
			AppreciationPct: map[string]*float64{},
			Features:        trajectoryFeatures(snaps[set.SetNumber], rrp).features(),
			ModelVersion:    ModelVersion,
			ScoredAt:        now,
		}
		themeN[i] = len(themes[set.Theme]["1yr"])
		app1y[i], profit1y[i], conf1y[i] = math.NaN(), math.NaN(), math.NaN()

		for _, h := range store.Horizons {
			q, ok := model[set.SetNumber][h]
			if !ok {
				targets := themes[set.Theme][h]
				if len(targets) == 0 {
					targets = pooled[h]
				}
				if q, ok = themeQuantiles(targets); !ok {
					continue
				}
			}
			app := round((math.Exp(q.P50)-1)*100, 2)
			p.AppreciationPct[h] = &app
			if h != "1yr" {
				continue
			}
			c := round(confidence(q), 4)
			p.Confidence1yr = &c
			p.PredictedPrice1yr = decimal.NewNullDecimal(decimal.NewFromFloat(rrp * math.Exp(q.P50)).Round(2))
			profit := round(rrp*app/100, 2)
			p.ExpectedProfit1yr = decimal.NewNullDecimal(decimal.NewFromFloat(profit))
			app1y[i], profit1y[i], conf1y[i] = app, profit, c
		}
		riskAdj[i] = 0
		if !math.IsNaN(app1y[i]) && app1y[i] != 0 {
			riskAdj[i] = round(app1y[i]*conf1y[i], 4)
		}
		preds[i] = p
	}

	appRank := percentRanks(app1y)
	profitRank := percentRanks(profit1y)
	riskRank := percentRanks(riskAdj)
	for i := range preds {
		c := conf1y[i]
		if math.IsNaN(c) {
			c = 0.5
		}
		score := 10 * (weightAppreciation*appRank[i] + weightConfidence*c + weightProfit*profitRank[i] + weightRiskAdjusted*riskRank[i])
		preds[i].Score = round(score, 2)
		preds[i].RiskFactors = riskFactors(sets[i], themeN[i], preds[i].AppreciationPct["1yr"], preds[i].Confidence1yr)
	}
	return preds
}
