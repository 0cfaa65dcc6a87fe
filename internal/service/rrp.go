package service

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
)

// RRP sources, in waterfall order.
const (
	RRPSourceBrickset = "brickset"
	RRPSourceAmazon   = "amazon"
	RRPSourceKeepaP95 = "keepa_p95"
	RRPSourceRegional = "regional"
)

const (
	ukPerUSD          = 0.867
	ukPerEUR          = 0.889
	keepaP95MaxPrice  = 500.0
	keepaP95MinPoints = 3
)

// UKPriceSource looks up UK retail prices by release year.
type UKPriceSource interface {
	UKRetailPrices(ctx context.Context, years []int, minPrice decimal.Decimal) (map[string]decimal.Decimal, error)
}

// RRPSummary counts the sets filled by each source.
type RRPSummary struct {
	Missing      int `json:"missing"`
	Brickset     int `json:"brickset_updated"`
	Amazon       int `json:"amazon_fallback"`
	KeepaP95     int `json:"keepa_p95"`
	Regional     int `json:"regional"`
	StillMissing int `json:"still_missing"`
}

// RRPBackfillService fills missing UK RRPs from the best available source.
type RRPBackfillService struct {
	store    SetStore
	brickset UKPriceSource
	logger   *zap.Logger
}

// NewRRPBackfillService takes a nil brickset to skip the Brickset step.
func NewRRPBackfillService(s SetStore, brickset UKPriceSource, logger *zap.Logger) *RRPBackfillService {
	return &RRPBackfillService{store: s, brickset: brickset, logger: logger.Named("rrp")}
}

// Run backfills every set without an RRP. skipBrickset bypasses the API call.
func (s *RRPBackfillService) Run(ctx context.Context, skipBrickset bool) (RRPSummary, error) {
	var sum RRPSummary
	sets, err := s.store.SetsMissingRRP(ctx)
	if err != nil {
		return sum, err
	}
	sum.Missing = len(sets)
	if len(sets) == 0 {
		return sum, nil
	}

	var brickset map[string]decimal.Decimal
	if s.brickset != nil && !skipBrickset {
		var years []int
		for _, set := range sets {
			if set.Year > 0 && !slices.Contains(years, set.Year) {
				years = append(years, set.Year)
			}
		}
		slices.Sort(years)
		if brickset, err = s.brickset.UKRetailPrices(ctx, years, minRRP); err != nil {
			s.logger.Warn("brickset lookup failed; continuing with fallbacks", zap.Error(err))
		}
	}
	keepa, err := s.keepaP95(ctx, sets)
	if err != nil {
		return sum, err
	}

	for _, set := range sets {
		price, source, ok := chooseRRP(set, brickset, keepa)
		if !ok {
			sum.StillMissing++
			continue
		}
		if err := s.store.UpdateRRP(ctx, set.SetNumber, price, source); err != nil {
			return sum, err
		}
		switch source {
		case RRPSourceBrickset:
			sum.Brickset++
		case RRPSourceAmazon:
			sum.Amazon++
		case RRPSourceKeepaP95:
			sum.KeepaP95++
		case RRPSourceRegional:
			sum.Regional++
		}
	}
	s.logger.Info("rrp backfill done", zap.Int("missing", sum.Missing), zap.Int("brickset", sum.Brickset),
		zap.Int("amazon", sum.Amazon), zap.Int("keepa_p95", sum.KeepaP95), zap.Int("regional", sum.Regional),
		zap.Int("still_missing", sum.StillMissing))
	return sum, nil
}

// keepaP95 returns the 95th percentile Keepa buy box price per set, from
// prices under the cap, for sets with enough points.
func (s *RRPBackfillService) keepaP95(ctx context.Context, sets []domain.LegoSet) (map[string]decimal.Decimal, error) {
	snaps, err := loadSnapshots(ctx, s.store, sets, domain.SourceKeepaAmazonBuyBox, time.Time{})
	if err != nil {
		return nil, err
	}
	out := map[string]decimal.Decimal{}
	for set, ss := range snaps {
		var prices []float64
		for _, sn := range ss {
			if p := sn.Price.InexactFloat64(); p > 0 && p < keepaP95MaxPrice {
				prices = append(prices, p)
			}
		}
		if len(prices) < keepaP95MinPoints {
			continue
		}
		p95 := math.Round(percentile(prices, 95)*100) / 100
		if p95 >= minRRP.InexactFloat64() {
			out[set] = decimal.NewFromFloat(p95)
		}
	}
	return out, nil
}

// chooseRRP walks the waterfall for one set.
func chooseRRP(set domain.LegoSet, brickset, keepa map[string]decimal.Decimal) (decimal.Decimal, string, bool) {
	if p, ok := brickset[set.SetNumber]; ok && p.GreaterThanOrEqual(minRRP) {
		return p, RRPSourceBrickset, true
	}
	if set.AmazonPrice.Valid && set.AmazonPrice.Decimal.GreaterThanOrEqual(minRRP) {
		return set.AmazonPrice.Decimal, RRPSourceAmazon, true
	}
	if p, ok := keepa[set.SetNumber]; ok {
		return p, RRPSourceKeepaP95, true
	}
	if set.USPrice.Valid && set.USPrice.Decimal.GreaterThanOrEqual(minRRP) {
		return round2(set.USPrice.Decimal.Mul(decimal.NewFromFloat(ukPerUSD))), RRPSourceRegional, true
	}
	if set.DEPrice.Valid && set.DEPrice.Decimal.GreaterThanOrEqual(minRRP) {
		return round2(set.DEPrice.Decimal.Mul(decimal.NewFromFloat(ukPerEUR))), RRPSourceRegional, true
	}
	return decimal.Decimal{}, "", false
}
