package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/pkg/keepa"
)

const (
	keepaBatchSize  = 100
	keepaBatchDelay = 60 * time.Second
	keepaRetries    = 3
)

// KeepaAPI is the part of *keepa.Client the import uses.
type KeepaAPI interface {
	GetProducts(ctx context.Context, asins []string, domain, days int) ([]keepa.Product, error)
}

// KeepaImportOptions narrows an import. Empty ASINs means every active set.
type KeepaImportOptions struct {
	ASINs []string `json:"asins" validate:"omitempty,max=1000,dive,len=10,alphanum"`
	Force bool     `json:"force"`
}

// KeepaImportSummary reports an import run.
type KeepaImportSummary struct {
	TotalASINs      int `json:"total_asins"`
	AlreadyImported int `json:"already_imported"`
	Processed       int `json:"new_asins_processed"`
	Snapshots       int `json:"total_snapshots"`
	Successful      int `json:"successful"`
	Failed          int `json:"failed"`
	SkippedNoData   int `json:"skipped_no_data"`
}

// KeepaImportService stores Keepa buy box history as price snapshots.
type KeepaImportService struct {
	store     SetStore
	api       KeepaAPI
	batchSize int
	delay     time.Duration
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

func NewKeepaImportService(s SetStore, api KeepaAPI, batchSize int, delay time.Duration, logger *zap.Logger) *KeepaImportService {
	if batchSize <= 0 || batchSize > keepaBatchSize {
		batchSize = keepaBatchSize
	}
	if delay < 0 {
		delay = keepaBatchDelay
	}
	return &KeepaImportService{
		store:     s,
		api:       api,
		batchSize: batchSize,
		delay:     delay,
		logger:    logger.Named("keepa"),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Import fetches history for active sets' ASINs. ASINs whose set already has
// Keepa snapshots are skipped unless opts.Force is set.
func (s *KeepaImportService) Import(ctx context.Context, opts KeepaImportOptions) (KeepaImportSummary, error) {
	var sum KeepaImportSummary
	sets, err := s.store.SetsWithASIN(ctx, s.now().UTC())
	if err != nil {
		return sum, err
	}
	setByASIN := map[string]string{}
	var asins []string
	for _, set := range sets {
		if _, dup := setByASIN[set.ASIN]; dup {
			continue
		}
		setByASIN[set.ASIN] = set.SetNumber
		asins = append(asins, set.ASIN)
	}
	if len(opts.ASINs) > 0 {
		asins = asins[:0]
		for _, a := range opts.ASINs {
			if _, ok := setByASIN[a]; ok {
				asins = append(asins, a)
			}
		}
	}
	sum.TotalASINs = len(asins)

	todo := asins
	if !opts.Force {
		have, err := s.store.SetsWithSnapshotSource(ctx, domain.SourceKeepaAmazonBuyBox)
		if err != nil {
			return sum, err
		}
		todo = nil
		for _, a := range asins {
			if have[setByASIN[a]] {
				sum.AlreadyImported++
				continue
			}
			todo = append(todo, a)
		}
	}
	sum.Processed = len(todo)

	for i, batch := range chunks(todo, s.batchSize) {
		if i > 0 && s.delay > 0 {
			s.logger.Info("waiting for keepa token refill", zap.Duration("delay", s.delay))
			if err := s.sleep(ctx, s.delay); err != nil {
				return sum, err
			}
		}
		products, err := s.fetch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			s.logger.Error("keepa batch failed", zap.Int("batch", i+1), zap.Int("asins", len(batch)), zap.Error(err))
			sum.Failed += len(batch)
			continue
		}
		n, ok, skipped, failed := s.storeProducts(ctx, products, setByASIN)
		sum.Snapshots += n
		sum.Successful += ok
		sum.SkippedNoData += skipped + max(0, len(batch)-len(products))
		sum.Failed += failed
	}
	s.logger.Info("keepa import done", zap.Int("total_asins", sum.TotalASINs), zap.Int("already_imported", sum.AlreadyImported),
		zap.Int("snapshots", sum.Snapshots), zap.Int("successful", sum.Successful), zap.Int("failed", sum.Failed))
	return sum, nil
}

// fetch calls Keepa, waiting out the token refill on 429.
func (s *KeepaImportService) fetch(ctx context.Context, asins []string) ([]keepa.Product, error) {
	for attempt := 0; ; attempt++ {
		products, err := s.api.GetProducts(ctx, asins, keepa.DomainUK, 0)
		var rl *keepa.RateLimitError
		if !errors.As(err, &rl) || attempt == keepaRetries-1 {
			return products, err
		}
		wait := rl.RefillIn
		if wait <= 0 {
			wait = keepaBatchDelay
		}
		s.logger.Warn("keepa rate limited", zap.Duration("refill_in", wait), zap.Int("attempt", attempt+1))
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (s *KeepaImportService) storeProducts(ctx context.Context, products []keepa.Product, setByASIN map[string]string) (snapshots, ok, skipped, failed int) {
	for _, p := range products {
		history := keepa.BuyBoxHistory(p)
		if len(history) == 0 {
			skipped++
			continue
		}
		snaps := make([]domain.PriceSnapshot, 0, len(history))
		for _, pt := range history {
			snaps = append(snaps, domain.PriceSnapshot{
				SetNumber:  setByASIN[p.ASIN],
				ASIN:       p.ASIN,
				Source:     domain.SourceKeepaAmazonBuyBox,
				Price:      pt.Price,
				Currency:   "GBP",
				CapturedAt: pt.At,
			})
		}
		n, err := s.store.InsertPriceSnapshots(ctx, snaps)
		snapshots += n
		if err != nil {
			s.logger.Error("store keepa snapshots", zap.String("asin", p.ASIN), zap.Error(err))
			failed++
			continue
		}
		ok++
	}
	return snapshots, ok, skipped, failed
}

// PriceExport is one set's Keepa price summary.
type PriceExport struct {
	SetNumber string              `json:"set_number"`
	ASIN      string              `json:"asin"`
	Current   decimal.NullDecimal `json:"current"`
	Was90     decimal.NullDecimal `json:"was_90"`
	YearAgo   decimal.NullDecimal `json:"year_ago"`
}

// yearAgoTolerance bounds how far the closest history point may sit from
// a year before now.
const yearAgoTolerance = 30 * 24 * time.Hour

// ExportPrices fetches current, 90 day average and year-ago buy box prices
// for the given sets. Sets without an ASIN are returned with no prices.
func (s *KeepaImportService) ExportPrices(ctx context.Context, setNumbers []string) ([]PriceExport, error) {
	sets, err := s.store.SetsByNumber(ctx, setNumbers)
	if err != nil {
		return nil, err
	}
	asinOf := map[string]string{}
	seen := map[string]bool{}
	var asins []string
	for _, set := range sets {
		if set.ASIN == "" {
			continue
		}
		asinOf[set.SetNumber] = set.ASIN
		if !seen[set.ASIN] {
			seen[set.ASIN] = true
			asins = append(asins, set.ASIN)
		}
	}

	byASIN := map[string]keepa.Product{}
	for i, batch := range chunks(asins, s.batchSize) {
		if i > 0 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				return nil, err
			}
		}
		products, err := s.fetch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("keepa export batch failed", zap.Int("batch", i+1), zap.Error(err))
			continue
		}
		for _, p := range products {
			byASIN[p.ASIN] = p
		}
	}

	yearAgo := s.now().UTC().AddDate(-1, 0, 0)
	out := make([]PriceExport, 0, len(setNumbers))
	for _, n := range setNumbers {
		row := PriceExport{SetNumber: n, ASIN: asinOf[n]}
		if p, ok := byASIN[row.ASIN]; ok {
			history := keepa.BuyBoxHistory(p)
			row.Current = keepa.CurrentBuyBox(p)
			if !row.Current.Valid && len(history) > 0 {
				row.Current = decimal.NewNullDecimal(history[len(history)-1].Price)
			}
			row.Was90 = keepa.Avg90BuyBox(p)
			row.YearAgo = closestPrice(history, yearAgo, yearAgoTolerance)
		}
		out = append(out, row)
	}
	s.logger.Info("keepa export done", zap.Int("sets", len(setNumbers)), zap.Int("with_data", len(byASIN)))
	return out, nil
}

func closestPrice(history []keepa.PricePoint, at time.Time, tolerance time.Duration) decimal.NullDecimal {
	var (
		best     decimal.NullDecimal
		bestDist = tolerance + 1
	)
	for _, pt := range history {
		d := pt.At.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= tolerance && d < bestDist {
			best, bestDist = decimal.NewNullDecimal(pt.Price), d
		}
	}
	return best
}
