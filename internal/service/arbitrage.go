package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/pkg/amazon"
	"github.com/hwalton/brickstock/pkg/bricklink"
)

// ArbitrageFees are the costs of reselling a BrickLink purchase on Amazon.
type ArbitrageFees struct {
	ReferralRate decimal.Decimal
	Fulfilment   decimal.Decimal
	ShippingIn   decimal.Decimal
}

var DefaultArbitrageFees = ArbitrageFees{
	ReferralRate: decimal.RequireFromString("0.153"),
	Fulfilment:   decimal.RequireFromString("3.25"),
	ShippingIn:   decimal.Zero,
}

// ArbitrageCalc is the outcome of Compute.
type ArbitrageCalc struct {
	Fees   decimal.Decimal
	Profit decimal.Decimal
	Margin float64
}

// Compute returns the profit of buying at bricklinkAvg and selling at
// amazonPrice. Margin is profit over the Amazon price, 0 for a zero price.
func Compute(amazonPrice, bricklinkAvg decimal.Decimal, f ArbitrageFees) ArbitrageCalc {
	fees := amazonPrice.Mul(f.ReferralRate).Add(f.Fulfilment).Add(f.ShippingIn)
	profit := amazonPrice.Sub(fees).Sub(bricklinkAvg)
	c := ArbitrageCalc{Fees: round2(fees), Profit: round2(profit)}
	if amazonPrice.IsPositive() {
		c.Margin = profit.Div(amazonPrice).Round(4).InexactFloat64()
	}
	return c
}

// competitivePricing quota: 0.5 requests/second.
const amazonPricingRate = rate.Limit(0.5)

// ArbitrageService captures Amazon buy box and BrickLink sold prices for an
// owner's watchlist and stores the resulting arbitrage rows.
type ArbitrageService struct {
	syncer       *Syncer
	pricing      PricingStore
	creds        CredentialStore
	newAmazon    AmazonClientFactory
	newBrickLink BrickLinkClientFactory
	fees         ArbitrageFees
	minMargin    float64
	batch        BatchOptions
	amazonLimit  rate.Limit
	blLimit      rate.Limit
	logger       *zap.Logger
	now          func() time.Time
}

func NewArbitrageService(syncer *Syncer, pricing PricingStore, creds CredentialStore, amazonFactory AmazonClientFactory,
	brickLinkFactory BrickLinkClientFactory, minMargin float64, batch BatchOptions, logger *zap.Logger) *ArbitrageService {
	return &ArbitrageService{
		syncer:       syncer,
		pricing:      pricing,
		creds:        creds,
		newAmazon:    amazonFactory,
		newBrickLink: brickLinkFactory,
		fees:         DefaultArbitrageFees,
		minMargin:    minMargin,
		batch:        batch,
		amazonLimit:  amazonPricingRate,
		blLimit:      brickLinkRate,
		logger:       logger.Named("arbitrage"),
		now:          time.Now,
	}
}

// SyncPricing runs a pricing sync for the owner under a sync log.
func (s *ArbitrageService) SyncPricing(ctx context.Context, ownerID string) (SyncResult, error) {
	return s.syncer.Run(ctx, ownerID, domain.PlatformAmazon, domain.SyncPricing, func(ctx context.Context, _ time.Time) (Counts, error) {
		return s.syncPricing(ctx, ownerID)
	})
}

func (s *ArbitrageService) syncPricing(ctx context.Context, ownerID string) (Counts, error) {
	var c Counts
	watch, err := s.pricing.ListWatchlist(ctx, ownerID)
	if err != nil {
		return c, err
	}
	var items []domain.WatchItem
	for _, w := range watch {
		if w.Active {
			items = append(items, w)
		}
	}
	if len(items) == 0 {
		return c, nil
	}
	c.Processed = len(items)

	amzCreds, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformAmazon)
	if err != nil {
		return c, err
	}
	blCreds, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformBrickLink)
	if err != nil {
		return c, err
	}
	now := s.now().UTC()

	amazonPrices := s.amazonPrices(ctx, s.newAmazon(ctx, amzCreds), items)
	blPrices := s.brickLinkPrices(ctx, s.newBrickLink(blCreds), items)

	var snaps []domain.PriceSnapshot
	for _, cp := range amazonPrices {
		owner := ""
		if cp.OwnsBuyBox {
			owner = "self"
		}
		snaps = append(snaps, domain.PriceSnapshot{
			SetNumber:   setForASIN(items, cp.ASIN),
			ASIN:        cp.ASIN,
			Source:      domain.SourceAmazonBuyBox,
			Price:       cp.Price,
			Currency:    cp.Currency,
			SellerCount: cp.OfferCount,
			BuyBoxOwner: owner,
			CapturedAt:  now,
		})
	}
	for set, pg := range blPrices {
		snaps = append(snaps, domain.PriceSnapshot{
			SetNumber:   set,
			Source:      domain.SourceBrickLinkSold,
			Price:       pg.AvgPrice,
			Currency:    pg.CurrencyCode,
			SellerCount: pg.UnitQuantity,
			CapturedAt:  now,
		})
	}
	if len(snaps) > 0 {
		if _, err := s.pricing.InsertPriceSnapshots(ctx, snaps); err != nil {
			return c, fmt.Errorf("store snapshots: %w", err)
		}
	}

	var results []domain.ArbitrageResult
	for _, w := range items {
		cp, okA := amazonPrices[w.ASIN]
		pg, okB := blPrices[w.SetNumber]
		if !okA || !okB {
			c.Failed++
			continue
		}
		calc := Compute(cp.Price, pg.AvgPrice, s.fees)
		results = append(results, domain.ArbitrageResult{
			ASIN:           w.ASIN,
			SetNumber:      w.SetNumber,
			AmazonPrice:    cp.Price,
			BrickLinkPrice: pg.AvgPrice,
			Fees:           calc.Fees,
			Profit:         calc.Profit,
			Margin:         calc.Margin,
			IsOpportunity:  calc.Margin >= s.minMargin,
			ComputedAt:     now,
		})
	}
	if len(results) > 0 {
		if err := s.pricing.UpsertArbitrageResults(ctx, ownerID, results); err != nil {
			return c, fmt.Errorf("store arbitrage: %w", err)
		}
	}
	c.Updated = len(results)
	s.logger.Info("pricing captured", zap.String("owner_id", ownerID), zap.Int("items", len(items)),
		zap.Int("snapshots", len(snaps)), zap.Int("priced", len(results)))
	return c, nil
}

// amazonPrices returns buy box prices keyed by ASIN. ASINs without buy box
// data, and batches that failed, are absent.
func (s *ArbitrageService) amazonPrices(ctx context.Context, api AmazonAPI, items []domain.WatchItem) map[string]amazon.CompetitivePrice {
	asins := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, w := range items {
		if !seen[w.ASIN] {
			seen[w.ASIN] = true
			asins = append(asins, w.ASIN)
		}
	}
	lim := rate.NewLimiter(s.amazonLimit, 1)
	out := map[string]amazon.CompetitivePrice{}
	for _, batch := range chunks(asins, amazon.MaxPricingASINs) {
		if err := lim.Wait(ctx); err != nil {
			return out
		}
		prices, err := api.GetCompetitivePricing(ctx, batch)
		if err != nil {
			s.logger.Warn("competitive pricing batch failed", zap.Strings("asins", batch), zap.Error(err))
			continue
		}
		for _, p := range prices {
			if p.HasBuyBoxData && p.Price.IsPositive() {
				out[p.ASIN] = p
			}
		}
	}
	return out
}

// brickLinkPrices returns the six-month new sold guide keyed by set number.
func (s *ArbitrageService) brickLinkPrices(ctx context.Context, api BrickLinkAPI, items []domain.WatchItem) map[string]*bricklink.PriceGuide {
	itemNo := map[string]string{}
	var sets []string
	for _, w := range items {
		if _, ok := itemNo[w.SetNumber]; ok {
			continue
		}
		no := w.BrickLinkItem
		if no == "" {
			no = NormalizeSetNumber(w.SetNumber)
		}
		itemNo[w.SetNumber] = no
		sets = append(sets, w.SetNumber)
	}
	opts := s.batch
	opts.Limiter = rate.NewLimiter(s.blLimit, 1)
	results := BatchFetch(ctx, sets, opts, func(ctx context.Context, set string) (*bricklink.PriceGuide, error) {
		return api.GetPriceGuide(ctx, "SET", itemNo[set], bricklink.PriceGuideOptions{
			GuideType: "sold", NewOrUsed: "N", CurrencyCode: "GBP",
		})
	})
	out := map[string]*bricklink.PriceGuide{}
	for _, r := range results {
		if r.Err != nil {
			s.logger.Warn("price guide failed", zap.String("set_number", r.ID), zap.Error(r.Err))
			continue
		}
		if r.Value != nil && r.Value.AvgPrice.IsPositive() {
			out[r.ID] = r.Value
		}
	}
	return out
}

func setForASIN(items []domain.WatchItem, asin string) string {
	for _, w := range items {
		if w.ASIN == asin {
			return w.SetNumber
		}
	}
	return ""
}
