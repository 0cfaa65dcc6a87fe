package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hwalton/brickstock/internal/cache"
	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/pkg/bricklink"
)

const (
	partoutCacheTTL    = 7 * 24 * time.Hour
	partoutMinRatio    = 1.5
	partoutMinCoverage = 0.8
)

// Partout recommendations.
const (
	RecommendPartout      = "partout"
	RecommendSellComplete = "sell_complete"
)

// PartValue is the priced contribution of one lot to a partout.
type PartValue struct {
	ItemNo    string          `json:"item_no"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	ColorID   int             `json:"color_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	// PriceSource is "sold", "stock" or empty when unpriced.
	PriceSource string `json:"price_source,omitempty"`
}

// PartoutResult compares a set's part-out value with its complete price.
type PartoutResult struct {
	SetNumber      string              `json:"set_number"`
	Condition      string              `json:"condition"`
	POV            decimal.Decimal     `json:"pov"`
	SetPrice       decimal.NullDecimal `json:"set_price"`
	Ratio          *float64            `json:"ratio"`
	TotalParts     int                 `json:"total_parts"`
	PricedParts    int                 `json:"priced_parts"`
	Coverage       float64             `json:"coverage"`
	Recommendation string              `json:"recommendation"`
	Parts          []PartValue         `json:"parts"`
}

// PartoutService values sets by their BrickLink parts. Subsets and price
// guides are cached for a week.
type PartoutService struct {
	creds        CredentialStore
	newBrickLink BrickLinkClientFactory
	cache        cache.Cache
	batch        BatchOptions
	limit        rate.Limit
	logger       *zap.Logger
}

func NewPartoutService(creds CredentialStore, factory BrickLinkClientFactory, c cache.Cache, batch BatchOptions, logger *zap.Logger) *PartoutService {
	return &PartoutService{
		creds:        creds,
		newBrickLink: factory,
		cache:        c,
		batch:        batch,
		limit:        brickLinkRate,
		logger:       logger.Named("partout"),
	}
}

func conditionCode(condition string) (string, error) {
	switch strings.ToLower(condition) {
	case "", "new", "n":
		return "N", nil
	case "used", "u":
		return "U", nil
	}
	return "", fmt.Errorf("unknown condition %q", condition)
}

// Value computes the partout value of setNumber in condition ("new" or "used").
func (s *PartoutService) Value(ctx context.Context, ownerID, setNumber, condition string) (PartoutResult, error) {
	cond, err := conditionCode(condition)
	if err != nil {
		return PartoutResult{}, err
	}
	creds, err := loadCredentials(ctx, s.creds, ownerID, domain.PlatformBrickLink)
	if err != nil {
		return PartoutResult{}, err
	}
	api := s.newBrickLink(creds)
	no := NormalizeSetNumber(setNumber)
	res := PartoutResult{SetNumber: no, Condition: map[string]string{"N": "new", "U": "used"}[cond], POV: decimal.Zero}

	parts, err := s.subsets(ctx, api, no)
	if err != nil {
		return res, err
	}
	if len(parts) == 0 {
		return res, fmt.Errorf("set %s has no parts", no)
	}

	opts := s.batch
	opts.Limiter = rate.NewLimiter(s.limit, 1)
	priced := BatchFetch(ctx, parts, opts, func(ctx context.Context, p bricklink.SubsetEntry) (PartValue, error) {
		return s.partValue(ctx, api, p, cond)
	})
	for _, r := range priced {
		pv := r.Value
		if r.Err != nil {
			s.logger.Debug("part price failed", zap.String("item_no", r.ID.Item.No), zap.Error(r.Err))
			pv = PartValue{ItemNo: r.ID.Item.No, Name: r.ID.Item.Name, Type: r.ID.Item.Type, ColorID: r.ID.ColorID, Quantity: r.ID.Quantity}
		}
		res.TotalParts += pv.Quantity
		if pv.PriceSource != "" {
			res.PricedParts += pv.Quantity
			res.POV = res.POV.Add(pv.Total)
		}
		res.Parts = append(res.Parts, pv)
	}
	res.POV = round2(res.POV)
	if res.TotalParts > 0 {
		res.Coverage = float64(res.PricedParts) / float64(res.TotalParts)
	}

	if pg, err := s.priceGuide(ctx, api, "SET", no, 0, cond, "sold"); err != nil {
		s.logger.Warn("set price guide failed", zap.String("set_number", no), zap.Error(err))
	} else if pg.AvgPrice.IsPositive() {
		res.SetPrice = decimal.NewNullDecimal(pg.AvgPrice)
		r := res.POV.Div(pg.AvgPrice).Round(2).InexactFloat64()
		res.Ratio = &r
	}
	res.Recommendation = recommend(res.Ratio, res.Coverage)
	return res, nil
}

func recommend(ratio *float64, coverage float64) string {
	if ratio != nil && *ratio >= partoutMinRatio && coverage >= partoutMinCoverage {
		return RecommendPartout
	}
	return RecommendSellComplete
}

// partValue prices one lot from the sold guide, falling back to the stock guide.
func (s *PartoutService) partValue(ctx context.Context, api BrickLinkAPI, p bricklink.SubsetEntry, cond string) (PartValue, error) {
	pv := PartValue{ItemNo: p.Item.No, Name: p.Item.Name, Type: p.Item.Type, ColorID: p.ColorID, Quantity: p.Quantity}
	for _, guide := range []string{"sold", "stock"} {
		pg, err := s.priceGuide(ctx, api, p.Item.Type, p.Item.No, p.ColorID, cond, guide)
		if err != nil {
			return pv, err
		}
		if pg.AvgPrice.IsPositive() {
			pv.UnitPrice = pg.AvgPrice
			pv.Total = pg.AvgPrice.Mul(decimalInt(p.Quantity))
			pv.PriceSource = guide
			return pv, nil
		}
	}
	return pv, nil
}

func (s *PartoutService) subsets(ctx context.Context, api BrickLinkAPI, no string) ([]bricklink.SubsetEntry, error) {
	key := "partout:subsets:" + no
	var parts []bricklink.SubsetEntry
	if ok, err := cache.GetJSON(ctx, s.cache, key, &parts); err != nil {
		s.logger.Warn("cache read", zap.String("key", key), zap.Error(err))
	} else if ok {
		return parts, nil
	}
	parts, err := api.GetSubsets(ctx, "SET", no)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, parts, partoutCacheTTL); err != nil {
		s.logger.Warn("cache write", zap.String("key", key), zap.Error(err))
	}
	return parts, nil
}

func (s *PartoutService) priceGuide(ctx context.Context, api BrickLinkAPI, itemType, no string, color int, cond, guide string) (*bricklink.PriceGuide, error) {
	key := fmt.Sprintf("partout:pg:%s:%s:%d:%s:%s", strings.ToUpper(itemType), no, color, cond, guide)
	var pg bricklink.PriceGuide
	if ok, err := cache.GetJSON(ctx, s.cache, key, &pg); err != nil {
		s.logger.Warn("cache read", zap.String("key", key), zap.Error(err))
	} else if ok {
		return &pg, nil
	}
	got, err := api.GetPriceGuide(ctx, itemType, no, bricklink.PriceGuideOptions{
		GuideType: guide, NewOrUsed: cond, ColorID: color, CurrencyCode: "GBP",
	})
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, got, partoutCacheTTL); err != nil {
		s.logger.Warn("cache write", zap.String("key", key), zap.Error(err))
	}
	return got, nil
}
