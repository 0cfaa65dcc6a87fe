package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

const (
	themeStatsMinSamples = 3
	trajectoryMinPoints  = 3
	featureMissingWarn   = 0.30
)

var exclusivityOrdinal = map[string]float64{
	"retail":         0,
	"unknown":        1,
	"limited":        2,
	"lego_exclusive": 3,
	"park_exclusive": 4,
	"promotional":    5,
}

// FeatureSummary reports a feature matrix build.
type FeatureSummary struct {
	Rows    int                `json:"rows"`
	Updated int                `json:"updated"`
	Missing map[string]float64 `json:"missing_rate"`
}

// EngineerFeatures derives the model feature matrix for every usable
// training row and stores it alongside the row.
//
// Theme statistics for a set only use sets of the same theme that retired
// strictly earlier, so no row sees its own or a later target.
func (s *TrainingDataService) EngineerFeatures(ctx context.Context) (FeatureSummary, error) {
	sum := FeatureSummary{Missing: map[string]float64{}}
	inputs, err := s.store.TrainingFeatureInputs(ctx)
	if err != nil {
		return sum, err
	}
	sum.Rows = len(inputs)
	if len(inputs) == 0 {
		return sum, nil
	}

	sets := make([]domain.LegoSet, len(inputs))
	for i, in := range inputs {
		sets[i] = domain.LegoSet{SetNumber: in.SetNumber}
	}
	snaps, err := loadSnapshots(ctx, s.store, sets, "", time.Time{})
	if err != nil {
		return sum, err
	}

	features := make(map[string]map[string]*float64, len(inputs))
	for _, in := range inputs {
		f := staticFeatures(in)
		for k, v := range themeFeatures(in, inputs) {
			f[k] = v
		}
		for k, v := range exitTrajectoryFeatures(in.ExitDate, in.RRP.InexactFloat64(), snaps[in.SetNumber]) {
			f[k] = v
		}
		features[in.SetNumber] = f
	}

	sum.Missing = missingRates(features)
	for name, rate := range sum.Missing {
		if rate > featureMissingWarn {
			s.logger.Warn("feature mostly missing", zap.String("feature", name), zap.Float64("missing_rate", rate))
		}
	}

	sum.Updated, err = s.store.UpdateTrainingFeatures(ctx, features)
	if err != nil {
		return sum, err
	}
	s.logger.Info("features engineered", zap.Int("rows", sum.Rows), zap.Int("updated", sum.Updated))
	return sum, nil
}

func fptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func staticFeatures(in store.FeatureInput) map[string]*float64 {
	rrp := in.RRP.InexactFloat64()
	f := map[string]*float64{
		"rrp_gbp":            fptr(rrp),
		"minifig_count":      fptr(float64(in.Minifigs)),
		"retirement_year":    fptr(float64(in.ExitDate.Year())),
		"retirement_quarter": fptr(float64((int(in.ExitDate.Month())-1)/3 + 1)),
		"piece_count":        nil,
		"price_per_piece":    nil,
	}
	if in.Pieces > 0 {
		f["piece_count"] = fptr(float64(in.Pieces))
		if rrp > 0 {
			f["price_per_piece"] = fptr(rrp / float64(in.Pieces))
		}
	}
	tier, ok := exclusivityOrdinal[strings.ToLower(in.Exclusivity)]
	if !ok {
		tier = exclusivityOrdinal["unknown"]
	}
	f["exclusivity_tier"] = fptr(tier)
	licensed := 0.0
	if in.IsLicensed {
		licensed = 1
	}
	f["is_licensed"] = fptr(licensed)
	return f
}

// themeFeatures summarises prior same-theme targets per horizon.
func themeFeatures(in store.FeatureInput, all []store.FeatureInput) map[string]*float64 {
	f := map[string]*float64{}
	for _, h := range store.Horizons {
		var prior []float64
		for _, o := range all {
			if o.Theme != in.Theme || !o.ExitDate.Before(in.ExitDate) {
				continue
			}
			if t := o.Targets[h]; t != nil {
				prior = append(prior, *t)
			}
		}
		f["theme_sample_size_"+h] = fptr(float64(len(prior)))
		f["theme_mean_"+h] = nil
		f["theme_median_"+h] = nil
		f["theme_std_"+h] = nil
		if len(prior) == 0 {
			continue
		}
		f["theme_mean_"+h] = fptr(mean(prior))
		f["theme_median_"+h] = fptr(median(prior))
		if len(prior) >= themeStatsMinSamples {
			f["theme_std_"+h] = fptr(stdev(prior))
		}
	}
	return f
}

// exitTrajectoryFeatures describe the price path around the exit date.
func exitTrajectoryFeatures(exit time.Time, rrp float64, snaps []domain.PriceSnapshot) map[string]*float64 {
	f := map[string]*float64{
		"discount_at_retirement": nil,
		"sellers_at_retirement":  nil,
		"amazon_buybox_at_exit":  nil,
		"momentum_90d":           nil,
		"volatility_180d":        nil,
	}
	sorted := append([]domain.PriceSnapshot(nil), snaps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CapturedAt.Before(sorted[j].CapturedAt) })

	var (
		atExit      []float64
		last        *domain.PriceSnapshot
		days, price []float64
		vol         []float64
	)
	for i := range sorted {
		sn := &sorted[i]
		d := sn.CapturedAt.Sub(exit).Hours() / 24
		p := sn.Price.InexactFloat64()
		if math.Abs(d) <= 15 {
			atExit = append(atExit, p)
			last = sn
		}
		if d > 0 && d <= 90 {
			days = append(days, d)
			price = append(price, p)
		}
		if d > 0 && d <= 180 {
			vol = append(vol, p)
		}
	}
	if len(atExit) > 0 && rrp > 0 {
		f["discount_at_retirement"] = fptr(median(atExit)/rrp - 1)
	}
	if last != nil {
		f["sellers_at_retirement"] = fptr(float64(last.SellerCount))
		amazon := 0.0
		if strings.Contains(strings.ToLower(last.BuyBoxOwner), "amazon") {
			amazon = 1
		}
		f["amazon_buybox_at_exit"] = fptr(amazon)
	}
	if len(days) >= trajectoryMinPoints {
		f["momentum_90d"] = fptr(slope(days, price))
	}
	if len(vol) >= trajectoryMinPoints {
		f["volatility_180d"] = fptr(stdev(vol))
	}
	return f
}

func missingRates(features map[string]map[string]*float64) map[string]float64 {
	missing := map[string]int{}
	for _, f := range features {
		for k, v := range f {
			if v == nil {
				missing[k]++
			} else if _, ok := missing[k]; !ok {
				missing[k] = 0
			}
		}
	}
	out := make(map[string]float64, len(missing))
	for k, n := range missing {
		out[k] = float64(n) / float64(len(features))
	}
	return out
}
