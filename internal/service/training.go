package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

const (
	trainingMinExitYear   = 2012
	minSnapshotsPerWindow = 3
	winsorLow, winsorHigh = 2.0, 98.0
	winsorMinValues       = 10
	snapshotSetBatch      = 100
	upsertBatch           = 200
)

// Training row data quality.
const (
	DataQualityGood         = "good"
	DataQualityPartial      = "partial"
	DataQualityInsufficient = "insufficient"
)

var minRRP = decimal.NewFromInt(5)

// milestone is a window of days around a retirement date.
type milestone struct {
	name         string
	centre, half int
}

var milestones = []milestone{
	{"retirement", 0, 15},
	{"6m", 180, 30},
	{"1yr", 365, 30},
	{"2yr", 730, 30},
	{"3yr", 1095, 30},
}

// TrainingSummary reports a training data build.
type TrainingSummary struct {
	Sets         int `json:"sets"`
	Rows         int `json:"rows"`
	Good         int `json:"good"`
	Partial      int `json:"partial"`
	Insufficient int `json:"insufficient"`
}

// TrainingDataService builds post-retirement price targets for retired sets.
type TrainingDataService struct {
	store  InvestmentStore
	logger *zap.Logger
}

func NewTrainingDataService(s InvestmentStore, logger *zap.Logger) *TrainingDataService {
	return &TrainingDataService{store: s, logger: logger.Named("training")}
}

// Build computes milestone medians and log-return targets and upserts the
// usable rows.
func (s *TrainingDataService) Build(ctx context.Context) (TrainingSummary, error) {
	var sum TrainingSummary
	sets, err := s.store.RetiredSetsForTraining(ctx, trainingMinExitYear, minRRP)
	if err != nil {
		return sum, err
	}
	sum.Sets = len(sets)
	if len(sets) == 0 {
		return sum, nil
	}
	snaps, err := loadSnapshots(ctx, s.store, sets, "", time.Date(trainingMinExitYear-1, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return sum, err
	}

	var rows []store.TrainingRow
	for _, set := range sets {
		row, ok := trainingRow(set, snaps[set.SetNumber])
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	winsoriseTargets(rows)

	seen := map[string]bool{}
	var usable []store.TrainingRow
	for _, r := range rows {
		switch r.DataQuality {
		case DataQualityGood:
			sum.Good++
		case DataQualityPartial:
			sum.Partial++
		default:
			sum.Insufficient++
			continue
		}
		if seen[r.SetNumber] {
			continue
		}
		seen[r.SetNumber] = true
		usable = append(usable, r)
	}
	for _, part := range chunks(usable, upsertBatch) {
		n, err := s.store.UpsertTrainingRows(ctx, part)
		sum.Rows += n
		if err != nil {
			return sum, err
		}
	}
	s.logger.Info("training data built", zap.Int("sets", sum.Sets), zap.Int("rows", sum.Rows),
		zap.Int("good", sum.Good), zap.Int("partial", sum.Partial), zap.Int("insufficient", sum.Insufficient))
	return sum, nil
}

// loadSnapshots fetches snapshots for sets in batches.
func loadSnapshots(ctx context.Context, st SetStore, sets []domain.LegoSet, source string, since time.Time) (map[string][]domain.PriceSnapshot, error) {
	nums := make([]string, len(sets))
	for i, s := range sets {
		nums[i] = s.SetNumber
	}
	out := map[string][]domain.PriceSnapshot{}
	for _, part := range chunks(nums, snapshotSetBatch) {
		got, err := st.SnapshotsForSets(ctx, part, source, since)
		if err != nil {
			return nil, fmt.Errorf("load snapshots: %w", err)
		}
		for k, v := range got {
			out[k] = append(out[k], v...)
		}
	}
	return out, nil
}

// trainingRow computes one set's milestone prices. Sets without snapshots
// yield no row.
func trainingRow(set domain.LegoSet, snaps []domain.PriceSnapshot) (store.TrainingRow, bool) {
	if len(snaps) == 0 || set.ExitDate == nil || !set.RRP.Valid {
		return store.TrainingRow{}, false
	}
	exit := *set.ExitDate
	rrp := set.RRP.Decimal.InexactFloat64()
	row := store.TrainingRow{
		SetNumber: set.SetNumber,
		Theme:     set.Theme,
		RRP:       set.RRP.Decimal,
		ExitDate:  exit,
		Prices:    map[string]decimal.NullDecimal{},
		Targets:   map[string]*float64{},
	}
	for _, m := range milestones {
		from := exit.AddDate(0, 0, m.centre-m.half)
		to := exit.AddDate(0, 0, m.centre+m.half)
		var window []float64
		for _, sn := range snaps {
			if !sn.CapturedAt.Before(from) && !sn.CapturedAt.After(to) {
				window = append(window, sn.Price.InexactFloat64())
			}
		}
		var price decimal.NullDecimal
		if len(window) >= minSnapshotsPerWindow {
			price = decimal.NewNullDecimal(decimal.NewFromFloat(median(window)).Round(2))
		}
		if m.name == "retirement" {
			row.PriceAtRetirement = price
			continue
		}
		row.Prices[m.name] = price
		if price.Valid && price.Decimal.IsPositive() && rrp > 0 {
			t := math.Log(price.Decimal.InexactFloat64() / rrp)
			row.Targets[m.name] = &t
		}
	}
	switch n := len(row.Targets); {
	case n == len(store.Horizons):
		row.DataQuality = DataQualityGood
	case n >= 1:
		row.DataQuality = DataQualityPartial
	default:
		row.DataQuality = DataQualityInsufficient
	}
	return row, true
}

// winsoriseTargets clamps each horizon's targets to its 2nd/98th percentiles
// when there are enough values.
func winsoriseTargets(rows []store.TrainingRow) {
	for _, h := range store.Horizons {
		var vals []float64
		for _, r := range rows {
			if t := r.Targets[h]; t != nil {
				vals = append(vals, *t)
			}
		}
		if len(vals) < winsorMinValues {
			continue
		}
		clamped := winsorise(vals, winsorLow, winsorHigh)
		i := 0
		for _, r := range rows {
			if r.Targets[h] != nil {
				r.Targets[h] = &clamped[i]
				i++
			}
		}
	}
}
