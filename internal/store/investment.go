package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hwalton/brickstock/internal/domain"
)

const setColumns = `set_number, name, theme, year, pieces, minifigs, rrp_gbp, rrp_source, us_price, de_price,
       amazon_price, asin, retirement_status, exit_date, exclusivity_tier, is_licensed`

func scanSet(row pgx.Row) (domain.LegoSet, error) {
	var s domain.LegoSet
	err := row.Scan(&s.SetNumber, &s.Name, &s.Theme, &s.Year, &s.Pieces, &s.Minifigs, &s.RRP, &s.RRPSource, &s.USPrice,
		&s.DEPrice, &s.AmazonPrice, &s.ASIN, &s.RetirementStatus, &s.ExitDate, &s.Exclusivity, &s.IsLicensed)
	return s, err
}

func (s *Store) querySets(ctx context.Context, q string, args ...any) ([]domain.LegoSet, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sets: %w", err)
	}
	defer rows.Close()

	var out []domain.LegoSet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan set: %w", err)
		}
		out = append(out, set)
	}
	return out, rows.Err()
}

// UpsertSets writes catalogue rows. RRP is only overwritten when the incoming value is set.
func (s *Store) UpsertSets(ctx context.Context, sets []domain.LegoSet) error {
	for _, w := range chunk(len(sets), s.batchSize) {
		b := &pgx.Batch{}
		for _, st := range sets[w[0]:w[1]] {
			status := st.RetirementStatus
			if status == "" {
				status = "available"
			}
			excl := st.Exclusivity
			if excl == "" {
				excl = "unknown"
			}
			b.Queue(`
INSERT INTO lego_sets (set_number, name, theme, year, pieces, minifigs, rrp_gbp, rrp_source, us_price, de_price,
    amazon_price, asin, retirement_status, exit_date, exclusivity_tier, is_licensed, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
ON CONFLICT (set_number) DO UPDATE
SET name = EXCLUDED.name, theme = EXCLUDED.theme, year = EXCLUDED.year, pieces = EXCLUDED.pieces,
    minifigs = EXCLUDED.minifigs,
    rrp_gbp = COALESCE(EXCLUDED.rrp_gbp, lego_sets.rrp_gbp),
    rrp_source = CASE WHEN EXCLUDED.rrp_gbp IS NULL THEN lego_sets.rrp_source ELSE EXCLUDED.rrp_source END,
    us_price = COALESCE(EXCLUDED.us_price, lego_sets.us_price),
    de_price = COALESCE(EXCLUDED.de_price, lego_sets.de_price),
    amazon_price = COALESCE(EXCLUDED.amazon_price, lego_sets.amazon_price),
    asin = CASE WHEN EXCLUDED.asin = '' THEN lego_sets.asin ELSE EXCLUDED.asin END,
    retirement_status = EXCLUDED.retirement_status, exit_date = EXCLUDED.exit_date,
    exclusivity_tier = EXCLUDED.exclusivity_tier, is_licensed = EXCLUDED.is_licensed, updated_at = now()`,
				st.SetNumber, st.Name, st.Theme, st.Year, st.Pieces, st.Minifigs, st.RRP, st.RRPSource, st.USPrice, st.DEPrice,
				st.AmazonPrice, st.ASIN, status, st.ExitDate, excl, st.IsLicensed)
		}
		if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("upsert sets: %w", err)
		}
	}
	return nil
}

// GetSet returns catalogue metadata for one set.
func (s *Store) GetSet(ctx context.Context, setNumber string) (domain.LegoSet, error) {
	set, err := scanSet(s.pool.QueryRow(ctx, `SELECT `+setColumns+` FROM lego_sets WHERE set_number = $1`, setNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return set, ErrNotFound
	}
	if err != nil {
		return set, fmt.Errorf("get set: %w", err)
	}
	return set, nil
}

// ScoreableSets returns sets eligible for investment scoring: on sale, retiring,
// or retired on/after retiredSince, with an RRP of at least minRRP.
func (s *Store) ScoreableSets(ctx context.Context, retiredSince time.Time, minRRP decimal.Decimal) ([]domain.LegoSet, error) {
	return s.querySets(ctx, `SELECT `+setColumns+` FROM lego_sets
WHERE rrp_gbp >= $2
  AND (retirement_status IN ('available', 'retiring_soon')
       OR (retirement_status = 'retired' AND exit_date >= $1))
ORDER BY set_number`, retiredSince, minRRP)
}

// RetiredSetsForTraining returns retired sets with a known exit date in or after minExitYear.
func (s *Store) RetiredSetsForTraining(ctx context.Context, minExitYear int, minRRP decimal.Decimal) ([]domain.LegoSet, error) {
	return s.querySets(ctx, `SELECT `+setColumns+` FROM lego_sets
WHERE retirement_status = 'retired' AND exit_date IS NOT NULL
  AND EXTRACT(YEAR FROM exit_date) >= $1 AND rrp_gbp >= $2
ORDER BY set_number`, minExitYear, minRRP)
}

// SetsMissingRRP returns sets without a UK RRP.
func (s *Store) SetsMissingRRP(ctx context.Context) ([]domain.LegoSet, error) {
	return s.querySets(ctx, `SELECT `+setColumns+` FROM lego_sets WHERE rrp_gbp IS NULL ORDER BY year, set_number`)
}

// SetsWithASIN returns active or recently retired sets that have an Amazon ASIN.
func (s *Store) SetsWithASIN(ctx context.Context, retiredSince time.Time) ([]domain.LegoSet, error) {
	return s.querySets(ctx, `SELECT `+setColumns+` FROM lego_sets
WHERE asin <> '' AND (retirement_status IN ('available', 'retiring_soon')
       OR (retirement_status = 'retired' AND exit_date >= $1))
ORDER BY set_number`, retiredSince)
}

// UpdateRRP stores a backfilled RRP and the source it came from.
func (s *Store) UpdateRRP(ctx context.Context, setNumber string, rrp decimal.Decimal, source string) error {
	_, err := s.pool.Exec(ctx, `UPDATE lego_sets SET rrp_gbp = $2, rrp_source = $3, updated_at = now() WHERE set_number = $1`,
		setNumber, rrp, source)
	if err != nil {
		return fmt.Errorf("update rrp: %w", err)
	}
	return nil
}

// Horizons are the forecast horizons after retirement.
var Horizons = []string{"6m", "1yr", "2yr", "3yr"}

// TrainingRow is one set's observed post-retirement prices and log-return targets.
type TrainingRow struct {
	SetNumber         string
	Theme             string
	RRP               decimal.Decimal
	ExitDate          time.Time
	PriceAtRetirement decimal.NullDecimal
	Prices            map[string]decimal.NullDecimal // by horizon
	Targets           map[string]*float64            // by horizon
	DataQuality       string
}

// UpsertTrainingRows writes training rows keyed on set_number.
func (s *Store) UpsertTrainingRows(ctx context.Context, rows []TrainingRow) (int, error) {
	written := 0
	for _, w := range chunk(len(rows), s.batchSize) {
		part := rows[w[0]:w[1]]
		b := &pgx.Batch{}
		for _, r := range part {
			b.Queue(`
INSERT INTO investment_training_data (set_number, theme, rrp_gbp, exit_date, price_at_retirement, price_6m, price_1yr,
    price_2yr, price_3yr, target_6m, target_1yr, target_2yr, target_3yr, data_quality, built_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
ON CONFLICT (set_number) DO UPDATE
SET theme = EXCLUDED.theme, rrp_gbp = EXCLUDED.rrp_gbp, exit_date = EXCLUDED.exit_date,
    price_at_retirement = EXCLUDED.price_at_retirement, price_6m = EXCLUDED.price_6m, price_1yr = EXCLUDED.price_1yr,
    price_2yr = EXCLUDED.price_2yr, price_3yr = EXCLUDED.price_3yr, target_6m = EXCLUDED.target_6m,
    target_1yr = EXCLUDED.target_1yr, target_2yr = EXCLUDED.target_2yr, target_3yr = EXCLUDED.target_3yr,
    data_quality = EXCLUDED.data_quality, built_at = now()`,
				r.SetNumber, r.Theme, r.RRP, r.ExitDate, r.PriceAtRetirement,
				r.Prices["6m"], r.Prices["1yr"], r.Prices["2yr"], r.Prices["3yr"],
				r.Targets["6m"], r.Targets["1yr"], r.Targets["2yr"], r.Targets["3yr"], r.DataQuality)
		}
		if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
			return written, fmt.Errorf("upsert training rows: %w", err)
		}
		written += len(part)
	}
	return written, nil
}

// ThemeTargets returns usable log-return targets per theme and horizon.
func (s *Store) ThemeTargets(ctx context.Context) (map[string]map[string][]float64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT theme, target_6m, target_1yr, target_2yr, target_3yr
FROM investment_training_data WHERE data_quality <> 'insufficient'`)
	if err != nil {
		return nil, fmt.Errorf("query theme targets: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string][]float64{}
	for rows.Next() {
		var theme string
		t := make([]*float64, 4)
		if err := rows.Scan(&theme, &t[0], &t[1], &t[2], &t[3]); err != nil {
			return nil, fmt.Errorf("scan theme targets: %w", err)
		}
		if out[theme] == nil {
			out[theme] = map[string][]float64{}
		}
		for i, h := range Horizons {
			if t[i] != nil {
				out[theme][h] = append(out[theme][h], *t[i])
			}
		}
	}
	return out, rows.Err()
}

// Quantiles are log-return quantile predictions for one horizon.
type Quantiles struct {
	P25, P50, P75 float64
}

// QuantilePredictions returns stored model quantiles by set and horizon.
func (s *Store) QuantilePredictions(ctx context.Context, setNumbers []string) (map[string]map[string]Quantiles, error) {
	out := map[string]map[string]Quantiles{}
	if len(setNumbers) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT set_number, horizon, p25, p50, p75 FROM investment_quantile_predictions WHERE set_number = ANY($1)`, setNumbers)
	if err != nil {
		return nil, fmt.Errorf("query quantiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sn, h string
		var q Quantiles
		if err := rows.Scan(&sn, &h, &q.P25, &q.P50, &q.P75); err != nil {
			return nil, fmt.Errorf("scan quantiles: %w", err)
		}
		if out[sn] == nil {
			out[sn] = map[string]Quantiles{}
		}
		out[sn][h] = q
	}
	return out, rows.Err()
}

// UpsertQuantilePredictions stores model output for one horizon.
func (s *Store) UpsertQuantilePredictions(ctx context.Context, horizon, modelVersion string, q map[string]Quantiles) error {
	b := &pgx.Batch{}
	for sn, v := range q {
		b.Queue(`
INSERT INTO investment_quantile_predictions (set_number, horizon, p25, p50, p75, model_version, predicted_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (set_number, horizon) DO UPDATE
SET p25 = EXCLUDED.p25, p50 = EXCLUDED.p50, p75 = EXCLUDED.p75, model_version = EXCLUDED.model_version, predicted_at = now()`,
			sn, horizon, v.P25, v.P50, v.P75, modelVersion)
	}
	if b.Len() == 0 {
		return nil
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upsert quantiles: %w", err)
	}
	return nil
}

// RiskFactor is one flagged concern attached to a prediction.
type RiskFactor struct {
	Factor   string `json:"factor"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Prediction is a scored set.
type Prediction struct {
	SetNumber         string              `json:"set_number"`
	Score             float64             `json:"investment_score"`
	AppreciationPct   map[string]*float64 `json:"appreciation_pct"`
	PredictedPrice1yr decimal.NullDecimal `json:"predicted_1yr_price"`
	Confidence1yr     *float64            `json:"confidence_1yr"`
	ExpectedProfit1yr decimal.NullDecimal `json:"expected_profit_1yr"`
	RiskFactors       []RiskFactor        `json:"risk_factors"`
	Features          map[string]float64  `json:"features"`
	ModelVersion      string              `json:"model_version"`
	ScoredAt          time.Time           `json:"scored_at"`
}

// UpsertPredictions writes predictions in batches keyed on set_number.
func (s *Store) UpsertPredictions(ctx context.Context, preds []Prediction) (int, error) {
	written := 0
	for _, w := range chunk(len(preds), s.batchSize) {
		part := preds[w[0]:w[1]]
		b := &pgx.Batch{}
		for _, p := range part {
			risks, err := json.Marshal(p.RiskFactors)
			if err != nil {
				return written, fmt.Errorf("marshal risk factors: %w", err)
			}
			feats, err := json.Marshal(p.Features)
			if err != nil {
				return written, fmt.Errorf("marshal features: %w", err)
			}
			b.Queue(`
INSERT INTO investment_predictions (set_number, investment_score, predicted_6m_pct, predicted_1yr_pct, predicted_2yr_pct,
    predicted_3yr_pct, predicted_1yr_price, confidence_1yr, expected_profit_1yr, risk_factors, features, model_version, scored_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (set_number) DO UPDATE
SET investment_score = EXCLUDED.investment_score, predicted_6m_pct = EXCLUDED.predicted_6m_pct,
    predicted_1yr_pct = EXCLUDED.predicted_1yr_pct, predicted_2yr_pct = EXCLUDED.predicted_2yr_pct,
    predicted_3yr_pct = EXCLUDED.predicted_3yr_pct, predicted_1yr_price = EXCLUDED.predicted_1yr_price,
    confidence_1yr = EXCLUDED.confidence_1yr, expected_profit_1yr = EXCLUDED.expected_profit_1yr,
    risk_factors = EXCLUDED.risk_factors, features = EXCLUDED.features, model_version = EXCLUDED.model_version,
    scored_at = now()`,
				p.SetNumber, p.Score, p.AppreciationPct["6m"], p.AppreciationPct["1yr"], p.AppreciationPct["2yr"],
				p.AppreciationPct["3yr"], p.PredictedPrice1yr, p.Confidence1yr, p.ExpectedProfit1yr, string(risks), string(feats),
				p.ModelVersion)
		}
		if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
			return written, fmt.Errorf("upsert predictions: %w", err)
		}
		written += len(part)
	}
	return written, nil
}

// ListPredictions returns the top scored sets.
func (s *Store) ListPredictions(ctx context.Context, minScore float64, limit int) ([]Prediction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT set_number, investment_score, predicted_6m_pct, predicted_1yr_pct, predicted_2yr_pct, predicted_3yr_pct,
       predicted_1yr_price, confidence_1yr, expected_profit_1yr, risk_factors, features, model_version, scored_at
FROM investment_predictions
WHERE investment_score >= $1
ORDER BY investment_score DESC
LIMIT $2`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var (
			p              Prediction
			a6, a1, a2, a3 *float64
			risks, feats   []byte
		)
		if err := rows.Scan(&p.SetNumber, &p.Score, &a6, &a1, &a2, &a3, &p.PredictedPrice1yr, &p.Confidence1yr,
			&p.ExpectedProfit1yr, &risks, &feats, &p.ModelVersion, &p.ScoredAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.AppreciationPct = map[string]*float64{"6m": a6, "1yr": a1, "2yr": a2, "3yr": a3}
		if err := json.Unmarshal(risks, &p.RiskFactors); err != nil {
			return nil, fmt.Errorf("decode risk factors: %w", err)
		}
		if err := json.Unmarshal(feats, &p.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetsByNumber returns catalogue rows for the given set numbers. Unknown
// numbers are left out.
func (s *Store) SetsByNumber(ctx context.Context, setNumbers []string) ([]domain.LegoSet, error) {
	if len(setNumbers) == 0 {
		return nil, nil
	}
	return s.querySets(ctx, `SELECT `+setColumns+` FROM lego_sets WHERE set_number = ANY($1) ORDER BY set_number`, setNumbers)
}

// FeatureInput is a usable training row with the catalogue fields the
// feature matrix reads.
type FeatureInput struct {
	SetNumber   string
	Theme       string
	RRP         decimal.Decimal
	ExitDate    time.Time
	Targets     map[string]*float64 // by horizon
	Pieces      int
	Minifigs    int
	Exclusivity string
	IsLicensed  bool
}

// TrainingFeatureInputs returns good and partial training rows joined with
// lego_sets, oldest exit first.
func (s *Store) TrainingFeatureInputs(ctx context.Context) ([]FeatureInput, error) {
	rows, err := s.pool.Query(ctx, `
SELECT t.set_number, t.theme, t.rrp_gbp, t.exit_date, t.target_6m, t.target_1yr, t.target_2yr, t.target_3yr,
       COALESCE(s.pieces, 0), COALESCE(s.minifigs, 0), COALESCE(s.exclusivity_tier, 'unknown'), COALESCE(s.is_licensed, false)
FROM investment_training_data t
LEFT JOIN lego_sets s ON s.set_number = t.set_number
WHERE t.data_quality IN ('good', 'partial')
ORDER BY t.exit_date, t.set_number`)
	if err != nil {
		return nil, fmt.Errorf("query feature inputs: %w", err)
	}
	defer rows.Close()

	var out []FeatureInput
	for rows.Next() {
		var (
			in FeatureInput
			t  = make([]*float64, len(Horizons))
		)
		if err := rows.Scan(&in.SetNumber, &in.Theme, &in.RRP, &in.ExitDate, &t[0], &t[1], &t[2], &t[3],
			&in.Pieces, &in.Minifigs, &in.Exclusivity, &in.IsLicensed); err != nil {
			return nil, fmt.Errorf("scan feature input: %w", err)
		}
		in.Targets = make(map[string]*float64, len(Horizons))
		for i, h := range Horizons {
			in.Targets[h] = t[i]
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateTrainingFeatures stores each set's feature map in the features
// column. Nil values are written as JSON null.
func (s *Store) UpdateTrainingFeatures(ctx context.Context, features map[string]map[string]*float64) (int, error) {
	nums := make([]string, 0, len(features))
	for n := range features {
		nums = append(nums, n)
	}
	sort.Strings(nums)

	updated := 0
	for _, w := range chunk(len(nums), s.batchSize) {
		part := nums[w[0]:w[1]]
		b := &pgx.Batch{}
		for _, n := range part {
			raw, err := json.Marshal(features[n])
			if err != nil {
				return updated, fmt.Errorf("marshal features %s: %w", n, err)
			}
			b.Queue(`UPDATE investment_training_data SET features = $2, features_built_at = now() WHERE set_number = $1`, n, string(raw))
		}
		br := s.pool.SendBatch(ctx, b)
		for range part {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return updated, fmt.Errorf("update features: %w", err)
			}
			updated += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return updated, fmt.Errorf("close features batch: %w", err)
		}
	}
	return updated, nil
}

// RankedPrediction is a stored prediction with the set's catalogue details.
type RankedPrediction struct {
	SetNumber         string
	Name              string
	Theme             string
	RRP               decimal.NullDecimal
	RetirementStatus  string
	ExitDate          *time.Time
	Score             float64
	Appreciation1yr   *float64
	PredictedPrice1yr decimal.NullDecimal
	Confidence1yr     *float64
	ModelVersion      string
}

// RankedPredictions returns every prediction, highest score first.
func (s *Store) RankedPredictions(ctx context.Context) ([]RankedPrediction, error) {
	rows, err := s.pool.Query(ctx, `
SELECT p.set_number, COALESCE(s.name, ''), COALESCE(s.theme, ''), s.rrp_gbp, COALESCE(s.retirement_status, ''), s.exit_date,
       p.investment_score, p.predicted_1yr_pct, p.predicted_1yr_price, p.confidence_1yr, p.model_version
FROM investment_predictions p
LEFT JOIN lego_sets s ON s.set_number = p.set_number
ORDER BY p.investment_score DESC, p.set_number`)
	if err != nil {
		return nil, fmt.Errorf("query ranked predictions: %w", err)
	}
	defer rows.Close()

	var out []RankedPrediction
	for rows.Next() {
		var p RankedPrediction
		if err := rows.Scan(&p.SetNumber, &p.Name, &p.Theme, &p.RRP, &p.RetirementStatus, &p.ExitDate,
			&p.Score, &p.Appreciation1yr, &p.PredictedPrice1yr, &p.Confidence1yr, &p.ModelVersion); err != nil {
			return nil, fmt.Errorf("scan ranked prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
