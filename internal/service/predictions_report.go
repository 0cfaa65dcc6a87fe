package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/store"
)

// maxBuyRatio is the share of the predicted 1yr price worth paying today.
var maxBuyRatio = decimal.RequireFromString("0.4")

// PredictionsFilter narrows the report to listed sets. An empty filter
// reports every prediction.
type PredictionsFilter struct {
	Label      string
	SetNumbers []string
}

// PredictionsReport renders stored predictions, best first, as a markdown table.
func (s *InvestmentService) PredictionsReport(ctx context.Context, filter PredictionsFilter) (string, error) {
	preds, err := s.store.RankedPredictions(ctx)
	if err != nil {
		return "", err
	}
	if len(filter.SetNumbers) > 0 {
		want := make(map[string]bool, len(filter.SetNumbers))
		for _, n := range filter.SetNumbers {
			want[NormalizeSetNumber(n)] = true
		}
		kept := preds[:0:0]
		for _, p := range preds {
			if want[p.SetNumber] {
				kept = append(kept, p)
			}
		}
		preds = kept
	}

	title := "All Sets Ranked by Investment Score"
	if filter.Label != "" {
		title = filter.Label + " Ranked by Investment Score"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Generated %s. Model %s. %d sets.\n\n", s.now().UTC().Format("2006-01-02"), ModelVersion, len(preds))
	b.WriteString("| # | Set | Name | Theme | RRP | Pred 1yr Price | Max Buy | Pred 1yr % | Score | Retirement Date | Status |\n")
	b.WriteString("|---|-----|------|-------|-----|----------------|---------|------------|-------|-----------------|--------|\n")
	for i, p := range preds {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %s | %s | %.1f | %s | %s |\n",
			i+1, p.SetNumber, cell(p.Name, 35), cell(p.Theme, 22), gbp(p.RRP), gbp(p.PredictedPrice1yr),
			maxBuy(p), pct(p.Appreciation1yr), p.Score, exitDate(p), orDash(p.RetirementStatus))
	}
	s.logger.Info("predictions report built", zap.Int("sets", len(preds)), zap.String("filter", filter.Label))
	return b.String(), nil
}

// cell truncates to n runes and escapes table pipes.
func cell(s string, n int) string {
	s = strings.ReplaceAll(s, "|", "/")
	if r := []rune(s); len(r) > n {
		s = string(r[:n-1]) + "…"
	}
	return orDash(s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func gbp(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return "£" + d.Decimal.StringFixed(2)
}

func maxBuy(p store.RankedPrediction) string {
	if !p.PredictedPrice1yr.Valid {
		return "-"
	}
	return gbp(decimal.NewNullDecimal(p.PredictedPrice1yr.Decimal.Mul(maxBuyRatio)))
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", *v)
}

func exitDate(p store.RankedPrediction) string {
	if p.ExitDate == nil {
		return "-"
	}
	return p.ExitDate.Format("2006-01-02")
}
