package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/store"
)

func TestPredictionsReport(t *testing.T) {
	exit := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	st := newMemStore()
	st.ranked = []store.RankedPrediction{
		{SetNumber: "75192-1", Name: "Millennium Falcon | Ultimate Collector Series Edition", Theme: "Star Wars", RRP: nullDec("649.99"),
			RetirementStatus: "retiring_soon", ExitDate: &exit, Score: 81.3, Appreciation1yr: f64(22.5), PredictedPrice1yr: nullDec("800")},
		{SetNumber: "60000-1", Name: "Fire Bike", Theme: "City", Score: 12},
	}
	svc := NewInvestmentService(st, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	md, err := svc.PredictionsReport(context.Background(), PredictionsFilter{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "# All Sets Ranked by Investment Score\n"))
	assert.Contains(t, md, "Generated 2026-03-01. Model "+ModelVersion+". 2 sets.")
	assert.Contains(t, md, "| 1 | 75192-1 | Millennium Falcon / Ultimate Colle… | Star Wars | £649.99 | £800.00 | £320.00 | +22.5% | 81.3 | 2025-12-31 | retiring_soon |")
	assert.Contains(t, md, "| 2 | 60000-1 | Fire Bike | City | - | - | - | - | 12.0 | - | - |")

	md, err = svc.PredictionsReport(context.Background(), PredictionsFilter{Label: "Wishlist", SetNumbers: []string{"60000"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "# Wishlist Ranked by Investment Score\n"))
	assert.Contains(t, md, "| 1 | 60000-1 |")
	assert.NotContains(t, md, "75192-1")
}
