package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

func retiredSet(no, theme string, rrp string, exit time.Time) domain.LegoSet {
	return domain.LegoSet{SetNumber: no, Theme: theme, RRP: nullDec(rrp), ExitDate: &exit, Pieces: 500}
}

// snapsAround adds one snapshot per price on consecutive days starting at day
// offset from exit.
func snapsAround(set string, exit time.Time, offset int, prices ...string) []domain.PriceSnapshot {
	out := make([]domain.PriceSnapshot, len(prices))
	for i, p := range prices {
		out[i] = domain.PriceSnapshot{SetNumber: set, Source: domain.SourceKeepaAmazonBuyBox, Price: dec(p),
			CapturedAt: exit.AddDate(0, 0, offset+i)}
	}
	return out
}

func TestTrainingBuild(t *testing.T) {
	exit := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newMemStore()
	st.sets = []domain.LegoSet{
		retiredSet("1000-1", "City", "100", exit),
		retiredSet("2000-1", "Star Wars", "50", exit),
		retiredSet("3000-1", "Ninjago", "40", exit),
		retiredSet("4000-1", "Ninjago", "40", exit),
	}
	for _, g := range [][]domain.PriceSnapshot{
		// partial: retirement, 6m and 1yr only
		snapsAround("1000-1", exit, -1, "100", "100", "100"),
		snapsAround("1000-1", exit, 179, "120", "130", "140"),
		snapsAround("1000-1", exit, 364, "150", "150", "150"),
		// good: every horizon
		snapsAround("2000-1", exit, 180, "60", "60", "60"),
		snapsAround("2000-1", exit, 365, "75", "75", "75"),
		snapsAround("2000-1", exit, 730, "90", "90", "90"),
		snapsAround("2000-1", exit, 1095, "100", "100", "100"),
		// insufficient: two points per window
		snapsAround("3000-1", exit, 180, "50", "50"),
		snapsAround("3000-1", exit, 365, "50", "50"),
	} {
		st.snapshots = append(st.snapshots, g...)
	}

	sum, err := NewTrainingDataService(st, zap.NewNop()).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrainingSummary{Sets: 4, Rows: 2, Good: 1, Partial: 1, Insufficient: 1}, sum)

	rows := map[string]store.TrainingRow{}
	for _, r := range st.training {
		rows[r.SetNumber] = r
	}
	require.Len(t, rows, 2)

	partial := rows["1000-1"]
	assert.Equal(t, DataQualityPartial, partial.DataQuality)
	assert.True(t, dec("100").Equal(partial.PriceAtRetirement.Decimal))
	assert.True(t, dec("130").Equal(partial.Prices["6m"].Decimal))
	require.NotNil(t, partial.Targets["6m"])
	assert.InDelta(t, math.Log(1.3), *partial.Targets["6m"], 1e-9)
	assert.InDelta(t, math.Log(1.5), *partial.Targets["1yr"], 1e-9)
	assert.Nil(t, partial.Targets["2yr"])
	assert.False(t, partial.Prices["2yr"].Valid)

	good := rows["2000-1"]
	assert.Equal(t, DataQualityGood, good.DataQuality)
	assert.InDelta(t, math.Log(2), *good.Targets["3yr"], 1e-9)
	assert.False(t, good.PriceAtRetirement.Valid)
}

func TestTrainingRow_SkipsSetsWithoutData(t *testing.T) {
	exit := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, ok := trainingRow(retiredSet("1-1", "City", "10", exit), nil)
	assert.False(t, ok)

	noRRP := retiredSet("1-1", "City", "10", exit)
	noRRP.RRP.Valid = false
	_, ok = trainingRow(noRRP, snapsAround("1-1", exit, 0, "10", "10", "10"))
	assert.False(t, ok)
}

func TestWinsoriseTargets(t *testing.T) {
	var rows []store.TrainingRow
	for i := range 20 {
		v := float64(i) / 10
		if i == 19 {
			v = 50
		}
		rows = append(rows, store.TrainingRow{Targets: map[string]*float64{"1yr": &v}})
	}
	rows = append(rows, store.TrainingRow{Targets: map[string]*float64{}})
	winsoriseTargets(rows)
	assert.Less(t, *rows[19].Targets["1yr"], 50.0)
	assert.InDelta(t, 0.5, *rows[5].Targets["1yr"], 1e-9)
	assert.Nil(t, rows[20].Targets["1yr"])
}
