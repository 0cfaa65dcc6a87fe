package service

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID  string
	Rev int
}

func TestPaginate_DedupesKeepingLastValue(t *testing.T) {
	pages := map[string]struct {
		items []rec
		next  string
	}{
		"":  {[]rec{{"a", 1}, {"b", 1}}, "2"},
		"2": {[]rec{{"b", 2}, {"c", 1}}, "3"},
		"3": {[]rec{{"a", 3}}, ""},
	}
	calls := 0
	got, err := Paginate(context.Background(), func(_ context.Context, cursor string) ([]rec, string, error) {
		calls++
		p := pages[cursor]
		return p.items, p.next, nil
	}, func(r rec) string { return r.ID })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []rec{{"a", 3}, {"b", 2}, {"c", 1}}, got)
}

func TestPaginate_RepeatedCursor(t *testing.T) {
	_, err := Paginate(context.Background(), func(_ context.Context, cursor string) ([]rec, string, error) {
		return []rec{{"x", 1}}, "same", nil
	}, func(r rec) string { return r.ID })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated")
}

func TestPaginate_ReturnsPartialOnError(t *testing.T) {
	boom := errors.New("boom")
	got, err := Paginate(context.Background(), func(_ context.Context, cursor string) ([]rec, string, error) {
		if cursor == "" {
			return []rec{{"a", 1}}, "next", nil
		}
		return nil, "", boom
	}, func(r rec) string { return r.ID })
	require.ErrorIs(t, err, boom)
	assert.Len(t, got, 1)
}

func TestBatchFetch_AllSettledInOrder(t *testing.T) {
	ids := []int{1, 2, 3, 4, 5, 6, 7}
	var inFlight, peak atomic.Int32
	res := BatchFetch(context.Background(), ids, BatchOptions{BatchSize: 3, Concurrency: 2}, func(_ context.Context, id int) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if id%3 == 0 {
			return "", errors.New("fail " + strconv.Itoa(id))
		}
		return "v" + strconv.Itoa(id), nil
	})

	require.Len(t, res, len(ids))
	for i, r := range res {
		assert.Equal(t, ids[i], r.ID)
		if r.ID%3 == 0 {
			assert.Error(t, r.Err)
		} else {
			require.NoError(t, r.Err)
			assert.Equal(t, "v"+strconv.Itoa(r.ID), r.Value)
		}
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBatchFetch_CancelledMarksRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	res := BatchFetch(ctx, []int{1, 2, 3, 4}, BatchOptions{BatchSize: 2, Concurrency: 2, Delay: time.Hour}, func(_ context.Context, id int) (int, error) {
		calls.Add(1)
		if id == 2 {
			cancel()
		}
		return id, nil
	})
	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[2].Err, context.Canceled)
	assert.ErrorIs(t, res[3].Err, context.Canceled)
}

func TestChunks(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks([]int{1, 2, 3, 4, 5}, 2))
	assert.Nil(t, chunks([]int{}, 2))
	assert.Equal(t, [][]int{{1, 2}}, chunks([]int{1, 2}, 0))
}
