package keepa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepaTime(t *testing.T) {
	assert.Equal(t, time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC), KeepaTime(0))
	assert.Equal(t, time.Date(2011, 1, 1, 1, 0, 0, 0, time.UTC), KeepaTime(60))
}

func TestBuyBoxHistory(t *testing.T) {
	csv := make([][]int, CSVBuyBoxShipping+1)
	csv[CSVBuyBoxShipping] = []int{0, 4999, 60, -1, 120, 5249, 180}
	pts := BuyBoxHistory(Product{CSV: csv})

	require.Len(t, pts, 2)
	assert.Equal(t, "49.99", pts[0].Price.String())
	assert.Equal(t, KeepaTime(120), pts[1].At)
	assert.Equal(t, "52.49", pts[1].Price.String())

	assert.Nil(t, BuyBoxHistory(Product{CSV: make([][]int, 3)}))
}

func TestGetProducts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/product", r.URL.Path)
		assert.Equal(t, "k", q.Get("key"))
		assert.Equal(t, "2", q.Get("domain"))
		assert.Equal(t, "B01,B02", q.Get("asin"))
		assert.Equal(t, "1", q.Get("buybox"))
		_, _ = w.Write([]byte(`{"tokensLeft":42,"refillIn":30000,"products":[{"asin":"B01","csv":[null,[1,2]]},{"asin":"B02"}]}`))
	}))
	defer ts.Close()

	c := NewClientWithBaseURL("k", ts.URL)
	products, err := c.GetProducts(context.Background(), []string{"B01", "B02"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "B01", products[0].ASIN)
	assert.Nil(t, products[0].CSV[0])
	assert.Equal(t, 42, c.TokensLeft)
	assert.Equal(t, 30*time.Second, c.RefillIn)
}

func TestGetProducts_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"tokensLeft":-5,"refillIn":12000}`))
	}))
	defer ts.Close()

	_, err := NewClientWithBaseURL("k", ts.URL).GetProducts(context.Background(), []string{"B01"}, DomainUK, 0)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl), "got %v", err)
	assert.Equal(t, 12*time.Second, rl.RefillIn)
}

func TestStatsBuyBox(t *testing.T) {
	stats := func(v int) []int {
		s := make([]int, CSVBuyBoxShipping+1)
		s[CSVBuyBoxShipping] = v
		return s
	}
	p := Product{Stats: &ProductStats{Current: stats(6499), Avg90: stats(-1)}}
	cur := CurrentBuyBox(p)
	require.True(t, cur.Valid)
	assert.Equal(t, "64.99", cur.Decimal.String())
	assert.False(t, Avg90BuyBox(p).Valid)

	assert.False(t, CurrentBuyBox(Product{}).Valid)
	assert.False(t, Avg90BuyBox(Product{Stats: &ProductStats{Avg90: []int{1}}}).Valid)
}
