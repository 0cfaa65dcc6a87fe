package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

// memStore is an in-memory stand-in for *store.Store.
type memStore struct {
	mu sync.Mutex

	creds      map[string]store.Credentials // owner|platform
	orders     map[string]domain.Order      // owner|platform|id
	txs        map[string]domain.Transaction
	logs       []domain.SyncLog
	lastOK     map[string]time.Time // owner|platform|kind
	running    map[string]bool
	states     map[string]string
	unsold     []domain.InventoryItem
	soldLines  []store.SoldLine
	links      map[string]string // inventory id -> order id
	watch      []domain.WatchItem
	snapshots  []domain.PriceSnapshot
	arbitrage  []domain.ArbitrageResult
	sets       []domain.LegoSet
	rrp        map[string]string // set -> source
	training   []store.TrainingRow
	themes     map[string]map[string][]float64
	quantiles  map[string]map[string]store.Quantiles
	preds      []store.Prediction
	featureIn  []store.FeatureInput
	features   map[string]map[string]*float64
	ranked     []store.RankedPrediction
	monthly    map[string][]store.MonthlyAmount
	txPlatform map[domain.Platform]bool
	purchases  decimal.Decimal

	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{
		creds:      map[string]store.Credentials{},
		orders:     map[string]domain.Order{},
		txs:        map[string]domain.Transaction{},
		lastOK:     map[string]time.Time{},
		running:    map[string]bool{},
		states:     map[string]string{},
		links:      map[string]string{},
		rrp:        map[string]string{},
		themes:     map[string]map[string][]float64{},
		quantiles:  map[string]map[string]store.Quantiles{},
		monthly:    map[string][]store.MonthlyAmount{},
		txPlatform: map[domain.Platform]bool{},
	}
}

func key(parts ...string) string { return strings.Join(parts, "|") }

func (m *memStore) SaveCredentials(_ context.Context, ownerID string, p domain.Platform, c store.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[key(ownerID, string(p))] = c
	return nil
}

func (m *memStore) LoadCredentials(_ context.Context, ownerID string, p domain.Platform) (store.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[key(ownerID, string(p))]
	if !ok {
		return c, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) ListConnections(_ context.Context, ownerID string) ([]store.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Connection
	for k := range m.creds {
		if o, p, _ := strings.Cut(k, "|"); o == ownerID {
			out = append(out, store.Connection{Platform: domain.Platform(p)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *memStore) ListAllConnections(context.Context) ([]store.OwnerPlatform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OwnerPlatform
	for k := range m.creds {
		o, p, _ := strings.Cut(k, "|")
		out = append(out, store.OwnerPlatform{OwnerID: o, Platform: domain.Platform(p)})
	}
	return out, nil
}

func (m *memStore) DeleteCredentials(_ context.Context, ownerID string, p domain.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(ownerID, string(p))
	if _, ok := m.creds[k]; !ok {
		return store.ErrNotFound
	}
	delete(m.creds, k)
	return nil
}

func (m *memStore) CreateOAuthState(_ context.Context, state, ownerID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = ownerID
	return nil
}

func (m *memStore) ConsumeOAuthState(_ context.Context, state string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.states[state]
	delete(m.states, state)
	return o, ok, nil
}

func (m *memStore) UpsertOrders(_ context.Context, ownerID string, orders []domain.Order) (store.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r store.UpsertResult
	if m.upsertErr != nil {
		return r, m.upsertErr
	}
	for _, o := range orders {
		k := key(ownerID, string(o.Platform), o.PlatformOrderID)
		if _, ok := m.orders[k]; ok {
			r.Updated++
		} else {
			r.Created++
		}
		m.orders[k] = o
	}
	return r, nil
}

func (m *memStore) order(ownerID string, p domain.Platform, id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[key(ownerID, string(p), id)]
	return o, ok
}

func (m *memStore) UpsertTransactions(_ context.Context, ownerID string, txs []domain.Transaction) (store.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r store.UpsertResult
	for _, t := range txs {
		k := key(ownerID, string(t.Platform), t.TransactionID)
		if _, ok := m.txs[k]; ok {
			r.Updated++
		} else {
			r.Created++
		}
		m.txs[k] = t
	}
	return r, nil
}

func (m *memStore) StartSyncLog(_ context.Context, ownerID string, p domain.Platform, k domain.SyncKind, _ time.Duration) (domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := key(ownerID, string(p), string(k))
	if m.running[rk] {
		return domain.SyncLog{}, store.ErrSyncInProgress
	}
	m.running[rk] = true
	l := domain.SyncLog{ID: "log-" + rk, OwnerID: ownerID, Platform: p, Kind: k, Status: domain.SyncRunning}
	return l, nil
}

func (m *memStore) FinishSyncLog(_ context.Context, l domain.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := key(l.OwnerID, string(l.Platform), string(l.Kind))
	delete(m.running, rk)
	if l.Status == domain.SyncCompleted {
		m.lastOK[rk] = time.Now()
	}
	m.logs = append(m.logs, l)
	return nil
}

func (m *memStore) LastSuccessfulSync(_ context.Context, ownerID string, p domain.Platform, k domain.SyncKind) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastOK[key(ownerID, string(p), string(k))]
	return t, ok, nil
}

func (m *memStore) LatestSyncPerPlatform(_ context.Context, ownerID string) ([]domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncLog
	for _, l := range m.logs {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) UnlinkedSoldLines(_ context.Context, _ string, p domain.Platform, _ time.Time) ([]store.SoldLine, error) {
	var out []store.SoldLine
	for _, l := range m.soldLines {
		if l.Platform == p {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) ListUnsoldInventory(context.Context, string) ([]domain.InventoryItem, error) {
	return m.unsold, nil
}

func (m *memStore) LinkSale(_ context.Context, _ string, line store.SoldLine, inventoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range inventoryIDs {
		if _, ok := m.links[id]; ok {
			return store.ErrNotFound
		}
	}
	for _, id := range inventoryIDs {
		m.links[id] = line.PlatformOrderID
	}
	return nil
}

func (m *memStore) ListedForSchedule(context.Context, string, time.Time) ([]domain.InventoryItem, error) {
	return m.unsold, nil
}

func (m *memStore) ListInventory(context.Context, string, store.InventoryFilter) ([]domain.InventoryItem, error) {
	return m.unsold, nil
}

func (m *memStore) ListWatchlist(context.Context, string) ([]domain.WatchItem, error) { return m.watch, nil }

func (m *memStore) InsertPriceSnapshots(_ context.Context, snaps []domain.PriceSnapshot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snaps...)
	return len(snaps), nil
}

func (m *memStore) UpsertArbitrageResults(_ context.Context, _ string, results []domain.ArbitrageResult) error {
	m.arbitrage = append(m.arbitrage, results...)
	return nil
}

func (m *memStore) SnapshotsForSets(_ context.Context, setNumbers []string, source string, since time.Time) (map[string][]domain.PriceSnapshot, error) {
	want := map[string]bool{}
	for _, s := range setNumbers {
		want[s] = true
	}
	out := map[string][]domain.PriceSnapshot{}
	for _, sn := range m.snapshots {
		if want[sn.SetNumber] && (source == "" || sn.Source == source) && !sn.CapturedAt.Before(since) {
			out[sn.SetNumber] = append(out[sn.SetNumber], sn)
		}
	}
	for _, v := range out {
		sort.SliceStable(v, func(i, j int) bool { return v[i].CapturedAt.Before(v[j].CapturedAt) })
	}
	return out, nil
}

func (m *memStore) SetsWithSnapshotSource(_ context.Context, source string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, sn := range m.snapshots {
		if sn.Source == source {
			out[sn.SetNumber] = true
		}
	}
	return out, nil
}

func (m *memStore) ScoreableSets(context.Context, time.Time, decimal.Decimal) ([]domain.LegoSet, error) {
	return m.sets, nil
}

func (m *memStore) RetiredSetsForTraining(context.Context, int, decimal.Decimal) ([]domain.LegoSet, error) {
	return m.sets, nil
}

func (m *memStore) SetsMissingRRP(context.Context) ([]domain.LegoSet, error) {
	var out []domain.LegoSet
	for _, s := range m.sets {
		if !s.RRP.Valid {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) SetsWithASIN(context.Context, time.Time) ([]domain.LegoSet, error) {
	var out []domain.LegoSet
	for _, s := range m.sets {
		if s.ASIN != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) UpdateRRP(_ context.Context, setNumber string, rrp decimal.Decimal, source string) error {
	m.rrp[setNumber] = source + ":" + rrp.StringFixed(2)
	return nil
}

func (m *memStore) UpsertTrainingRows(_ context.Context, rows []store.TrainingRow) (int, error) {
	m.training = append(m.training, rows...)
	return len(rows), nil
}

func (m *memStore) ThemeTargets(context.Context) (map[string]map[string][]float64, error) {
	return m.themes, nil
}

func (m *memStore) QuantilePredictions(context.Context, []string) (map[string]map[string]store.Quantiles, error) {
	return m.quantiles, nil
}

func (m *memStore) UpsertPredictions(_ context.Context, preds []store.Prediction) (int, error) {
	m.preds = append(m.preds, preds...)
	return len(preds), nil
}

func (m *memStore) TrainingFeatureInputs(context.Context) ([]store.FeatureInput, error) {
	return m.featureIn, nil
}

func (m *memStore) UpdateTrainingFeatures(_ context.Context, f map[string]map[string]*float64) (int, error) {
	if m.features == nil {
		m.features = map[string]map[string]*float64{}
	}
	for k, v := range f {
		m.features[k] = v
	}
	return len(f), nil
}

func (m *memStore) RankedPredictions(context.Context) ([]store.RankedPrediction, error) {
	return m.ranked, nil
}

func (m *memStore) SetsByNumber(_ context.Context, nums []string) ([]domain.LegoSet, error) {
	want := map[string]bool{}
	for _, n := range nums {
		want[n] = true
	}
	var out []domain.LegoSet
	for _, s := range m.sets {
		if want[s.SetNumber] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) MonthlySales(context.Context, string, time.Time, time.Time) ([]store.MonthlyAmount, error) {
	return m.monthly["sales"], nil
}

func (m *memStore) MonthlyOrderFees(context.Context, string, time.Time, time.Time) ([]store.MonthlyAmount, error) {
	return m.monthly["order_fees"], nil
}

func (m *memStore) MonthlyTransactionFees(context.Context, string, time.Time, time.Time) ([]store.MonthlyAmount, error) {
	return m.monthly["tx_fees"], nil
}

func (m *memStore) MonthlyRefunds(context.Context, string, time.Time, time.Time) ([]store.MonthlyAmount, error) {
	return m.monthly["refunds"], nil
}

func (m *memStore) MonthlyCOG(context.Context, string, time.Time, time.Time) ([]store.MonthlyAmount, error) {
	return m.monthly["cog"], nil
}

func (m *memStore) PurchaseTotal(context.Context, string, time.Time, time.Time) (decimal.Decimal, error) {
	return m.purchases, nil
}

func (m *memStore) TransactionPlatforms(context.Context, string) (map[domain.Platform]bool, error) {
	return m.txPlatform, nil
}

func (m *memStore) InventoryStats(context.Context, string) (store.InventoryStats, error) {
	return store.InventoryStats{CountByStatus: map[domain.InventoryStatus]int{domain.InventoryListed: len(m.unsold)}}, nil
}

func (m *memStore) OrderStatsSince(context.Context, string, time.Time) (store.OrderStats, error) {
	return store.OrderStats{Count: len(m.orders)}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
