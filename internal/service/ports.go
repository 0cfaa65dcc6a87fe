package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

// The interfaces below are the slices of *store.Store each service uses.

type SyncLogStore interface {
	StartSyncLog(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind, staleAfter time.Duration) (domain.SyncLog, error)
	FinishSyncLog(ctx context.Context, l domain.SyncLog) error
	LastSuccessfulSync(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind) (time.Time, bool, error)
}

type CredentialStore interface {
	LoadCredentials(ctx context.Context, ownerID string, platform domain.Platform) (store.Credentials, error)
	SaveCredentials(ctx context.Context, ownerID string, platform domain.Platform, c store.Credentials) error
}

type OrderStore interface {
	UpsertOrders(ctx context.Context, ownerID string, orders []domain.Order) (store.UpsertResult, error)
}

type TransactionStore interface {
	UpsertTransactions(ctx context.Context, ownerID string, txs []domain.Transaction) (store.UpsertResult, error)
}

type InventoryLinkStore interface {
	UnlinkedSoldLines(ctx context.Context, ownerID string, platform domain.Platform, since time.Time) ([]store.SoldLine, error)
	ListUnsoldInventory(ctx context.Context, ownerID string) ([]domain.InventoryItem, error)
	LinkSale(ctx context.Context, ownerID string, line store.SoldLine, inventoryIDs []string) error
}

type PricingStore interface {
	ListWatchlist(ctx context.Context, ownerID string) ([]domain.WatchItem, error)
	InsertPriceSnapshots(ctx context.Context, snaps []domain.PriceSnapshot) (int, error)
	UpsertArbitrageResults(ctx context.Context, ownerID string, results []domain.ArbitrageResult) error
}

type SetStore interface {
	ScoreableSets(ctx context.Context, retiredSince time.Time, minRRP decimal.Decimal) ([]domain.LegoSet, error)
	RetiredSetsForTraining(ctx context.Context, minExitYear int, minRRP decimal.Decimal) ([]domain.LegoSet, error)
	SetsMissingRRP(ctx context.Context) ([]domain.LegoSet, error)
	SetsWithASIN(ctx context.Context, retiredSince time.Time) ([]domain.LegoSet, error)
	SetsByNumber(ctx context.Context, setNumbers []string) ([]domain.LegoSet, error)
	UpdateRRP(ctx context.Context, setNumber string, rrp decimal.Decimal, source string) error
	SnapshotsForSets(ctx context.Context, setNumbers []string, source string, since time.Time) (map[string][]domain.PriceSnapshot, error)
	SetsWithSnapshotSource(ctx context.Context, source string) (map[string]bool, error)
	InsertPriceSnapshots(ctx context.Context, snaps []domain.PriceSnapshot) (int, error)
}

type InvestmentStore interface {
	SetStore
	UpsertTrainingRows(ctx context.Context, rows []store.TrainingRow) (int, error)
	ThemeTargets(ctx context.Context) (map[string]map[string][]float64, error)
	QuantilePredictions(ctx context.Context, setNumbers []string) (map[string]map[string]store.Quantiles, error)
	UpsertPredictions(ctx context.Context, preds []store.Prediction) (int, error)
	TrainingFeatureInputs(ctx context.Context) ([]store.FeatureInput, error)
	UpdateTrainingFeatures(ctx context.Context, features map[string]map[string]*float64) (int, error)
	RankedPredictions(ctx context.Context) ([]store.RankedPrediction, error)
}
