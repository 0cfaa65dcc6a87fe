// Package app wires configuration, storage, marketplace clients and services
// into one graph shared by the web server and the control panel.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/cache"
	"github.com/hwalton/brickstock/internal/config"
	"github.com/hwalton/brickstock/internal/metrics"
	"github.com/hwalton/brickstock/internal/service"
	"github.com/hwalton/brickstock/internal/store"
	"github.com/hwalton/brickstock/migrations"
	"github.com/hwalton/brickstock/pkg/brickset"
	"github.com/hwalton/brickstock/pkg/ebay"
	"github.com/hwalton/brickstock/pkg/keepa"
	"github.com/hwalton/brickstock/pkg/supabasetoolbox"
)

// App holds the constructed services. Close releases the store.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    *store.Store
	Metrics  *metrics.Sync
	Supabase *supabasetoolbox.Client

	Sync       *service.SyncService
	Scheduler  *service.Scheduler
	Connect    *service.ConnectService
	Vinted     *service.VintedImportService
	Arbitrage  *service.ArbitrageService
	Partout    *service.PartoutService
	Investment *service.InvestmentService
	Training   *service.TrainingDataService
	Keepa      *service.KeepaImportService
	RRP        *service.RRPBackfillService
	Reports    *service.ReportService
	Schedule   *service.ScheduleService
}

// Migrate applies pending migrations.
func Migrate(dbURL string, logger *zap.Logger) error {
	m, err := migrations.New(dbURL, logger.Named("migrate"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn("close migrator", zap.Error(cerr))
		}
	}()
	return m.Up()
}

// New opens the store and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	var opts []store.Option
	if cfg.App.EncryptionKey != "" {
		key, err := cfg.EncryptionKeyBytes()
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithSecretKey(key))
	} else {
		logger.Warn("ENCRYPTION_KEY not set; platform credentials are stored unencrypted")
	}
	opts = append(opts, store.WithBatchSize(cfg.Sync.BatchSize))

	st, err := store.New(ctx, cfg.Database.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c, err := cache.New(ctx, cfg.Redis.URL, logger.Named("cache"))
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Store: st, Metrics: metrics.NewSync()}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.Supabase.URL != "" {
		a.Supabase = supabasetoolbox.New(cfg.Supabase.URL, cfg.Supabase.AnonKey, httpClient)
	}

	ebayClient := ebay.NewClient(ebay.Config{
		ClientID:     cfg.Ebay.ClientID,
		ClientSecret: cfg.Ebay.ClientSecret,
		RedirectURI:  cfg.Ebay.RedirectURI,
		Sandbox:      cfg.Ebay.Sandbox,
	})
	amazonFactory := service.NewAmazonClientFactory(cfg.Amazon.LWAClientID, cfg.Amazon.LWAClientSecret, cfg.Amazon.MarketplaceID, cfg.Amazon.Endpoint)
	batch := service.BatchOptions{BatchSize: cfg.Sync.BatchSize, Concurrency: cfg.Sync.Concurrency, Delay: cfg.Sync.BatchDelay}

	syncer := service.NewSyncer(st, a.Metrics, logger, service.SyncerConfig{
		Lookback:   cfg.Sync.Lookback,
		Overlap:    cfg.Sync.Overlap,
		StaleAfter: cfg.Sync.StaleAfter,
	})
	matcher := service.NewInventoryMatcher(st, logger)
	a.Sync = service.NewSyncService(syncer, st, matcher, cfg.Sync.Concurrency, logger,
		service.NewEbaySyncService(ebayClient, st, st, st, logger),
		service.NewAmazonSyncService(amazonFactory, st, st, batch, logger),
		service.NewBrickLinkSyncService(service.NewBrickLinkClient, st, st, batch, logger),
		service.NewBrickOwlSyncService(service.NewBrickOwlClient, st, st, batch, logger),
		service.NewBricqerSyncService(service.NewBricqerClient, st, st, batch, logger),
	)

	retry := service.DefaultRetryPolicy
	retry.MaxAttempts = cfg.Sync.RetryAttempts
	retry.BaseDelay = cfg.Sync.RetryDelay
	a.Scheduler = service.NewScheduler(a.Sync, st, st, cfg.Sync.Interval, retry, cfg.Sync.Concurrency, logger)

	a.Connect = service.NewConnectService(st, st, ebayClient, logger)
	a.Vinted = service.NewVintedImportService(st, matcher, logger)
	a.Arbitrage = service.NewArbitrageService(syncer, st, st, amazonFactory, service.NewBrickLinkClient, cfg.Arbitrage.MinMargin, batch, logger)
	a.Partout = service.NewPartoutService(st, service.NewBrickLinkClient, c, batch, logger)
	a.Investment = service.NewInvestmentService(st, logger)
	a.Training = service.NewTrainingDataService(st, logger)
	a.Keepa = service.NewKeepaImportService(st, keepa.NewClient(cfg.Keepa.APIKey), cfg.Keepa.BatchSize, cfg.Keepa.BatchDelay, logger)

	var bs service.UKPriceSource
	if cfg.Brickset.APIKey != "" {
		bs = brickset.NewClient(cfg.Brickset.APIKey)
	}
	a.RRP = service.NewRRPBackfillService(st, bs, logger)

	var archive service.Archiver
	if a.Supabase != nil {
		archive = a.Supabase
	}
	a.Reports = service.NewReportService(st, archive, logger)
	a.Schedule = service.NewScheduleService(st, service.DefaultScheduleWindow)
	return a, nil
}

func (a *App) Close() {
	a.Store.Close()
}
