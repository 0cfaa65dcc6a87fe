package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/app"
	"github.com/hwalton/brickstock/internal/config"
	"github.com/hwalton/brickstock/internal/handler"
	"github.com/hwalton/brickstock/internal/logger"
	mid "github.com/hwalton/brickstock/internal/middleware"
	"github.com/hwalton/brickstock/pkg/auth"
	"github.com/hwalton/brickstock/pkg/supabasetoolbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger config lives in cfg, so fall back to a production logger
		zap.Must(zap.NewProduction()).Fatal("load config", zap.Error(err))
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.App.MigrateOnStart {
		if err := app.Migrate(cfg.Database.URL, log); err != nil {
			log.Fatal("migrations failed", zap.Error(err))
		}
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("build app", zap.Error(err))
	}
	defer a.Close()

	d := handler.Deps{
		Auth:        auth.NewJWT(cfg.Supabase.JWTSecret, cfg.Supabase.JWTIssuer, cfg.Supabase.JWTAudience),
		Connections: a.Connect,
		Syncs:       a.Sync,
		Records:     a.Store,
		Reports:     a.Reports,
		Vinted:      a.Vinted,
		Arbitrage:   a.Arbitrage,
		Partout:     a.Partout,
		Schedule:    a.Schedule,
		Investment:  a.Investment,
		Training:    a.Training,
		Keepa:       a.Keepa,
		RRP:         a.RRP,
		Metrics:     a.Metrics.Handler(),
		Health:      a.Store.Ping,
		MinMargin:   cfg.Arbitrage.MinMargin,
		Logger:      log,
	}
	if a.Supabase != nil {
		d.Sessions = a.Supabase
	} else {
		log.Warn("SUPABASE_URL not set; login endpoints disabled")
		d.Sessions = disabledSessions{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mid.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Mount("/", handler.NewRouter(d))

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Sync.SchedulerEnabled {
		go a.Scheduler.Start(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

// disabledSessions answers login attempts when Supabase is not configured.
type disabledSessions struct{}

func (disabledSessions) SignIn(context.Context, string, string) (supabasetoolbox.Session, error) {
	return supabasetoolbox.Session{}, errors.New("supabase auth not configured")
}

func (disabledSessions) SignOut(context.Context, string) error { return nil }
