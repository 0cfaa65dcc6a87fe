package commands

import (
	"context"

	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/app"
	"github.com/hwalton/brickstock/internal/config"
	"github.com/hwalton/brickstock/internal/logger"
)

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"}), nil
}

// withApp builds the service graph, runs fn and releases it.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
