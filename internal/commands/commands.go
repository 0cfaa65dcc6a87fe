package commands

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/app"
	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/service"
	"github.com/hwalton/brickstock/migrations"
)

func RunMigrationsUp(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	return app.Migrate(cfg.Database.URL, log)
}

// RunMigrationsDown rolls back every migration. It refuses to run against
// production.
func RunMigrationsDown(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		return fmt.Errorf("refusing to roll back a production database")
	}
	m, err := migrations.New(cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Down()
}

// Sync runs one platform/kind for an owner, or everything they connected
// when platform is empty.
func Sync(ctx context.Context, out io.Writer, ownerID, platform, kind string) error {
	return withApp(ctx, func(a *app.App) error {
		var results []service.SyncResult
		switch {
		case platform == "":
			rs, err := a.Sync.SyncAll(ctx, ownerID)
			if err != nil {
				return err
			}
			results = rs
		default:
			p, err := domain.ParsePlatform(platform)
			if err != nil {
				return err
			}
			kinds := a.Sync.Kinds(p)
			if kind != "" {
				kinds = []domain.SyncKind{domain.SyncKind(kind)}
			}
			for _, k := range kinds {
				var res service.SyncResult
				if p == domain.PlatformAmazon && k == domain.SyncPricing {
					res, err = a.Arbitrage.SyncPricing(ctx, ownerID)
				} else {
					res, err = a.Sync.Run(ctx, ownerID, p, k)
				}
				if err != nil && res.SyncLogID == "" {
					return err
				}
				results = append(results, res)
			}
		}
		return printSyncResults(out, results)
	})
}

func printSyncResults(out io.Writer, results []service.SyncResult) error {
	failed := 0
	for _, r := range results {
		fmt.Fprintf(out, "%-10s %-13s %-9s processed=%d created=%d updated=%d failed=%d %s\n",
			r.Platform, r.Kind, r.Status, r.Processed, r.Created, r.Updated, r.Failed, r.Error)
		if r.Status == domain.SyncFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(results))
	}
	return nil
}

func BuildTrainingData(ctx context.Context, out io.Writer) error {
	return withApp(ctx, func(a *app.App) error {
		sum, err := a.Training.Build(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sets=%d rows=%d good=%d partial=%d insufficient=%d\n",
			sum.Sets, sum.Rows, sum.Good, sum.Partial, sum.Insufficient)
		return nil
	})
}

func ScoreSets(ctx context.Context, out io.Writer) error {
	return withApp(ctx, func(a *app.App) error {
		sum, err := a.Investment.Score(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sets=%d scored=%d written=%d model=%s\n", sum.Sets, sum.Scored, sum.Written, sum.ModelVersion)
		return nil
	})
}

func BackfillRRP(ctx context.Context, out io.Writer, skipBrickset bool) error {
	return withApp(ctx, func(a *app.App) error {
		sum, err := a.RRP.Run(ctx, skipBrickset)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "missing=%d brickset=%d amazon=%d keepa_p95=%d regional=%d still_missing=%d\n",
			sum.Missing, sum.Brickset, sum.Amazon, sum.KeepaP95, sum.Regional, sum.StillMissing)
		return nil
	})
}

// KeepaImport imports asins, or every active set's ASIN when none are given.
func KeepaImport(ctx context.Context, out io.Writer, asins []string, force bool) error {
	return withApp(ctx, func(a *app.App) error {
		for i, asin := range asins {
			asins[i] = strings.ToUpper(strings.TrimSpace(asin))
		}
		sum, err := a.Keepa.Import(ctx, service.KeepaImportOptions{ASINs: asins, Force: force})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "asins=%d already_imported=%d processed=%d snapshots=%d ok=%d failed=%d\n",
			sum.TotalASINs, sum.AlreadyImported, sum.Processed, sum.Snapshots, sum.Successful, sum.Failed)
		return nil
	})
}

// ExportMTD writes the quarter's workbook to path.
func ExportMTD(ctx context.Context, ownerID string, taxYear, quarter int, path string) error {
	return withApp(ctx, func(a *app.App) error {
		b, err := a.Reports.MTDWorkbook(ctx, ownerID, taxYear, quarter)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		a.Logger.Info("mtd workbook written", zap.String("path", path), zap.Int("bytes", len(b)))
		return nil
	})
}

func EngineerFeatures(ctx context.Context, out io.Writer) error {
	return withApp(ctx, func(a *app.App) error {
		sum, err := a.Training.EngineerFeatures(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rows=%d updated=%d features=%d\n", sum.Rows, sum.Updated, len(sum.Missing))
		return nil
	})
}

// PredictionsReport writes the ranked predictions table to path. A non-empty
// filterCSV limits the report to the sets it lists.
func PredictionsReport(ctx context.Context, filterCSV, path string) error {
	return withApp(ctx, func(a *app.App) error {
		var filter service.PredictionsFilter
		if filterCSV != "" {
			sets, err := readSetList(filterCSV)
			if err != nil {
				return err
			}
			base := filepath.Base(filterCSV)
			filter = service.PredictionsFilter{Label: strings.TrimSuffix(base, filepath.Ext(base)), SetNumbers: sets}
		}
		md, err := a.Investment.PredictionsReport(ctx, filter)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		a.Logger.Info("predictions report written", zap.String("path", path))
		return nil
	})
}

// KeepaExport writes current, 90 day average and year-ago prices for the
// sets listed in setsCSV.
func KeepaExport(ctx context.Context, setsCSV, path string) error {
	return withApp(ctx, func(a *app.App) error {
		sets, err := readSetList(setsCSV)
		if err != nil {
			return err
		}
		rows, err := a.Keepa.ExportPrices(ctx, sets)
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := writePriceExport(f, rows); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		a.Logger.Info("keepa export written", zap.String("path", path), zap.Int("sets", len(rows)))
		return nil
	})
}

func readSetList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return service.ReadSetList(f)
}

func writePriceExport(w io.Writer, rows []service.PriceExport) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"set_number", "asin", "current_price", "was_price_90d", "price_1yr_ago"})
	for _, r := range rows {
		_ = cw.Write([]string{r.SetNumber, r.ASIN, fixed(r.Current), fixed(r.Was90), fixed(r.YearAgo)})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func fixed(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
