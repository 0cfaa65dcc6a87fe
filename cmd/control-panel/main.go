package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hwalton/brickstock/internal/commands"
)

func usage() {
	fmt.Fprintln(os.Stderr, `control-panel <command> [args...]

commands:
  run-migrations-up
  run-migrations-down
  sync <owner> [platform] [kind]
  build-training-data
  engineer-features
  score-sets
  predictions-report [--filter-csv file] <out.md>
  backfill-rrp [--skip-brickset]
  keepa-import [--force] [asin...]
  keepa-export <sets.csv> <out.csv>
  export-mtd <owner> <tax-year> <quarter> <file>`)
}

type cmdHandler func(context.Context, []string) error

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	handlers := map[string]cmdHandler{
		"run-migrations-up":   handleRunMigrationsUp,
		"run-migrations-down": handleRunMigrationsDown,
		"sync":                handleSync,
		"build-training-data": handleBuildTrainingData,
		"engineer-features":   handleEngineerFeatures,
		"score-sets":          handleScoreSets,
		"predictions-report":  handlePredictionsReport,
		"backfill-rrp":        handleBackfillRRP,
		"keepa-import":        handleKeepaImport,
		"keepa-export":        handleKeepaExport,
		"export-mtd":          handleExportMTD,
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	handler, ok := handlers[cmd]
	if !ok {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := handler(ctx, args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func handleRunMigrationsUp(ctx context.Context, _ []string) error {
	return commands.RunMigrationsUp(ctx)
}

func handleRunMigrationsDown(ctx context.Context, _ []string) error {
	return commands.RunMigrationsDown(ctx)
}

func handleSync(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return fmt.Errorf("usage: sync <owner> [platform] [kind]")
	}
	platform, kind := "", ""
	if len(args) > 1 {
		platform = args[1]
	}
	if len(args) > 2 {
		kind = args[2]
	}
	return commands.Sync(ctx, os.Stdout, args[0], platform, kind)
}

func handleBuildTrainingData(ctx context.Context, _ []string) error {
	return commands.BuildTrainingData(ctx, os.Stdout)
}

func handleEngineerFeatures(ctx context.Context, _ []string) error {
	return commands.EngineerFeatures(ctx, os.Stdout)
}

func handleScoreSets(ctx context.Context, _ []string) error {
	return commands.ScoreSets(ctx, os.Stdout)
}

func handlePredictionsReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("predictions-report", flag.ContinueOnError)
	filter := fs.String("filter-csv", "", "only report sets listed in this csv")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: predictions-report [--filter-csv file] <out.md>")
	}
	return commands.PredictionsReport(ctx, *filter, fs.Arg(0))
}

func handleBackfillRRP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backfill-rrp", flag.ContinueOnError)
	skip := fs.Bool("skip-brickset", false, "use only the Amazon and Keepa fallbacks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return commands.BackfillRRP(ctx, os.Stdout, *skip)
}

func handleKeepaImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("keepa-import", flag.ContinueOnError)
	force := fs.Bool("force", false, "re-import ASINs that already have Keepa data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return commands.KeepaImport(ctx, os.Stdout, fs.Args(), *force)
}

func handleKeepaExport(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: keepa-export <sets.csv> <out.csv>")
	}
	return commands.KeepaExport(ctx, args[0], args[1])
}

func handleExportMTD(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: export-mtd <owner> <tax-year> <quarter> <file>")
	}
	year, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("tax year: %w", err)
	}
	quarter, err := strconv.Atoi(args[2])
	if err != nil || quarter < 1 || quarter > 4 {
		return fmt.Errorf("quarter must be 1-4")
	}
	return commands.ExportMTD(ctx, args[0], year, quarter, args[3])
}
