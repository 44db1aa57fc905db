// knolfix checks a collection database for inconsistencies and repairs them.
//
// Usage:
//
//	knolfix --db collection.db [--config knolfix.yaml] [--report result.json]
//
// Exit codes: 0 when the check ran, 1 on errors, 2 on bad configuration and
// 3 when the database is physically corrupt.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/conorfennell/knolfix/internal/bus"
	"github.com/conorfennell/knolfix/internal/check"
	"github.com/conorfennell/knolfix/internal/collection"
	"github.com/conorfennell/knolfix/internal/config"
	"github.com/conorfennell/knolfix/internal/storage"
	"github.com/conorfennell/knolfix/internal/telemetry"
)

func main() {
	flags := pflag.NewFlagSet("knolfix", pflag.ExitOnError)
	configPath := flags.String("config", "", "Path to a YAML config file")
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "knolfix: %v\n", err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = run(ctx, cfg, os.Stdout)
	switch {
	case errors.Is(err, check.ErrCorrupt):
		fmt.Fprintln(os.Stderr, "knolfix: the collection is corrupt and cannot be repaired automatically")
		os.Exit(3)
	case err != nil:
		slog.Error("Check failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, out io.Writer) (err error) {
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Insecure: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		err = errors.Join(err, shutdown(context.Background()))
	}()

	col, err := collection.Open(ctx, cfg.DB,
		collection.WithRolloverHour(cfg.RolloverHour),
		collection.WithStorageOptions(storage.WithStmtCacheSize(cfg.StmtCacheSize)),
	)
	if err != nil {
		return err
	}
	defer col.Close()
	slog.Info("Collection opened", "path", cfg.DB)

	events := bus.New()
	if err := events.SubscribeAsync(bus.TopicProgress, func(status string) {
		fmt.Fprintf(os.Stderr, "\r%s", status)
	}, true); err != nil {
		return fmt.Errorf("failed to subscribe to progress: %w", err)
	}

	ctx, reporter := telemetry.Start(ctx, otel.Tracer("knolfix"), cfg.DB)
	defer reporter.End()

	res, err := check.Run(ctx, col, bus.NewProgressReporter(events),
		check.WithProgressLabel(cfg.ProgressLabel),
		check.WithMaxReportedProblems(cfg.MaxReportedProblems),
		check.WithTelemetry(reporter),
	)
	events.WaitAsync()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	printResult(out, res)
	if cfg.Report != "" {
		if err := writeReport(cfg.Report, cfg.DB, res); err != nil {
			return err
		}
		slog.Info("Report written", "path", cfg.Report)
	}
	return nil
}

func printResult(out io.Writer, res *check.Result) {
	if len(res.Problems) == 0 {
		fmt.Fprintln(out, "Database rebuilt and optimized.")
	} else {
		fmt.Fprintf(out, "Fixed %d problem(s):\n", len(res.Problems))
		for _, p := range res.Problems {
			fmt.Fprintf(out, "- %s\n", p)
		}
	}

	saved := res.BytesSaved * 1024
	switch {
	case saved > 0:
		fmt.Fprintf(out, "Reclaimed %s.\n", humanize.IBytes(uint64(saved)))
	case saved < 0:
		fmt.Fprintf(out, "Database grew by %s.\n", humanize.IBytes(uint64(-saved)))
	}
}
