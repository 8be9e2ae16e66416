// Command scrape runs one ingestion cycle: fetch the support page, extract
// and validate FAQ records, persist the snapshot, and optionally hand the
// snapshot to the indexer over NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/avenhq/support-engine/engine/indexer"
	"github.com/avenhq/support-engine/engine/ingest"
	"github.com/avenhq/support-engine/engine/scraper"
	"github.com/avenhq/support-engine/pkg/natsutil"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	sourceURL := flag.String("source", envOr("SOURCE_URL", scraper.DefaultSupportURL), "support page URL")
	retries := flag.Int("retries", ingest.DefaultMaxRetries, "max full-cycle attempts")
	noSave := flag.Bool("no-save", false, "skip snapshot persistence")
	publish := flag.Bool("publish", false, "publish the snapshot to NATS for the indexer")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*sourceURL, *retries, *noSave, *publish, logger); err != nil {
		logger.Error("scrape failed", "err", err)
		os.Exit(1)
	}
}

func run(sourceURL string, retries int, noSave, publish bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	contentURL := os.Getenv("CONTENT_API_URL")
	if contentURL == "" {
		return fmt.Errorf("CONTENT_API_URL is required")
	}

	var snapshots *ingest.SnapshotStore
	if !noSave {
		var err error
		snapshots, err = ingest.NewSnapshotStore(envOr("SNAPSHOT_DIR", "data/snapshots"))
		if err != nil {
			return err
		}
	}

	o := ingest.New(
		scraper.NewFetcher(contentURL, os.Getenv("CONTENT_API_KEY")),
		scraper.NewExtractor(logger),
		snapshots,
		ingest.Options{SourceURL: sourceURL, MaxRetries: retries},
		logger,
	)

	snap, err := o.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("scrape complete", "items", snap.TotalItems, "source", snap.SourceURL)

	if publish {
		nc, err := natsutil.Connect(envOr("NATS_URL", "nats://localhost:4222"), "support-scrape", logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := natsutil.Publish(ctx, nc, indexer.SnapshotSubject, snap); err != nil {
			return fmt.Errorf("publish snapshot: %w", err)
		}
		if err := nc.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		logger.Info("snapshot handed to indexer", "subject", indexer.SnapshotSubject)
	}
	return nil
}
