// Command backfill loads a processed snapshot file and writes it to the
// vector index directly, bypassing NATS. Useful for reindexing after an index
// rebuild or for loading a historical snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/avenhq/support-engine/engine/indexer"
	"github.com/avenhq/support-engine/engine/ingest"
	"github.com/avenhq/support-engine/engine/semantic"
	"github.com/avenhq/support-engine/pkg/ollama"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	godotenv.Load()

	file := flag.String("file", "", "processed snapshot file (default: newest in SNAPSHOT_DIR)")
	batchSize := flag.Int("batch", indexer.DefaultBatchSize, "records per upsert batch")
	recreate := flag.Bool("recreate", false, "drop and recreate the index first")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*file, *batchSize, *recreate, logger); err != nil {
		logger.Error("backfill failed", "err", err)
		os.Exit(1)
	}
}

func run(file string, batchSize int, recreate bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if file == "" {
		snapshots, err := ingest.NewSnapshotStore(envOr("SNAPSHOT_DIR", "data/snapshots"))
		if err != nil {
			return err
		}
		file, err = snapshots.LatestProcessed()
		if err != nil {
			return err
		}
	}
	snap, err := ingest.LoadProcessed(file)
	if err != nil {
		return err
	}
	logger.Info("snapshot loaded", "file", file, "items", snap.TotalItems)

	index := envOr("INDEX_NAME", "aven-support")
	embedder := ollama.NewEmbedClient(envOr("OLLAMA_URL", ollama.DefaultBaseURL), envOr("EMBED_MODEL", "nomic-embed-text"))
	store, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), embedder, envIntOr("EMBED_DIMS", 768))
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	if recreate {
		if err := store.DeleteIndex(ctx, index); err != nil {
			logger.Warn("delete index", "err", err)
		}
	}
	if err := store.CreateIndex(ctx, index); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}

	records := indexer.ConvertToUpsertRecords(snap.FAQs, snap.SourceURL, snap.ScrapedAt)
	writer := indexer.NewWriter(store, index, envOr("NAMESPACE", "aven-faqs"), logger)
	result := writer.BatchUpsert(ctx, records, batchSize)

	logger.Info("backfill complete",
		"processed", result.ProcessedCount,
		"failed", result.FailedCount,
		"duration", result.ProcessingTime,
	)
	if !result.Success {
		for _, e := range result.Errors {
			logger.Error("batch failed", "batch", e.Batch, "count", e.Count, "err", e.Err)
		}
		return fmt.Errorf("%d of %d records failed", result.FailedCount, len(records))
	}
	return nil
}
