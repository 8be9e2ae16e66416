// Command indexer consumes validated snapshots from NATS and writes them to
// the vector index in rate-limited batches.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/avenhq/support-engine/engine/indexer"
	"github.com/avenhq/support-engine/engine/semantic"
	"github.com/avenhq/support-engine/pkg/metrics"
	"github.com/avenhq/support-engine/pkg/natsutil"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("indexer exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	index := envOr("INDEX_NAME", "aven-support")
	namespace := envOr("NAMESPACE", "aven-faqs")
	batchSize := envIntOr("BATCH_SIZE", indexer.DefaultBatchSize)

	embedder := ollama.NewEmbedClient(envOr("OLLAMA_URL", ollama.DefaultBaseURL), envOr("EMBED_MODEL", "nomic-embed-text"))
	store, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), embedder, envIntOr("EMBED_DIMS", 768))
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	if err := store.CreateIndex(ctx, index); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}

	nc, err := natsutil.Connect(envOr("NATS_URL", "nats://localhost:4222"), "support-indexer", logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	writer := indexer.NewWriter(store, index, namespace, logger)
	sub, err := indexer.StartConsumer(nc, writer, batchSize, logger)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	reg := metrics.New()
	reg.Gauge("indexer_up", "Set to 1 while the consumer is running.").Set(1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	metricsSrv := &http.Server{Addr: ":" + envOr("METRICS_PORT", "9091"), Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	defer metricsSrv.Close()

	logger.Info("indexer running",
		"subject", indexer.SnapshotSubject,
		"index", index,
		"namespace", namespace,
		"batch_size", batchSize,
	)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
