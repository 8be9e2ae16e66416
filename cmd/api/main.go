// Package main implements the Aven support-engine API server.
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
	"time"

	"github.com/joho/godotenv"

	"github.com/avenhq/support-engine/engine/ingest"
	"github.com/avenhq/support-engine/engine/rag"
	"github.com/avenhq/support-engine/engine/scraper"
	"github.com/avenhq/support-engine/engine/search"
	"github.com/avenhq/support-engine/engine/semantic"
	"github.com/avenhq/support-engine/pkg/metrics"
	"github.com/avenhq/support-engine/pkg/mid"
	"github.com/avenhq/support-engine/pkg/ollama"
	"github.com/avenhq/support-engine/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	QdrantURL     string
	IndexName     string
	Namespace     string
	EmbedDims     int
	OllamaURL     string
	EmbedModel    string
	ChatModel     string
	ContentAPIURL string
	ContentAPIKey string
	SnapshotDir   string
	CORSOrigin    string
	RateRPS       float64
	RateBurst     int
}

func loadConfig() (Config, error) {
	cfg := Config{
		Port:          envOr("PORT", "8080"),
		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		IndexName:     envOr("INDEX_NAME", "aven-support"),
		Namespace:     envOr("NAMESPACE", "aven-faqs"),
		EmbedDims:     envIntOr("EMBED_DIMS", 768),
		OllamaURL:     envOr("OLLAMA_URL", ollama.DefaultBaseURL),
		EmbedModel:    envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:     envOr("CHAT_MODEL", "llama3.1"),
		ContentAPIURL: os.Getenv("CONTENT_API_URL"),
		ContentAPIKey: os.Getenv("CONTENT_API_KEY"),
		SnapshotDir:   envOr("SNAPSHOT_DIR", "data/snapshots"),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
		RateRPS:       envFloatOr("RATE_LIMIT_RPS", 10),
		RateBurst:     envIntOr("RATE_LIMIT_BURST", 20),
	}
	if cfg.ContentAPIURL == "" {
		return cfg, fmt.Errorf("CONTENT_API_URL is required")
	}
	return cfg, nil
}

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

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration error", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	store, err := semantic.New(cfg.QdrantURL, embedder, cfg.EmbedDims)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	snapshots, err := ingest.NewSnapshotStore(cfg.SnapshotDir)
	if err != nil {
		return err
	}

	searchSvc := search.New(store, logger)
	ragSvc := rag.New(
		searchSvc,
		ollama.NewChatClient(cfg.OllamaURL, cfg.ChatModel),
		cfg.IndexName,
		cfg.Namespace,
		logger,
	)
	orchestrator := func(snaps *ingest.SnapshotStore, opts ingest.Options) *ingest.Orchestrator {
		return ingest.New(
			scraper.NewFetcher(cfg.ContentAPIURL, cfg.ContentAPIKey),
			scraper.NewExtractor(logger),
			snaps,
			opts,
			logger,
		)
	}

	reg := metrics.New()
	srv := &server{
		cfg:          cfg,
		store:        store,
		search:       searchSvc,
		rag:          ragSvc,
		snapshots:    snapshots,
		orchestrator: orchestrator,
		metrics:      reg,
		log:          logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("POST /chat", srv.handleChat)
	mux.HandleFunc("POST /search", srv.handleSearch)
	mux.HandleFunc("POST /embeddings", srv.handleEmbed)
	mux.HandleFunc("GET /embeddings", srv.handleEmbedStats)
	mux.HandleFunc("DELETE /embeddings", srv.handleEmbedDelete)
	mux.HandleFunc("POST /scrape", srv.handleScrape)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("support-engine-api"),
		mid.RateLimit(resilience.NewLimiter(cfg.RateRPS, cfg.RateBurst)),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
