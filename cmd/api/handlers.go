package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/engine/indexer"
	"github.com/avenhq/support-engine/engine/ingest"
	"github.com/avenhq/support-engine/engine/rag"
	"github.com/avenhq/support-engine/engine/search"
	"github.com/avenhq/support-engine/engine/semantic"
	"github.com/avenhq/support-engine/pkg/metrics"
)

// vectorStore is the slice of semantic.Store the handlers use. An interface
// so handler tests can run against a fake.
type vectorStore interface {
	indexer.VectorWriter
	CreateIndex(ctx context.Context, index string) error
	DeleteIndex(ctx context.Context, index string) error
	Stats(ctx context.Context, index string) (domain.IndexStats, error)
}

type server struct {
	cfg          Config
	store        vectorStore
	search       *search.Service
	rag          *rag.Service
	snapshots    *ingest.SnapshotStore
	orchestrator func(*ingest.SnapshotStore, ingest.Options) *ingest.Orchestrator
	metrics      *metrics.Registry
	log          *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /chat.
type chatRequest struct {
	Message        string     `json:"message"`
	Conversation   []rag.Turn `json:"conversation,omitempty"`
	IncludeContext *bool      `json:"includeContext,omitempty"`
	Temperature    float64    `json:"temperature,omitempty"`
	Model          string     `json:"model,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.metrics.Counter("chat_requests_total", "Chat requests received.").Inc()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.rag.Answer(r.Context(), rag.Request{
		Message:      req.Message,
		Conversation: req.Conversation,
		SkipContext:  req.IncludeContext != nil && !*req.IncludeContext,
		Temperature:  req.Temperature,
		Model:        req.Model,
	})
	if err != nil {
		s.log.Error("chat answer failed", "err", err)
		writeError(w, statusFor(err), "failed to generate answer")
		return
	}
	if !resp.Metadata.ContextUsed {
		s.metrics.Counter("chat_degraded_total", "Chat answers produced without retrieval context.").Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

// searchRequest is the JSON body for POST /search.
type searchRequest struct {
	Query      string            `json:"query"`
	TopK       int               `json:"topK,omitempty"`
	Category   string            `json:"category,omitempty"`
	Categories []string          `json:"categories,omitempty"`
	SearchType string            `json:"searchType,omitempty"`
	DocumentID string            `json:"documentId,omitempty"`
	Filter     map[string]string `json:"filter,omitempty"`
}

type searchResponse struct {
	Results        []search.Result `json:"results"`
	TotalResults   int             `json:"totalResults"`
	ProcessingTime string          `json:"processingTime"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := search.Config{
		TopK:      req.TopK,
		Namespace: s.cfg.Namespace,
		Filter:    semantic.Filter{Match: req.Filter},
	}

	strategy := req.SearchType
	if strategy == "" {
		switch {
		case len(req.Categories) > 0:
			strategy = "categories"
		case req.Category != "":
			strategy = "category"
		default:
			strategy = "semantic"
		}
	}
	s.metrics.Counter("search_requests_total", "Search requests by strategy.", "strategy", strategy).Inc()

	if strategy != "similar" && req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	start := time.Now()
	var (
		results []search.Result
		err     error
	)
	switch strategy {
	case "semantic":
		results, err = s.search.Semantic(r.Context(), s.cfg.IndexName, req.Query, cfg)
	case "hybrid":
		results, err = s.search.Hybrid(r.Context(), s.cfg.IndexName, req.Query, cfg)
	case "rerank":
		cfg.Rerank = true
		results, err = s.search.Semantic(r.Context(), s.cfg.IndexName, req.Query, cfg)
	case "category":
		if req.Category == "" {
			writeError(w, http.StatusBadRequest, "category is required for category search")
			return
		}
		results, err = s.search.Category(r.Context(), s.cfg.IndexName, req.Query, domain.Category(req.Category), cfg)
	case "categories":
		if len(req.Categories) == 0 {
			writeError(w, http.StatusBadRequest, "categories is required for multi-category search")
			return
		}
		cats := make([]domain.Category, len(req.Categories))
		for i, c := range req.Categories {
			cats[i] = domain.Category(c)
		}
		results, err = s.search.MultiCategory(r.Context(), s.cfg.IndexName, req.Query, cats, cfg)
	case "similar":
		if req.DocumentID == "" {
			writeError(w, http.StatusBadRequest, "documentId is required for similarity search")
			return
		}
		results, err = s.search.FindSimilar(r.Context(), s.cfg.IndexName, req.DocumentID, cfg)
	default:
		writeError(w, http.StatusBadRequest, "unknown searchType: "+strategy)
		return
	}
	if err != nil {
		s.log.Error("search failed", "strategy", strategy, "err", err)
		writeError(w, statusFor(err), "search failed")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results:        results,
		TotalResults:   len(results),
		ProcessingTime: time.Since(start).String(),
	})
}

// embedRequest is the JSON body for POST /embeddings.
type embedRequest struct {
	DataFile      string `json:"dataFile,omitempty"`
	IndexName     string `json:"indexName,omitempty"`
	Namespace     string `json:"namespace,omitempty"`
	ForceRecreate bool   `json:"forceRecreate,omitempty"`
	BatchSize     int    `json:"batchSize,omitempty"`
}

type embedResponse struct {
	Success   bool                `json:"success"`
	Processed int                 `json:"processed"`
	Failed    int                 `json:"failed"`
	Errors    []domain.BatchError `json:"errors,omitempty"`
	Stats     domain.IndexStats   `json:"stats"`
}

func (s *server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	index := req.IndexName
	if index == "" {
		index = s.cfg.IndexName
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = s.cfg.Namespace
	}

	dataFile := req.DataFile
	if dataFile == "" {
		latest, err := s.snapshots.LatestProcessed()
		if err != nil {
			writeError(w, http.StatusBadRequest, "no dataFile given and no processed snapshot available")
			return
		}
		dataFile = latest
	}
	snap, err := ingest.LoadProcessed(dataFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot load snapshot: "+dataFile)
		return
	}

	ctx := r.Context()
	if req.ForceRecreate {
		if err := s.store.DeleteIndex(ctx, index); err != nil && !errors.Is(err, domain.ErrIndexNotFound) {
			writeError(w, statusFor(err), "delete index failed")
			return
		}
	}
	if err := s.store.CreateIndex(ctx, index); err != nil {
		writeError(w, statusFor(err), "create index failed")
		return
	}

	records := indexer.ConvertToUpsertRecords(snap.FAQs, snap.SourceURL, snap.ScrapedAt)
	writer := indexer.NewWriter(s.store, index, namespace, s.log)
	result := writer.BatchUpsert(ctx, records, req.BatchSize)
	s.metrics.Counter("index_records_processed_total", "Records successfully upserted.").Add(int64(result.ProcessedCount))
	s.metrics.Counter("index_records_failed_total", "Records that failed to upsert.").Add(int64(result.FailedCount))

	stats, err := s.store.Stats(ctx, index)
	if err != nil {
		s.log.Warn("stats after upsert failed", "err", err)
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, embedResponse{
		Success:   result.Success,
		Processed: result.ProcessedCount,
		Failed:    result.FailedCount,
		Errors:    result.Errors,
		Stats:     stats,
	})
}

func (s *server) handleEmbedStats(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	if index == "" {
		index = s.cfg.IndexName
	}
	stats, err := s.store.Stats(r.Context(), index)
	if err != nil {
		writeError(w, statusFor(err), "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleEmbedDelete clears a namespace, or drops the whole index when
// ?dropIndex=true.
func (s *server) handleEmbedDelete(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	if index == "" {
		index = s.cfg.IndexName
	}
	if r.URL.Query().Get("dropIndex") == "true" {
		if err := s.store.DeleteIndex(r.Context(), index); err != nil {
			writeError(w, statusFor(err), "delete index failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": "index " + index})
		return
	}
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		namespace = s.cfg.Namespace
	}
	if err := s.store.DeleteAll(r.Context(), index, namespace); err != nil {
		writeError(w, statusFor(err), "delete namespace failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": "namespace " + namespace})
}

// scrapeRequest is the JSON body for POST /scrape.
type scrapeRequest struct {
	SaveToFile bool   `json:"saveToFile,omitempty"`
	MaxRetries int    `json:"maxRetries,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

type scrapeResponse struct {
	FAQs       []domain.FAQItem            `json:"faqs"`
	Total      int                         `json:"total"`
	ByCategory domain.CategoryDistribution `json:"by_category"`
	SavedFile  string                      `json:"saved_file,omitempty"`
}

func (s *server) handleScrape(w http.ResponseWriter, r *http.Request) {
	s.metrics.Counter("scrape_runs_total", "Scrape runs triggered over HTTP.").Inc()

	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Persistence is handled below so the response can carry the file path.
	o := s.orchestrator(nil, ingest.Options{MaxRetries: req.MaxRetries})
	snap, err := o.Run(r.Context())
	if err != nil {
		s.log.Error("scrape run failed", "err", err)
		writeError(w, statusFor(err), "scrape failed")
		return
	}

	resp := scrapeResponse{
		FAQs:       snap.FAQs,
		Total:      snap.TotalItems,
		ByCategory: domain.Distribution(snap.FAQs),
	}
	if req.SaveToFile {
		path, err := s.snapshots.SaveProcessed(snap)
		if err != nil {
			s.log.Warn("save snapshot failed", "err", err)
		} else {
			resp.SavedFile = path
		}
	}
	if req.Filename != "" {
		if data, err := json.MarshalIndent(snap, "", "  "); err == nil {
			if err := os.WriteFile(req.Filename, data, 0o644); err != nil {
				s.log.Warn("write snapshot copy failed", "path", req.Filename, "err", err)
			} else {
				resp.SavedFile = req.Filename
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
