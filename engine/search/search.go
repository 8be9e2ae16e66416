// Package search issues text queries against the vector store under several
// strategies and normalizes every result into one canonical shape. Each call
// is an independent request/response; the service holds no per-query state.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/engine/semantic"
)

// DefaultTopK is the result count used when a query doesn't specify one.
const DefaultTopK = 10

// rerankPoolCap bounds the candidate pool fetched ahead of reranking.
const rerankPoolCap = 100

// broadQueryText is the generic query used by the sampling-based operations
// (GetCategories, FindSimilar). Anything semantically neutral works; hits are
// examined for their metadata, not their relevance.
const broadQueryText = "aven support information"

// Store abstracts the vector store's query-by-text interface.
type Store interface {
	QueryByText(ctx context.Context, index, namespace string, q semantic.TextQuery) ([]semantic.Hit, error)
}

// Result is the canonical search hit returned by every strategy. Score
// semantics depend on the strategy: raw cosine similarity for plain search,
// the combined rerank score for reranked search.
type Result struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Config tunes one search call.
type Config struct {
	TopK      int
	Namespace string
	// Filter narrows results beyond the strategy's own filter.
	Filter semantic.Filter
	// Rerank enables the two-stage over-fetch-then-rerank pass.
	Rerank bool
}

func (c Config) topK() int {
	if c.TopK <= 0 {
		return DefaultTopK
	}
	return c.TopK
}

// Service runs search strategies against an injected store.
type Service struct {
	store Store
	log   *slog.Logger
}

// New creates a search Service.
func New(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

// Semantic performs plain semantic search, or the reranked variant when
// cfg.Rerank is set. Store errors propagate: callers asked for search results
// and decide themselves whether to degrade.
func (s *Service) Semantic(ctx context.Context, index, query string, cfg Config) ([]Result, error) {
	if cfg.Rerank {
		return s.reranked(ctx, index, query, cfg)
	}
	hits, err := s.store.QueryByText(ctx, index, cfg.Namespace, semantic.TextQuery{
		Text:   query,
		TopK:   cfg.topK(),
		Filter: cfg.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("search: semantic: %w", err)
	}
	return fromHits(hits), nil
}

// Category is Semantic with an equality filter on the category field.
func (s *Service) Category(ctx context.Context, index, query string, category domain.Category, cfg Config) ([]Result, error) {
	cfg.Filter = withMatch(cfg.Filter, domain.FieldCategory, string(category))
	return s.Semantic(ctx, index, query, cfg)
}

// MultiCategory is Semantic with a category-in-set filter.
func (s *Service) MultiCategory(ctx context.Context, index, query string, categories []domain.Category, cfg Config) ([]Result, error) {
	vals := make([]string, len(categories))
	for i, c := range categories {
		vals[i] = string(c)
	}
	cfg.Filter = withMatchAny(cfg.Filter, domain.FieldCategory, vals)
	return s.Semantic(ctx, index, query, cfg)
}

// Hybrid is currently equivalent to Semantic. It exists as the extension
// point for keyword-search fusion; no distinct fusion is implemented.
func (s *Service) Hybrid(ctx context.Context, index, query string, cfg Config) ([]Result, error) {
	return s.Semantic(ctx, index, query, cfg)
}

// FindSimilar approximates similar-document search for a stored record.
// The store's integrated-embedding mode exposes no raw vector fetch-by-id,
// so this issues a broad proxy query and drops the document itself —
// a compatibility fallback, not true nearest-neighbour-to-document search.
// It never fails merely because vector lookup is unsupported.
func (s *Service) FindSimilar(ctx context.Context, index, documentID string, cfg Config) ([]Result, error) {
	hits, err := s.store.QueryByText(ctx, index, cfg.Namespace, semantic.TextQuery{
		Text:   broadQueryText,
		TopK:   cfg.topK() + 1,
		Filter: cfg.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("search: find similar: %w", err)
	}
	results := make([]Result, 0, cfg.topK())
	for _, h := range hits {
		if h.ID == documentID {
			continue
		}
		results = append(results, fromHit(h))
		if len(results) == cfg.topK() {
			break
		}
	}
	return results, nil
}

// GetCategories samples a broad query and collects the distinct categories
// observed. Sampled, not exhaustive: a category absent from the top 100 hits
// is not reported.
func (s *Service) GetCategories(ctx context.Context, index, namespace string) ([]string, error) {
	hits, err := s.store.QueryByText(ctx, index, namespace, semantic.TextQuery{
		Text: broadQueryText,
		TopK: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("search: get categories: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, h := range hits {
		if c := h.Fields[domain.FieldCategory]; c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CountByCategory runs a category search per sampled category and takes its
// result count. Approximate on two axes: categories come from a sample and
// each count is bounded by topK.
func (s *Service) CountByCategory(ctx context.Context, index, namespace string) (map[string]int, error) {
	categories, err := s.GetCategories(ctx, index, namespace)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(categories))
	for _, c := range categories {
		results, err := s.Category(ctx, index, broadQueryText, domain.Category(c), Config{
			TopK:      100,
			Namespace: namespace,
		})
		if err != nil {
			return nil, err
		}
		counts[c] = len(results)
	}
	return counts, nil
}

// reranked over-fetches candidates then reorders them with the local
// lexical-overlap heuristic, returning exactly topK. This is a degraded
// fallback for a server-side reranker: ordering improves over raw similarity,
// but not to true cross-encoder quality.
func (s *Service) reranked(ctx context.Context, index, query string, cfg Config) ([]Result, error) {
	topK := cfg.topK()
	pool := min(topK*5, rerankPoolCap)

	hits, err := s.store.QueryByText(ctx, index, cfg.Namespace, semantic.TextQuery{
		Text:   query,
		TopK:   pool,
		Filter: cfg.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("search: reranked: %w", err)
	}

	results := fromHits(hits)
	for i := range results {
		text := results[i].Metadata[domain.FieldOriginalText]
		if text == "" {
			text = results[i].Metadata[domain.FieldQuestion]
		}
		results[i].Score = combineScores(results[i].Score, keywordOverlap(query, text))
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func fromHit(h semantic.Hit) Result {
	return Result{ID: h.ID, Score: h.Score, Metadata: h.Fields}
}

func fromHits(hits []semantic.Hit) []Result {
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = fromHit(h)
	}
	return out
}

func withMatch(f semantic.Filter, key, value string) semantic.Filter {
	if f.Match == nil {
		f.Match = make(map[string]string, 1)
	}
	f.Match[key] = value
	return f
}

func withMatchAny(f semantic.Filter, key string, values []string) semantic.Filter {
	if f.MatchAny == nil {
		f.MatchAny = make(map[string][]string, 1)
	}
	f.MatchAny[key] = values
	return f
}
