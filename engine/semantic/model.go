package semantic

import "context"

// Hit is the canonical normalized shape of one store hit. Qdrant's raw point
// shapes never leave this package.
type Hit struct {
	ID     string            `json:"id"`
	Score  float32           `json:"score"`
	Fields map[string]string `json:"fields"`
}

// Filter restricts a text query by flat metadata fields.
type Filter struct {
	// Match requires field == value.
	Match map[string]string
	// MatchAny requires field ∈ values.
	MatchAny map[string][]string
}

// IsZero reports whether the filter constrains nothing.
func (f Filter) IsZero() bool {
	return len(f.Match) == 0 && len(f.MatchAny) == 0
}

// TextQuery is a query-by-text request. The caller never supplies vectors;
// embedding happens inside the store.
type TextQuery struct {
	Text   string
	TopK   int
	Filter Filter
}

// Embedder computes text embeddings for queries and upserts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
