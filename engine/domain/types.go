// Package domain defines core domain types, constants, and validation for the
// support-engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "time"

// Category classifies a support FAQ into one of the site's fixed sections.
type Category string

const (
	CategoryTrending       Category = "Trending Articles"
	CategoryBeforeYouApply Category = "Before You Apply"
	CategoryApplication    Category = "Application"
	CategoryPayments       Category = "Payments"
	CategoryAccount        Category = "Account"
	CategoryCard           Category = "Aven Card"
	CategoryDebtProtection Category = "Debt Protection"
	CategoryOnlineNotary   Category = "Online Notary"
)

// ValidCategories is the closed set of recognised categories. Records carrying
// anything else never reach the index.
var ValidCategories = map[Category]bool{
	CategoryTrending: true, CategoryBeforeYouApply: true,
	CategoryApplication: true, CategoryPayments: true,
	CategoryAccount: true, CategoryCard: true,
	CategoryDebtProtection: true, CategoryOnlineNotary: true,
}

// FAQItem is one extracted question/answer unit from a scrape run.
// Immutable once created; superseded wholesale by the next run.
type FAQItem struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Question string   `json:"question"`
	Answer   string   `json:"answer_text"`
}

// SupportSnapshot wraps one scrape run's validated FAQs plus run metadata.
// Persisted as an immutable timestamp-named JSON file.
type SupportSnapshot struct {
	SourceURL  string    `json:"source_url"`
	ScrapedAt  time.Time `json:"scraped_at"`
	TotalItems int       `json:"total_items"`
	FAQs       []FAQItem `json:"faqs"`
}

// UpsertRecord is the flattened shape sent to the vector store: the text to be
// embedded plus flat metadata echoed back on search hits.
type UpsertRecord struct {
	ID        string            `json:"id"`
	ChunkText string            `json:"chunk_text"`
	Metadata  map[string]string `json:"metadata"`
}

// Metadata field names stored alongside each record. OriginalText duplicates
// the full chunk so rerank scoring has a text field to key on.
const (
	FieldCategory     = "category"
	FieldQuestion     = "question"
	FieldSource       = "source"
	FieldTimestamp    = "timestamp"
	FieldOriginalText = "original_text"
)

// BatchError records one failed batch during a batched write.
type BatchError struct {
	Batch int    `json:"batch"`
	Count int    `json:"count"`
	Err   string `json:"error"`
}

// BatchResult is the outcome of a batched index write. Success is true iff
// zero items failed across all batches.
type BatchResult struct {
	Success        bool          `json:"success"`
	ProcessedCount int           `json:"processed_count"`
	FailedCount    int           `json:"failed_count"`
	Errors         []BatchError  `json:"errors,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// IndexStats reports vector-index occupancy.
type IndexStats struct {
	Dimension        int               `json:"dimension"`
	TotalVectorCount uint64            `json:"total_vector_count"`
	Namespaces       map[string]uint64 `json:"namespaces"`
}

// CategoryDistribution counts validated FAQs per category for one run.
type CategoryDistribution map[Category]int
