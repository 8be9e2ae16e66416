package domain

import (
	"fmt"
	"log/slog"
	"strings"
)

// ValidateFAQ checks one candidate record against the structural rules.
// Rules short-circuit on the first failure.
func ValidateFAQ(index int, item FAQItem) error {
	if strings.TrimSpace(item.Answer) == "" {
		return NewValidationError(index, "answer_text", ErrEmptyChunkText)
	}
	if !ValidCategories[item.Category] {
		return NewValidationError(index, "category", fmt.Errorf("%w: %q", ErrUnknownCategory, item.Category))
	}
	if strings.TrimSpace(item.Question) == "" {
		return NewValidationError(index, "question", ErrEmptyQuestion)
	}
	return nil
}

// ValidateFAQs filters candidates down to structurally complete records.
// Filtering is total: rejected records are logged with their index and reason,
// never returned as errors. An accepted record keeps its id when present,
// otherwise it is regenerated from the record's position.
func ValidateFAQs(items []FAQItem, log *slog.Logger) []FAQItem {
	if log == nil {
		log = slog.Default()
	}
	out := make([]FAQItem, 0, len(items))
	for i, item := range items {
		if err := ValidateFAQ(i, item); err != nil {
			log.Warn("domain: record rejected", "index", i, "reason", err)
			continue
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("aven_faq_%d", i+1)
		}
		out = append(out, item)
	}
	return out
}

// Distribution computes per-category counts over validated records.
func Distribution(items []FAQItem) CategoryDistribution {
	dist := make(CategoryDistribution)
	for _, item := range items {
		dist[item.Category]++
	}
	return dist
}
