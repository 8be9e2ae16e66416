// Package indexer converts validated FAQ records to the vector store's upsert
// shape and drives batched, rate-limited writes with per-batch failure
// accounting. The writer owns no persistent state; it is a stateless
// transformer plus batch-submission driver.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/pkg/fn"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize stays below the embedding service's per-request ceiling.
	DefaultBatchSize = 96
	// interBatchInterval paces chunk submissions to respect upstream rate limits.
	interBatchInterval = 100 * time.Millisecond
)

// VectorWriter is the slice of the store the writer needs.
type VectorWriter interface {
	Upsert(ctx context.Context, index, namespace string, records []domain.UpsertRecord) error
	DeleteAll(ctx context.Context, index, namespace string) error
	DeleteByIDs(ctx context.Context, index, namespace string, ids []string) error
}

// Writer submits upsert batches against one index+namespace.
type Writer struct {
	store     VectorWriter
	index     string
	namespace string
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewWriter creates a Writer for the given index and namespace.
func NewWriter(store VectorWriter, index, namespace string, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		store:     store,
		index:     index,
		namespace: namespace,
		limiter:   rate.NewLimiter(rate.Every(interBatchInterval), 1),
		log:       log,
	}
}

// ConvertToUpsertRecords maps FAQs one-to-one into the store's upsert shape.
// Pure and injective on id. The full text is duplicated into original_text so
// rerank scoring has a field to key on.
func ConvertToUpsertRecords(faqs []domain.FAQItem, sourceURL string, scrapedAt time.Time) []domain.UpsertRecord {
	ts := scrapedAt.UTC().Format(time.RFC3339)
	return fn.Map(faqs, func(f domain.FAQItem) domain.UpsertRecord {
		chunk := fmt.Sprintf("Question: %s\nAnswer: %s", f.Question, f.Answer)
		return domain.UpsertRecord{
			ID:        f.ID,
			ChunkText: chunk,
			Metadata: map[string]string{
				domain.FieldCategory:     string(f.Category),
				domain.FieldQuestion:     f.Question,
				domain.FieldSource:       sourceURL,
				domain.FieldTimestamp:    ts,
				domain.FieldOriginalText: chunk,
			},
		}
	})
}

// Upsert submits one bounded batch. A store failure is captured as a
// structured error entry, never re-raised: the batched driver must keep
// going and report partial success precisely.
func (w *Writer) Upsert(ctx context.Context, records []domain.UpsertRecord) domain.BatchResult {
	start := time.Now()
	if err := w.store.Upsert(ctx, w.index, w.namespace, records); err != nil {
		w.log.Error("indexer: batch upsert failed", "count", len(records), "error", err)
		return domain.BatchResult{
			Success:        false,
			ProcessedCount: 0,
			FailedCount:    len(records),
			Errors:         []domain.BatchError{{Batch: 0, Count: len(records), Err: err.Error()}},
			ProcessingTime: time.Since(start),
		}
	}
	return domain.BatchResult{
		Success:        true,
		ProcessedCount: len(records),
		ProcessingTime: time.Since(start),
	}
}

// BatchUpsert partitions records into sequential chunks of batchSize and
// submits them one at a time, pacing between chunks. A failed chunk does not
// abort the rest; ingestion is best-effort and the result reports partial
// success precisely. An expired ctx aborts between (not within) batches,
// counting the unsubmitted remainder as failed.
func (w *Writer) BatchUpsert(ctx context.Context, records []domain.UpsertRecord, batchSize int) domain.BatchResult {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	result := domain.BatchResult{Success: true}

	chunks := fn.Chunk(records, batchSize)
	for i, chunk := range chunks {
		if i > 0 {
			if err := w.limiter.Wait(ctx); err != nil {
				w.abort(&result, chunks[i:], i, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			w.abort(&result, chunks[i:], i, err)
			break
		}

		if err := w.store.Upsert(ctx, w.index, w.namespace, chunk); err != nil {
			w.log.Error("indexer: chunk failed", "batch", i, "count", len(chunk), "error", err)
			result.FailedCount += len(chunk)
			result.Errors = append(result.Errors, domain.BatchError{Batch: i, Count: len(chunk), Err: err.Error()})
			continue
		}
		result.ProcessedCount += len(chunk)
		w.log.Info("indexer: chunk upserted", "batch", i, "count", len(chunk))
	}

	result.Success = len(result.Errors) == 0
	result.ProcessingTime = time.Since(start)
	return result
}

// abort accounts all remaining chunks as failed with the terminating error.
func (w *Writer) abort(result *domain.BatchResult, remaining [][]domain.UpsertRecord, firstBatch int, err error) {
	w.log.Warn("indexer: aborting between batches", "batch", firstBatch, "error", err)
	for j, chunk := range remaining {
		result.FailedCount += len(chunk)
		result.Errors = append(result.Errors, domain.BatchError{Batch: firstBatch + j, Count: len(chunk), Err: err.Error()})
	}
}

// DeleteAll removes the writer's entire namespace. Destructive; store errors
// propagate unswallowed.
func (w *Writer) DeleteAll(ctx context.Context) error {
	return w.store.DeleteAll(ctx, w.index, w.namespace)
}

// DeleteByIDs removes specific records. Destructive; store errors propagate.
func (w *Writer) DeleteByIDs(ctx context.Context, ids []string) error {
	return w.store.DeleteByIDs(ctx, w.index, w.namespace, ids)
}
