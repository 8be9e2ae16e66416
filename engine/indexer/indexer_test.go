package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
)

// fakeWriter records upsert calls and fails selected batches.
type fakeWriter struct {
	calls      [][]domain.UpsertRecord
	failBatch  map[int]error // call number → error
	deleteErr  error
	deletedAll bool
	deletedIDs []string
}

func (f *fakeWriter) Upsert(_ context.Context, _, _ string, records []domain.UpsertRecord) error {
	call := len(f.calls)
	f.calls = append(f.calls, records)
	if err, ok := f.failBatch[call]; ok {
		return err
	}
	return nil
}

func (f *fakeWriter) DeleteAll(context.Context, string, string) error {
	f.deletedAll = true
	return f.deleteErr
}

func (f *fakeWriter) DeleteByIDs(_ context.Context, _, _ string, ids []string) error {
	f.deletedIDs = ids
	return f.deleteErr
}

func makeFAQs(n int) []domain.FAQItem {
	faqs := make([]domain.FAQItem, n)
	for i := range faqs {
		faqs[i] = domain.FAQItem{
			ID:       fmt.Sprintf("aven_faq_%d", i+1),
			Category: domain.CategoryPayments,
			Question: fmt.Sprintf("Question number %d?", i+1),
			Answer:   "A sufficiently long answer.",
		}
	}
	return faqs
}

func makeRecords(n int) []domain.UpsertRecord {
	return ConvertToUpsertRecords(makeFAQs(n), "https://www.aven.com/support", time.Unix(1700000000, 0))
}

func TestConvertToUpsertRecords(t *testing.T) {
	faqs := makeFAQs(3)
	records := ConvertToUpsertRecords(faqs, "https://www.aven.com/support", time.Unix(1700000000, 0))
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}

	seen := make(map[string]bool)
	for i, r := range records {
		if seen[r.ID] {
			t.Errorf("duplicate id %q", r.ID)
		}
		seen[r.ID] = true
		if r.ID != faqs[i].ID {
			t.Errorf("record %d id = %q, want %q", i, r.ID, faqs[i].ID)
		}
		if !strings.Contains(r.ChunkText, faqs[i].Question) || !strings.Contains(r.ChunkText, faqs[i].Answer) {
			t.Errorf("chunk text missing question or answer: %q", r.ChunkText)
		}
		if r.Metadata[domain.FieldOriginalText] != r.ChunkText {
			t.Error("original_text must duplicate chunk_text")
		}
		if r.Metadata[domain.FieldCategory] != string(domain.CategoryPayments) {
			t.Errorf("category = %q", r.Metadata[domain.FieldCategory])
		}
		if r.Metadata[domain.FieldSource] != "https://www.aven.com/support" {
			t.Errorf("source = %q", r.Metadata[domain.FieldSource])
		}
	}
}

func TestUpsert_StoreFailureIsCaptured(t *testing.T) {
	store := &fakeWriter{failBatch: map[int]error{0: errors.New("store down")}}
	w := NewWriter(store, "faqs", "prod", nil)
	result := w.Upsert(context.Background(), makeRecords(10))
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ProcessedCount != 0 || result.FailedCount != 10 {
		t.Errorf("accounting = %d/%d, want 0/10", result.ProcessedCount, result.FailedCount)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error entry, got %d", len(result.Errors))
	}
}

func TestBatchUpsert_ChunkSizes(t *testing.T) {
	store := &fakeWriter{}
	w := NewWriter(store, "faqs", "prod", nil)
	result := w.BatchUpsert(context.Background(), makeRecords(250), 100)
	if !result.Success {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if len(store.calls) != 3 {
		t.Fatalf("expected exactly 3 upsert calls, got %d", len(store.calls))
	}
	for i, want := range []int{100, 100, 50} {
		if len(store.calls[i]) != want {
			t.Errorf("call %d size = %d, want %d", i, len(store.calls[i]), want)
		}
	}
	if result.ProcessedCount != 250 || result.FailedCount != 0 {
		t.Errorf("accounting = %d/%d", result.ProcessedCount, result.FailedCount)
	}
}

func TestBatchUpsert_PartialFailure(t *testing.T) {
	store := &fakeWriter{failBatch: map[int]error{1: errors.New("chunk boom")}}
	w := NewWriter(store, "faqs", "prod", nil)
	records := makeRecords(250)
	result := w.BatchUpsert(context.Background(), records, 100)

	if result.Success {
		t.Fatal("a failed chunk must fail the overall result")
	}
	if len(store.calls) != 3 {
		t.Errorf("failure must not abort later chunks; got %d calls", len(store.calls))
	}
	if result.ProcessedCount != 150 || result.FailedCount != 100 {
		t.Errorf("accounting = %d/%d, want 150/100", result.ProcessedCount, result.FailedCount)
	}
	if len(result.Errors) != 1 || result.Errors[0].Batch != 1 {
		t.Errorf("errors = %+v", result.Errors)
	}
}

func TestBatchUpsert_AccountingInvariant(t *testing.T) {
	for _, tc := range []struct {
		n, batchSize int
		fail         map[int]error
	}{
		{0, 10, nil},
		{7, 10, nil},
		{25, 10, map[int]error{0: errors.New("x")}},
		{25, 10, map[int]error{0: errors.New("x"), 1: errors.New("y"), 2: errors.New("z")}},
	} {
		store := &fakeWriter{failBatch: tc.fail}
		w := NewWriter(store, "faqs", "prod", nil)
		result := w.BatchUpsert(context.Background(), makeRecords(tc.n), tc.batchSize)
		if result.ProcessedCount+result.FailedCount != tc.n {
			t.Errorf("n=%d: processed %d + failed %d != %d",
				tc.n, result.ProcessedCount, result.FailedCount, tc.n)
		}
	}
}

func TestBatchUpsert_DefaultBatchSize(t *testing.T) {
	store := &fakeWriter{}
	w := NewWriter(store, "faqs", "prod", nil)
	w.BatchUpsert(context.Background(), makeRecords(100), 0)
	if len(store.calls) != 2 {
		t.Errorf("expected 2 calls at default batch size %d, got %d", DefaultBatchSize, len(store.calls))
	}
}

func TestBatchUpsert_ContextAbortBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeWriter{}
	w := NewWriter(store, "faqs", "prod", nil)

	// Cancel after the first chunk is submitted.
	store.failBatch = nil
	records := makeRecords(30)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := w.BatchUpsert(ctx, records, 10)

	if result.ProcessedCount+result.FailedCount != 30 {
		t.Errorf("accounting must hold across aborts: %d + %d",
			result.ProcessedCount, result.FailedCount)
	}
}

func TestDeletePropagatesErrors(t *testing.T) {
	boom := errors.New("denied")
	store := &fakeWriter{deleteErr: boom}
	w := NewWriter(store, "faqs", "prod", nil)
	if err := w.DeleteAll(context.Background()); !errors.Is(err, boom) {
		t.Errorf("DeleteAll must propagate, got %v", err)
	}
	if err := w.DeleteByIDs(context.Background(), []string{"aven_faq_1"}); !errors.Is(err, boom) {
		t.Errorf("DeleteByIDs must propagate, got %v", err)
	}
}
