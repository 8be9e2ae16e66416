package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/engine/scraper"
)

const goodPage = `How can we help?
##### Payments
- How do I make a payment? Open the app and tap Pay.
- Can I set up autopay? Yes, under Payment Settings.
##### Account
- How do I reset my password? Use the forgot password link.`

// fakeFetcher fails a fixed number of times before succeeding.
type fakeFetcher struct {
	failures int
	calls    int
	fatal    bool
	page     string
}

func (f *fakeFetcher) FetchText(context.Context, string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.fatal {
			return "", domain.ErrIndexNotFound // any non-retryable error
		}
		return "", domain.NewServiceError("content-retrieval", "getContents", errors.New("timeout"))
	}
	return f.page, nil
}

func newOrchestrator(t *testing.T, fetcher Fetcher, opts Options) *Orchestrator {
	t.Helper()
	snaps, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	opts.Backoff = func(int) time.Duration { return 0 }
	return New(fetcher, scraper.NewExtractor(nil), snaps, opts, nil)
}

func TestRun_Success(t *testing.T) {
	fetcher := &fakeFetcher{page: goodPage}
	o := newOrchestrator(t, fetcher, Options{})
	snap, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.TotalItems != 3 || len(snap.FAQs) != 3 {
		t.Errorf("snapshot items = %d", snap.TotalItems)
	}
	if snap.SourceURL != scraper.DefaultSupportURL {
		t.Errorf("source url = %q", snap.SourceURL)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected single fetch, got %d", fetcher.calls)
	}
}

func TestRun_RetriesWholeCycle(t *testing.T) {
	fetcher := &fakeFetcher{failures: 2, page: goodPage}
	o := newOrchestrator(t, fetcher, Options{MaxRetries: 3})
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run should succeed on third attempt: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("expected 3 fetches, got %d", fetcher.calls)
	}
}

func TestRun_ExhaustsRetriesWithLastError(t *testing.T) {
	fetcher := &fakeFetcher{failures: 10, page: goodPage}
	o := newOrchestrator(t, fetcher, Options{MaxRetries: 2})
	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !errors.Is(err, domain.ErrExternalService) {
		t.Errorf("terminal error should carry the last cause, got %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("expected 2 fetches, got %d", fetcher.calls)
	}
}

func TestRun_NonRetryableFailsFast(t *testing.T) {
	fetcher := &fakeFetcher{failures: 10, fatal: true, page: goodPage}
	o := newOrchestrator(t, fetcher, Options{MaxRetries: 5})
	if _, err := o.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if fetcher.calls != 1 {
		t.Errorf("non-retryable error must not be retried, got %d fetches", fetcher.calls)
	}
}

func TestRun_EmptyExtractionIsRetried(t *testing.T) {
	fetcher := &fakeFetcher{page: "garbage page with no marker"}
	o := newOrchestrator(t, fetcher, Options{MaxRetries: 2})
	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for empty extraction")
	}
	if fetcher.calls != 2 {
		t.Errorf("empty extraction should be retried, got %d fetches", fetcher.calls)
	}
}

func TestRun_PersistsBothSnapshots(t *testing.T) {
	dir := t.TempDir()
	snaps, err := NewSnapshotStore(dir)
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	o := New(&fakeFetcher{page: goodPage}, scraper.NewExtractor(nil), snaps, Options{}, nil)
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, bucket := range []string{"raw", "processed"} {
		entries, err := os.ReadDir(filepath.Join(dir, bucket))
		if err != nil || len(entries) != 1 {
			t.Fatalf("bucket %s: entries=%d err=%v", bucket, len(entries), err)
		}
	}
}

func TestRun_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snaps, _ := NewSnapshotStore(dir)
	o := New(&fakeFetcher{page: goodPage}, scraper.NewExtractor(nil), snaps, Options{}, nil)
	snap, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "processed"))
	loaded, err := LoadProcessed(filepath.Join(dir, "processed", entries[0].Name()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TotalItems != snap.TotalItems || len(loaded.FAQs) != len(snap.FAQs) {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, snap)
	}
	if loaded.FAQs[0].Question != snap.FAQs[0].Question {
		t.Errorf("question mismatch after round trip")
	}
}

func TestRun_PersistenceFailureDoesNotMaskSuccess(t *testing.T) {
	dir := t.TempDir()
	snaps, _ := NewSnapshotStore(dir)
	// Replace the raw bucket with a plain file so SaveRaw fails.
	rawDir := filepath.Join(dir, "raw")
	if err := os.RemoveAll(rawDir); err != nil {
		t.Fatalf("remove raw bucket: %v", err)
	}
	if err := os.WriteFile(rawDir, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("block raw bucket: %v", err)
	}

	o := New(&fakeFetcher{page: goodPage}, scraper.NewExtractor(nil), snaps, Options{}, nil)
	snap, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("persistence failure must not fail the run by default: %v", err)
	}
	if snap.TotalItems != 3 {
		t.Errorf("snapshot items = %d", snap.TotalItems)
	}

	o2 := New(&fakeFetcher{page: goodPage}, scraper.NewExtractor(nil), snaps, Options{FailOnSnapshotError: true}, nil)
	if _, err := o2.Run(context.Background()); err == nil {
		t.Error("FailOnSnapshotError should surface persistence failures")
	}
}

func TestLatestProcessed(t *testing.T) {
	dir := t.TempDir()
	snaps, _ := NewSnapshotStore(dir)
	older := domain.SupportSnapshot{ScrapedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := domain.SupportSnapshot{ScrapedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	if _, err := snaps.SaveProcessed(older); err != nil {
		t.Fatalf("save: %v", err)
	}
	want, err := snaps.SaveProcessed(newer)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := snaps.LatestProcessed()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != want {
		t.Errorf("latest = %q, want %q", got, want)
	}
}

func TestLatestProcessedEmpty(t *testing.T) {
	snaps, _ := NewSnapshotStore(t.TempDir())
	if _, err := snaps.LatestProcessed(); err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestSnapshotFilenamesAreTimestamped(t *testing.T) {
	dir := t.TempDir()
	snaps, _ := NewSnapshotStore(dir)
	at := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	path, err := snaps.SaveRaw("payload", at)
	if err != nil {
		t.Fatalf("save raw: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "20260301T123045Z") {
		t.Errorf("path %q missing timestamp", path)
	}
}
