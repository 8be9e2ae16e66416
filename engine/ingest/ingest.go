// Package ingest orchestrates one scrape-extract-validate cycle: fetch the
// support page, extract FAQ candidates, validate them, persist snapshots, and
// report the category distribution. A failed cycle is retried whole from the
// fetch — there is no partial resume.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/engine/scraper"
	"github.com/avenhq/support-engine/pkg/fn"
)

// DefaultMaxRetries bounds full-cycle attempts.
const DefaultMaxRetries = 3

// Fetcher retrieves raw page text for a URL.
type Fetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Extractor parses raw page text into FAQ candidates.
type Extractor interface {
	Extract(raw string) ([]domain.FAQItem, scraper.Stats)
}

// Options configures an ingestion run.
type Options struct {
	SourceURL  string
	MaxRetries int
	// Backoff overrides the default exponential schedule when set.
	Backoff func(attempt int) time.Duration
	// FailOnSnapshotError makes persistence failures fail the run. The
	// default (false) logs and continues: a snapshot is an audit artifact,
	// and losing one must not discard a successful extraction. Pick one
	// behavior per deployment; don't flip it between runs.
	FailOnSnapshotError bool
}

// Orchestrator owns the snapshot lifecycle for the runs it performs.
type Orchestrator struct {
	fetcher   Fetcher
	extractor Extractor
	snapshots *SnapshotStore
	opts      Options
	log       *slog.Logger
}

// New creates an Orchestrator. snapshots may be nil to disable persistence.
func New(fetcher Fetcher, extractor Extractor, snapshots *SnapshotStore, opts Options, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if opts.SourceURL == "" {
		opts.SourceURL = scraper.DefaultSupportURL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Orchestrator{
		fetcher:   fetcher,
		extractor: extractor,
		snapshots: snapshots,
		opts:      opts,
		log:       log,
	}
}

// cycleOutput carries one successful attempt's artifacts.
type cycleOutput struct {
	raw  string
	snap domain.SupportSnapshot
}

// Run performs the full cycle, retrying it whole with exponential backoff
// (1s, 2s, 4s, ...) on retryable failures. After exhausting retries the last
// underlying error is returned.
func (o *Orchestrator) Run(ctx context.Context) (domain.SupportSnapshot, error) {
	backoff := o.opts.Backoff
	if backoff == nil {
		backoff = fn.ExpBackoff(time.Second)
	}
	policy := fn.RetryPolicy{
		MaxAttempts: o.opts.MaxRetries,
		Backoff:     backoff,
		Retryable:   domain.Retryable,
	}

	cycle := fn.RetryStage(policy, fn.TracedStage("ingest.cycle", o.cycle))
	out, err := cycle(ctx, o.opts.SourceURL).Unwrap()
	if err != nil {
		return domain.SupportSnapshot{}, fmt.Errorf("ingest: run failed after %d attempts: %w", o.opts.MaxRetries, err)
	}

	if err := o.persist(out); err != nil {
		if o.opts.FailOnSnapshotError {
			return domain.SupportSnapshot{}, err
		}
		o.log.Warn("ingest: snapshot persistence failed, continuing", "error", err)
	}

	o.report(out.snap)
	return out.snap, nil
}

// cycle is one attempt: fetch, extract, validate. An attempt yielding zero
// validated records counts as a failed attempt — the page markup is stable,
// so an empty result means the fetch returned junk, and the whole cycle is
// worth re-fetching. The extractor itself still never errors.
func (o *Orchestrator) cycle(ctx context.Context, sourceURL string) fn.Result[cycleOutput] {
	raw, err := o.fetcher.FetchText(ctx, sourceURL)
	if err != nil {
		return fn.Err[cycleOutput](err)
	}

	candidates, stats := o.extractor.Extract(raw)
	o.log.Info("ingest: extraction pass",
		"sections", stats.TotalSections,
		"skipped_sections", stats.SkippedSections,
		"accepted", stats.AcceptedPairs,
	)

	validated := domain.ValidateFAQs(candidates, o.log)
	if len(validated) == 0 {
		return fn.Err[cycleOutput](domain.NewServiceError("content-retrieval", "scrape cycle",
			fmt.Errorf("no valid FAQ records extracted from %s", sourceURL)))
	}

	return fn.Ok(cycleOutput{
		raw: raw,
		snap: domain.SupportSnapshot{
			SourceURL:  sourceURL,
			ScrapedAt:  time.Now().UTC(),
			TotalItems: len(validated),
			FAQs:       validated,
		},
	})
}

func (o *Orchestrator) persist(out cycleOutput) error {
	if o.snapshots == nil {
		return nil
	}
	rawPath, err := o.snapshots.SaveRaw(out.raw, out.snap.ScrapedAt)
	if err != nil {
		return err
	}
	procPath, err := o.snapshots.SaveProcessed(out.snap)
	if err != nil {
		return err
	}
	o.log.Info("ingest: snapshots saved", "raw", rawPath, "processed", procPath)
	return nil
}

// report logs the per-category counts. Informational only; no threshold is
// enforced here.
func (o *Orchestrator) report(snap domain.SupportSnapshot) {
	dist := domain.Distribution(snap.FAQs)
	for category, count := range dist {
		o.log.Info("ingest: category distribution", "category", category, "count", count)
	}
	o.log.Info("ingest: run complete", "total", snap.TotalItems, "categories", len(dist))
}
