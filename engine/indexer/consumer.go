package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/nats-io/nats.go"
)

const (
	// SnapshotSubject carries validated snapshots from the scrape side.
	SnapshotSubject = "support.ingest.snapshot"
	// DLQSubject is the dead letter queue for snapshots that keep failing.
	DLQSubject = "support.ingest.dlq"
	// MaxRetries before a snapshot is dead-lettered.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Snapshot domain.SupportSnapshot `json:"snapshot"`
	Error    string                 `json:"error"`
	Retries  int                    `json:"retries"`
}

// StartConsumer subscribes to snapshot messages and drives each one through
// BatchUpsert. A snapshot whose write reports any failed batch is republished
// with an incremented retry count, then dead-lettered after MaxRetries.
func StartConsumer(nc *nats.Conn, w *Writer, batchSize int, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(SnapshotSubject, func(msg *nats.Msg) {
		var snap domain.SupportSnapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			log.Error("indexer: unmarshal snapshot failed", "error", err)
			return
		}

		ctx := context.Background()
		records := ConvertToUpsertRecords(snap.FAQs, snap.SourceURL, snap.ScrapedAt)
		result := w.BatchUpsert(ctx, records, batchSize)

		if result.Success {
			log.Info("indexer: snapshot indexed",
				"records", result.ProcessedCount,
				"duration", result.ProcessingTime,
			)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}
		retries++
		log.Error("indexer: snapshot write incomplete",
			"processed", result.ProcessedCount,
			"failed", result.FailedCount,
			"retry", retries,
		)

		if retries >= MaxRetries {
			dlq := dlqMessage{
				Snapshot: snap,
				Error:    fmt.Sprintf("%d of %d records failed", result.FailedCount, len(records)),
				Retries:  retries,
			}
			data, _ := json.Marshal(dlq)
			if err := nc.Publish(DLQSubject, data); err != nil {
				log.Error("indexer: DLQ publish failed", "error", err)
			}
			return
		}

		retryMsg := nats.NewMsg(SnapshotSubject)
		retryMsg.Data = msg.Data
		retryMsg.Header = nats.Header{}
		retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
		if err := nc.PublishMsg(retryMsg); err != nil {
			log.Error("indexer: retry publish failed", "error", err)
		}
	})
}
