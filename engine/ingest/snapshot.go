package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
)

// SnapshotStore persists ingestion artifacts as timestamp-named, immutable
// JSON files: raw fetch payloads under raw/, validated snapshots under
// processed/. Append-only; nothing is ever rewritten in place.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates the store rooted at dir, creating the bucket
// directories if needed.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	for _, bucket := range []string{"raw", "processed"} {
		if err := os.MkdirAll(filepath.Join(dir, bucket), 0o755); err != nil {
			return nil, fmt.Errorf("ingest: create snapshot dir: %w", err)
		}
	}
	return &SnapshotStore{dir: dir}, nil
}

// SaveRaw writes the raw fetched payload. Returns the file path.
func (s *SnapshotStore) SaveRaw(raw string, at time.Time) (string, error) {
	path := filepath.Join(s.dir, "raw", fmt.Sprintf("aven_raw_%s.json", stamp(at)))
	data, err := json.MarshalIndent(map[string]any{
		"fetched_at": at.UTC().Format(time.RFC3339),
		"text":       raw,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ingest: marshal raw payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("ingest: write raw payload: %w", err)
	}
	return path, nil
}

// SaveProcessed writes the validated snapshot. Returns the file path.
func (s *SnapshotStore) SaveProcessed(snap domain.SupportSnapshot) (string, error) {
	path := filepath.Join(s.dir, "processed", fmt.Sprintf("aven_faqs_%s.json", stamp(snap.ScrapedAt)))
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ingest: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("ingest: write snapshot: %w", err)
	}
	return path, nil
}

// LatestProcessed returns the path of the newest processed snapshot. The
// timestamped names sort lexically, so the last entry is the newest.
func (s *SnapshotStore) LatestProcessed() (string, error) {
	dir := filepath.Join(s.dir, "processed")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("ingest: list snapshots: %w", err)
	}
	latest := ""
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("ingest: no processed snapshots in %s", dir)
	}
	return filepath.Join(dir, latest), nil
}

// LoadProcessed reads a previously saved snapshot file.
func LoadProcessed(path string) (domain.SupportSnapshot, error) {
	var snap domain.SupportSnapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("ingest: read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("ingest: parse snapshot: %w", err)
	}
	return snap, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
