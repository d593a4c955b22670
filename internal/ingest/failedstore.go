package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FailedStore writes records that failed validation to disk as
// individual JSON files so they can be inspected and replayed. One record
// per file keeps a partial write from corrupting neighbours.
type FailedStore struct {
	dir    string
	logger *slog.Logger
}

// failedEnvelope is the on-disk shape of a failed record.
type failedEnvelope struct {
	FailedAt   string   `json:"failed_at"`
	Reason     string   `json:"reason"`
	Violations []string `json:"violations,omitempty"`
	Record     Record   `json:"record"`
}

// NewFailedStore creates the store, making the directory if needed.
func NewFailedStore(dir string, logger *slog.Logger) (*FailedStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating failed-record directory: %w", err)
	}

	return &FailedStore{
		dir:    dir,
		logger: logger.With(slog.String("component", "failed_store")),
	}, nil
}

// Save persists one failed record. The filename carries a timestamp and a
// short random suffix so concurrent saves never collide.
func (s *FailedStore) Save(record Record, reason string, violations []string) error {
	now := time.Now().UTC()

	envelope := failedEnvelope{
		FailedAt:   now.Format(time.RFC3339Nano),
		Reason:     reason,
		Violations: violations,
		Record:     record,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding failed record: %w", err)
	}

	name := fmt.Sprintf("failed_record_%s_%s.json",
		now.Format("20060102_150405"),
		uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing failed record: %w", err)
	}

	s.logger.Debug("Saved failed record",
		slog.String("path", path),
		slog.String("reason", reason))

	return nil
}
