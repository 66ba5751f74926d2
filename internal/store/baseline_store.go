package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-consensus-service/internal/metrics"
	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// FileStore persists one baseline snapshot per source as a JSON file.
// Writes go to a temp file in the same directory and are renamed into place,
// so a concurrent reader never observes a partially written snapshot.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates a baseline store rooted at dir.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "baseline_store").Logger(),
	}
}

// path returns the snapshot file for a source.
func (s *FileStore) path(source models.MarketPeriod) string {
	return filepath.Join(s.dir, fmt.Sprintf("market_baselines_%s.json", source))
}

// Save replaces the snapshot for its source wholesale.
func (s *FileStore) Save(snapshot *models.BaselineSnapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create baseline dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".market_baselines_%s-*.json", snapshot.Source))
	if err != nil {
		return fmt.Errorf("failed to create temp baseline file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(snapshot); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode baseline snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync baseline snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp baseline file: %w", err)
	}

	target := s.path(snapshot.Source)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to replace baseline snapshot: %w", err)
	}

	metrics.BaselineRows.WithLabelValues(string(snapshot.Source)).Set(float64(len(snapshot.Rows)))
	s.logger.Info().
		Str("source", string(snapshot.Source)).
		Str("batch_id", snapshot.BatchID.String()).
		Int("rows", len(snapshot.Rows)).
		Str("path", target).
		Msg("persisted baseline snapshot")

	return nil
}

// Load reads the snapshot for a source. A missing, empty or momentarily
// replaced file degrades to a nil snapshot with a human-readable note; the
// read is retried once to ride out a replace happening mid-read.
func (s *FileStore) Load(source models.MarketPeriod) (*models.BaselineSnapshot, string) {
	for attempt := 0; attempt < 2; attempt++ {
		snapshot, note, retryable := s.loadOnce(source)
		if snapshot != nil || !retryable {
			return snapshot, note
		}
	}
	return nil, fmt.Sprintf("baseline for source %q could not be read; run a refresh", source)
}

// loadOnce attempts one read. retryable marks failures that a concurrent
// replace could explain.
func (s *FileStore) loadOnce(source models.MarketPeriod) (*models.BaselineSnapshot, string, bool) {
	path := s.path(source)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Sprintf("missing baseline file for source %q; run a refresh", source), true
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to read baseline snapshot")
		return nil, fmt.Sprintf("baseline for source %q unavailable", source), true
	}
	if len(data) == 0 {
		return nil, fmt.Sprintf("empty baseline file for source %q; run a refresh", source), true
	}

	var snapshot models.BaselineSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to decode baseline snapshot")
		return nil, fmt.Sprintf("baseline for source %q is unreadable", source), true
	}
	return &snapshot, "", false
}
