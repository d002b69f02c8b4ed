// Package watermark persists the newest period that has been fully ingested.
package watermark

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/divyekant/subdash/internal/atomicfile"
	"github.com/divyekant/subdash/internal/period"
)

// ErrCorrupt is returned by Load when the file exists but cannot be used.
var ErrCorrupt = errors.New("watermark: corrupt file")

// TimeLayout is the format of Mark.LastUpdate.
const TimeLayout = "2006-01-02 15:04:05"

// Mark is the persisted watermark document.
type Mark struct {
	LastDate   string `json:"last_date"`
	LastUpdate string `json:"last_update"`
}

// Store reads and writes a single watermark file.
type Store struct {
	path   string
	logger *slog.Logger
}

// New creates a store backed by the file at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load returns the persisted mark. ok is false when there is no usable
// watermark: either the file is missing (err is nil) or it is unreadable or
// malformed (err wraps ErrCorrupt or the read error).
func (s *Store) Load() (m Mark, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Mark{}, false, nil
		}
		return Mark{}, false, fmt.Errorf("read watermark: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Mark{}, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !period.Valid(m.LastDate) {
		return Mark{}, false, fmt.Errorf("%w: last_date %q", ErrCorrupt, m.LastDate)
	}
	return m, true, nil
}

// Current returns the watermark id, or "" when absent. Load failures are
// logged and treated as absent.
func (s *Store) Current() string {
	m, ok, err := s.Load()
	if err != nil {
		s.logger.Warn("watermark: ignoring unreadable watermark", "path", s.path, "error", err)
	}
	if !ok {
		return ""
	}
	return m.LastDate
}

// Save overwrites the watermark with id.
func (s *Store) Save(id string, at time.Time) error {
	if !period.Valid(id) {
		return fmt.Errorf("save watermark: %w: %q", period.ErrInvalid, id)
	}
	m := Mark{LastDate: id, LastUpdate: at.Format(TimeLayout)}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}
	if err := atomicfile.Write(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

// Advance saves id only if it is newer than the current watermark, and
// returns the id in effect afterwards.
func (s *Store) Advance(id string, at time.Time) (string, error) {
	current := s.Current()
	if current != "" && id <= current {
		return current, nil
	}
	if err := s.Save(id, at); err != nil {
		return current, err
	}
	s.logger.Info("watermark: advanced", "from", current, "to", id)
	return id, nil
}
