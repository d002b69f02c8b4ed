// Package store is the durable result store: one JSON document keyed by
// period id for dated records plus one named slot per latest-snapshot source.
//
// Values are kept as raw JSON so entries this process does not touch are
// written back exactly as they were read.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/divyekant/subdash/internal/atomicfile"
	"github.com/divyekant/subdash/internal/period"
)

// ErrCorrupt marks a store file that exists but is not a JSON object.
var ErrCorrupt = errors.New("store: corrupt document")

// Document maps keys to raw JSON values.
type Document map[string]json.RawMessage

// Status says how Load arrived at its document.
type Status int

const (
	StatusLoaded  Status = iota // read from disk
	StatusMissing               // no file yet; empty document
	StatusCorrupt               // unreadable or invalid; empty document
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusMissing:
		return "missing"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// LoadResult lets callers tell a legitimately empty store from one that
// failed and was defaulted to empty.
type LoadResult struct {
	Doc    Document
	Status Status
	Err    error
}

// Store reads and writes the document at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
	read   func(path string) ([]byte, error)
	write  func(path string, data []byte, perm os.FileMode) error
}

// New creates a store backed by path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger, now: time.Now, read: os.ReadFile, write: atomicfile.Write}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the document. It never fails: a missing file yields an empty
// document with StatusMissing and a corrupt one yields an empty document
// with StatusCorrupt and Err set.
func (s *Store) Load() LoadResult {
	data, err := s.read(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadResult{Doc: Document{}, Status: StatusMissing}
		}
		return LoadResult{Doc: Document{}, Status: StatusCorrupt, Err: fmt.Errorf("read store: %w", err)}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return LoadResult{Doc: Document{}, Status: StatusCorrupt, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if doc == nil {
		// A literal "null" file.
		doc = Document{}
	}
	return LoadResult{Doc: doc, Status: StatusLoaded}
}

// LoadOrEmpty loads the document, logging and defaulting on corruption.
func (s *Store) LoadOrEmpty() Document {
	res := s.Load()
	if res.Status == StatusCorrupt {
		s.logger.Warn("store: treating unreadable store as empty", "path", s.path, "error", res.Err)
	}
	return res.Doc
}

// Merge returns existing overlaid with updates. Neither input is modified.
func Merge(existing, updates Document) Document {
	out := make(Document, len(existing)+len(updates))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// MergeAndSave re-reads the file, overlays updates and writes the result.
// Keys on disk that updates does not name survive unchanged. A file that
// fails to parse is set aside before being replaced. A file that cannot be
// read at all is left alone and the error returned, since its keys are
// unknown. The merged document is returned.
func (s *Store) MergeAndSave(updates Document) (Document, error) {
	res := s.Load()
	if res.Status == StatusCorrupt {
		if !errors.Is(res.Err, ErrCorrupt) {
			s.logger.Error("store: existing store unreadable, not writing", "path", s.path, "error", res.Err)
			return nil, fmt.Errorf("merge store: %w", res.Err)
		}
		s.logger.Warn("store: existing store corrupt, starting from empty", "path", s.path, "error", res.Err)
		s.setAside()
	}
	merged := Merge(res.Doc, updates)
	if err := s.Save(merged); err != nil {
		return merged, err
	}
	return merged, nil
}

// Save writes doc. When the primary write fails a timestamped backup next to
// the store is attempted; the primary error is still returned.
func (s *Store) Save(doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	err = s.write(s.path, data, 0o644)
	if err == nil {
		return nil
	}

	backup := s.BackupPath()
	if berr := os.WriteFile(backup, data, 0o644); berr != nil {
		s.logger.Error("store: write and backup both failed", "path", s.path, "backup", backup, "error", err, "backup_error", berr)
		return fmt.Errorf("write store: %w (backup failed: %v)", err, berr)
	}
	s.logger.Error("store: write failed, backup saved", "path", s.path, "backup", backup, "error", err)
	return fmt.Errorf("write store: %w (backup saved to %s)", err, backup)
}

// BackupPath returns the backup file name for the current second.
func (s *Store) BackupPath() string {
	name := "data_backup_" + s.now().Format("20060102_150405") + ".json"
	return filepath.Join(filepath.Dir(s.path), name)
}

func (s *Store) setAside() {
	dst := filepath.Join(filepath.Dir(s.path), "data_corrupt_"+s.now().Format("20060102_150405")+".json")
	if err := os.Rename(s.path, dst); err != nil {
		s.logger.Warn("store: could not set aside corrupt store", "path", s.path, "error", err)
		return
	}
	s.logger.Warn("store: corrupt store moved aside", "to", dst)
}

// Encode renders doc as indented JSON with sorted keys and unescaped HTML.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if doc == nil {
		doc = Document{}
	}
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}
	return buf.Bytes(), nil
}

// Put marshals v under key.
func (d Document) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	d[key] = raw
	return nil
}

// Get unmarshals the value under key into v. It reports false when the key
// is absent.
func (d Document) Get(key string, v any) (bool, error) {
	raw, ok := d[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// PeriodKeys returns the keys that are period ids, newest first.
func (d Document) PeriodKeys() []string {
	var keys []string
	for k := range d {
		if period.Valid(k) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}

// SlotKeys returns the keys that are not period ids, sorted.
func (d Document) SlotKeys() []string {
	var keys []string
	for k := range d {
		if !period.Valid(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
