// Package manifest tracks the subscription files saved under the downloads
// directory: one entry per file with its content hash, size and origin, so
// a re-download can tell changed files from unchanged ones.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/divyekant/subdash/internal/atomicfile"
)

// FileName is the manifest's name inside the downloads directory.
const FileName = "manifest.json"

// FileEntry tracks the hash and metadata of a single downloaded file.
type FileEntry struct {
	URL       string    `json:"url"`
	Source    string    `json:"source"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Manifest tracks every downloaded file, keyed by path relative to the
// downloads directory.
type Manifest struct {
	Version   string               `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
	Files     map[string]FileEntry `json:"files"`
	path      string               // on-disk path to manifest.json (not serialized)
}

// New creates an empty manifest stored at {dir}/manifest.json.
func New(dir string) *Manifest {
	return &Manifest{
		Version: "1.0",
		Files:   make(map[string]FileEntry),
		path:    filepath.Join(dir, FileName),
	}
}

// Load reads {dir}/manifest.json. A missing file yields an empty manifest.
func Load(dir string) (*Manifest, error) {
	p := filepath.Join(dir, FileName)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return New(dir), nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	m.path = p
	if m.Files == nil {
		m.Files = make(map[string]FileEntry)
	}
	return &m, nil
}

// Path returns the manifest file.
func (m *Manifest) Path() string { return m.path }

// Save writes the manifest atomically.
func (m *Manifest) Save() error {
	m.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := atomicfile.Write(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Unchanged reports whether relPath is tracked with the given hash and the
// file is still on disk.
func (m *Manifest) Unchanged(relPath, hash string) bool {
	entry, ok := m.Files[relPath]
	if !ok || entry.Hash != hash {
		return false
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(m.path), relPath))
	return err == nil
}

// UpdateFile adds or replaces an entry.
func (m *Manifest) UpdateFile(relPath string, entry FileEntry) {
	m.Files[relPath] = entry
}

// RemoveFile deletes an entry.
func (m *Manifest) RemoveFile(relPath string) {
	delete(m.Files, relPath)
}

// IsEmpty returns true if no files are tracked.
func (m *Manifest) IsEmpty() bool {
	return len(m.Files) == 0
}

// BySource returns the tracked paths for one source, sorted.
func (m *Manifest) BySource(source string) []string {
	var out []string
	for p, e := range m.Files {
		if e.Source == source {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
