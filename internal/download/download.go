// Package download saves the subscription files a record links to under
// {dir}/{source}/{basename}, tracking them in a manifest.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/divyekant/subdash/internal/atomicfile"
	"github.com/divyekant/subdash/internal/fetch"
	"github.com/divyekant/subdash/internal/manifest"
	"github.com/divyekant/subdash/internal/sources"
)

// Summary counts the outcome of one Download call.
type Summary struct {
	Written   []string // relative paths written or rewritten
	Unchanged []string // relative paths whose content was identical
	Failed    []string // URLs that could not be fetched or saved
}

// Downloader fetches linked files into a directory.
type Downloader struct {
	dir    string
	client *fetch.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a downloader rooted at dir.
func New(dir string, client *fetch.Client, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{dir: dir, client: client, logger: logger, now: time.Now}
}

// Dir returns the downloads directory.
func (d *Downloader) Dir() string { return d.dir }

// Record downloads every non-mirror link of rec. It returns an error joining
// the individual failures; files that did download are kept either way.
func (d *Downloader) Record(ctx context.Context, rec *sources.Record) error {
	_, err := d.Download(ctx, rec)
	return err
}

// Download is Record with a per-file summary.
func (d *Downloader) Download(ctx context.Context, rec *sources.Record) (*Summary, error) {
	sum := &Summary{}
	if rec == nil {
		return sum, nil
	}

	mf, err := manifest.Load(d.dir)
	if err != nil {
		d.logger.Warn("download: manifest unreadable, starting fresh", "error", err)
		mf = manifest.New(d.dir)
	}

	var errs []error
	for _, link := range Links(rec) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rel := path.Join(rec.Source, FileName(link))
		written, err := d.one(ctx, mf, rec.Source, link, rel)
		switch {
		case err != nil:
			d.logger.Warn("download: failed", "source", rec.Source, "url", link, "error", err)
			sum.Failed = append(sum.Failed, link)
			errs = append(errs, fmt.Errorf("%s: %w", link, err))
		case written:
			sum.Written = append(sum.Written, rel)
		default:
			sum.Unchanged = append(sum.Unchanged, rel)
		}
	}

	if len(sum.Written) > 0 {
		if err := mf.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	d.logger.Info("download: done", "source", rec.Source,
		"written", len(sum.Written), "unchanged", len(sum.Unchanged), "failed", len(sum.Failed))
	return sum, errors.Join(errs...)
}

func (d *Downloader) one(ctx context.Context, mf *manifest.Manifest, source, link, rel string) (bool, error) {
	resp, err := d.client.Get(ctx, link, nil)
	if err != nil {
		return false, err
	}
	if len(resp.Body) == 0 {
		return false, errors.New("empty body")
	}

	hash := manifest.HashBytes(resp.Body)
	if mf.Unchanged(rel, hash) {
		return false, nil
	}
	if err := atomicfile.Write(filepath.Join(d.dir, filepath.FromSlash(rel)), resp.Body, 0o644); err != nil {
		return false, err
	}
	mf.UpdateFile(rel, manifest.FileEntry{
		URL:       link,
		Source:    source,
		Hash:      hash,
		Size:      int64(len(resp.Body)),
		FetchedAt: d.now().UTC().Truncate(time.Second),
	})
	return true, nil
}

// Links returns the links worth saving: every category except mirrors,
// which duplicate a primary link's content.
func Links(rec *sources.Record) []string {
	var out []string
	for _, c := range rec.Categories() {
		if strings.HasSuffix(c, "_mirror") {
			continue
		}
		out = append(out, rec.Links[c]...)
	}
	return lo.Uniq(out)
}

// FileName derives a safe local file name from a link: the last path
// segment, or the host when the path is empty, with unusual characters
// replaced by underscores.
func FileName(link string) string {
	name := ""
	if u, err := url.Parse(link); err == nil {
		name = path.Base(u.Path)
		if name == "." || name == "/" || name == "" {
			name = u.Host
		}
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "download"
	}
	return name
}
