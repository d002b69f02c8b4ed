// Package sources provides a unified interface for every upstream site that
// publishes free subscription links. Each source produces a Record holding
// categorized link lists plus a human title. Dated sources are fetched once
// per period; Latest sources hold a single current snapshot.
package sources

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/divyekant/subdash/internal/period"
)

var (
	// ErrNoData means the upstream answered but carried nothing usable.
	ErrNoData = errors.New("sources: no data")
	// ErrUnknownSource is returned by Registry.Get for unregistered names.
	ErrUnknownSource = errors.New("sources: unknown source")
)

// now is swapped in tests.
var now = time.Now

// Kind controls how a source's records are keyed in the result store.
type Kind int

const (
	Dated  Kind = iota // one record per period, keyed by period id
	Latest             // one current record, kept in a named slot
)

func (k Kind) String() string {
	switch k {
	case Dated:
		return "dated"
	case Latest:
		return "latest"
	default:
		return "unknown"
	}
}

// Link categories.
const (
	LinkClash        = "clash"
	LinkV2Ray        = "v2ray"
	LinkSingbox      = "singbox"
	LinkBase64       = "base64"
	LinkMihomo       = "mihomo"
	LinkSubscription = "subscription"
	LinkClashMirror  = "clash_mirror"
	LinkV2RayMirror  = "v2ray_mirror"
)

// NoProxy returns the category used for links reachable without a proxy.
func NoProxy(category string) string { return "no_proxy_" + category }

// Field is one labelled value scraped from a page (node overview rows,
// supported clients).
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Detail string `json:"detail,omitempty"`
}

// Record is the normalized output of one fetch. Records are never mutated
// after they are returned; a later fetch of the same source supersedes them.
type Record struct {
	Source        string              `json:"source"`
	Title         string              `json:"title"`
	Description   string              `json:"description,omitempty"`
	UpdateTime    string              `json:"update_time,omitempty"`
	Date          string              `json:"date,omitempty"` // YYYY-MM-DD for dated records
	ExpectedCount int                 `json:"expected_count,omitempty"`
	SourceURL     string              `json:"source_url,omitempty"`
	Links         map[string][]string `json:"links"`
	Info          []Field             `json:"info,omitempty"`
	Meta          map[string]string   `json:"meta,omitempty"`
	FetchedAt     time.Time           `json:"scrape_time"`
}

// NewRecord returns an empty record stamped with the current time.
func NewRecord(source, sourceURL string) *Record {
	return &Record{
		Source:    source,
		SourceURL: sourceURL,
		Links:     make(map[string][]string),
		FetchedAt: now().UTC().Truncate(time.Second),
	}
}

// AddLinks appends urls to a category, dropping blanks and duplicates.
func (r *Record) AddLinks(category string, urls ...string) {
	if r.Links == nil {
		r.Links = make(map[string][]string)
	}
	merged := append(r.Links[category], urls...)
	merged = lo.Uniq(lo.Compact(merged))
	if len(merged) == 0 {
		return
	}
	r.Links[category] = merged
}

// SetMeta records a free-form annotation.
func (r *Record) SetMeta(key, value string) {
	if r.Meta == nil {
		r.Meta = make(map[string]string)
	}
	r.Meta[key] = value
}

// HasLinks reports whether any category holds at least one link.
func (r *Record) HasLinks() bool {
	if r == nil {
		return false
	}
	for _, urls := range r.Links {
		if len(urls) > 0 {
			return true
		}
	}
	return false
}

// Categories returns the non-empty link categories in sorted order.
func (r *Record) Categories() []string {
	cats := lo.Filter(lo.Keys(r.Links), func(c string, _ int) bool {
		return len(r.Links[c]) > 0
	})
	sort.Strings(cats)
	return cats
}

// AllLinks returns every link across categories, de-duplicated, in category order.
func (r *Record) AllLinks() []string {
	var all []string
	for _, c := range r.Categories() {
		all = append(all, r.Links[c]...)
	}
	return lo.Uniq(all)
}

// FetchRequest provides context to a source's Fetch method.
type FetchRequest struct {
	Period period.Period // set only for Dated sources
}

// SourceConfig holds per-source settings from sources.yaml.
type SourceConfig struct {
	Settings map[string]string
}

// Source is the unified interface for all upstream sites.
//
// Fetch returns ErrNoData (possibly wrapped) when the upstream responded but
// had nothing to offer. Any other error is unexpected. Callers treat both as
// a failed attempt.
type Source interface {
	Name() string
	Kind() Kind
	Configure(cfg SourceConfig) error
	Fetch(ctx context.Context, req FetchRequest) (*Record, error)
}
