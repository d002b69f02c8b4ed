// Package publish renders the result store into a static HTML dashboard.
//
// Rendering depends only on the store document, so the same document always
// produces the same output.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"github.com/divyekant/subdash/internal/atomicfile"
	"github.com/divyekant/subdash/internal/period"
	"github.com/divyekant/subdash/internal/sources"
	"github.com/divyekant/subdash/internal/store"
	"github.com/divyekant/subdash/web"
)

// Output file names inside the publish directory.
const (
	IndexFile  = "index.html"
	SimpleFile = "simple.html"
)

// Publisher regenerates output from the full store document.
type Publisher interface {
	Publish(ctx context.Context, doc store.Document) error
}

// categoryOrder fixes the display order of link groups.
var categoryOrder = []string{
	sources.LinkSubscription,
	sources.LinkClash,
	sources.LinkClashMirror,
	sources.LinkV2Ray,
	sources.LinkV2RayMirror,
	sources.LinkSingbox,
	sources.LinkMihomo,
	sources.LinkBase64,
}

var categoryLabels = map[string]string{
	sources.LinkSubscription: "订阅链接",
	sources.LinkClash:        "Clash",
	sources.LinkClashMirror:  "Clash 镜像",
	sources.LinkV2Ray:        "V2Ray",
	sources.LinkV2RayMirror:  "V2Ray 镜像",
	sources.LinkSingbox:      "Sing-box",
	sources.LinkMihomo:       "Mihomo",
	sources.LinkBase64:       "Base64",
}

// slotOrder is the order slots appear on the page; unknown slots follow sorted.
var slotOrder = []string{"freev2", "bestclash", "shaoyou", "ripao", "v2rayc"}

// View is the template input.
type View struct {
	UpdatedAt string // newest scrape time across all entries
	Slots     []Entry
	Periods   []Entry // newest first
	Skipped   []string
}

// Entry is one rendered record.
type Entry struct {
	Key           string
	Source        string
	Title         string
	Description   string
	UpdateTime    string
	Date          string
	ExpectedCount int
	SourceURL     string
	FetchedAt     string
	Links         []LinkGroup
	Info          []sources.Field
	Meta          []MetaItem
}

// LinkGroup is one labelled list of URLs.
type LinkGroup struct {
	Category string
	Label    string
	URLs     []string
}

// MetaItem is one key/value annotation.
type MetaItem struct {
	Key   string
	Value string
}

// HTMLPublisher writes index.html and simple.html into a directory.
type HTMLPublisher struct {
	dir    string
	tmpl   *template.Template
	policy *bluemonday.Policy
	logger *slog.Logger
}

// NewHTML parses the embedded templates and returns a publisher writing to dir.
func NewHTML(dir string, logger *slog.Logger) (*HTMLPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.ParseFS(web.TemplateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &HTMLPublisher{
		dir:    dir,
		tmpl:   tmpl,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}, nil
}

// Dir returns the output directory.
func (p *HTMLPublisher) Dir() string { return p.dir }

// Publish renders doc. The full page is written first; the simple page is
// best effort.
func (p *HTMLPublisher) Publish(ctx context.Context, doc store.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	view := p.BuildView(doc)
	for _, key := range view.Skipped {
		p.logger.Warn("publish: skipping undecodable entry", "key", key)
	}

	data, err := p.Render(IndexFile, view)
	if err != nil {
		return err
	}
	if err := atomicfile.Write(filepath.Join(p.dir, IndexFile), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", IndexFile, err)
	}

	if data, err := p.Render(SimpleFile, view); err != nil {
		p.logger.Warn("publish: simple page failed", "error", err)
	} else if err := atomicfile.Write(filepath.Join(p.dir, SimpleFile), data, 0o644); err != nil {
		p.logger.Warn("publish: simple page failed", "error", err)
	}

	p.logger.Info("publish: dashboard written", "dir", p.dir, "periods", len(view.Periods), "slots", len(view.Slots))
	return nil
}

// Render executes the named template against view.
func (p *HTMLPublisher) Render(name string, view View) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, view); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// BuildView decodes every store entry into template form. Entries that do
// not decode as records are listed in View.Skipped.
func (p *HTMLPublisher) BuildView(doc store.Document) View {
	var v View
	for _, key := range doc.PeriodKeys() {
		e, ok := p.entry(key, doc[key])
		if !ok {
			v.Skipped = append(v.Skipped, key)
			continue
		}
		if e.Date == "" {
			e.Date = period.Format(key)
		}
		v.Periods = append(v.Periods, e)
	}

	slots := doc.SlotKeys()
	sort.SliceStable(slots, func(i, j int) bool { return slotRank(slots[i]) < slotRank(slots[j]) })
	for _, key := range slots {
		e, ok := p.entry(key, doc[key])
		if !ok {
			v.Skipped = append(v.Skipped, key)
			continue
		}
		v.Slots = append(v.Slots, e)
	}

	for _, e := range append(append([]Entry(nil), v.Slots...), v.Periods...) {
		if e.FetchedAt > v.UpdatedAt {
			v.UpdatedAt = e.FetchedAt
		}
	}
	return v
}

func (p *HTMLPublisher) entry(key string, raw json.RawMessage) (Entry, bool) {
	var rec sources.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Entry{}, false
	}
	e := Entry{
		Key:           key,
		Source:        rec.Source,
		Title:         p.clean(rec.Title),
		Description:   p.clean(rec.Description),
		UpdateTime:    p.clean(rec.UpdateTime),
		Date:          rec.Date,
		ExpectedCount: rec.ExpectedCount,
		SourceURL:     safeURL(rec.SourceURL),
		Links:         linkGroups(rec.Links),
	}
	if e.Title == "" {
		e.Title = key
	}
	if !rec.FetchedAt.IsZero() {
		e.FetchedAt = rec.FetchedAt.UTC().Format("2006-01-02 15:04:05")
	}
	for _, f := range rec.Info {
		e.Info = append(e.Info, sources.Field{Name: p.clean(f.Name), Value: p.clean(f.Value), Detail: p.clean(f.Detail)})
	}
	keys := lo.Keys(rec.Meta)
	sort.Strings(keys)
	for _, k := range keys {
		e.Meta = append(e.Meta, MetaItem{Key: k, Value: p.clean(rec.Meta[k])})
	}
	return e, true
}

// clean strips markup from scraped text. bluemonday escapes what it keeps,
// and the template escapes again, so entities are decoded in between.
func (p *HTMLPublisher) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(p.policy.Sanitize(s)))
}

func linkGroups(links map[string][]string) []LinkGroup {
	cats := lo.Keys(links)
	sort.Slice(cats, func(i, j int) bool {
		ri, rj := categoryRank(cats[i]), categoryRank(cats[j])
		if ri != rj {
			return ri < rj
		}
		return cats[i] < cats[j]
	})

	var groups []LinkGroup
	for _, c := range cats {
		urls := lo.Filter(links[c], func(u string, _ int) bool { return safeURL(u) != "" })
		if len(urls) == 0 {
			continue
		}
		groups = append(groups, LinkGroup{Category: c, Label: CategoryLabel(c), URLs: urls})
	}
	return groups
}

// CategoryLabel returns the display label for a link category.
func CategoryLabel(c string) string {
	if base, ok := strings.CutPrefix(c, sources.NoProxy("")); ok {
		return CategoryLabel(base) + "（无需代理）"
	}
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return c
}

func categoryRank(c string) int {
	base, noProxy := strings.CutPrefix(c, sources.NoProxy(""))
	i := lo.IndexOf(categoryOrder, base)
	if i < 0 {
		i = len(categoryOrder)
	}
	if noProxy {
		i += len(categoryOrder) + 1
	}
	return i
}

func slotRank(key string) int {
	if i := lo.IndexOf(slotOrder, key); i >= 0 {
		return i
	}
	return len(slotOrder)
}

// safeURL returns u if it is an http(s) URL, else "".
func safeURL(u string) string {
	lower := strings.ToLower(strings.TrimSpace(u))
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return strings.TrimSpace(u)
	}
	return ""
}
