package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/divyekant/subdash/internal/fetch"
	"github.com/divyekant/subdash/internal/period"
)

// Compile-time interface check.
var _ Source = (*DatiyaSource)(nil)

const datiyaDefaultBase = "https://free.datiya.com"

var datiyaUpdateTime = regexp.MustCompile(`更新时间.*?(\d{4}-\d{2}-\d{2}\s\d{2}:\d{2}:\d{2})`)

// DatiyaSource scrapes the daily post pages of free.datiya.com. It is the
// only Dated source: one page per period.
type DatiyaSource struct {
	client  *fetch.Client
	baseURL string
	clashRe *regexp.Regexp
	v2rayRe *regexp.Regexp
}

// NewDatiyaSource creates a datiya source pointed at the public site.
func NewDatiyaSource(client *fetch.Client) *DatiyaSource {
	d := &DatiyaSource{client: client}
	d.setBase(datiyaDefaultBase)
	return d
}

func (d *DatiyaSource) Name() string { return "datiya" }
func (d *DatiyaSource) Kind() Kind   { return Dated }

// Configure accepts an optional "base_url" override.
func (d *DatiyaSource) Configure(cfg SourceConfig) error {
	if raw := cfg.Settings["base_url"]; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("datiya: invalid base_url %q", raw)
		}
		d.setBase(raw)
	}
	return nil
}

func (d *DatiyaSource) setBase(base string) {
	d.baseURL = strings.TrimRight(base, "/")
	q := regexp.QuoteMeta(d.baseURL)
	d.clashRe = regexp.MustCompile(q + `/uploads/\d+-clash\.yaml`)
	d.v2rayRe = regexp.MustCompile(q + `/uploads/\d+-v2ray\.txt`)
}

// PostURL returns the page address for a period id.
func (d *DatiyaSource) PostURL(id string) string {
	return fmt.Sprintf("%s/post/%s/", d.baseURL, id)
}

func (d *DatiyaSource) Fetch(ctx context.Context, req FetchRequest) (*Record, error) {
	id := req.Period.ID
	if !period.Valid(id) {
		return nil, fmt.Errorf("datiya: %w: %q", period.ErrInvalid, id)
	}

	pageURL := d.PostURL(id)
	resp, err := d.client.Get(ctx, pageURL, map[string]string{"Referer": d.baseURL + "/"})
	if err != nil {
		return nil, fmt.Errorf("datiya: %w", err)
	}
	body := resp.Text()

	doc, err := parseHTML(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("datiya: parse: %w", err)
	}

	rec := NewRecord(d.Name(), pageURL)
	rec.Date = period.Format(id)
	rec.ExpectedCount = req.Period.ExpectedCount

	rec.Title = "未找到标题"
	if h1 := findFirst(doc, isAtom(atom.H1)); h1 != nil {
		rec.Title = collectText(h1)
	}
	if m := datiyaUpdateTime.FindStringSubmatch(body); m != nil {
		rec.UpdateTime = m[1]
	}

	rec.AddLinks(LinkClash, d.clashRe.FindAllString(body, -1)...)
	rec.AddLinks(LinkV2Ray, d.v2rayRe.FindAllString(body, -1)...)
	rec.Info = nodeOverview(doc)

	if !rec.HasLinks() {
		return nil, fmt.Errorf("datiya: %s: %w", id, ErrNoData)
	}
	return rec, nil
}

// nodeOverview reads "key: value" list items from the first list after the
// node overview heading.
func nodeOverview(doc *html.Node) []Field {
	heading := findText(doc, "今日节点概览")
	if heading == nil {
		return nil
	}
	ul := findNext(heading, isAtom(atom.Ul))
	if ul == nil {
		return nil
	}
	var fields []Field
	for _, li := range findAll(ul, isAtom(atom.Li)) {
		text := collectText(li)
		text = strings.Replace(text, "：", ":", 1)
		k, v, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		fields = append(fields, Field{Name: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	return fields
}
