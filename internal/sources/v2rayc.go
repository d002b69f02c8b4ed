package sources

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/divyekant/subdash/internal/fetch"
	"github.com/divyekant/subdash/internal/period"
)

// Compile-time interface check.
var _ Source = (*V2raycSource)(nil)

const (
	v2raycReadme    = "https://raw.githubusercontent.com/v2rayc/v2rayc.github.io/main/README.md"
	v2raycPage      = "https://github.com/v2rayc/v2rayc.github.io/blob/main/README.md"
	v2raycUploads   = "https://v2rayc.github.io/uploads/"
	v2raycSynthNote = "链接由系统根据日期自动生成，可能需要手动验证可用性"
)

var v2raycMirrors = []string{
	"https://raw.fastgit.org/v2rayc/v2rayc.github.io/main/README.md",
	"https://fastly.jsdelivr.net/gh/v2rayc/v2rayc.github.io@main/README.md",
	"https://gcore.jsdelivr.net/gh/v2rayc/v2rayc.github.io@main/README.md",
	"https://cdn.jsdelivr.net/gh/v2rayc/v2rayc.github.io@main/README.md",
}

var (
	v2raycTitle      = regexp.MustCompile(`(\d+月\d+日.*?免费节点.*?订阅链接)`)
	v2raycUpdateTime = regexp.MustCompile(`更新时间\s*(20\d{2}-\d{2}-\d{2}\s*\d{2}:\d{2}:\d{2})`)
	v2raycDate       = regexp.MustCompile(`(\d{4})[-/](\d{2})[-/](\d{2})|(\d{8})`)
	v2raycClash      = regexp.MustCompile(`https?://v2rayc\.github\.io/uploads/\d+/\d+/[^.\s]+\.yaml`)
	v2raycV2Ray      = regexp.MustCompile(`https?://v2rayc\.github\.io/uploads/\d+/\d+/[^.\s]+\.txt`)
	v2raycSingbox    = regexp.MustCompile(`https?://v2rayc\.github\.io/uploads/\d+/\d+/[^.\s]+\.json`)
)

// V2raycSource reads the v2rayc.github.io README for clash, v2ray and
// sing-box links. The raw file is tried first, then each mirror, then the
// rendered GitHub page.
type V2raycSource struct {
	client  *fetch.Client
	readme  string
	mirrors []string
	page    string
	logger  *slog.Logger
}

// NewV2raycSource creates a v2rayc source with the public urls and mirrors.
func NewV2raycSource(client *fetch.Client) *V2raycSource {
	return &V2raycSource{
		client:  client,
		readme:  v2raycReadme,
		mirrors: v2raycMirrors,
		page:    v2raycPage,
		logger:  slog.Default(),
	}
}

func (v *V2raycSource) Name() string { return "v2rayc" }
func (v *V2raycSource) Kind() Kind   { return Latest }

// Configure accepts optional "readme_url", "page_url" and a comma-separated
// "mirrors" list. An explicit empty mirror list disables mirrors.
func (v *V2raycSource) Configure(cfg SourceConfig) error {
	if u := cfg.Settings["readme_url"]; u != "" {
		v.readme = u
	}
	if u := cfg.Settings["page_url"]; u != "" {
		v.page = u
	}
	if raw, ok := cfg.Settings["mirrors"]; ok {
		v.mirrors = splitList(raw)
	}
	return nil
}

func (v *V2raycSource) Fetch(ctx context.Context, _ FetchRequest) (*Record, error) {
	content, err := v.content(ctx)
	if err != nil {
		return nil, err
	}
	return v.parse(content), nil
}

func (v *V2raycSource) content(ctx context.Context) (string, error) {
	for _, u := range append([]string{v.readme}, v.mirrors...) {
		resp, err := v.client.Get(ctx, u, nil)
		if err != nil {
			v.logger.Debug("v2rayc: readme candidate failed", "url", u, "error", err)
			if ctx.Err() != nil {
				return "", fmt.Errorf("v2rayc: %w", ctx.Err())
			}
			continue
		}
		return resp.Text(), nil
	}

	resp, err := v.client.Get(ctx, v.page, nil)
	if err != nil {
		return "", fmt.Errorf("v2rayc: all readme urls failed, page: %w", err)
	}
	md, err := readmeMarkdown(resp.Body, v.page)
	if err != nil {
		return "", fmt.Errorf("v2rayc: %w", err)
	}
	return md, nil
}

func (v *V2raycSource) parse(content string) *Record {
	rec := NewRecord(v.Name(), v.page)

	rec.Title = "v2rayc.github.io免费节点订阅"
	if m := v2raycTitle.FindStringSubmatch(content); m != nil {
		rec.Title = m[1]
	}
	rec.UpdateTime = rec.FetchedAt.Format("2006-01-02 15:04:05")
	if m := v2raycUpdateTime.FindStringSubmatch(content); m != nil {
		rec.UpdateTime = m[1]
	}

	date := rec.FetchedAt.Format("20060102")
	if m := v2raycDate.FindStringSubmatch(content); m != nil {
		if m[4] != "" {
			date = m[4]
		} else {
			date = m[1] + m[2] + m[3]
		}
	}
	rec.Date = period.Format(date)

	rec.AddLinks(LinkClash, v2raycClash.FindAllString(content, -1)...)
	rec.AddLinks(LinkV2Ray, v2raycV2Ray.FindAllString(content, -1)...)
	rec.AddLinks(LinkSingbox, v2raycSingbox.FindAllString(content, -1)...)

	if !rec.HasLinks() {
		// Upstream names files <n>-<date>.yaml / .txt and <date>.json under
		// uploads/<year>/<month>/.
		base := v2raycUploads + rec.FetchedAt.Format("2006/01") + "/"
		for i := 0; i < 5; i++ {
			rec.AddLinks(LinkClash, fmt.Sprintf("%s%d-%s.yaml", base, i, date))
			rec.AddLinks(LinkV2Ray, fmt.Sprintf("%s%d-%s.txt", base, i, date))
		}
		rec.AddLinks(LinkSingbox, base+date+".json")
		rec.SetMeta("note", v2raycSynthNote)
	}
	return rec
}
