package sources

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/divyekant/subdash/internal/fetch"
)

// Compile-time interface check.
var _ Source = (*ShaoyouSource)(nil)

const (
	shaoyouRawURL    = "https://raw.githubusercontent.com/shaoyouvip/free/refs/heads/main/README.md"
	shaoyouBackupURL = "https://github.com/shaoyouvip/free/blob/main/README.md"
	shaoyouTitle     = "周润发公益免费v2ray节点订阅"
	shaoyouNoProxy   = "# 无需代理更新节点订阅"
)

var (
	shaoyouTitleRe = regexp.MustCompile(`# (.*?)公益免费v2ray节点订阅`)

	shaoyouYAML   = regexp.MustCompile(`https?://[\w./\-=]+?\.yaml`)
	shaoyouBase64 = regexp.MustCompile(`https?://[\w./\-=]+?\.txt`)
	shaoyouMihomo = regexp.MustCompile(`https?://[\w./\-=]+?mihomo\.yaml`)

	shaoyouNoProxyYAML   = regexp.MustCompile(`https?://[\w./\-=]+?(?:vless-all|/all\.yaml)`)
	shaoyouNoProxyBase64 = regexp.MustCompile(`https?://[\w./\-=]+?(?:vless-base64|/base64\.txt)`)
	shaoyouNoProxyMihomo = regexp.MustCompile(`https?://[\w./\-=]+?(?:vless-mihomo|/mihomo\.yaml)`)

	shaoyouRow = regexp.MustCompile(`\|\s*(.*?)\s*\|\s*(.*?)\s*\|\s*(.*?)\s*\|`)
	anyURL     = regexp.MustCompile(`https?://[^\s)\]]+`)
)

// shaoyouFixed is used when the README yields no links or is unreachable.
var shaoyouFixed = map[string][]string{
	LinkClash:           {"https://raw.githubusercontent.com/shaoyouvip/free/main/all.yaml"},
	LinkBase64:          {"https://raw.githubusercontent.com/shaoyouvip/free/main/base64.txt"},
	LinkMihomo:          {"https://raw.githubusercontent.com/shaoyouvip/free/main/mihomo.yaml"},
	NoProxy(LinkClash):  {"https://d.aizrf.com/vless-all"},
	NoProxy(LinkBase64): {"https://d.aizrf.com/vless-base64"},
	NoProxy(LinkMihomo): {"https://d.aizrf.com/vless-mihomo"},
}

// ShaoyouSource parses the shaoyouvip/free README for yaml, base64 and
// mihomo subscriptions, the no-proxy mirrors and the supported client table.
type ShaoyouSource struct {
	client    *fetch.Client
	rawURL    string
	backupURL string
}

// NewShaoyouSource creates a shaoyou source with the public README urls.
func NewShaoyouSource(client *fetch.Client) *ShaoyouSource {
	return &ShaoyouSource{client: client, rawURL: shaoyouRawURL, backupURL: shaoyouBackupURL}
}

func (s *ShaoyouSource) Name() string { return "shaoyou" }
func (s *ShaoyouSource) Kind() Kind   { return Latest }

// Configure accepts optional "readme_url" and "backup_url".
func (s *ShaoyouSource) Configure(cfg SourceConfig) error {
	if v := cfg.Settings["readme_url"]; v != "" {
		s.rawURL = v
	}
	if v := cfg.Settings["backup_url"]; v != "" {
		s.backupURL = v
	}
	return nil
}

func (s *ShaoyouSource) Fetch(ctx context.Context, _ FetchRequest) (*Record, error) {
	readme, err := s.readme(ctx)
	if err != nil {
		// Upstream down: publish the fixed links rather than nothing.
		rec := s.newRecord()
		rec.Title = shaoyouTitle
		s.addFixed(rec)
		rec.SetMeta("note", "fixed links: "+err.Error())
		return rec, nil
	}
	return s.parse(readme), nil
}

func (s *ShaoyouSource) readme(ctx context.Context) (string, error) {
	resp, err := s.client.Get(ctx, s.rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("shaoyou: %w", err)
	}
	if len(resp.Body) >= 100 {
		return resp.Text(), nil
	}

	resp, err = s.client.Get(ctx, s.backupURL, nil)
	if err != nil {
		return "", fmt.Errorf("shaoyou: backup: %w", err)
	}
	md, err := readmeMarkdown(resp.Body, s.backupURL)
	if err != nil {
		return "", fmt.Errorf("shaoyou: backup: %w", err)
	}
	return md, nil
}

func (s *ShaoyouSource) newRecord() *Record {
	rec := NewRecord(s.Name(), s.rawURL)
	rec.Description = "每2小时更新一次，提供免费v2ray节点订阅"
	rec.SetMeta("update_interval", "2小时")
	return rec
}

func (s *ShaoyouSource) parse(readme string) *Record {
	rec := s.newRecord()
	rec.Title = shaoyouTitle
	if m := shaoyouTitleRe.FindStringSubmatch(readme); m != nil {
		rec.Title = m[1] + "公益免费v2ray节点订阅"
	}

	rec.AddLinks(LinkClash, shaoyouYAML.FindAllString(readme, -1)...)
	rec.AddLinks(LinkBase64, shaoyouBase64.FindAllString(readme, -1)...)
	rec.AddLinks(LinkMihomo, shaoyouMihomo.FindAllString(readme, -1)...)

	if section, ok := noProxySection(readme); ok {
		rec.AddLinks(NoProxy(LinkClash), shaoyouNoProxyYAML.FindAllString(section, -1)...)
		rec.AddLinks(NoProxy(LinkBase64), shaoyouNoProxyBase64.FindAllString(section, -1)...)
		rec.AddLinks(NoProxy(LinkMihomo), shaoyouNoProxyMihomo.FindAllString(section, -1)...)
	}

	rec.Info = clientTable(readme)

	if len(rec.Links[LinkClash]) == 0 && len(rec.Links[LinkBase64]) == 0 && len(rec.Links[LinkMihomo]) == 0 {
		rec.Links = make(map[string][]string)
		s.addFixed(rec)
		rec.SetMeta("note", "fixed links: no subscription links in README")
	}
	return rec
}

func (s *ShaoyouSource) addFixed(rec *Record) {
	for cat, urls := range shaoyouFixed {
		rec.AddLinks(cat, urls...)
	}
}

// noProxySection returns the text after the no-proxy heading up to the next '#'.
func noProxySection(readme string) (string, bool) {
	i := strings.Index(readme, shaoyouNoProxy)
	if i < 0 {
		return "", false
	}
	rest := readme[i+len(shaoyouNoProxy):]
	if j := strings.IndexByte(rest, '#'); j >= 0 {
		rest = rest[:j]
	}
	return rest, strings.TrimSpace(rest) != ""
}

// clientTable reads "| name | platform | url |" rows from the first table,
// stopping at the next "##" heading. The header row and separator are skipped
// because their third cell holds no http link.
func clientTable(readme string) []Field {
	start := strings.Index(readme, "|")
	if start < 0 {
		return nil
	}
	table := readme[start:]
	if end := strings.Index(table, "##"); end >= 0 {
		table = table[:end]
	}

	var clients []Field
	for _, line := range strings.Split(table, "\n") {
		m := shaoyouRow.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, platform := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		link := anyURL.FindString(m[3])
		if name == "" || platform == "" || link == "" {
			continue
		}
		clients = append(clients, Field{Name: name, Value: link, Detail: platform})
	}
	return clients
}
