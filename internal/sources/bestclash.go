package sources

import (
	"context"
	"net/http"
	"strconv"

	"github.com/divyekant/subdash/internal/fetch"
)

// Compile-time interface check.
var _ Source = (*BestClashSource)(nil)

const (
	bestClashGitHub = "https://raw.githubusercontent.com/PuddinCat/BestClash/refs/heads/main/proxies.yaml"
	bestClashMirror = "https://ghfile.geekertao.top/https://github.com/PuddinCat/BestClash/blob/main/proxies.yaml"
	bestClashRepo   = "https://github.com/PuddinCat/BestClash"
)

// BestClashSource publishes the fixed BestClash proxies.yaml and its mirror.
// The upstream regenerates the file every 30 minutes, so there is nothing to
// scrape; Fetch only probes whether GitHub is reachable.
type BestClashSource struct {
	client *fetch.Client
	github string
	mirror string
}

// NewBestClashSource creates a bestclash source with the public links.
func NewBestClashSource(client *fetch.Client) *BestClashSource {
	return &BestClashSource{client: client, github: bestClashGitHub, mirror: bestClashMirror}
}

func (b *BestClashSource) Name() string { return "bestclash" }
func (b *BestClashSource) Kind() Kind   { return Latest }

// Configure accepts optional "github_url" and "mirror_url" overrides.
func (b *BestClashSource) Configure(cfg SourceConfig) error {
	if v := cfg.Settings["github_url"]; v != "" {
		b.github = v
	}
	if v := cfg.Settings["mirror_url"]; v != "" {
		b.mirror = v
	}
	return nil
}

func (b *BestClashSource) Fetch(ctx context.Context, _ FetchRequest) (*Record, error) {
	rec := NewRecord(b.Name(), bestClashRepo)
	rec.Title = "BestClash"
	rec.Description = "免费Clash代理！自动从网上爬取最快的代理，每30分钟更新！"
	rec.UpdateTime = rec.FetchedAt.Format("2006-01-02 15:04:05")
	rec.AddLinks(LinkClash, b.github)
	rec.AddLinks(LinkClashMirror, b.mirror)

	code, err := b.client.Head(ctx, b.github)
	reachable := err == nil && code == http.StatusOK
	rec.SetMeta("github_reachable", strconv.FormatBool(reachable))
	return rec, nil
}
