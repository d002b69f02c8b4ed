package sources

import (
	"context"
	"net/http"
	"strconv"

	"github.com/divyekant/subdash/internal/fetch"
)

// Compile-time interface check.
var _ Source = (*RipaoSource)(nil)

const (
	ripaoClash      = "https://raw.githubusercontent.com/ripaojiedian/freenode/main/clash"
	ripaoV2Ray      = "https://raw.githubusercontent.com/ripaojiedian/freenode/main/sub"
	ripaoMirrorBase = "https://ghproxy.com/"
	ripaoRepo       = "https://github.com/ripaojiedian/freenode"
)

// RipaoSource publishes the permanent ripaojiedian clash and v2ray links
// plus their ghproxy mirrors, with HEAD probes recorded as availability.
type RipaoSource struct {
	client     *fetch.Client
	clash      string
	v2ray      string
	mirrorBase string
}

// NewRipaoSource creates a ripao source with the public links.
func NewRipaoSource(client *fetch.Client) *RipaoSource {
	return &RipaoSource{client: client, clash: ripaoClash, v2ray: ripaoV2Ray, mirrorBase: ripaoMirrorBase}
}

func (r *RipaoSource) Name() string { return "ripao" }
func (r *RipaoSource) Kind() Kind   { return Latest }

// Configure accepts optional "clash_url", "v2ray_url" and "mirror_base".
func (r *RipaoSource) Configure(cfg SourceConfig) error {
	if v := cfg.Settings["clash_url"]; v != "" {
		r.clash = v
	}
	if v := cfg.Settings["v2ray_url"]; v != "" {
		r.v2ray = v
	}
	if v, ok := cfg.Settings["mirror_base"]; ok {
		r.mirrorBase = v
	}
	return nil
}

func (r *RipaoSource) Fetch(ctx context.Context, _ FetchRequest) (*Record, error) {
	rec := NewRecord(r.Name(), ripaoRepo)
	rec.Title = "日日更新节点永久订阅"
	rec.Description = "永久固定的订阅地址，国内优先使用镜像订阅"
	rec.SetMeta("update_interval", "日更新")
	rec.UpdateTime = rec.FetchedAt.Format("2006-01-02 15:04:05")
	rec.AddLinks(LinkClash, r.clash)
	rec.AddLinks(LinkV2Ray, r.v2ray)
	if r.mirrorBase != "" {
		rec.AddLinks(LinkClashMirror, r.mirrorBase+r.clash)
		rec.AddLinks(LinkV2RayMirror, r.mirrorBase+r.v2ray)
	}

	rec.SetMeta("clash_available", strconv.FormatBool(r.probe(ctx, r.clash)))
	rec.SetMeta("v2ray_available", strconv.FormatBool(r.probe(ctx, r.v2ray)))
	return rec, nil
}

func (r *RipaoSource) probe(ctx context.Context, url string) bool {
	code, err := r.client.Head(ctx, url)
	return err == nil && code == http.StatusOK
}
