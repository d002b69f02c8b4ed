package publish

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/divyekant/subdash/internal/store"
)

func testDoc() store.Document {
	return store.Document{
		"20250409": []byte(`{"source":"datiya","title":"四月九日","links":{"clash":["https://free.datiya.com/uploads/1-clash.yaml"]},"scrape_time":"2025-04-09T08:00:00Z"}`),
		"20250410": []byte(`{"source":"datiya","title":"<b>四月十日</b> & more","date":"2025-04-10","expected_count":20,
			"links":{"v2ray":["https://free.datiya.com/uploads/2-v2ray.txt"],"clash":["https://free.datiya.com/uploads/2-clash.yaml","javascript:alert(1)"]},
			"info":[{"name":"节点数","value":"<i>20</i>"}],"scrape_time":"2025-04-10T08:00:00Z"}`),
		"v2rayc":    []byte(`{"source":"v2rayc","title":"v2rayc","links":{"singbox":["https://v2rayc.github.io/uploads/2025/04/0-20250410.json"]},"meta":{"note":"synthesized"},"scrape_time":"2025-04-10T09:30:00Z"}`),
		"freev2":    []byte(`{"source":"freev2","title":"FreeV2","links":{"subscription":["https://b.freev2.net/sub"]},"scrape_time":"2025-04-10T07:00:00Z"}`),
		"shaoyou":   []byte(`{"source":"shaoyou","title":"周润发","links":{"no_proxy_base64":["https://a/b"],"base64":["https://c/d"]},"scrape_time":"2025-04-10T06:00:00Z"}`),
		"not_a_rec": []byte(`[1,2,3]`),
	}
}

func newPublisher(t *testing.T) *HTMLPublisher {
	t.Helper()
	p, err := NewHTML(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewHTML: %v", err)
	}
	return p
}

func TestBuildView(t *testing.T) {
	v := newPublisher(t).BuildView(testDoc())

	if len(v.Periods) != 2 || v.Periods[0].Key != "20250410" || v.Periods[1].Key != "20250409" {
		t.Fatalf("Periods = %+v, want newest first", v.Periods)
	}
	if v.Periods[1].Date != "2025-04-09" {
		t.Errorf("missing date should be derived from key, got %q", v.Periods[1].Date)
	}

	var slotKeys []string
	for _, s := range v.Slots {
		slotKeys = append(slotKeys, s.Key)
	}
	if want := []string{"freev2", "shaoyou", "v2rayc"}; !reflect.DeepEqual(slotKeys, want) {
		t.Errorf("slot order = %v, want %v", slotKeys, want)
	}
	if !reflect.DeepEqual(v.Skipped, []string{"not_a_rec"}) {
		t.Errorf("Skipped = %v", v.Skipped)
	}
	if v.UpdatedAt != "2025-04-10 09:30:00" {
		t.Errorf("UpdatedAt = %q", v.UpdatedAt)
	}

	newest := v.Periods[0]
	if newest.Title != "四月十日 & more" {
		t.Errorf("Title = %q, want markup stripped", newest.Title)
	}
	if newest.Info[0].Value != "20" {
		t.Errorf("Info value = %q", newest.Info[0].Value)
	}
	if len(newest.Links) != 2 || newest.Links[0].Category != "clash" || newest.Links[1].Category != "v2ray" {
		t.Fatalf("Links = %+v, want clash before v2ray", newest.Links)
	}
	if len(newest.Links[0].URLs) != 1 {
		t.Errorf("non-http links should be dropped, got %v", newest.Links[0].URLs)
	}

	shaoyou := v.Slots[1]
	if shaoyou.Links[0].Category != "base64" || shaoyou.Links[1].Label != "Base64（无需代理）" {
		t.Errorf("shaoyou links = %+v", shaoyou.Links)
	}
}

func TestPublish_WritesPages(t *testing.T) {
	p := newPublisher(t)
	if err := p.Publish(context.Background(), testDoc()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	index, err := os.ReadFile(filepath.Join(p.Dir(), IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"https://free.datiya.com/uploads/2-clash.yaml",
		"https://b.freev2.net/sub",
		"四月十日 &amp; more",
		`id="v2rayc"`,
		"note: synthesized",
	} {
		if !bytes.Contains(index, []byte(want)) {
			t.Errorf("index.html missing %q", want)
		}
	}
	if bytes.Contains(index, []byte("javascript:")) || bytes.Contains(index, []byte("<b>四月")) {
		t.Error("unsafe content leaked into index.html")
	}

	simple, err := os.ReadFile(filepath.Join(p.Dir(), SimpleFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(simple), "https://v2rayc.github.io/uploads/2025/04/0-20250410.json") {
		t.Error("simple.html missing slot link")
	}
}

func TestPublish_Deterministic(t *testing.T) {
	p := newPublisher(t)
	a, err := p.Render(IndexFile, p.BuildView(testDoc()))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.Render(IndexFile, p.BuildView(testDoc()))
	if !bytes.Equal(a, b) {
		t.Error("same document should render identically")
	}
}

func TestPublish_EmptyStore(t *testing.T) {
	p := newPublisher(t)
	if err := p.Publish(context.Background(), store.Document{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	index, _ := os.ReadFile(filepath.Join(p.Dir(), IndexFile))
	if !bytes.Contains(index, []byte("暂无按日期的订阅数据")) {
		t.Error("empty store should render the empty notice")
	}
}

func TestPublish_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPublisher(t)
	if err := p.Publish(ctx, store.Document{}); err == nil {
		t.Error("expected context error")
	}
	if _, err := os.Stat(filepath.Join(p.Dir(), IndexFile)); !os.IsNotExist(err) {
		t.Error("nothing should be written for a cancelled context")
	}
}

func TestCategoryLabel(t *testing.T) {
	tests := map[string]string{
		"clash":           "Clash",
		"no_proxy_clash":  "Clash（无需代理）",
		"singbox":         "Sing-box",
		"something_else":  "something_else",
		"no_proxy_mihomo": "Mihomo（无需代理）",
	}
	for in, want := range tests {
		if got := CategoryLabel(in); got != want {
			t.Errorf("CategoryLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
