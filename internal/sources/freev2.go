package sources

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/divyekant/subdash/internal/fetch"
)

// Compile-time interface check.
var _ Source = (*FreeV2Source)(nil)

const freeV2DefaultURL = "https://b.freev2.net/"

var (
	freeV2ScriptClipboard = regexp.MustCompile(`data-clipboard-text=["'](https?://[^"']+)["']`)
	freeV2ScriptAssign    = regexp.MustCompile(`(copyText|clipboard|subscribe|link|url)\s*=\s*["']([^"']+)["']`)
	freeV2SubLink         = regexp.MustCompile(`https?://[^\s'")>]+(?:subscribe|sub|clash|v2ray|vmess|trojan)[^\s'")<]+`)
)

// FreeV2Source scrapes the single subscription link published on b.freev2.net.
type FreeV2Source struct {
	client *fetch.Client
	url    string
}

// NewFreeV2Source creates a freev2 source pointed at the public site.
func NewFreeV2Source(client *fetch.Client) *FreeV2Source {
	return &FreeV2Source{client: client, url: freeV2DefaultURL}
}

func (f *FreeV2Source) Name() string { return "freev2" }
func (f *FreeV2Source) Kind() Kind   { return Latest }

// Configure accepts an optional "url" override.
func (f *FreeV2Source) Configure(cfg SourceConfig) error {
	if u := cfg.Settings["url"]; u != "" {
		if !strings.HasPrefix(u, "http") {
			return fmt.Errorf("freev2: invalid url %q", u)
		}
		f.url = u
	}
	return nil
}

func (f *FreeV2Source) Fetch(ctx context.Context, _ FetchRequest) (*Record, error) {
	resp, err := f.client.Get(ctx, f.url, map[string]string{"Referer": f.url})
	if err != nil {
		return nil, fmt.Errorf("freev2: %w", err)
	}
	doc, err := parseHTML(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("freev2: parse: %w", err)
	}

	link := findSubscriptionLink(doc, resp.Text())
	if link == "" {
		return nil, fmt.Errorf("freev2: %w", ErrNoData)
	}

	rec := NewRecord(f.Name(), f.url)
	rec.Title = "FreeV2 免费订阅"
	if t := findFirst(doc, isAtom(atom.Title)); t != nil {
		if text := collectText(t); text != "" {
			rec.Title = text
		}
	}
	rec.Description = pageInfo(doc)
	rec.AddLinks(LinkSubscription, link)
	return rec, nil
}

// findSubscriptionLink tries, in order: clipboard attributes, .btn elements,
// "复制" buttons, inline scripts, then any subscription-looking link.
func findSubscriptionLink(doc *html.Node, raw string) string {
	for _, n := range findAll(doc, func(n *html.Node) bool { _, ok := attr(n, "data-clipboard-text"); return ok }) {
		v, _ := attr(n, "data-clipboard-text")
		if strings.HasPrefix(v, "http") || strings.HasPrefix(v, "vmess:") {
			return v
		}
	}

	for _, n := range findAll(doc, func(n *html.Node) bool { return hasClass(n, "btn") }) {
		if v, _ := attr(n, "data-clipboard-text"); v != "" {
			return v
		}
	}

	isButton := func(n *html.Node) bool {
		if n.DataAtom != atom.A && n.DataAtom != atom.Button {
			return false
		}
		class, _ := attr(n, "class")
		class = strings.ToLower(class)
		return strings.Contains(class, "btn") || strings.Contains(class, "button") ||
			strings.TrimSpace(collectText(n)) == "立即复制"
	}
	for _, n := range findAll(doc, isButton) {
		if !strings.Contains(collectText(n), "复制") {
			continue
		}
		if v, _ := attr(n, "data-clipboard-text"); v != "" {
			return v
		}
		if v, _ := attr(n, "href"); v != "" {
			return v
		}
	}

	for _, s := range findAll(doc, isAtom(atom.Script)) {
		text := collectScript(s)
		if m := freeV2ScriptClipboard.FindStringSubmatch(text); m != nil {
			return m[1]
		}
		if m := freeV2ScriptAssign.FindStringSubmatch(text); m != nil {
			return m[2]
		}
	}

	var candidates []string
	for _, a := range findAll(doc, isAtom(atom.A)) {
		href, _ := attr(a, "href")
		if strings.HasPrefix(href, "http") || strings.HasPrefix(href, "vmess:") || strings.HasPrefix(href, "ss:") {
			candidates = append(candidates, href)
		}
	}
	candidates = append(candidates, freeV2SubLink.FindAllString(raw, -1)...)
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if strings.Contains(lc, "sub") || strings.Contains(lc, "clash") || strings.Contains(lc, "v2ray") {
			return c
		}
	}
	return ""
}

func collectScript(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// pageInfo gathers paragraph text from the hero section, falling back to
// <main> and then the whole document. Short divs are used when no paragraph
// has text.
func pageInfo(doc *html.Node) string {
	section := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Div && hasClass(n, "hero-body") })
	if section == nil {
		section = findFirst(doc, isAtom(atom.Main))
	}
	if section == nil {
		section = doc
	}

	var lines []string
	for _, p := range findAll(section, isAtom(atom.P)) {
		if text := collectText(p); text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		for _, div := range findAll(section, isAtom(atom.Div)) {
			if text := collectText(div); text != "" && len([]rune(text)) < 200 {
				lines = append(lines, text)
			}
		}
	}
	return strings.Join(lines, "\n")
}
