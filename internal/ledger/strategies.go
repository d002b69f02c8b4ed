package ledger

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/divyekant/subdash/internal/fetch"
	"github.com/divyekant/subdash/internal/period"
)

const (
	DefaultReadmeURL = "https://raw.githubusercontent.com/Jeffrey-done/clash-freenode/main/README.md"
	DefaultPageURL   = "https://github.com/OpenRunner/clash-freenode"
)

var (
	tableRow    = regexp.MustCompile(`\|\s*(20\d{2}-\d{2}-\d{2})\s*\|\s*(\d+)\s*\|`)
	lastUpdated = regexp.MustCompile("最后更新.*?[`\"](20\\d{2}-\\d{2}-\\d{2})[`\"]")
	updatedAt   = regexp.MustCompile(`更新时间.*?(20\d{2}-\d{2}-\d{2})`)
	isoDate     = regexp.MustCompile(`20\d{2}-\d{2}-\d{2}`)
)

// StaticSnapshot is the developer-maintained fallback list.
var StaticSnapshot = []period.Period{
	{ID: "20250405", ExpectedCount: 20},
	{ID: "20250404", ExpectedCount: 23},
	{ID: "20250403", ExpectedCount: 22},
	{ID: "20250401", ExpectedCount: 13},
	{ID: "20250331", ExpectedCount: 24},
	{ID: "20250330", ExpectedCount: 21},
	{ID: "20250329", ExpectedCount: 21},
	{ID: "20250328", ExpectedCount: 21},
	{ID: "20250327", ExpectedCount: 26},
	{ID: "20250326", ExpectedCount: 22},
}

// ReadmeStrategy reads "| YYYY-MM-DD | count |" rows from a raw markdown
// manifest. When the table is missing it falls back to the single
// "最后更新" date with a zero count.
type ReadmeStrategy struct {
	client *fetch.Client
	url    string
}

func NewReadmeStrategy(client *fetch.Client, url string) *ReadmeStrategy {
	return &ReadmeStrategy{client: client, url: url}
}

func (s *ReadmeStrategy) Name() string { return "readme" }

func (s *ReadmeStrategy) Periods(ctx context.Context) ([]period.Period, error) {
	resp, err := s.client.Get(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("readme: %w", err)
	}
	text := resp.Text()

	ps := rowPeriods(text)
	if len(ps) == 0 {
		ps = singleDate(text, lastUpdated)
	}
	return ps, nil
}

// PageStrategy reads the rendered repository page. It walks HTML tables
// first, then applies the markdown row pattern to the raw page, then looks
// for a single "最后更新" or "更新时间" date.
type PageStrategy struct {
	client *fetch.Client
	url    string
}

func NewPageStrategy(client *fetch.Client, url string) *PageStrategy {
	return &PageStrategy{client: client, url: url}
}

func (s *PageStrategy) Name() string { return "page" }

func (s *PageStrategy) Periods(ctx context.Context) ([]period.Period, error) {
	resp, err := s.client.Get(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("page: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("page: parse: %w", err)
	}
	if ps := tablePeriods(doc); len(ps) > 0 {
		return ps, nil
	}

	text := resp.Text()
	if ps := rowPeriods(text); len(ps) > 0 {
		return ps, nil
	}
	for _, re := range []*regexp.Regexp{lastUpdated, updatedAt} {
		if ps := singleDate(text, re); len(ps) > 0 {
			return ps, nil
		}
	}
	return nil, nil
}

// StaticStrategy returns a fixed list.
type StaticStrategy struct {
	periods []period.Period
}

// NewStaticStrategy uses ps, or StaticSnapshot when ps is nil.
func NewStaticStrategy(ps []period.Period) *StaticStrategy {
	if ps == nil {
		ps = StaticSnapshot
	}
	return &StaticStrategy{periods: ps}
}

func (s *StaticStrategy) Name() string { return "static" }

func (s *StaticStrategy) Periods(context.Context) ([]period.Period, error) {
	out := make([]period.Period, len(s.periods))
	copy(out, s.periods)
	return out, nil
}

func rowPeriods(text string) []period.Period {
	var ps []period.Period
	for _, m := range tableRow.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(m[2])
		if p, err := period.New(m[1], n); err == nil {
			ps = append(ps, p)
		}
	}
	return ps
}

func singleDate(text string, re *regexp.Regexp) []period.Period {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	p, err := period.New(m[1], 0)
	if err != nil {
		return nil
	}
	return []period.Period{p}
}

// tablePeriods reads every <table>, skipping each header row, and takes the
// first cell's date and the second cell's count.
func tablePeriods(doc *html.Node) []period.Period {
	var ps []period.Period
	for _, table := range findAll(doc, atom.Table) {
		rows := findAll(table, atom.Tr)
		if len(rows) > 0 {
			rows = rows[1:]
		}
		for _, tr := range rows {
			cells := findAll(tr, atom.Td)
			if len(cells) < 2 {
				continue
			}
			date := isoDate.FindString(textOf(cells[0]))
			if date == "" {
				continue
			}
			n, err := strconv.Atoi(strings.TrimSpace(textOf(cells[1])))
			if err != nil || n < 0 {
				n = 0
			}
			if p, err := period.New(date, n); err == nil {
				ps = append(ps, p)
			}
		}
	}
	return ps
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
