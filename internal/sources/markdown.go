package sources

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// readmeMarkdown turns a rendered GitHub page back into markdown so the same
// link and table patterns used on raw README files apply. Only the readme
// container is converted when the page has one.
func readmeMarkdown(body []byte, pageURL string) (string, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	node := findFirst(doc, func(n *html.Node) bool {
		id, _ := attr(n, "id")
		return id == "readme"
	})
	if node == nil {
		node = findFirst(doc, func(n *html.Node) bool {
			return n.DataAtom == atom.Article && hasClass(n, "markdown-body")
		})
	}
	if node == nil {
		node = doc
	}

	md, err := mdConverter.ConvertString(renderHTML(node), converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("convert page: %w", err)
	}
	return md, nil
}
