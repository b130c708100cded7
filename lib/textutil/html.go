package textutil

import (
	"bytes"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// ParseHTML parses a document or fragment. Feed descriptions are usually fragments;
// the parser wraps them in html/body for us.
func ParseHTML(s string) (*html.Node, error) {
	return htmlquery.Parse(strings.NewReader(s))
}

func ExtractImageURL(n *html.Node) string {
	if url := extractOpengraphImage(n); url != "" {
		return url
	}
	if url := extractTwitterImage(n); url != "" {
		return url
	}
	return extractFirstImage(n)
}

func extractOpengraphImage(n *html.Node) string {
	return attrOf(htmlquery.FindOne(n, "//meta[@property = 'og:image']"), "content")
}

func extractTwitterImage(n *html.Node) string {
	return attrOf(htmlquery.FindOne(n, "//meta[@name = 'twitter:image']"), "content")
}

func extractFirstImage(n *html.Node) string {
	return attrOf(htmlquery.FindOne(n, "//img[@src]"), "src")
}

func attrOf(elem *html.Node, key string) string {
	if elem == nil {
		return ""
	}
	for _, attr := range elem.Attr {
		if attr.Key == key {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

func SelectText(n *html.Node, xpath string) string {
	node := htmlquery.FindOne(n, xpath)
	return digForText(node)
}

// PlainText returns the whitespace-compacted text content of an HTML snippet.
func PlainText(s string) string {
	doc, err := ParseHTML(s)
	if err != nil {
		return CompactWhitespace(s)
	}
	return digForText(doc)
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return CompactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
		buf.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
}
