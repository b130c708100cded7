package fetcher

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.5"

var (
	itemPattern      = regexp.MustCompile(`(?is)<item[\s>].*?</item\s*>`)
	entryPattern     = regexp.MustCompile(`(?is)<entry[\s>].*?</entry\s*>`)
	namespacePattern = regexp.MustCompile(`\sxmlns(:[\w.-]+)?\s*=\s*"[^"]*"`)
)

const atomNamespace = `xmlns="http://www.w3.org/2005/Atom"`

var errNoEntries = errors.New("no parseable entries")

// parseFeedItems parses an RSS or Atom document. When the document as a whole
// is malformed, each item is cut out and parsed on its own so one bad entry
// does not cost the rest of the feed. skipped counts the entries given up on.
func parseFeedItems(body []byte) (items []*gofeed.Item, skipped int, err error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err == nil {
		return feed.Items, 0, nil
	}
	return salvage(body, err)
}

func salvage(body []byte, cause error) ([]*gofeed.Item, int, error) {
	doc := string(body)
	head, tail := "", ""
	chunks := itemPattern.FindAllString(doc, -1)
	if len(chunks) > 0 {
		head = `<?xml version="1.0"?><rss version="2.0"` + namespaces(doc, "<item") + `><channel><title></title>`
		tail = `</channel></rss>`
	} else {
		chunks = entryPattern.FindAllString(doc, -1)
		ns := namespaces(doc, "<entry")
		if !strings.Contains(ns, atomNamespace) {
			ns += " " + atomNamespace
		}
		head = `<?xml version="1.0"?><feed` + ns + `>`
		tail = `</feed>`
	}
	if len(chunks) == 0 {
		return nil, 0, cause
	}

	parser := gofeed.NewParser()
	items := make([]*gofeed.Item, 0, len(chunks))
	skipped := 0
	for _, chunk := range chunks {
		feed, err := parser.Parse(strings.NewReader(head + chunk + tail))
		if err != nil || len(feed.Items) == 0 {
			skipped++
			continue
		}
		items = append(items, feed.Items...)
	}
	if len(items) == 0 {
		return nil, skipped, errors.Join(errNoEntries, cause)
	}
	return items, skipped, nil
}

// namespaces collects the xmlns declarations that appear before the first entry,
// so extension elements keep their prefixes when an entry is parsed alone.
func namespaces(doc, firstEntry string) string {
	head := doc
	if i := strings.Index(strings.ToLower(doc), firstEntry); i >= 0 {
		head = doc[:i]
	}
	seen := map[string]bool{}
	var b strings.Builder
	for _, m := range namespacePattern.FindAllStringSubmatch(head, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(m[0]))
	}
	return b.String()
}

func itemLink(it *gofeed.Item) string {
	if it.Link != "" {
		return it.Link
	}
	for _, l := range it.Links {
		if l != "" {
			return l
		}
	}
	return ""
}

// itemImage prefers the item image, then media thumbnails and image content,
// then image enclosures.
func itemImage(it *gofeed.Item) string {
	if it.Image != nil && isHTTP(it.Image.URL) {
		return it.Image.URL
	}
	if media, ok := it.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			if u := thumb.Attrs["url"]; isHTTP(u) {
				return u
			}
		}
		for _, content := range media["content"] {
			if u := content.Attrs["url"]; content.Attrs["medium"] == "image" && isHTTP(u) {
				return u
			}
		}
	}
	for _, enc := range it.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && isHTTP(enc.URL) {
			return enc.URL
		}
	}
	return ""
}

// extensionValue returns the text of the first prefix:name element on the item.
func extensionValue(it *gofeed.Item, prefix, name string) string {
	ns, ok := it.Extensions[prefix]
	if !ok {
		return ""
	}
	for _, e := range ns[name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func extensionInt(it *gofeed.Item, prefix, name string) *int64 {
	v := extensionValue(it, prefix, name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
