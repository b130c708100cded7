package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/fiffu/dealwatch/lib/models"
	"go.uber.org/zap"
)

const (
	defaultMaxPages    = 10
	rateLimitRemaining = "X-RateLimit-Remaining"
	apiAccept          = "application/json"
)

var linkNextPattern = regexp.MustCompile(`<([^>]+)>\s*;[^,]*\brel="?next"?`)

// APIFetcher pages through a retailer listing API serving
// {"items": [...], "next": "..."}. The next page comes from the body's next
// field or from a Link rel="next" header.
type APIFetcher struct {
	transport http.RoundTripper
	limiter   *HostRateLimiter
	log       *zap.Logger
	maxPages  int
}

func NewAPIFetcher(transport http.RoundTripper, limiter *HostRateLimiter, log *zap.Logger, maxPages int) *APIFetcher {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &APIFetcher{transport, limiter, log, maxPages}
}

type rawPage struct {
	Items []json.RawMessage `json:"items"`
	Next  string            `json:"next"`
}

func (f *APIFetcher) Fetch(ctx context.Context, src *models.Source) (*Result, error) {
	result := &Result{}
	visited := make(map[string]bool)

	next := src.Endpoint
	for next != "" && result.Pages < f.maxPages && !visited[next] {
		visited[next] = true

		body, res, err := get(ctx, f.transport, f.limiter, src.ID, next, apiAccept)
		if err != nil {
			return nil, err
		}
		var page rawPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, parseError(src.ID, err)
		}

		result.Pages++
		result.StatusCode = res.status
		for _, raw := range page.Items {
			var item models.APIProduct
			if err := json.Unmarshal(raw, &item); err != nil {
				result.Skipped++
				continue
			}
			result.Records = append(result.Records, item)
		}

		next = nextPage(next, page.Next, res.header)
		if exhausted(res.header) {
			if next != "" {
				f.log.Sugar().Infow("Stopping pagination, provider rate limit reached",
					"source", src.Name, "pages", result.Pages)
			}
			break
		}
	}
	if result.Skipped > 0 {
		f.log.Sugar().Warnw("Skipped malformed API items", "source", src.Name, "skipped", result.Skipped)
	}
	return result, nil
}

// nextPage resolves the following page against the current one. The body's
// next field wins over the Link header.
func nextPage(current, bodyNext string, header http.Header) string {
	ref := strings.TrimSpace(bodyNext)
	if ref == "" {
		for _, link := range header.Values("Link") {
			if m := linkNextPattern.FindStringSubmatch(link); m != nil {
				ref = m[1]
				break
			}
		}
	}
	if ref == "" {
		return ""
	}
	base, err := url.Parse(current)
	if err != nil {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

func exhausted(header http.Header) bool {
	v := header.Get(rateLimitRemaining)
	if v == "" {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return err == nil && n <= 0
}
