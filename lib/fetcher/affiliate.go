package fetcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// googleNS is the prefix merchant product feeds declare for
// http://base.google.com/ns/1.0.
const googleNS = "g"

// AffiliateFetcher reads merchant product feeds: RSS 2.0 or Atom with product
// attributes in the g: namespace.
type AffiliateFetcher struct {
	transport http.RoundTripper
	limiter   *HostRateLimiter
	log       *zap.Logger
}

func NewAffiliateFetcher(transport http.RoundTripper, limiter *HostRateLimiter, log *zap.Logger) *AffiliateFetcher {
	return &AffiliateFetcher{transport, limiter, log}
}

func (f *AffiliateFetcher) Fetch(ctx context.Context, src *models.Source) (*Result, error) {
	body, res, err := get(ctx, f.transport, f.limiter, src.ID, src.Endpoint, feedAccept)
	if err != nil {
		return nil, err
	}
	items, skipped, err := parseFeedItems(body)
	if err != nil {
		return nil, parseError(src.ID, err)
	}
	if skipped > 0 {
		f.log.Sugar().Warnw("Skipped malformed product entries", "source", src.Name, "skipped", skipped)
	}

	result := &Result{StatusCode: res.status, Pages: 1, Skipped: skipped}
	for _, it := range items {
		result.Records = append(result.Records, toAffiliateProduct(it))
	}
	return result, nil
}

func toAffiliateProduct(it *gofeed.Item) models.AffiliateProduct {
	g := func(name string) string { return extensionValue(it, googleNS, name) }

	p := models.AffiliateProduct{
		ID:          firstOf(g("id"), it.GUID),
		Title:       firstOf(g("title"), it.Title),
		Link:        firstOf(g("link"), itemLink(it)),
		ImageLink:   firstOf(g("image_link"), itemImage(it)),
		Price:       g("price"),
		SalePrice:   g("sale_price"),
		Brand:       g("brand"),
		Store:       g("store"),
		ProductType: firstOf(g("product_type"), g("google_product_category")),
		Published:   it.PublishedParsed,
	}
	if p.Published == nil {
		p.Published = it.UpdatedParsed
	}
	if _, end, ok := effectivePeriod(g("sale_price_effective_date")); ok {
		p.SaleEffectiveTo = &end
	}
	return p
}

var periodLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02",
}

// effectivePeriod parses an ISO 8601 interval such as
// "2026-10-01T00:00-0800/2026-10-31T23:59-0800".
func effectivePeriod(s string) (start, end time.Time, ok bool) {
	from, to, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		return
	}
	start, okStart := parseTimestamp(from)
	end, okEnd := parseTimestamp(to)
	return start, end, okStart && okEnd
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
