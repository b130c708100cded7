package fetcher

import (
	"context"
	"net/http"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

type RSSFetcher struct {
	transport http.RoundTripper
	limiter   *HostRateLimiter
	log       *zap.Logger
}

func NewRSSFetcher(transport http.RoundTripper, limiter *HostRateLimiter, log *zap.Logger) *RSSFetcher {
	return &RSSFetcher{transport, limiter, log}
}

func (f *RSSFetcher) Fetch(ctx context.Context, src *models.Source) (*Result, error) {
	body, res, err := get(ctx, f.transport, f.limiter, src.ID, src.Endpoint, feedAccept)
	if err != nil {
		return nil, err
	}
	items, skipped, err := parseFeedItems(body)
	if err != nil {
		return nil, parseError(src.ID, err)
	}
	if skipped > 0 {
		f.log.Sugar().Warnw("Skipped malformed feed entries", "source", src.Name, "skipped", skipped)
	}

	result := &Result{StatusCode: res.status, Pages: 1, Skipped: skipped}
	for _, it := range items {
		result.Records = append(result.Records, toFeedItem(it))
	}
	return result, nil
}

func toFeedItem(it *gofeed.Item) models.FeedItem {
	item := models.FeedItem{
		GUID:        it.GUID,
		Title:       it.Title,
		Link:        itemLink(it),
		Description: it.Description,
		ImageURL:    itemImage(it),
		Categories:  it.Categories,
		Published:   it.PublishedParsed,
		Comments:    extensionInt(it, "slash", "comments"),
	}
	if item.Description == "" {
		item.Description = it.Content
	}
	if item.Published == nil {
		item.Published = it.UpdatedParsed
	}
	return item
}
