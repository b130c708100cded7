package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/textutil"
)

// FeedCache stores feed pages under a shared version number. Bumping the
// version orphans every page at once; the orphans age out on their TTL.
type FeedCache struct {
	cache Cache
	ttl   time.Duration
}

func NewFeedCache(c Cache, ttl time.Duration) *FeedCache {
	return &FeedCache{c, ttl}
}

func (f *FeedCache) version(ctx context.Context) (int64, error) {
	b, err := f.cache.Get(ctx, feedVersionKey)
	switch {
	case errors.Is(err, ErrMiss):
		return 0, nil
	case err != nil:
		return 0, err
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func (f *FeedCache) key(ctx context.Context, q models.FeedQuery) (string, error) {
	v, err := f.version(ctx)
	if err != nil {
		return "", err
	}
	q.Search = textutil.NormalizeText(q.Search)
	q.Merchant = textutil.NormalizeText(q.Merchant)
	q.Category = textutil.NormalizeText(q.Category)
	b, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return feedKey(v, md5hex(string(b))), nil
}

// Get looks q up under the current version. It returns the page key it
// resolved, even on ErrMiss, so a page computed after a miss is stored under
// the version that was current when the read began. The key is empty only when
// the version could not be read.
func (f *FeedCache) Get(ctx context.Context, q models.FeedQuery) (models.Deals, string, error) {
	key, err := f.key(ctx, q)
	if err != nil {
		return nil, "", err
	}
	b, err := f.cache.Get(ctx, key)
	if err != nil {
		return nil, key, err
	}
	var deals models.Deals
	if err := json.Unmarshal(b, &deals); err != nil {
		return nil, key, ErrMiss
	}
	return deals, key, nil
}

// Set stores a page under a key returned by Get. If the version was bumped in
// between, the page lands under the orphaned version and is never served.
func (f *FeedCache) Set(ctx context.Context, key string, deals models.Deals) error {
	b, err := json.Marshal(deals)
	if err != nil {
		return err
	}
	return f.cache.Set(ctx, key, b, f.ttl)
}

// Invalidate moves every reader onto a fresh version.
func (f *FeedCache) Invalidate(ctx context.Context) (int64, error) {
	return f.cache.Incr(ctx, feedVersionKey)
}
