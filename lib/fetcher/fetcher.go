// Package fetcher pulls raw records from a source. There is one adapter per
// source type; the Registry picks the adapter for a source.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"go.uber.org/zap"
)

type Fetcher interface {
	Fetch(ctx context.Context, src *models.Source) (*Result, error)
}

// Result is what one poll of a source returned.
type Result struct {
	Records    []models.RawRecord
	StatusCode int
	Pages      int
	// Skipped counts entries dropped because they could not be parsed.
	Skipped int
}

func (r *Result) Count() int { return len(r.Records) }

type Registry map[models.SourceType]Fetcher

type Options struct {
	HostRateInterval time.Duration
	APIMaxPages      int
}

func NewRegistry(transport http.RoundTripper, log *zap.Logger, opts Options) Registry {
	limiter := NewHostRateLimiter(opts.HostRateInterval)
	return Registry{
		models.SourceTypeRSS:       NewRSSFetcher(transport, limiter, log),
		models.SourceTypeAffiliate: NewAffiliateFetcher(transport, limiter, log),
		models.SourceTypeAPI:       NewAPIFetcher(transport, limiter, log, opts.APIMaxPages),
	}
}

func (r Registry) Fetch(ctx context.Context, src *models.Source) (*Result, error) {
	f, ok := r[src.Type]
	if !ok {
		return nil, &FetchError{
			SourceID: src.ID,
			Kind:     KindConfig,
			Cause:    fmt.Errorf("no fetcher for source type %q", src.Type),
		}
	}
	return f.Fetch(ctx, src)
}
