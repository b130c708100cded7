package fetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/carlmjohnson/requests"
)

type response struct {
	status int
	header http.Header
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// get reads endpoint into memory after waiting for its host's turn. Failures
// come back as *FetchError.
func get(ctx context.Context, transport http.RoundTripper, limiter *HostRateLimiter, sourceID uint, endpoint, accept string) ([]byte, *response, error) {
	res := &response{}
	if err := limiter.WaitForHost(ctx, endpoint); err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, res, &FetchError{SourceID: sourceID, Kind: KindConfig, Cause: err}
		}
		return nil, res, &FetchError{SourceID: sourceID, Kind: KindTimeout, Retryable: true, Cause: err}
	}

	var buf bytes.Buffer
	err := requests.
		URL(endpoint).
		Transport(transport).
		Accept(accept).
		AddValidator(func(r *http.Response) error {
			res.status, res.header = r.StatusCode, r.Header
			return nil
		}).
		AddValidator(requests.DefaultValidator).
		ToBytesBuffer(&buf).
		Fetch(ctx)

	switch {
	case err == nil:
		return buf.Bytes(), res, nil
	case res.status != 0 && !res.ok():
		return nil, res, httpStatusError(sourceID, res.status)
	default:
		return nil, res, transportError(sourceID, err)
	}
}
