package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindTimeout ErrorKind = "timeout"
	KindHTTP    ErrorKind = "http"
	KindParse   ErrorKind = "parse"
	KindConfig  ErrorKind = "config"
)

// FetchError fails a whole poll. Retryable errors are worth trying again on the
// next cycle; the others need someone to look at the source.
type FetchError struct {
	SourceID   uint
	Kind       ErrorKind
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch source %d: %s %d: %v", e.SourceID, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch source %d: %s: %v", e.SourceID, e.Kind, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// httpStatusError builds the error for a non-2xx response. 429 and 5xx are
// retryable, any other 4xx is not.
func httpStatusError(sourceID uint, status int) *FetchError {
	return &FetchError{
		SourceID:   sourceID,
		Kind:       KindHTTP,
		StatusCode: status,
		Retryable:  status == http.StatusTooManyRequests || status >= 500,
		Cause:      fmt.Errorf("unexpected status %s", http.StatusText(status)),
	}
}

func parseError(sourceID uint, err error) *FetchError {
	return &FetchError{SourceID: sourceID, Kind: KindParse, Retryable: true, Cause: err}
}

// transportError classifies an error raised before a response arrived.
func transportError(sourceID uint, err error) *FetchError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &FetchError{SourceID: sourceID, Kind: kind, Retryable: true, Cause: err}
}
