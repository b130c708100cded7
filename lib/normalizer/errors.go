package normalizer

import (
	"errors"
	"fmt"

	"github.com/fiffu/dealwatch/lib/models"
)

var (
	ErrNoPrice          = errors.New("no price found")
	ErrInvalidPrice     = errors.New("price is not a number")
	ErrNonPositivePrice = errors.New("price must be greater than zero")
	ErrMissingTitle     = errors.New("title is empty")
	ErrInvalidURL       = errors.New("url is not an absolute http(s) url")
	ErrUnsupportedKind  = errors.New("unsupported record kind")
	ErrStale            = errors.New("deal has already expired")
)

// NormalizationError rejects one item. The run it belongs to carries on.
type NormalizationError struct {
	Kind  models.SourceType
	Field string
	Cause error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s item: %s: %v", e.Kind, e.Field, e.Cause)
}

func (e *NormalizationError) Unwrap() error { return e.Cause }

func fieldErr(kind models.SourceType, field string, cause error) error {
	return &NormalizationError{Kind: kind, Field: field, Cause: cause}
}
