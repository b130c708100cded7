package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// RawRecord is one source-specific item as a fetcher adapter produced it.
// Only the normalizer looks inside.
type RawRecord interface {
	Kind() SourceType
}

// FeedItem is an entry of an RSS or Atom deal feed.
type FeedItem struct {
	GUID        string
	Title       string
	Link        string
	Description string
	ImageURL    string
	Categories  []string
	Published   *time.Time
	Comments    *int64
}

func (FeedItem) Kind() SourceType { return SourceTypeRSS }

// AffiliateProduct is an item of a merchant product feed (g: namespace).
type AffiliateProduct struct {
	ID              string
	Title           string
	Link            string
	ImageLink       string
	Price           string
	SalePrice       string
	Brand           string
	Store           string
	ProductType     string
	Published       *time.Time
	SaleEffectiveTo *time.Time
}

func (AffiliateProduct) Kind() SourceType { return SourceTypeAffiliate }

// APIProduct is the JSON item shape served by retailer APIs and search providers.
type APIProduct struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	ImageURL        string     `json:"image_url"`
	Price           RawPrice   `json:"price"`
	PriceCents      *int64     `json:"price_cents"`
	OriginalPrice   RawPrice   `json:"original_price"`
	DiscountPercent *float64   `json:"discount_percent"`
	Currency        string     `json:"currency"`
	Merchant        string     `json:"merchant"`
	Category        string     `json:"category"`
	Popularity      *int64     `json:"popularity"`
	PostedAt        *time.Time `json:"posted_at"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

func (APIProduct) Kind() SourceType { return SourceTypeAPI }

// APIPage is one page of a paginated retailer API listing.
type APIPage struct {
	Items []APIProduct `json:"items"`
	Next  string       `json:"next"`
}

// ManualSubmission is a deal posted by an operator through the API.
type ManualSubmission struct {
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	ImageURL      string     `json:"image_url"`
	Price         string     `json:"price"`
	OriginalPrice string     `json:"original_price"`
	Merchant      string     `json:"merchant"`
	Category      string     `json:"category"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

func (ManualSubmission) Kind() SourceType { return "manual" }

// RawPrice accepts both JSON strings ("$19.99") and numbers (19.99).
type RawPrice string

func (p *RawPrice) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		*p = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = RawPrice(s)
	default:
		*p = RawPrice(b)
	}
	return nil
}
