package models

import "github.com/shopspring/decimal"

// SearchResult is the canonical shape of one product search hit, as cached.
type SearchResult struct {
	Provider      string           `json:"provider"`
	Title         string           `json:"title"`
	URL           string           `json:"url"`
	ImageURL      string           `json:"image_url,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Merchant      string           `json:"merchant,omitempty"`
}

type SearchResults []SearchResult
