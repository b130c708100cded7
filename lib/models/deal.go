package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type DealStatus string

const (
	DealStatusActive  DealStatus = "active"
	DealStatusExpired DealStatus = "expired"
)

// Deal is the canonical record every source is normalized into.
//
// Fingerprint is unique among active deals; the partial index enforcing that is
// created alongside the migrations since gorm tags cannot express a WHERE clause.
type Deal struct {
	ID                 uint   `gorm:"primarykey"`
	Fingerprint        string `gorm:"index;notNull"`
	Title              string `gorm:"notNull"`
	URL                string `gorm:"notNull"`
	ImageURL           sql.NullString
	Price              decimal.Decimal     `gorm:"type:decimal(12,2);notNull"`
	OriginalPrice      decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	DiscountPercentage sql.NullInt64
	Popularity         sql.NullInt64
	Merchant           string `gorm:"index"`
	Category           string `gorm:"index"`
	Source             string
	SourceID           uint
	Score              int        `gorm:"index"`
	Status             DealStatus `gorm:"index;notNull"`
	PostedAt           time.Time  `gorm:"index"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime:false"`
	ExpiresAt          sql.NullTime
}

type Deals []Deal

func (d *Deal) IsActive() bool {
	return d.Status == DealStatusActive
}

// FeedQuery filters and pages the active deal feed.
type FeedQuery struct {
	Search   string `json:"search,omitempty"`
	Merchant string `json:"merchant,omitempty"`
	Category string `json:"category,omitempty"`
	MinScore int    `json:"min_score,omitempty"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}
