package models

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

type SourceType string

const (
	SourceTypeRSS       SourceType = "rss"
	SourceTypeAffiliate SourceType = "affiliate"
	SourceTypeAPI       SourceType = "api"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeRSS, SourceTypeAffiliate, SourceTypeAPI:
		return true
	}
	return false
}

type Source struct {
	gorm.Model
	Name         string     `gorm:"unique;notNull"`
	Type         SourceType `gorm:"notNull"`
	Enabled      bool
	Endpoint     string
	Merchant     string // Applied to items that do not name their merchant
	Category     string // Applied to items that do not name their category
	PollInterval time.Duration
	LastPolledAt sql.NullTime
	FailCount    int `gorm:"notNull;default:0"`
}

type Sources []Source

// SourcePatch carries operator edits to a source. Nil fields are left untouched.
type SourcePatch struct {
	Enabled         *bool
	PollInterval    *time.Duration
	Endpoint        *string
	ResetLastPolled bool
}

func (p SourcePatch) Empty() bool {
	return p.Enabled == nil && p.PollInterval == nil && p.Endpoint == nil && !p.ResetLastPolled
}
