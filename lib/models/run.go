package models

import (
	"database/sql"
	"time"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
)

// IngestionRun is one row of the append-only poll ledger.
type IngestionRun struct {
	ID         uint      `gorm:"primarykey"`
	SourceID   uint      `gorm:"index:idx_source_started"`
	StartedAt  time.Time `gorm:"index:idx_source_started"`
	FinishedAt sql.NullTime
	Status     RunStatus `gorm:"notNull"`
	TraceID    string

	ItemsFetched            int
	ItemsCreated            int
	ItemsUpdated            int
	ItemsDiscardedDuplicate int
	ItemsDiscardedStale     int
	ItemsFailed             int
	Error                   string
}

type IngestionRuns []IngestionRun

func (r *IngestionRun) Finished() bool {
	return r.FinishedAt.Valid
}
