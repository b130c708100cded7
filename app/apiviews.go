package app

import (
	"database/sql"
	"time"

	"github.com/fiffu/dealwatch/lib"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/search"
)

type DealView struct {
	ID                 uint    `json:"id"`
	Title              string  `json:"title"`
	URL                string  `json:"url"`
	ImageURL           *string `json:"image_url"`
	Price              string  `json:"price"`
	OriginalPrice      *string `json:"original_price"`
	DiscountPercentage *int64  `json:"discount_percentage"`
	Merchant           string  `json:"merchant"`
	Category           string  `json:"category"`
	Source             string  `json:"source"`
	Score              int     `json:"score"`
	Status             string  `json:"status"`
	PostedAt           string  `json:"posted_at"`
	UpdatedAt          string  `json:"updated_at"`
	ExpiresAt          *string `json:"expires_at"`
}

func (view DealView) From(entity models.Deal) DealView {
	v := DealView{
		ID:        entity.ID,
		Title:     entity.Title,
		URL:       entity.URL,
		Price:     entity.Price.StringFixed(2),
		Merchant:  entity.Merchant,
		Category:  entity.Category,
		Source:    entity.Source,
		Score:     entity.Score,
		Status:    string(entity.Status),
		PostedAt:  entity.PostedAt.UTC().Format(time.RFC3339),
		UpdatedAt: entity.UpdatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: isoformat(entity.ExpiresAt),
	}
	if entity.ImageURL.Valid {
		v.ImageURL = &entity.ImageURL.String
	}
	if entity.OriginalPrice.Valid {
		s := entity.OriginalPrice.Decimal.StringFixed(2)
		v.OriginalPrice = &s
	}
	if entity.DiscountPercentage.Valid {
		v.DiscountPercentage = &entity.DiscountPercentage.Int64
	}
	return v
}

type SourceView struct {
	ID           uint    `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Enabled      bool    `json:"enabled"`
	Endpoint     string  `json:"endpoint"`
	PollInterval string  `json:"poll_interval"`
	LastPolledAt *string `json:"last_polled_at"`
	FailCount    int     `json:"fail_count"`
	Health       string  `json:"health"`
}

func (view SourceView) From(entity lib.SourceStatus) SourceView {
	return SourceView{
		ID:           entity.ID,
		Name:         entity.Name,
		Type:         string(entity.Type),
		Enabled:      entity.Enabled,
		Endpoint:     entity.Endpoint,
		PollInterval: entity.PollInterval.String(),
		LastPolledAt: isoformat(entity.LastPolledAt),
		FailCount:    entity.FailCount,
		Health:       string(entity.Health),
	}
}

type RunView struct {
	ID                      uint    `json:"id"`
	TraceID                 string  `json:"trace_id"`
	Status                  string  `json:"status"`
	StartedAt               string  `json:"started_at"`
	FinishedAt              *string `json:"finished_at"`
	ItemsFetched            int     `json:"items_fetched"`
	ItemsCreated            int     `json:"items_created"`
	ItemsUpdated            int     `json:"items_updated"`
	ItemsDiscardedDuplicate int     `json:"items_discarded_duplicate"`
	ItemsDiscardedStale     int     `json:"items_discarded_stale"`
	ItemsFailed             int     `json:"items_failed"`
	Error                   string  `json:"error,omitempty"`
}

func (view RunView) From(entity models.IngestionRun) RunView {
	return RunView{
		ID:                      entity.ID,
		TraceID:                 entity.TraceID,
		Status:                  string(entity.Status),
		StartedAt:               entity.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:              isoformat(entity.FinishedAt),
		ItemsFetched:            entity.ItemsFetched,
		ItemsCreated:            entity.ItemsCreated,
		ItemsUpdated:            entity.ItemsUpdated,
		ItemsDiscardedDuplicate: entity.ItemsDiscardedDuplicate,
		ItemsDiscardedStale:     entity.ItemsDiscardedStale,
		ItemsFailed:             entity.ItemsFailed,
		Error:                   entity.Error,
	}
}

type BudgetView struct {
	Provider    string `json:"provider"`
	Limit       int    `json:"limit"`
	Used        int    `json:"used"`
	Reserved    int    `json:"reserved"`
	WindowStart string `json:"window_start"`
}

func (view BudgetView) From(entity search.BudgetStatus) BudgetView {
	return BudgetView{
		Provider:    entity.Provider,
		Limit:       entity.Limit,
		Used:        entity.Used,
		Reserved:    entity.Reserved,
		WindowStart: entity.WindowStart.UTC().Format(time.RFC3339),
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t sql.NullTime) *string {
	if t.Valid {
		s := t.Time.UTC().Format(time.RFC3339)
		return &s
	}
	return nil
}
