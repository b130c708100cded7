package dedup

import (
	"sort"

	"github.com/fiffu/dealwatch/lib/models"
)

type Action int

const (
	ActionInsert Action = iota
	ActionUpdate
	ActionDiscard
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDiscard:
		return "discard"
	}
	return "unknown"
}

// Decide compares an incoming deal with the active deal stored under the same
// fingerprint. existing is nil when there is none.
func Decide(existing, incoming *models.Deal) Action {
	if existing == nil || !existing.IsActive() {
		return ActionInsert
	}
	if Changed(existing, incoming) {
		return ActionUpdate
	}
	return ActionDiscard
}

// Changed reports whether any pricing or score-relevant field differs.
func Changed(existing, incoming *models.Deal) bool {
	switch {
	case !existing.Price.Equal(incoming.Price):
		return true
	case existing.OriginalPrice.Valid != incoming.OriginalPrice.Valid:
		return true
	case existing.OriginalPrice.Valid && !existing.OriginalPrice.Decimal.Equal(incoming.OriginalPrice.Decimal):
		return true
	case existing.DiscountPercentage != incoming.DiscountPercentage:
		return true
	case existing.Score != incoming.Score:
		return true
	case existing.Category != incoming.Category:
		return true
	}
	return false
}

// ApplyUpdate copies the fields an in-place update may change onto existing.
func ApplyUpdate(existing, incoming *models.Deal) {
	existing.Title = incoming.Title
	existing.Price = incoming.Price
	existing.OriginalPrice = incoming.OriginalPrice
	existing.DiscountPercentage = incoming.DiscountPercentage
	existing.Category = incoming.Category
	existing.Score = incoming.Score
	if incoming.ImageURL.Valid {
		existing.ImageURL = incoming.ImageURL
	}
	if incoming.Popularity.Valid {
		existing.Popularity = incoming.Popularity
	}
	if incoming.ExpiresAt.Valid {
		existing.ExpiresAt = incoming.ExpiresAt
	}
	existing.Source = incoming.Source
	existing.SourceID = incoming.SourceID
}

// Revive reactivates an expired deal that a source reports again. Its
// lifetime restarts from the incoming posting.
func Revive(existing, incoming *models.Deal) {
	ApplyUpdate(existing, incoming)
	existing.Status = models.DealStatusActive
	existing.PostedAt = incoming.PostedAt
	existing.ExpiresAt = incoming.ExpiresAt
}

// Collapse keeps one deal per fingerprint out of a single poll and returns how
// many were dropped. The survivor does not depend on input order: the most
// recently posted wins, then the lowest price, then url and title order.
// Fingerprints must already be set.
func Collapse(deals []*models.Deal) ([]*models.Deal, int) {
	best := make(map[string]*models.Deal, len(deals))
	order := make([]string, 0, len(deals))
	for _, d := range deals {
		cur, seen := best[d.Fingerprint]
		if !seen {
			order = append(order, d.Fingerprint)
			best[d.Fingerprint] = d
			continue
		}
		if preferred(d, cur) {
			best[d.Fingerprint] = d
		}
	}

	sort.Strings(order)
	out := make([]*models.Deal, 0, len(order))
	for _, fp := range order {
		out = append(out, best[fp])
	}
	return out, len(deals) - len(out)
}

func preferred(a, b *models.Deal) bool {
	if !a.PostedAt.Equal(b.PostedAt) {
		return a.PostedAt.After(b.PostedAt)
	}
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	if a.URL != b.URL {
		return a.URL < b.URL
	}
	return a.Title < b.Title
}
