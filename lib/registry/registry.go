// Package registry decides which sources are due for a poll and how healthy they
// are. It holds a snapshot of source rows and performs no I/O.
package registry

import (
	"sort"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
)

type Snapshot struct {
	sources models.Sources
}

func NewSnapshot(sources models.Sources) *Snapshot {
	cp := make(models.Sources, len(sources))
	copy(cp, sources)
	return &Snapshot{sources: cp}
}

func (s *Snapshot) Len() int { return len(s.sources) }

// Due returns every enabled source that was never polled or whose poll interval
// has elapsed at now. Least recently polled sources come first.
func (s *Snapshot) Due(now time.Time) models.Sources {
	due := make(models.Sources, 0)
	for _, src := range s.sources {
		if IsDue(&src, now) {
			due = append(due, src)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastPolledAt, due[j].LastPolledAt
		if a.Valid != b.Valid {
			return !a.Valid
		}
		return a.Time.Before(b.Time)
	})
	return due
}

func IsDue(src *models.Source, now time.Time) bool {
	if !src.Enabled {
		return false
	}
	if !src.LastPolledAt.Valid {
		return true
	}
	return now.Sub(src.LastPolledAt.Time) >= src.PollInterval
}

// Lookup finds a source in the snapshot by id.
func (s *Snapshot) Lookup(id uint) (models.Source, bool) {
	for _, src := range s.sources {
		if src.ID == id {
			return src, true
		}
	}
	return models.Source{}, false
}
