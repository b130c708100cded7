// Package budget rations provider calls over fixed windows.
//
// A call first reserves a unit of quota; the reservation is then committed when
// the call succeeds or released when it fails. Reserving before the request goes
// out keeps concurrent callers from overspending a nearly empty window.
package budget

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrBudgetExhausted = errors.New("budget exhausted")
	ErrUnknownProvider = errors.New("unknown provider")
)

type Clock func() time.Time

type counter struct {
	window   time.Time
	used     int
	reserved int
}

type Guard struct {
	mu       sync.Mutex
	now      Clock
	window   time.Duration
	limits   map[string]int
	counters map[string]*counter
}

// NewGuard tracks each provider in limits against its per-window quota. Windows
// are aligned to multiples of window since the zero time, in UTC.
func NewGuard(limits map[string]int, window time.Duration, now Clock) *Guard {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	l := make(map[string]int, len(limits))
	for provider, limit := range limits {
		if limit < 0 {
			limit = 0
		}
		l[provider] = limit
	}
	return &Guard{
		now:      now,
		window:   window,
		limits:   l,
		counters: make(map[string]*counter, len(l)),
	}
}

// Reservation holds one unit of a provider's quota until it is settled.
type Reservation struct {
	guard    *Guard
	provider string
	window   time.Time
	once     sync.Once
}

func (r *Reservation) Provider() string { return r.provider }

// Commit charges the reserved unit against the window it was taken from.
func (r *Reservation) Commit() {
	r.once.Do(func() { r.guard.settle(r, true) })
}

// Release returns the reserved unit. It is a no-op after Commit.
func (r *Reservation) Release() {
	r.once.Do(func() { r.guard.settle(r, false) })
}

func (g *Guard) Reserve(provider string) (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, ok := g.limits[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	c := g.current(provider)
	if c.used+c.reserved >= limit {
		return nil, ErrBudgetExhausted
	}
	c.reserved++
	return &Reservation{guard: g, provider: provider, window: c.window}, nil
}

// Remaining is the quota left in the current window, net of open reservations.
func (g *Guard) Remaining(provider string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, ok := g.limits[provider]
	if !ok {
		return 0
	}
	c := g.current(provider)
	return max(limit-c.used-c.reserved, 0)
}

type Usage struct {
	Provider    string    `json:"provider"`
	Limit       int       `json:"limit"`
	Used        int       `json:"used"`
	Reserved    int       `json:"reserved"`
	WindowStart time.Time `json:"window_start"`
}

func (g *Guard) Usage() []Usage {
	g.mu.Lock()
	defer g.mu.Unlock()

	ret := make([]Usage, 0, len(g.limits))
	for provider, limit := range g.limits {
		c := g.current(provider)
		ret = append(ret, Usage{provider, limit, c.used, c.reserved, c.window})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Provider < ret[j].Provider })
	return ret
}

func (g *Guard) settle(r *Reservation, commit bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.current(r.provider)
	if !c.window.Equal(r.window) {
		// The window rolled over while the call was in flight; the new window
		// never counted this reservation.
		return
	}
	c.reserved = max(c.reserved-1, 0)
	if commit {
		c.used++
	}
}

// current returns the provider's counter, resetting it on window rollover.
// Callers hold g.mu.
func (g *Guard) current(provider string) *counter {
	start := g.now().UTC().Truncate(g.window)
	c, ok := g.counters[provider]
	if !ok || !c.window.Equal(start) {
		c = &counter{window: start}
		g.counters[provider] = c
	}
	return c
}
