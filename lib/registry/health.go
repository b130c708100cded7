package registry

type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
)

// HealthPolicy turns a consecutive failure count into a health state. Degraded
// sources keep their normal schedule; the state only feeds alerting.
type HealthPolicy struct {
	DegradedAfter int
}

func (p HealthPolicy) Of(failCount int) Health {
	threshold := p.DegradedAfter
	if threshold <= 0 {
		threshold = 1
	}
	if failCount >= threshold {
		return Degraded
	}
	return Healthy
}

// Transition is a change of health caused by one poll outcome.
type Transition struct {
	From, To Health
}

func (t Transition) Changed() bool { return t.From != t.To }

// Next returns the fail count after a poll outcome and the health transition it causes.
func (p HealthPolicy) Next(failCount int, success bool) (int, Transition) {
	from := p.Of(failCount)
	next := 0
	if !success {
		next = failCount + 1
	}
	if next < 0 {
		next = 0
	}
	return next, Transition{From: from, To: p.Of(next)}
}

// Between is the transition from one stored fail count to another.
func (p HealthPolicy) Between(prev, next int) Transition {
	return Transition{From: p.Of(prev), To: p.Of(next)}
}
