package ingest

import (
	"context"
	"time"
)

type Event interface {
	Timestamp() time.Time
}

type event struct{ timestamp time.Time }

func (e event) Timestamp() time.Time { return e.timestamp }

type tickEvent struct {
	event
}

type sweepEvent struct {
	event
}

// alarmClock emits a tick immediately on start and then every tickInterval,
// plus a sweep every sweepInterval. Events are dropped rather than queued when
// the consumer is still busy with the previous one.
type alarmClock struct {
	tickInterval  time.Duration
	sweepInterval time.Duration
	C             chan Event
	done          chan struct{}
	cancel        func()
}

func newAlarmClock(tickInterval, sweepInterval time.Duration) *alarmClock {
	return &alarmClock{
		tickInterval:  tickInterval,
		sweepInterval: sweepInterval,
		C:             make(chan Event, 1),
		done:          make(chan struct{}),
	}
}

func (a *alarmClock) Start(ctx context.Context) <-chan Event {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		defer close(a.done)
		defer close(a.C)

		ticker := time.NewTicker(a.tickInterval)
		defer ticker.Stop()
		sweeper := time.NewTicker(a.sweepInterval)
		defer sweeper.Stop()

		a.emit(tickEvent{event{time.Now().UTC()}})
		for {
			select {
			case t := <-ticker.C:
				a.emit(tickEvent{event{t.UTC()}})
			case t := <-sweeper.C:
				a.emit(sweepEvent{event{t.UTC()}})
			case <-ctx.Done():
				return
			}
		}
	}()

	return a.C
}

func (a *alarmClock) emit(evt Event) {
	select {
	case a.C <- evt:
	default:
	}
}

func (a *alarmClock) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}
