package ingest

import (
	"context"
	"log/slog"
	"time"
)

// Poller drives poll cycles while non-terminal jobs exist and parks when
// there is nothing left to watch. Kick wakes it after new jobs are created
// so idle periods cost nothing.
type Poller struct {
	poll       func(context.Context) (int, error)
	interval   time.Duration
	errBackoff time.Duration

	// after is time.After, injectable for tests.
	after func(time.Duration) <-chan time.Time
	kick  chan struct{}
}

// NewPoller wires a poll function, typically Coordinator.PollActiveJobs.
func NewPoller(poll func(context.Context) (int, error), interval, errBackoff time.Duration) *Poller {
	return &Poller{
		poll:       poll,
		interval:   interval,
		errBackoff: errBackoff,
		after:      time.After,
		kick:       make(chan struct{}, 1),
	}
}

// Kick wakes the polling loop. Safe from any goroutine; kicks arriving
// while one is already pending coalesce.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run executes poll cycles until ctx is cancelled. A cycle error backs off
// and retries rather than giving up; zero remaining jobs parks the loop
// until the next Kick.
func (p *Poller) Run(ctx context.Context) {
	for {
		remaining, err := p.poll(ctx)
		if ctx.Err() != nil {
			return
		}

		var wake <-chan time.Time
		switch {
		case err != nil:
			slog.Error("poll cycle failed", "error", err)
			wake = p.after(p.errBackoff)
		case remaining > 0:
			wake = p.after(p.interval)
		}

		if wake == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.kick:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		case <-wake:
		}
	}
}
