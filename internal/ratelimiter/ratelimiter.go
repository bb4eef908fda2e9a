package ratelimiter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

type Step string

const (
	StepAction  Step = "action"
	StepTarget  Step = "target"
	StepAccount Step = "account"
)

type Intervals struct {
	Action  time.Duration
	Target  time.Duration
	Account time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Action:  defaultActionInterval,
		Target:  defaultTargetInterval,
		Account: defaultAccountInterval,
	}
}

// Pacer spaces outbound calls per step kind. It is shared by every pipeline
// of a cycle, so concurrent workers draw from the same buckets.
type Pacer struct {
	limiters map[Step]*rate.Limiter
	log      *slog.Logger
}

func New(intervals Intervals, log *slog.Logger) *Pacer {
	return &Pacer{
		limiters: map[Step]*rate.Limiter{
			StepAction:  newLimiter(intervals.Action),
			StepTarget:  newLimiter(intervals.Target),
			StepAccount: newLimiter(intervals.Account),
		},
		log: log,
	}
}

// Wait blocks until the step's bucket has a token or ctx is done.
func (p *Pacer) Wait(ctx context.Context, step Step) error {
	if p == nil {
		return ctx.Err()
	}

	limiter, ok := p.limiters[step]
	if !ok {
		return ctx.Err()
	}

	reservation := limiter.Reserve()
	delay := reservation.Delay()

	if delay <= 0 {
		return ctx.Err()
	}

	p.log.DebugContext(ctx, "Pacing outbound call",
		"step", step,
		"delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()

		return ctx.Err()
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Every(interval), 1)
}
