package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"autoliker/internal/domain"

	"github.com/robfig/cron/v3"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	defaultCycleTimeout   = 10 * time.Minute
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (domain.CycleSummary, error)
}

// Scheduler triggers dispatch cycles from an in-process cron spec. Runs
// that would overlap a still running cycle are skipped.
type Scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	runner  CycleRunner
	spec    string
	timeout time.Duration
	log     *slog.Logger
}

func New(
	ctx context.Context,
	runner CycleRunner,
	spec string,
	timeout time.Duration,
	log *slog.Logger,
) *Scheduler {
	if timeout <= 0 {
		timeout = defaultCycleTimeout
	}

	c := cron.New(
		cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		ctx:     ctx,
		cron:    c,
		runner:  runner,
		spec:    strings.TrimSpace(spec),
		timeout: timeout,
		log:     log,
	}
}

func (s *Scheduler) Start() error {
	if s.spec == "" {
		return errors.New("cron spec is empty")
	}

	if _, err := s.cron.AddFunc(s.spec, s.runCycle); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop stops the cron and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runCycle() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	summary, err := s.runner.RunCycle(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to run scheduled cycle",
			"error", err,
			"spec", s.spec,
			"accountsProcessed", len(summary.PerAccount))

		return
	}

	s.log.InfoContext(ctx, "Scheduled cycle is completed",
		"spec", s.spec,
		"dueAccounts", summary.DueAccounts,
		"totalLiked", summary.TotalLiked)
}
