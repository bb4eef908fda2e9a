package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autoliker/internal/domain"
	"autoliker/internal/failure"
	"autoliker/internal/feed"
	"autoliker/internal/metrics"
	"autoliker/internal/ratelimiter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultContentLimit    = 5
	defaultStalenessCutoff = time.Hour
)

var (
	ErrAccountInactive  = errors.New("account is inactive")
	ErrCycleInterrupted = errors.New("cycle interrupted")

	tracer = otel.Tracer("autoliker/internal/dispatch")
)

type ConfigStore interface {
	ListActiveConfigs(ctx context.Context) ([]domain.AccountConfig, error)
	GetConfig(ctx context.Context, accountKey string) (domain.AccountConfig, error)
	UpdateLastChecked(ctx context.Context, accountKey string, at time.Time) error
}

type IdentityResolver interface {
	SignerByFID(ctx context.Context, fid uint64) (domain.Signer, error)
}

type Ledger interface {
	HasBeenLiked(ctx context.Context, actorKey, contentID string) (bool, error)
	RecordLiked(ctx context.Context, rec domain.LikedRecord) error
	Retention() time.Duration
}

type Submitter interface {
	Submit(ctx context.Context, signer domain.Signer, contentID string, authorFID uint64) domain.SubmitResult
}

type FailureTracker interface {
	RecordSuccess(ctx context.Context, accountKey string) error
	RecordFailure(ctx context.Context, accountKey string) (failure.Transition, error)
}

type Notifier interface {
	NotifyDeactivated(ctx context.Context, accountKey string, failures int) error
	NotifyCycleFailed(ctx context.Context, cause error) error
}

type EventPublisher interface {
	PublishLiked(ctx context.Context, rec domain.LikedRecord) error
	PublishDeactivated(ctx context.Context, accountKey string, failures int, at time.Time) error
	PublishCycleCompleted(ctx context.Context, s domain.CycleSummary) error
}

// Deps are the collaborators of a Dispatcher. Pacer, Notifier, Events and
// Metrics are optional.
type Deps struct {
	Configs    ConfigStore
	Identities IdentityResolver
	Ledger     Ledger
	Fetcher    feed.ContentFetcher
	Submitter  Submitter
	Tracker    FailureTracker
	Pacer      *ratelimiter.Pacer
	Notifier   Notifier
	Events     EventPublisher
	Metrics    *metrics.Metrics
}

type Options struct {
	ContentLimit    int
	StalenessCutoff time.Duration
	Concurrency     int
	Now             func() time.Time
}

type Dispatcher struct {
	configs    ConfigStore
	identities IdentityResolver
	ledger     Ledger
	fetcher    feed.ContentFetcher
	submitter  Submitter
	tracker    FailureTracker
	pacer      *ratelimiter.Pacer
	notifier   Notifier
	events     EventPublisher
	metrics    *metrics.Metrics

	contentLimit    int
	stalenessCutoff time.Duration
	concurrency     int
	now             func() time.Time
	log             *slog.Logger
}

func New(deps Deps, opts Options, log *slog.Logger) (*Dispatcher, error) {
	var errs []error
	if deps.Configs == nil {
		errs = append(errs, errors.New("config store is nil"))
	}
	if deps.Identities == nil {
		errs = append(errs, errors.New("identity resolver is nil"))
	}
	if deps.Ledger == nil {
		errs = append(errs, errors.New("ledger is nil"))
	}
	if deps.Fetcher == nil {
		errs = append(errs, errors.New("content fetcher is nil"))
	}
	if deps.Submitter == nil {
		errs = append(errs, errors.New("submitter is nil"))
	}
	if deps.Tracker == nil {
		errs = append(errs, errors.New("failure tracker is nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("validate deps: %w", err)
	}

	if opts.ContentLimit <= 0 {
		opts.ContentLimit = defaultContentLimit
	}
	if opts.StalenessCutoff <= 0 {
		opts.StalenessCutoff = defaultStalenessCutoff
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Events == nil {
		deps.Events = nopEvents{}
	}

	// Ledger entries must outlive the staleness window.
	if retention := deps.Ledger.Retention(); retention > 0 && retention <= opts.StalenessCutoff {
		return nil, fmt.Errorf("ledger retention %s must exceed staleness cutoff %s",
			retention, opts.StalenessCutoff)
	}

	return &Dispatcher{
		configs:         deps.Configs,
		identities:      deps.Identities,
		ledger:          deps.Ledger,
		fetcher:         deps.Fetcher,
		submitter:       deps.Submitter,
		tracker:         deps.Tracker,
		pacer:           deps.Pacer,
		notifier:        deps.Notifier,
		events:          deps.Events,
		metrics:         deps.Metrics,
		contentLimit:    opts.ContentLimit,
		stalenessCutoff: opts.StalenessCutoff,
		concurrency:     opts.Concurrency,
		now:             opts.Now,
		log:             log,
	}, nil
}

// RunCycle runs one dispatch pass over every active configuration that is
// due. Only a failure to load configurations is fatal; per-account errors
// are contained in the summary. An interrupted cycle returns the partial
// summary along with the context error.
func (d *Dispatcher) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	ctx, span := tracer.Start(ctx, "dispatch.RunCycle")
	defer span.End()

	startedAt := d.now()
	summary := domain.CycleSummary{
		StartedAt:  startedAt,
		PerAccount: []domain.AccountResult{},
	}

	configs, err := d.configs.ListActiveConfigs(ctx)
	if err != nil {
		err = fmt.Errorf("list active configs: %w", err)
		summary.FinishedAt = d.now()
		d.finishCycle(ctx, &summary, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active configs")

		return summary, err
	}

	summary.ActiveConfigs = len(configs)
	if len(configs) == 0 {
		d.log.InfoContext(ctx, "No active configs")
		summary.FinishedAt = d.now()
		d.finishCycle(ctx, &summary, nil)

		return summary, nil
	}

	var due []domain.AccountConfig
	for _, cfg := range configs {
		if !cfg.IsDue(startedAt) {
			d.log.DebugContext(ctx, "Skipping account that is not due",
				"accountKey", cfg.AccountKey,
				"dueAt", cfg.DueAt(startedAt))

			continue
		}

		due = append(due, cfg)
	}
	summary.DueAccounts = len(due)

	span.SetAttributes(
		attribute.Int("configs.active", len(configs)),
		attribute.Int("configs.due", len(due)),
	)

	d.log.InfoContext(ctx, "Dispatch cycle is started",
		"activeConfigs", len(configs),
		"dueAccounts", len(due))

	cache := feed.NewCycleCache(d.fetcher, d.log)

	results, runErr := d.runAccounts(ctx, cache, due)
	for _, r := range results {
		summary.Add(r)
	}

	summary.CacheCleared = cache.Clear()
	summary.FinishedAt = d.now()

	if runErr != nil {
		runErr = fmt.Errorf("%w: %w", ErrCycleInterrupted, runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "cycle interrupted")
	}

	d.finishCycle(ctx, &summary, runErr)

	return summary, runErr
}

// RunAccount runs the pipeline for one account right away, ignoring the
// due gate. The account must exist and be active.
func (d *Dispatcher) RunAccount(ctx context.Context, accountKey string) (domain.AccountResult, error) {
	ctx, span := tracer.Start(ctx, "dispatch.RunAccount",
		trace.WithAttributes(attribute.String("account.key", accountKey)))
	defer span.End()

	cfg, err := d.configs.GetConfig(ctx, accountKey)
	if err != nil {
		return domain.AccountResult{}, fmt.Errorf("get config (accountKey = %s): %w", accountKey, err)
	}

	if !cfg.IsActive {
		return domain.AccountResult{}, fmt.Errorf("run account (accountKey = %s): %w", accountKey, ErrAccountInactive)
	}

	cache := feed.NewCycleCache(d.fetcher, d.log)
	defer cache.Clear()

	return d.runOne(ctx, cache, cfg), nil
}

// Status lists every active configuration with its next due time.
func (d *Dispatcher) Status(ctx context.Context) ([]domain.AccountStatus, error) {
	configs, err := d.configs.ListActiveConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active configs: %w", err)
	}

	now := d.now()
	statuses := make([]domain.AccountStatus, 0, len(configs))
	for _, cfg := range configs {
		statuses = append(statuses, domain.AccountStatus{
			AccountKey:       cfg.AccountKey,
			TargetIdentities: cfg.TargetFIDs,
			FrequencyMinutes: cfg.FrequencyMinutes,
			LastCheckedAt:    cfg.LastCheckedAt,
			NextCheckedAt:    cfg.DueAt(now),
		})
	}

	return statuses, nil
}

func (d *Dispatcher) runAccounts(
	ctx context.Context,
	cache *feed.CycleCache,
	due []domain.AccountConfig,
) ([]domain.AccountResult, error) {
	if d.concurrency <= 1 {
		results := make([]domain.AccountResult, 0, len(due))
		for _, cfg := range due {
			if err := d.pacer.Wait(ctx, ratelimiter.StepAccount); err != nil {
				return results, err
			}

			results = append(results, d.runOne(ctx, cache, cfg))
		}

		return results, nil
	}

	results := make([]domain.AccountResult, len(due))
	ran := make([]bool, len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, cfg := range due {
		g.Go(func() error {
			if err := d.pacer.Wait(gctx, ratelimiter.StepAccount); err != nil {
				return err
			}

			results[i] = d.runOne(gctx, cache, cfg)
			ran[i] = true

			return nil
		})
	}

	err := g.Wait()

	completed := make([]domain.AccountResult, 0, len(due))
	for i, r := range results {
		if ran[i] {
			completed = append(completed, r)
		}
	}

	return completed, err
}

// runOne runs the pipeline for one account and folds a pipeline error or
// panic into a single tracked failure.
func (d *Dispatcher) runOne(
	ctx context.Context,
	cache *feed.CycleCache,
	cfg domain.AccountConfig,
) domain.AccountResult {
	ctx, span := tracer.Start(ctx, "dispatch.ProcessAccount")
	defer span.End()

	span.SetAttributes(
		attribute.String("account.key", cfg.AccountKey),
		attribute.Int("account.targets", len(cfg.TargetFIDs)),
	)

	res, err := d.processAccountSafe(ctx, cache, cfg)
	if err == nil {
		d.metrics.ObserveAccount(string(res.Outcome), res.Liked, res.Skipped, res.Errors)

		return res
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "process account")

	res.AccountKey = cfg.AccountKey
	res.Outcome = domain.OutcomeFailed
	res.Reason = err.Error()

	if ctx.Err() != nil {
		d.log.WarnContext(ctx, "Account processing is interrupted",
			"error", err,
			"accountKey", cfg.AccountKey)

		d.metrics.ObserveAccount(string(res.Outcome), res.Liked, res.Skipped, res.Errors)

		return res
	}

	d.log.ErrorContext(ctx, "Failed to process account",
		"error", err,
		"accountKey", cfg.AccountKey)

	res.Deactivated = d.recordFailure(ctx, cfg.AccountKey)
	d.metrics.ObserveAccount(string(res.Outcome), res.Liked, res.Skipped, res.Errors)

	return res
}

func (d *Dispatcher) processAccountSafe(
	ctx context.Context,
	cache *feed.CycleCache,
	cfg domain.AccountConfig,
) (res domain.AccountResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in account pipeline: %v", r)
		}
	}()

	return d.ProcessAccount(ctx, cache, cfg)
}

// recordFailure counts one failure for the account and reports whether it
// got deactivated by it.
func (d *Dispatcher) recordFailure(ctx context.Context, accountKey string) bool {
	tr, err := d.tracker.RecordFailure(ctx, accountKey)
	if err != nil {
		d.log.ErrorContext(ctx, "Failed to record failure",
			"error", err,
			"accountKey", accountKey)

		return false
	}

	if !tr.Deactivate {
		return false
	}

	d.metrics.IncDeactivations()

	failures := tr.Entry.ConsecutiveFailures
	if err = d.notifier.NotifyDeactivated(ctx, accountKey, failures); err != nil {
		d.log.ErrorContext(ctx, "Failed to notify about deactivation",
			"error", err,
			"accountKey", accountKey)
	}

	if err = d.events.PublishDeactivated(ctx, accountKey, failures, d.now()); err != nil {
		d.log.ErrorContext(ctx, "Failed to publish deactivation",
			"error", err,
			"accountKey", accountKey)
	}

	return true
}

func (d *Dispatcher) recordSuccess(ctx context.Context, accountKey string) {
	if err := d.tracker.RecordSuccess(ctx, accountKey); err != nil {
		d.log.ErrorContext(ctx, "Failed to reset failure count",
			"error", err,
			"accountKey", accountKey)
	}
}

func (d *Dispatcher) finishCycle(ctx context.Context, summary *domain.CycleSummary, err error) {
	d.metrics.ObserveCycle(summary.FinishedAt.Sub(summary.StartedAt), err, summary.CacheCleared, summary.FinishedAt)

	if err != nil {
		d.log.ErrorContext(ctx, "Dispatch cycle failed",
			"error", err,
			"dueAccounts", summary.DueAccounts,
			"totalProcessed", summary.TotalProcessed)

		// The cycle context may already be done when the cycle was interrupted.
		if notifyErr := d.notifier.NotifyCycleFailed(context.WithoutCancel(ctx), err); notifyErr != nil {
			d.log.ErrorContext(ctx, "Failed to notify about cycle failure",
				"error", notifyErr)
		}

		return
	}

	d.log.InfoContext(ctx, "Dispatch cycle is completed",
		"dueAccounts", summary.DueAccounts,
		"totalProcessed", summary.TotalProcessed,
		"totalLiked", summary.TotalLiked,
		"totalSkipped", summary.TotalSkipped,
		"totalErrors", summary.TotalErrors,
		"cacheCleared", summary.CacheCleared,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String())

	if pubErr := d.events.PublishCycleCompleted(ctx, *summary); pubErr != nil {
		d.log.ErrorContext(ctx, "Failed to publish cycle completion",
			"error", pubErr)
	}
}

type nopNotifier struct{}

func (nopNotifier) NotifyDeactivated(context.Context, string, int) error {
	return nil
}

func (nopNotifier) NotifyCycleFailed(context.Context, error) error {
	return nil
}

type nopEvents struct{}

func (nopEvents) PublishLiked(context.Context, domain.LikedRecord) error {
	return nil
}

func (nopEvents) PublishDeactivated(context.Context, string, int, time.Time) error {
	return nil
}

func (nopEvents) PublishCycleCompleted(context.Context, domain.CycleSummary) error {
	return nil
}
