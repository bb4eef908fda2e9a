package failure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultThreshold   = 3
	defaultResetWindow = 24 * time.Hour
)

type Store interface {
	Load(ctx context.Context, accountKey string) (Entry, bool, error)
	Save(ctx context.Context, accountKey string, entry Entry) error
	Delete(ctx context.Context, accountKey string) error
}

type Deactivator interface {
	Deactivate(ctx context.Context, accountKey string) (bool, error)
}

type Tracker struct {
	mu          sync.Mutex
	store       Store
	deactivator Deactivator
	policy      Policy
	now         func() time.Time
	log         *slog.Logger
}

func NewTracker(
	store Store,
	deactivator Deactivator,
	policy Policy,
	now func() time.Time,
	log *slog.Logger,
) *Tracker {
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		store:       store,
		deactivator: deactivator,
		policy:      policy,
		now:         now,
		log:         log,
	}
}

func (t *Tracker) RecordSuccess(ctx context.Context, accountKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok, err := t.store.Load(ctx, accountKey)
	if err != nil {
		return fmt.Errorf("load failure entry: %w", err)
	}
	if !ok {
		return nil
	}

	tr := Apply(entry, EventSuccess, t.now(), t.policy)
	if err = t.store.Delete(ctx, accountKey); err != nil {
		return fmt.Errorf("delete failure entry: %w", err)
	}

	t.log.InfoContext(ctx, "Failure count is reset",
		"accountKey", accountKey,
		"from", tr.From,
		"previousFailures", entry.ConsecutiveFailures)

	return nil
}

// RecordFailure counts one failure signal. Deactivation write errors are
// logged and swallowed; only store errors are returned.
func (t *Tracker) RecordFailure(ctx context.Context, accountKey string) (Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, _, err := t.store.Load(ctx, accountKey)
	if err != nil {
		return Transition{}, fmt.Errorf("load failure entry: %w", err)
	}

	tr := Apply(entry, EventFailure, t.now(), t.policy)

	if err = t.store.Save(ctx, accountKey, tr.Entry); err != nil {
		return tr, fmt.Errorf("save failure entry: %w", err)
	}

	t.log.WarnContext(ctx, "Failure is recorded",
		"accountKey", accountKey,
		"consecutiveFailures", tr.Entry.ConsecutiveFailures,
		"threshold", t.policy.Threshold,
		"from", tr.From,
		"to", tr.To)

	if !tr.Deactivate {
		return tr, nil
	}

	if t.deactivator == nil {
		tr.Deactivate = false

		return tr, nil
	}

	flipped, deactivateErr := t.deactivator.Deactivate(ctx, accountKey)
	if deactivateErr != nil {
		t.log.ErrorContext(ctx, "Failed to deactivate account",
			"error", deactivateErr,
			"accountKey", accountKey,
			"consecutiveFailures", tr.Entry.ConsecutiveFailures)

		tr.Deactivate = false

		return tr, nil
	}

	tr.Deactivate = flipped
	if flipped {
		t.log.WarnContext(ctx, "Account is deactivated after consecutive failures",
			"accountKey", accountKey,
			"consecutiveFailures", tr.Entry.ConsecutiveFailures)
	}

	return tr, nil
}

func (t *Tracker) Get(ctx context.Context, accountKey string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok, err := t.store.Load(ctx, accountKey)
	if err != nil {
		return Entry{}, fmt.Errorf("load failure entry: %w", err)
	}
	if !ok {
		return Entry{State: StateHealthy}, nil
	}

	return entry, nil
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Load(_ context.Context, accountKey string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[accountKey]

	return entry, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, accountKey string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[accountKey] = entry

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, accountKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, accountKey)

	return nil
}
