package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoliker/internal/failure"
)

// FailureStore adapts Database to failure.Store.
type FailureStore struct {
	d *Database
}

func (d *Database) FailureStore() *FailureStore {
	return &FailureStore{d: d}
}

func (s *FailureStore) Load(ctx context.Context, accountKey string) (failure.Entry, bool, error) {
	accountKey = strings.TrimSpace(accountKey)

	query := "select state, consecutive_failures, last_failure_at from failure_entries where account_key = ?"

	var (
		state         string
		failures      int
		lastFailureAt int64
	)

	err := s.d.db.QueryRowContext(ctx, query, accountKey).Scan(&state, &failures, &lastFailureAt)
	if errors.Is(err, sql.ErrNoRows) {
		return failure.Entry{}, false, nil
	}
	if err != nil {
		return failure.Entry{}, false, fmt.Errorf("failed to execute query: %w", err)
	}

	entry := failure.Entry{
		State:               failure.State(state),
		ConsecutiveFailures: failures,
	}
	if lastFailureAt > 0 {
		entry.LastFailureAt = time.UnixMilli(lastFailureAt).UTC()
	}

	return entry, true, nil
}

func (s *FailureStore) Save(ctx context.Context, accountKey string, entry failure.Entry) error {
	accountKey = strings.TrimSpace(accountKey)
	if accountKey == "" {
		return errors.New("account key is empty")
	}

	var lastFailureAt int64
	if !entry.LastFailureAt.IsZero() {
		lastFailureAt = entry.LastFailureAt.UnixMilli()
	}

	query := `insert into failure_entries
		(account_key, state, consecutive_failures, last_failure_at, updated_at)
		values (?, ?, ?, ?, ?)
		on conflict (account_key) do update set
			state = excluded.state,
			consecutive_failures = excluded.consecutive_failures,
			last_failure_at = excluded.last_failure_at,
			updated_at = excluded.updated_at`

	_, err := s.d.db.ExecContext(ctx, query,
		accountKey,
		string(entry.State),
		entry.ConsecutiveFailures,
		lastFailureAt,
		time.Now().UnixMilli())

	return err
}

func (s *FailureStore) Delete(ctx context.Context, accountKey string) error {
	query := "delete from failure_entries where account_key = ?"

	_, err := s.d.db.ExecContext(ctx, query, strings.TrimSpace(accountKey))

	return err
}
