package failure

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDeactivator struct {
	mu     sync.Mutex
	calls  []string
	active map[string]bool
	err    error
}

func (d *stubDeactivator) Deactivate(_ context.Context, accountKey string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, accountKey)
	if d.err != nil {
		return false, d.err
	}

	if !d.active[accountKey] {
		return false, nil
	}
	d.active[accountKey] = false

	return true, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestTracker(d Deactivator) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}

	return NewTracker(NewMemoryStore(), d, DefaultPolicy(), clock.Now, slog.Default()), clock
}

func TestTrackerDeactivatesAtThreshold(t *testing.T) {
	ctx := context.Background()
	d := &stubDeactivator{active: map[string]bool{"0xabc": true}}
	tracker, clock := newTestTracker(d)

	for i := range 2 {
		tr, err := tracker.RecordFailure(ctx, "0xabc")
		require.NoError(t, err)
		assert.False(t, tr.Deactivate, "failure %d", i+1)
		clock.Advance(5 * time.Minute)
	}

	tr, err := tracker.RecordFailure(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, tr.Deactivate)
	assert.Equal(t, StateDeactivated, tr.To)
	assert.Equal(t, []string{"0xabc"}, d.calls)
	assert.False(t, d.active["0xabc"])

	entry, err := tracker.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, StateDeactivated, entry.State)
}

func TestTrackerSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	d := &stubDeactivator{active: map[string]bool{"0xabc": true}}
	tracker, _ := newTestTracker(d)

	_, err := tracker.RecordFailure(ctx, "0xabc")
	require.NoError(t, err)
	_, err = tracker.RecordFailure(ctx, "0xabc")
	require.NoError(t, err)

	require.NoError(t, tracker.RecordSuccess(ctx, "0xabc"))

	entry, err := tracker.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, StateHealthy, entry.State)
	assert.Zero(t, entry.ConsecutiveFailures)

	for range 2 {
		tr, failErr := tracker.RecordFailure(ctx, "0xabc")
		require.NoError(t, failErr)
		assert.False(t, tr.Deactivate)
	}

	assert.Empty(t, d.calls)
}

func TestTrackerDeactivationErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	d := &stubDeactivator{err: errors.New("store down")}
	tracker, _ := newTestTracker(d)

	var tr Transition
	var err error
	for range 3 {
		tr, err = tracker.RecordFailure(ctx, "0xabc")
		require.NoError(t, err)
	}

	assert.False(t, tr.Deactivate)
	assert.Equal(t, StateDeactivated, tr.To)
	assert.Len(t, d.calls, 1)
}

func TestTrackerReactivatedAccountGetsFullThreshold(t *testing.T) {
	ctx := context.Background()
	d := &stubDeactivator{active: map[string]bool{"0xabc": true}}
	tracker, clock := newTestTracker(d)

	for range 3 {
		_, err := tracker.RecordFailure(ctx, "0xabc")
		require.NoError(t, err)
	}
	require.Len(t, d.calls, 1)

	d.mu.Lock()
	d.active["0xabc"] = true
	d.mu.Unlock()
	clock.Advance(time.Hour)

	for i := range 2 {
		tr, err := tracker.RecordFailure(ctx, "0xabc")
		require.NoError(t, err)
		assert.False(t, tr.Deactivate, "failure %d after reactivation", i+1)
		assert.Equal(t, i+1, tr.Entry.ConsecutiveFailures)
	}
	assert.Len(t, d.calls, 1)

	tr, err := tracker.RecordFailure(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, tr.Deactivate)
	assert.Len(t, d.calls, 2)
}

func TestTrackerRecordSuccessWithoutEntry(t *testing.T) {
	tracker, _ := newTestTracker(nil)

	require.NoError(t, tracker.RecordSuccess(context.Background(), "unknown"))
}
