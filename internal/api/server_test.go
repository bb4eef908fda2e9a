package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autoliker/internal/dispatch"
	"autoliker/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDispatcher struct {
	summary    domain.CycleSummary
	cycleErr   error
	cycleCtx   context.Context
	result     domain.AccountResult
	accountErr error
	statuses   []domain.AccountStatus
}

func (d *stubDispatcher) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	d.cycleCtx = ctx

	return d.summary, d.cycleErr
}

func (d *stubDispatcher) RunAccount(_ context.Context, _ string) (domain.AccountResult, error) {
	return d.result, d.accountErr
}

func (d *stubDispatcher) Status(context.Context) ([]domain.AccountStatus, error) {
	return d.statuses, nil
}

type stubStats struct {
	stats   domain.Stats
	pingErr error
}

func (s *stubStats) Stats(context.Context) (domain.Stats, error) {
	return s.stats, nil
}

func (s *stubStats) Ping(context.Context) error {
	return s.pingErr
}

type stubCleaner struct {
	olderThan time.Duration
	deleted   int
}

func (c *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	c.olderThan = olderThan

	return c.deleted, nil
}

type fixture struct {
	dispatcher *stubDispatcher
	stats      *stubStats
	cleaner    *stubCleaner
	router     *gin.Engine
}

func newFixture(token string) *fixture {
	f := &fixture{
		dispatcher: &stubDispatcher{},
		stats:      &stubStats{},
		cleaner:    &stubCleaner{},
	}

	srv := New(Deps{
		Dispatcher: f.dispatcher,
		Stats:      f.stats,
		Ledger:     f.cleaner,
		Gatherer:   prometheus.NewRegistry(),
	}, token, time.Minute, slog.Default())
	f.router = srv.Router()

	return f
}

func (f *fixture) do(t *testing.T, method, target, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body map[string]any
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}

	return w, body
}

func TestRunCycleReturnsSummary(t *testing.T) {
	f := newFixture("")
	f.dispatcher.summary = domain.CycleSummary{
		ActiveConfigs:  2,
		DueAccounts:    1,
		TotalProcessed: 3,
		TotalLiked:     2,
		TotalSkipped:   1,
		PerAccount:     []domain.AccountResult{{AccountKey: "0xa", Processed: 3, Liked: 2, Skipped: 1}},
		CacheCleared:   1,
	}

	w, body := f.do(t, http.MethodPost, "/run-cycle", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Polling cycle completed", body["message"])
	assert.InDelta(t, 2, body["totalLiked"], 0)
	assert.InDelta(t, 1, body["cacheCleared"], 0)
	assert.Len(t, body["perAccount"], 1)

	_, hasDeadline := f.dispatcher.cycleCtx.Deadline()
	assert.True(t, hasDeadline)
}

func TestRunCycleInterruptedKeepsPartialSummary(t *testing.T) {
	f := newFixture("")
	f.dispatcher.summary = domain.CycleSummary{
		ActiveConfigs:  3,
		DueAccounts:    3,
		TotalProcessed: 2,
		TotalLiked:     2,
		PerAccount:     []domain.AccountResult{{AccountKey: "0xa", Processed: 2, Liked: 2}},
		CacheCleared:   1,
	}
	f.dispatcher.cycleErr = fmt.Errorf("%w: %w", dispatch.ErrCycleInterrupted, context.DeadlineExceeded)

	w, body := f.do(t, http.MethodPost, "/run-cycle", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["interrupted"])
	assert.Equal(t, "Polling cycle interrupted", body["message"])
	assert.Contains(t, body["error"], "context deadline exceeded")
	assert.InDelta(t, 2, body["totalLiked"], 0)
	assert.InDelta(t, 3, body["dueAccounts"], 0)

	perAccount, ok := body["perAccount"].([]any)
	require.True(t, ok)
	require.Len(t, perAccount, 1)
	assert.Equal(t, "0xa", perAccount[0].(map[string]any)["accountKey"])
}

func TestRunCycleFatalError(t *testing.T) {
	f := newFixture("")
	f.dispatcher.cycleErr = errors.New("list active configs: connection refused")

	w, body := f.do(t, http.MethodPost, "/run-cycle", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestStatusListsConfigs(t *testing.T) {
	f := newFixture("")
	next := time.Date(2025, 1, 1, 10, 5, 0, 0, time.UTC)
	f.dispatcher.statuses = []domain.AccountStatus{
		{AccountKey: "0xa", TargetIdentities: []uint64{7}, FrequencyMinutes: 5, NextCheckedAt: next},
	}

	w, body := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1, body["activeConfigs"], 0)

	configs, ok := body["configs"].([]any)
	require.True(t, ok)
	first, ok := configs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0xa", first["accountKey"])
	assert.Nil(t, first["lastCheckedAt"])
	assert.Equal(t, "2025-01-01T10:05:00Z", first["nextCheckedAt"])
}

func TestStatusStatsAction(t *testing.T) {
	f := newFixture("")
	f.stats.stats = domain.Stats{Signers: 4, LikedCasts: 10, Total: 14}

	w, body := f.do(t, http.MethodGet, "/status?action=stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	stats, ok := body["stats"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 4, stats["signers"], 0)
	assert.InDelta(t, 10, stats["likedCasts"], 0)
}

func TestStatusCleanupAction(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
		code  int
	}{
		{"", 3 * time.Hour, http.StatusOK},
		{"&hours=12", 12 * time.Hour, http.StatusOK},
		{"&hours=zero", 0, http.StatusBadRequest},
		{"&hours=-1", 0, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("query%q", tt.query), func(t *testing.T) {
			f := newFixture("")
			f.cleaner.deleted = 5

			w, body := f.do(t, http.MethodGet, "/status?action=cleanup"+tt.query, "")
			require.Equal(t, tt.code, w.Code)

			if tt.code != http.StatusOK {
				assert.Equal(t, false, body["success"])

				return
			}

			assert.Equal(t, tt.want, f.cleaner.olderThan)
			cleanup, ok := body["cleanup"].(map[string]any)
			require.True(t, ok)
			assert.InDelta(t, 5, cleanup["deleted"], 0)
		})
	}
}

func TestRunAccountErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusOK},
		{"missing", fmt.Errorf("get config: %w", domain.ErrNotFound), http.StatusNotFound},
		{"inactive", fmt.Errorf("run account: %w", dispatch.ErrAccountInactive), http.StatusConflict},
		{"other", errors.New("redis down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("")
			f.dispatcher.accountErr = tt.err
			f.dispatcher.result = domain.AccountResult{AccountKey: "0xa", Liked: 1}

			w, _ := f.do(t, http.MethodPost, "/accounts/0xa/run", "")
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestTokenProtectsTriggerRoutes(t *testing.T) {
	f := newFixture("s3cret")

	w, _ := f.do(t, http.MethodPost, "/run-cycle", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/run-cycle", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/run-cycle", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReportsStoreOutage(t *testing.T) {
	f := newFixture("")
	f.stats.pingErr = errors.New("dial tcp: connection refused")

	w, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture("s3cret")

	w, _ := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Basic abc123", ""},
		{"abc123", ""},
		{"", ""},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			c.Request.Header.Set("Authorization", tt.header)
		}

		assert.Equal(t, tt.want, extractBearerToken(c), tt.header)
	}
}
