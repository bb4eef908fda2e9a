package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"autoliker/internal/domain"
	"autoliker/internal/failure"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fakeConfigs struct {
	mu      sync.Mutex
	configs map[string]domain.AccountConfig
	listErr error
}

func newFakeConfigs(configs ...domain.AccountConfig) *fakeConfigs {
	f := &fakeConfigs{configs: make(map[string]domain.AccountConfig)}
	for _, c := range configs {
		f.configs[c.AccountKey] = c
	}

	return f
}

func (f *fakeConfigs) ListActiveConfigs(context.Context) ([]domain.AccountConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []domain.AccountConfig
	for _, c := range f.configs {
		if c.IsActive {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.AccountConfig) int {
		switch {
		case a.AccountKey < b.AccountKey:
			return -1
		case a.AccountKey > b.AccountKey:
			return 1
		}

		return 0
	})

	return out, nil
}

func (f *fakeConfigs) GetConfig(_ context.Context, accountKey string) (domain.AccountConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.configs[accountKey]
	if !ok {
		return domain.AccountConfig{}, domain.ErrNotFound
	}

	return c, nil
}

func (f *fakeConfigs) UpdateLastChecked(_ context.Context, accountKey string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.configs[accountKey]
	if !ok {
		return domain.ErrNotFound
	}
	c.LastCheckedAt = &at
	f.configs[accountKey] = c

	return nil
}

func (f *fakeConfigs) Deactivate(_ context.Context, accountKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.configs[accountKey]
	if !ok || !c.IsActive {
		return false, nil
	}
	c.IsActive = false
	f.configs[accountKey] = c

	return true, nil
}

func (f *fakeConfigs) get(accountKey string) domain.AccountConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.configs[accountKey]
}

type fakeIdentities struct {
	signers map[uint64]domain.Signer
	err     error
}

func (f *fakeIdentities) SignerByFID(_ context.Context, fid uint64) (domain.Signer, error) {
	if f.err != nil {
		return domain.Signer{}, f.err
	}

	s, ok := f.signers[fid]
	if !ok {
		return domain.Signer{}, domain.ErrNotFound
	}

	return s, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	liked     map[string]bool
	retention time.Duration
	readErr   error
	writeErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{liked: make(map[string]bool), retention: 24 * time.Hour}
}

func (l *fakeLedger) HasBeenLiked(_ context.Context, actorKey, contentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readErr != nil {
		return false, l.readErr
	}

	return l.liked[actorKey+"/"+contentID], nil
}

func (l *fakeLedger) RecordLiked(_ context.Context, rec domain.LikedRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writeErr != nil {
		return l.writeErr
	}
	l.liked[rec.ActorKey+"/"+rec.ContentID] = true

	return nil
}

func (l *fakeLedger) Retention() time.Duration {
	return l.retention
}

type fakeFetcher struct {
	mu    sync.Mutex
	items map[uint64][]domain.ContentItem
	calls map[uint64]int
	err   error
}

func newFakeFetcher(items map[uint64][]domain.ContentItem) *fakeFetcher {
	if items == nil {
		items = make(map[uint64][]domain.ContentItem)
	}

	return &fakeFetcher{items: items, calls: make(map[uint64]int)}
}

func (f *fakeFetcher) RecentContent(_ context.Context, fid uint64, _ int) ([]domain.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[fid]++
	if f.err != nil {
		return nil, f.err
	}

	return f.items[fid], nil
}

func (f *fakeFetcher) callsFor(fid uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[fid]
}

type fakeSubmitter struct {
	mu        sync.Mutex
	fail      bool
	panicWith any
	submitted []string
	authors   []uint64
}

func (s *fakeSubmitter) Submit(
	_ context.Context,
	signer domain.Signer,
	contentID string,
	authorFID uint64,
) domain.SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.panicWith != nil {
		panic(s.panicWith)
	}

	s.submitted = append(s.submitted, signer.Address+"/"+contentID)
	s.authors = append(s.authors, authorFID)
	if s.fail {
		return domain.SubmitResult{Success: false, Error: "hub rejected message"}
	}

	return domain.SubmitResult{Success: true, ActionHash: "0x" + contentID}
}

func (s *fakeSubmitter) authorFIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.authors)
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.submitted)
}

type recordingNotifier struct {
	mu          sync.Mutex
	deactivated []string
	cycleErrs   []error
}

func (n *recordingNotifier) NotifyDeactivated(_ context.Context, accountKey string, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.deactivated = append(n.deactivated, accountKey)

	return nil
}

func (n *recordingNotifier) NotifyCycleFailed(_ context.Context, cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cycleErrs = append(n.cycleErrs, cause)

	return nil
}

type harness struct {
	clock      *clock
	configs    *fakeConfigs
	identities *fakeIdentities
	ledger     *fakeLedger
	fetcher    *fakeFetcher
	submitter  *fakeSubmitter
	tracker    *failure.Tracker
	notifier   *recordingNotifier
	dispatcher *Dispatcher
}

func usableSigner(address string, fid uint64) domain.Signer {
	return domain.Signer{
		Address:     address,
		FID:         fid,
		PrivateKey:  "0x01",
		IsValidated: true,
	}
}

func activeConfig(accountKey string, sourceFID uint64, targets ...uint64) domain.AccountConfig {
	return domain.AccountConfig{
		AccountKey:       accountKey,
		SourceFID:        sourceFID,
		TargetFIDs:       targets,
		FrequencyMinutes: 5,
		IsActive:         true,
	}
}

func item(id string, author uint64, age time.Duration) domain.ContentItem {
	return domain.ContentItem{
		ContentID:   id,
		AuthorFID:   author,
		PublishedAt: testNow.Add(-age),
	}
}

func newHarness(t *testing.T, configs []domain.AccountConfig, content map[uint64][]domain.ContentItem) *harness {
	t.Helper()

	h := &harness{
		clock:      &clock{now: testNow},
		configs:    newFakeConfigs(configs...),
		identities: &fakeIdentities{signers: make(map[uint64]domain.Signer)},
		ledger:     newFakeLedger(),
		fetcher:    newFakeFetcher(content),
		submitter:  &fakeSubmitter{},
		notifier:   &recordingNotifier{},
	}

	for _, c := range configs {
		h.identities.signers[c.SourceFID] = usableSigner(c.AccountKey, c.SourceFID)
	}

	h.tracker = failure.NewTracker(failure.NewMemoryStore(), h.configs, failure.DefaultPolicy(), h.clock.Now, slog.Default())

	d, err := New(Deps{
		Configs:    h.configs,
		Identities: h.identities,
		Ledger:     h.ledger,
		Fetcher:    h.fetcher,
		Submitter:  h.submitter,
		Tracker:    h.tracker,
		Notifier:   h.notifier,
	}, Options{Now: h.clock.Now}, slog.Default())
	require.NoError(t, err)

	h.dispatcher = d

	return h
}

func (h *harness) trackerEntry(t *testing.T, accountKey string) failure.Entry {
	t.Helper()

	entry, err := h.tracker.Get(context.Background(), accountKey)
	require.NoError(t, err)

	return entry
}

var errBoom = errors.New("boom")

func key(i int) string {
	return fmt.Sprintf("0x%02d", i)
}
