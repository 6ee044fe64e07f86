package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/repository"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/storage"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/urlnorm"
)

// fakeClock is a manually advanced clock for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeQueueStore records transitions without a database.
type fakeQueueStore struct {
	entries     map[int64]*entity.QueueEntry
	nextID      int64
	rescheduled []int64
	failed      []int64
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{entries: map[int64]*entity.QueueEntry{}}
}

func (f *fakeQueueStore) Enqueue(_ context.Context, entry *entity.QueueEntry) (bool, error) {
	for _, e := range f.entries {
		if e.SourceID == entry.SourceID && e.URL == entry.URL {
			return false, nil
		}
	}
	f.nextID++
	e := *entry
	e.ID = f.nextID
	f.entries[e.ID] = &e
	return true, nil
}

func (f *fakeQueueStore) ClaimNext(_ context.Context, now time.Time, _ time.Duration) (*entity.QueueEntry, error) {
	for _, e := range f.entries {
		if e.Status == entity.StatusPending && (e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)) {
			e.Status = entity.StatusInProgress
			return e, nil
		}
	}
	return nil, repository.ErrQueueDrained
}

func (f *fakeQueueStore) CompleteSuccess(_ context.Context, entry *entity.QueueEntry, _ *entity.Page, _ time.Time) error {
	f.entries[entry.ID].Status = entity.StatusDone
	return nil
}

func (f *fakeQueueStore) Reschedule(_ context.Context, id int64, attempts int, next time.Time) error {
	e := f.entries[id]
	e.Status = entity.StatusPending
	e.Attempts = attempts
	e.NextAttemptAt = &next
	f.rescheduled = append(f.rescheduled, id)
	return nil
}

func (f *fakeQueueStore) Fail(_ context.Context, id int64, attempts int, _ time.Time) error {
	e := f.entries[id]
	e.Status = entity.StatusFailed
	e.Attempts = attempts
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeQueueStore) ResetInProgress(_ context.Context) (int64, error) {
	var n int64
	for _, e := range f.entries {
		if e.Status == entity.StatusInProgress {
			e.Status = entity.StatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) PendingCount(_ context.Context) (int64, error) {
	var n int64
	for _, e := range f.entries {
		if e.Status == entity.StatusPending {
			n++
		}
	}
	return n, nil
}

func newTestManager(store repository.QueueStore, clock *fakeClock) *QueueManager {
	return NewQueueManager(
		QueueManagerConfig{
			Politeness:  2 * time.Second,
			MaxAttempts: 3,
			BackoffBase: 30 * time.Second,
			BackoffCap:  15 * time.Minute,
		},
		store,
		urlnorm.New(),
		storage.NewSeenFilter(storage.FilterConfig{Size: 1000, FalsePositiveRate: 0.01}),
		clock,
		zap.NewNop(),
	)
}

func TestEnqueueDiscoveredFilteredBySeen(t *testing.T) {
	ctx := context.Background()
	store := newFakeQueueStore()
	m := newTestManager(store, newFakeClock())

	inserted, err := m.EnqueueDiscovered(ctx, 1, "https://example.com/a", "Protest story", 1)
	if err != nil || !inserted {
		t.Fatalf("first enqueue = (%v, %v)", inserted, err)
	}
	// Same URL with different capitalization and a fragment normalizes
	// to the same entry and is filtered before the store sees it.
	inserted, err = m.EnqueueDiscovered(ctx, 1, "https://EXAMPLE.com/a#top", "Protest story", 1)
	if err != nil || inserted {
		t.Fatalf("duplicate enqueue = (%v, %v), want filtered", inserted, err)
	}
	if len(store.entries) != 1 {
		t.Errorf("store has %d entries, want 1", len(store.entries))
	}
}

func TestEnqueueDiscoveredDropsBadURLs(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(newFakeQueueStore(), newFakeClock())
	inserted, err := m.EnqueueDiscovered(ctx, 1, "mailto:tips@example.com", "tip line", 1)
	if err != nil {
		t.Fatalf("EnqueueDiscovered: %v", err)
	}
	if inserted {
		t.Error("non-http link was enqueued")
	}
}

func TestEnqueueRootBypassesSeenFilter(t *testing.T) {
	ctx := context.Background()
	store := newFakeQueueStore()
	m := newTestManager(store, newFakeClock())
	source := &entity.Source{ID: 1, URL: "https://example.com/news", Active: true}

	if _, err := m.EnqueueRoot(ctx, source); err != nil {
		t.Fatalf("EnqueueRoot: %v", err)
	}
	// A later pass re-enqueues the same root even though the seen
	// filter knows it; only the store's uniqueness applies.
	inserted, err := m.EnqueueRoot(ctx, source)
	if err != nil {
		t.Fatalf("EnqueueRoot again: %v", err)
	}
	if inserted {
		t.Error("duplicate root reported as inserted while still queued")
	}
	if len(store.entries) != 1 {
		t.Errorf("store has %d entries, want 1", len(store.entries))
	}
}

func TestCompleteFailureTransientReschedules(t *testing.T) {
	ctx := context.Background()
	store := newFakeQueueStore()
	clock := newFakeClock()
	m := newTestManager(store, clock)

	m.EnqueueDiscovered(ctx, 1, "https://example.com/a", "t", 1)
	entry, _ := store.ClaimNext(ctx, clock.Now(), 0)

	requeued, err := m.CompleteFailure(ctx, entry, &entity.TransientError{URL: entry.URL, StatusCode: 503})
	if err != nil {
		t.Fatalf("CompleteFailure: %v", err)
	}
	if !requeued {
		t.Fatal("transient failure below max attempts must reschedule")
	}
	e := store.entries[entry.ID]
	if e.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", e.Attempts)
	}
	if want := clock.Now().Add(30 * time.Second); !e.NextAttemptAt.Equal(want) {
		t.Errorf("NextAttemptAt = %s, want %s", e.NextAttemptAt, want)
	}
}

func TestCompleteFailureExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	store := newFakeQueueStore()
	clock := newFakeClock()
	m := newTestManager(store, clock)

	m.EnqueueDiscovered(ctx, 1, "https://example.com/a", "t", 1)
	cause := &entity.TransientError{URL: "https://example.com/a", StatusCode: 503}

	for want := 1; want <= 2; want++ {
		entry, err := store.ClaimNext(ctx, clock.Now(), 0)
		if err != nil {
			t.Fatalf("claim %d: %v", want, err)
		}
		requeued, err := m.CompleteFailure(ctx, entry, cause)
		if err != nil {
			t.Fatalf("CompleteFailure %d: %v", want, err)
		}
		if !requeued {
			t.Fatalf("attempt %d should reschedule", want)
		}
		clock.Advance(time.Hour)
	}

	entry, _ := store.ClaimNext(ctx, clock.Now(), 0)
	requeued, err := m.CompleteFailure(ctx, entry, cause)
	if err != nil {
		t.Fatalf("CompleteFailure final: %v", err)
	}
	if requeued {
		t.Fatal("third transient failure must be terminal")
	}
	if got := store.entries[entry.ID]; got.Status != entity.StatusFailed || got.Attempts != 3 {
		t.Errorf("entry = %+v, want failed with 3 attempts", got)
	}
}

func TestCompleteFailurePermanentIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newFakeQueueStore()
	clock := newFakeClock()
	m := newTestManager(store, clock)

	m.EnqueueDiscovered(ctx, 1, "https://example.com/a", "t", 1)
	entry, _ := store.ClaimNext(ctx, clock.Now(), 0)

	requeued, err := m.CompleteFailure(ctx, entry, &entity.PermanentError{URL: entry.URL, StatusCode: 404})
	if err != nil {
		t.Fatalf("CompleteFailure: %v", err)
	}
	if requeued {
		t.Fatal("permanent failure must not reschedule")
	}
	if got := store.entries[entry.ID].Status; got != entity.StatusFailed {
		t.Errorf("Status = %q, want failed", got)
	}
	if got := store.entries[entry.ID].Attempts; got != 1 {
		t.Errorf("Attempts = %d, want 1", got)
	}
}

func TestCompleteFailureRetryHintKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	store := newFakeQueueStore()
	clock := newFakeClock()
	m := newTestManager(store, clock)

	m.EnqueueDiscovered(ctx, 1, "https://example.com/a", "t", 1)
	entry, _ := store.ClaimNext(ctx, clock.Now(), 0)

	requeued, err := m.CompleteFailure(ctx, entry, &entity.RetryHintError{URL: entry.URL, RetryAfter: 5 * time.Minute})
	if err != nil {
		t.Fatalf("CompleteFailure: %v", err)
	}
	if !requeued {
		t.Fatal("retry hint must reschedule")
	}
	e := store.entries[entry.ID]
	if e.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 (hint consumes no attempt)", e.Attempts)
	}
	if want := clock.Now().Add(5 * time.Minute); !e.NextAttemptAt.Equal(want) {
		t.Errorf("NextAttemptAt = %s, want %s", e.NextAttemptAt, want)
	}
}

func TestBackoffProgression(t *testing.T) {
	m := newTestManager(newFakeQueueStore(), newFakeClock())
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{10, 15 * time.Minute},
	}
	for _, tc := range cases {
		if got := m.backoff(tc.attempts); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}
