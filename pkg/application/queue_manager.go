package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/repository"
	"github.com/WangYihang/News-Crawler/pkg/domain/service"
)

// QueueManagerConfig holds retry and politeness policy.
type QueueManagerConfig struct {
	Politeness  time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// QueueManager wraps the queue store with URL normalization, the seen
// filter, and the retry policy. Workers never talk to the store
// directly for queue operations.
type QueueManager struct {
	config     QueueManagerConfig
	store      repository.QueueStore
	normalizer service.URLNormalizer
	seen       repository.SeenFilter
	clock      service.Clock
	logger     *zap.Logger
}

// NewQueueManager creates a queue manager.
func NewQueueManager(
	config QueueManagerConfig,
	store repository.QueueStore,
	normalizer service.URLNormalizer,
	seen repository.SeenFilter,
	clock service.Clock,
	logger *zap.Logger,
) *QueueManager {
	return &QueueManager{
		config:     config,
		store:      store,
		normalizer: normalizer,
		seen:       seen,
		clock:      clock,
		logger:     logger,
	}
}

// Recover returns crashed in_progress entries to pending. Called once
// before a pass starts processing.
func (m *QueueManager) Recover(ctx context.Context) (int64, error) {
	return m.store.ResetInProgress(ctx)
}

// EnqueueRoot inserts a source's root URL. Root URLs bypass the seen
// filter: a source must be re-enqueueable on every pass even though
// its URL has been seen before. The store's unique constraint keeps
// re-runs from duplicating live entries.
func (m *QueueManager) EnqueueRoot(ctx context.Context, source *entity.Source) (bool, error) {
	normalized, err := m.normalizer.Normalize(source.URL)
	if err != nil {
		return false, &entity.PermanentError{URL: source.URL, Err: err}
	}
	domain, err := m.normalizer.Host(normalized)
	if err != nil {
		return false, &entity.PermanentError{URL: source.URL, Err: err}
	}
	inserted, err := m.store.Enqueue(ctx, &entity.QueueEntry{
		SourceID:     source.ID,
		URL:          normalized,
		Domain:       domain,
		Status:       entity.StatusPending,
		Depth:        0,
		DiscoveredAt: m.clock.Now(),
	})
	if err != nil {
		return false, err
	}
	m.seen.Add(normalized)
	return inserted, nil
}

// EnqueueDiscovered inserts a link found on a fetched page. The seen
// filter short-circuits links we have probably enqueued before; the
// store's unique constraint catches the rest.
func (m *QueueManager) EnqueueDiscovered(ctx context.Context, sourceID int64, rawURL, linkText string, depth int) (bool, error) {
	normalized, err := m.normalizer.Normalize(rawURL)
	if err != nil {
		return false, nil // unparseable links are dropped, not errors
	}
	if m.seen.Contains(normalized) {
		return false, nil
	}
	domain, err := m.normalizer.Host(normalized)
	if err != nil {
		return false, nil
	}
	inserted, err := m.store.Enqueue(ctx, &entity.QueueEntry{
		SourceID:     sourceID,
		URL:          normalized,
		Domain:       domain,
		Status:       entity.StatusPending,
		Depth:        depth,
		LinkText:     linkText,
		DiscoveredAt: m.clock.Now(),
	})
	if err != nil {
		return false, err
	}
	m.seen.Add(normalized)
	return inserted, nil
}

// MarkSeen records a URL in the seen filter without enqueueing it.
// Used for canonical URLs, so syndicated variants of an already
// fetched article are not enqueued later.
func (m *QueueManager) MarkSeen(rawURL string) {
	if normalized, err := m.normalizer.Normalize(rawURL); err == nil {
		m.seen.Add(normalized)
	}
}

// Claim hands out the next eligible entry, honoring per-domain
// politeness. Propagates repository.ErrQueueDrained and
// *repository.NoneEligibleError unchanged.
func (m *QueueManager) Claim(ctx context.Context) (*entity.QueueEntry, error) {
	return m.store.ClaimNext(ctx, m.clock.Now(), m.config.Politeness)
}

// CompleteSuccess persists the page and finishes the entry.
func (m *QueueManager) CompleteSuccess(ctx context.Context, entry *entity.QueueEntry, page *entity.Page) error {
	return m.store.CompleteSuccess(ctx, entry, page, m.clock.Now())
}

// CompleteFailure routes a processing failure through the retry policy.
// Returns true when the entry was rescheduled for another attempt,
// false when it reached a terminal failed state.
//
// A retry hint (HTTP 429) reschedules without consuming an attempt: the
// remote side asked us to slow down, the entry did not fail on its own.
func (m *QueueManager) CompleteFailure(ctx context.Context, entry *entity.QueueEntry, cause error) (bool, error) {
	now := m.clock.Now()

	if hint, ok := entity.AsRetryHint(cause); ok {
		next := now.Add(hint.RetryAfter)
		m.logger.Info("rate limited, rescheduling",
			zap.String("url", entry.URL),
			zap.Time("next_attempt", next))
		return true, m.store.Reschedule(ctx, entry.ID, entry.Attempts, next)
	}

	attempts := entry.Attempts + 1
	if entity.IsTransient(cause) && attempts < m.config.MaxAttempts {
		next := now.Add(m.backoff(attempts))
		m.logger.Info("transient failure, rescheduling",
			zap.String("url", entry.URL),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt", next),
			zap.Error(cause))
		return true, m.store.Reschedule(ctx, entry.ID, attempts, next)
	}

	m.logger.Warn("entry failed",
		zap.String("url", entry.URL),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return false, m.store.Fail(ctx, entry.ID, attempts, now)
}

// backoff is exponential in the attempt number, capped.
func (m *QueueManager) backoff(attempts int) time.Duration {
	d := m.config.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= m.config.BackoffCap {
			return m.config.BackoffCap
		}
	}
	if d > m.config.BackoffCap {
		return m.config.BackoffCap
	}
	return d
}
