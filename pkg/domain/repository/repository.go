package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
)

// ErrQueueDrained is returned by ClaimNext when no pending entries
// remain at all.
var ErrQueueDrained = errors.New("no pending queue entries")

// NoneEligibleError is returned by ClaimNext when pending entries exist
// but every one of them is held back by a retry schedule or by the
// per-domain politeness interval. NextEligibleAt is the earliest time a
// claim could succeed.
type NoneEligibleError struct {
	NextEligibleAt time.Time
}

func (e *NoneEligibleError) Error() string {
	return fmt.Sprintf("no eligible queue entries until %s", e.NextEligibleAt.Format(time.RFC3339))
}

// SourceStore provides access to the monitored source list.
type SourceStore interface {
	// DueSources returns active sources whose next scheduled crawl time
	// has passed (or was never set).
	DueSources(ctx context.Context, now time.Time) ([]*entity.Source, error)
	// ScheduleNextCrawl sets the time at which the source next becomes
	// eligible for a scan.
	ScheduleNextCrawl(ctx context.Context, sourceID int64, next time.Time) error
}

// QueueStore is the persistent crawl queue. Claim and completion
// operations are atomic with respect to concurrent workers.
type QueueStore interface {
	// Enqueue inserts a pending entry. Returns false when the
	// (source, URL) pair already exists in any status.
	Enqueue(ctx context.Context, entry *entity.QueueEntry) (bool, error)
	// ClaimNext atomically selects the oldest eligible pending entry,
	// marks it in_progress, and records a fetch against its domain so
	// the politeness interval applies to concurrent claimers. Returns
	// ErrQueueDrained or *NoneEligibleError when nothing can be claimed.
	ClaimNext(ctx context.Context, now time.Time, politeness time.Duration) (*entity.QueueEntry, error)
	// CompleteSuccess persists the page and moves the entry to done in
	// a single transaction, then stamps the owning source as crawled.
	CompleteSuccess(ctx context.Context, entry *entity.QueueEntry, page *entity.Page, now time.Time) error
	// Reschedule returns an in_progress entry to pending with the given
	// attempt count and next-attempt time.
	Reschedule(ctx context.Context, entryID int64, attempts int, nextAttempt time.Time) error
	// Fail moves an in_progress entry to failed with the given final
	// attempt count.
	Fail(ctx context.Context, entryID int64, attempts int, now time.Time) error
	// ResetInProgress returns all in_progress entries to pending.
	// Called once at startup to recover from a previous crash.
	ResetInProgress(ctx context.Context) (int64, error)
	// PendingCount reports how many entries are currently pending.
	PendingCount(ctx context.Context) (int64, error)
}

// PageStore provides access to stored extraction results.
type PageStore interface {
	// MatchedPages returns pages that matched at least one keyword.
	MatchedPages(ctx context.Context) ([]*entity.Page, error)
	// UnrankedPages returns matched pages without a review rank whose
	// extracted text is at least minLength runes long.
	UnrankedPages(ctx context.Context, minLength int) ([]*entity.Page, error)
	// SetReviewRank stores the review ordering key for a page.
	SetReviewRank(ctx context.Context, pageID int64, rank string) error
	// MarkShortPagesNoText flags matched pages whose text is shorter
	// than minLength so they are not offered for ranking again.
	MarkShortPagesNoText(ctx context.Context, minLength int) (int64, error)
	// MaxReviewRank returns the highest numeric rank assigned so far,
	// or 0 when no page has been ranked.
	MaxReviewRank(ctx context.Context) (int64, error)
}

// SeenFilter is a probabilistic set of already-enqueued URLs. False
// positives are tolerated; false negatives are not.
type SeenFilter interface {
	Contains(url string) bool
	Add(url string)
}

// LogWriter sinks structured crawl records to an append-only stream.
type LogWriter interface {
	Write(record any) error
	Close() error
}
