package application

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/repository"
	"github.com/WangYihang/News-Crawler/pkg/domain/service"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/monitoring"
)

// maxConsecutiveStoreErrors ends a worker when the database keeps
// refusing claims; the use case treats this as fatal for the pass.
const maxConsecutiveStoreErrors = 5

// Worker pulls entries off the queue and runs the
// fetch/extract/match/discover pipeline for each one.
type Worker struct {
	id         int
	useCase    *CrawlUseCase
	manager    *QueueManager
	fetcher    service.Fetcher
	extractor  service.Extractor
	matcher    service.KeywordMatcher
	normalizer service.URLNormalizer
	clock      service.Clock
	logger     *zap.Logger

	currentURL atomic.Value // stores string
}

// Run processes entries until the queue drains or ctx is canceled.
// The returned error is non-nil only for persistent store failures.
func (w *Worker) Run(ctx context.Context) error {
	storeErrors := 0
	var lastStoreErr error
	for {
		if ctx.Err() != nil {
			return nil
		}

		entry, err := w.manager.Claim(ctx)
		switch {
		case err == nil:
			storeErrors = 0
			w.process(ctx, entry)

		case errors.Is(err, repository.ErrQueueDrained):
			// Another worker mid-entry may still discover links, so
			// only the last active worker may end the pass.
			if w.useCase.activeWorkers() == 0 {
				return nil
			}
			if err := w.clock.Sleep(ctx, w.useCase.config.PollInterval); err != nil {
				return nil
			}

		default:
			var ne *repository.NoneEligibleError
			if errors.As(err, &ne) {
				wait := ne.NextEligibleAt.Sub(w.clock.Now())
				if wait > w.useCase.config.IdleWait && w.useCase.activeWorkers() == 0 {
					w.logger.Info("next eligible entry too far out, ending pass",
						zap.Duration("wait", wait))
					return nil
				}
				if wait > w.useCase.config.PollInterval {
					wait = w.useCase.config.PollInterval
				}
				if wait < 0 {
					wait = 0
				}
				if err := w.clock.Sleep(ctx, wait); err != nil {
					return nil
				}
				continue
			}
			storeErrors++
			lastStoreErr = err
			w.logger.Error("claim failed", zap.Int("worker", w.id), zap.Error(err))
			if storeErrors >= maxConsecutiveStoreErrors {
				return lastStoreErr
			}
			if err := w.clock.Sleep(ctx, w.useCase.config.PollInterval); err != nil {
				return nil
			}
		}
	}
}

// CurrentURL returns the URL being processed, for the dashboard.
func (w *Worker) CurrentURL() string {
	if v := w.currentURL.Load(); v != nil {
		return v.(string)
	}
	return ""
}

func (w *Worker) process(ctx context.Context, entry *entity.QueueEntry) {
	w.useCase.processing.Add(1)
	w.currentURL.Store(entry.URL)
	atomic.AddInt64(&w.useCase.metrics.ClaimedEntries, 1)
	monitoring.ClaimsTotal.Inc()
	defer func() {
		w.currentURL.Store("")
		w.useCase.processing.Add(-1)
		w.useCase.notifyMetricsObservers()
	}()

	result, err := w.fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted mid-fetch. The entry stays in_progress and is
			// recovered at the start of the next pass.
			return
		}
		w.finishFailure(ctx, entry, err)
		return
	}

	monitoring.FetchesTotal.WithLabelValues("success").Inc()
	monitoring.FetchDuration.Observe(result.Latency.Seconds())
	atomic.AddInt64(&w.useCase.metrics.FetchedBytes, int64(len(result.Body)))

	w.useCase.writeFetchLog(map[string]any{
		"time":        w.clock.Now(),
		"url":         entry.URL,
		"status_code": result.StatusCode,
		"bytes":       len(result.Body),
		"latency_ms":  result.Latency.Milliseconds(),
		"attempt":     entry.Attempts + 1,
	})

	extraction, err := w.extractor.Extract(result.Body, result.FinalURL)
	if err != nil {
		w.finishFailure(ctx, entry, &entity.PermanentError{URL: entry.URL, Err: err})
		return
	}

	if extraction.CanonicalURL != "" {
		w.manager.MarkSeen(extraction.CanonicalURL)
	}

	matched := w.matcher.Match(extraction.Text)
	if len(matched) > 0 {
		if w.matcher.ExcludedTitle(extraction.Title) || w.matcher.ExcludedURL(entry.URL) {
			matched = nil
		}
	}

	page := &entity.Page{
		QueueID:         entry.ID,
		FetchedAt:       w.clock.Now(),
		Title:           extraction.Title,
		ExtractedText:   extraction.Text,
		MatchedKeywords: matched,
	}
	if err := w.manager.CompleteSuccess(ctx, entry, page); err != nil {
		w.logger.Error("complete failed", zap.String("url", entry.URL), zap.Error(err))
		atomic.AddInt64(&w.useCase.metrics.FailedEntries, 1)
		return
	}
	atomic.AddInt64(&w.useCase.metrics.DoneEntries, 1)

	if page.Matched() {
		atomic.AddInt64(&w.useCase.metrics.MatchedPages, 1)
		monitoring.MatchedPagesTotal.Inc()
		w.useCase.recordFinding(entry, page)
		w.logger.Info("matched page",
			zap.String("url", entry.URL),
			zap.String("title", page.Title),
			zap.Strings("keywords", matched))
	}

	w.discoverLinks(ctx, entry, extraction)
}

func (w *Worker) finishFailure(ctx context.Context, entry *entity.QueueEntry, cause error) {
	outcome := "permanent"
	if entity.IsTransient(cause) {
		outcome = "transient"
	} else if _, ok := entity.AsRetryHint(cause); ok {
		outcome = "retry_hint"
	}
	monitoring.FetchesTotal.WithLabelValues(outcome).Inc()

	w.useCase.writeFetchLog(map[string]any{
		"time":    w.clock.Now(),
		"url":     entry.URL,
		"error":   cause.Error(),
		"outcome": outcome,
		"attempt": entry.Attempts + 1,
	})

	requeued, err := w.manager.CompleteFailure(ctx, entry, cause)
	if err != nil {
		w.logger.Error("failure transition failed", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	if requeued {
		atomic.AddInt64(&w.useCase.metrics.RetriedEntries, 1)
	} else {
		atomic.AddInt64(&w.useCase.metrics.FailedEntries, 1)
	}
}

// discoverLinks enqueues in-scope links whose anchor text matches the
// keyword set. Anchor text stands in for the article title until the
// page itself is fetched.
func (w *Worker) discoverLinks(ctx context.Context, entry *entity.QueueEntry, extraction *service.Extraction) {
	if entry.Depth >= w.useCase.config.MaxDepth {
		return
	}
	for _, link := range extraction.Links {
		if !w.normalizer.InScope(link.URL, entry.URL) {
			continue
		}
		if len(w.matcher.Match(link.Text)) == 0 {
			continue
		}
		if w.matcher.ExcludedTitle(link.Text) || w.matcher.ExcludedURL(link.URL) {
			continue
		}
		// The same headline often appears in several page sections;
		// enqueue it once per pass.
		key := strings.ToLower(strings.TrimSpace(link.Text))
		if _, dup := w.useCase.seenTitles.LoadOrStore(key, true); dup {
			continue
		}

		inserted, err := w.manager.EnqueueDiscovered(ctx, entry.SourceID, link.URL, link.Text, entry.Depth+1)
		if err != nil {
			w.logger.Error("enqueue failed", zap.String("url", link.URL), zap.Error(err))
			continue
		}
		if inserted {
			atomic.AddInt64(&w.useCase.metrics.LinksDiscovered, 1)
			monitoring.LinksDiscoveredTotal.Inc()
		}
	}
}
