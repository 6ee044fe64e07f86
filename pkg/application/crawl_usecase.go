package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/repository"
	"github.com/WangYihang/News-Crawler/pkg/domain/service"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/monitoring"
	"github.com/WangYihang/News-Crawler/pkg/similarity"
)

// Config holds the use case configuration
type Config struct {
	NumWorkers    int
	MaxDepth      int
	CrawlInterval time.Duration
	IdleWait      time.Duration
	PollInterval  time.Duration
	SkipRanking   bool
}

// MetricsObserver observes crawl progress
type MetricsObserver interface {
	OnMetricsUpdate(metrics *entity.Metrics)
	AddMatch(title string)
}

// CrawlUseCase runs one crawl pass: scan due sources, process the
// queue to exhaustion with a worker pool, then rank the matched pages
// for review.
type CrawlUseCase struct {
	config Config

	// Services
	fetcher    service.Fetcher
	extractor  service.Extractor
	matcher    service.KeywordMatcher
	normalizer service.URLNormalizer
	clock      service.Clock

	// Repositories
	manager     *QueueManager
	sourceStore repository.SourceStore
	pageStore   repository.PageStore
	fetchLog    repository.LogWriter
	findings    repository.LogWriter

	logger *zap.Logger

	// State
	metrics          entity.Metrics
	metricsLock      sync.RWMutex
	workers          []*Worker
	processing       atomic.Int64
	seenTitles       sync.Map
	wg               sync.WaitGroup
	metricsObservers []MetricsObserver
}

// NewCrawlUseCase creates a new crawl use case
func NewCrawlUseCase(
	config Config,
	fetcher service.Fetcher,
	extractor service.Extractor,
	matcher service.KeywordMatcher,
	normalizer service.URLNormalizer,
	clock service.Clock,
	manager *QueueManager,
	sourceStore repository.SourceStore,
	pageStore repository.PageStore,
	fetchLog repository.LogWriter,
	findings repository.LogWriter,
	logger *zap.Logger,
) *CrawlUseCase {
	uc := &CrawlUseCase{
		config:      config,
		fetcher:     fetcher,
		extractor:   extractor,
		matcher:     matcher,
		normalizer:  normalizer,
		clock:       clock,
		manager:     manager,
		sourceStore: sourceStore,
		pageStore:   pageStore,
		fetchLog:    fetchLog,
		findings:    findings,
		logger:      logger,
	}
	uc.metrics.TotalWorkers = int64(config.NumWorkers)
	uc.metrics.State = entity.StateIdle
	return uc
}

// RegisterMetricsObserver registers a metrics observer
func (uc *CrawlUseCase) RegisterMetricsObserver(observer MetricsObserver) {
	uc.metricsObservers = append(uc.metricsObservers, observer)
}

// Execute runs a single crawl pass to completion. It returns nil when
// the queue drained (or the next eligible work is beyond the idle
// bound), ctx.Err() on interruption, and a store error when the
// database became unusable.
func (uc *CrawlUseCase) Execute(ctx context.Context) error {
	uc.metricsLock.Lock()
	uc.metrics.StartTime = uc.clock.Now()
	uc.metricsLock.Unlock()

	uc.setState(entity.StateScanningSources)

	recovered, err := uc.manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted entries: %w", err)
	}
	if recovered > 0 {
		uc.logger.Info("recovered interrupted entries", zap.Int64("count", recovered))
	}

	if err := uc.scanSources(ctx); err != nil {
		return err
	}

	uc.setState(entity.StateProcessingQueue)

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go uc.updateMetricsPeriodically(metricsCtx)

	errCh := uc.startWorkers(ctx)

	select {
	case <-ctx.Done():
		uc.wg.Wait()
		uc.flushWriters()
		return ctx.Err()
	case <-uc.waitForCompletion():
	}

	var workerErr error
	for {
		select {
		case err := <-errCh:
			if err != nil && workerErr == nil {
				workerErr = err
			}
			continue
		default:
		}
		break
	}
	if workerErr != nil {
		uc.flushWriters()
		return fmt.Errorf("worker aborted: %w", workerErr)
	}

	if !uc.config.SkipRanking {
		if err := uc.rankPages(ctx); err != nil {
			uc.logger.Warn("ranking failed", zap.Error(err))
		}
	}

	uc.flushWriters()
	uc.setState(entity.StateIdle)
	uc.logger.Info("pass complete",
		zap.Int64("done", atomic.LoadInt64(&uc.metrics.DoneEntries)),
		zap.Int64("failed", atomic.LoadInt64(&uc.metrics.FailedEntries)),
		zap.Int64("matched", atomic.LoadInt64(&uc.metrics.MatchedPages)))
	return nil
}

// scanSources enqueues the root URL of every due source and pushes its
// next crawl time out by the configured interval.
func (uc *CrawlUseCase) scanSources(ctx context.Context) error {
	now := uc.clock.Now()
	sources, err := uc.sourceStore.DueSources(ctx, now)
	if err != nil {
		return fmt.Errorf("list due sources: %w", err)
	}
	atomic.StoreInt64(&uc.metrics.SourcesDue, int64(len(sources)))
	uc.logger.Info("scanning sources", zap.Int("due", len(sources)))

	for _, source := range sources {
		if _, err := uc.manager.EnqueueRoot(ctx, source); err != nil {
			if entity.IsPermanent(err) {
				uc.logger.Warn("skipping source with invalid url",
					zap.String("url", source.URL), zap.Error(err))
				continue
			}
			return fmt.Errorf("enqueue source %s: %w", source.URL, err)
		}
		if err := uc.sourceStore.ScheduleNextCrawl(ctx, source.ID, now.Add(uc.config.CrawlInterval)); err != nil {
			return fmt.Errorf("schedule source %s: %w", source.URL, err)
		}
		atomic.AddInt64(&uc.metrics.SourcesScanned, 1)
	}
	return nil
}

func (uc *CrawlUseCase) startWorkers(ctx context.Context) <-chan error {
	errCh := make(chan error, uc.config.NumWorkers)
	uc.workers = make([]*Worker, uc.config.NumWorkers)
	for i := 0; i < uc.config.NumWorkers; i++ {
		worker := &Worker{
			id:         i,
			useCase:    uc,
			manager:    uc.manager,
			fetcher:    uc.fetcher,
			extractor:  uc.extractor,
			matcher:    uc.matcher,
			normalizer: uc.normalizer,
			clock:      uc.clock,
			logger:     uc.logger.With(zap.Int("worker", i)),
		}
		uc.workers[i] = worker
		uc.wg.Add(1)
		go func() {
			defer uc.wg.Done()
			if err := worker.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	return errCh
}

func (uc *CrawlUseCase) waitForCompletion() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()
	return done
}

// rankPages orders the newly matched pages by similarity so duplicates
// cluster during review, continuing the numbering from earlier passes.
func (uc *CrawlUseCase) rankPages(ctx context.Context) error {
	if n, err := uc.pageStore.MarkShortPagesNoText(ctx, similarity.MinTextLength); err != nil {
		return err
	} else if n > 0 {
		uc.logger.Info("pages too short to rank", zap.Int64("count", n))
	}

	pages, err := uc.pageStore.UnrankedPages(ctx, similarity.MinTextLength)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return nil
	}
	offset, err := uc.pageStore.MaxReviewRank(ctx)
	if err != nil {
		return err
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.ExtractedText
	}
	order := similarity.Order(texts)
	for position, idx := range order {
		rank := fmt.Sprintf("%05d", offset+int64(position)+1)
		if err := uc.pageStore.SetReviewRank(ctx, pages[idx].ID, rank); err != nil {
			return err
		}
	}
	uc.logger.Info("ranked pages for review", zap.Int("count", len(pages)))
	return nil
}

func (uc *CrawlUseCase) activeWorkers() int64 {
	return uc.processing.Load()
}

func (uc *CrawlUseCase) setState(state entity.RunState) {
	uc.metricsLock.Lock()
	uc.metrics.State = state
	uc.metricsLock.Unlock()
	uc.logger.Info("state changed", zap.String("state", string(state)))
	uc.notifyMetricsObservers()
}

func (uc *CrawlUseCase) writeFetchLog(record map[string]any) {
	if uc.fetchLog == nil {
		return
	}
	if err := uc.fetchLog.Write(record); err != nil {
		uc.logger.Warn("fetch log write failed", zap.Error(err))
	}
}

func (uc *CrawlUseCase) recordFinding(entry *entity.QueueEntry, page *entity.Page) {
	if uc.findings != nil {
		err := uc.findings.Write(map[string]any{
			"time":     page.FetchedAt,
			"url":      entry.URL,
			"title":    page.Title,
			"keywords": page.MatchedKeywords,
			"source":   entry.SourceID,
		})
		if err != nil {
			uc.logger.Warn("findings write failed", zap.Error(err))
		}
	}
	for _, observer := range uc.metricsObservers {
		observer.AddMatch(page.Title)
	}
}

func (uc *CrawlUseCase) flushWriters() {
	type flusher interface{ Flush() error }
	for _, w := range []repository.LogWriter{uc.fetchLog, uc.findings} {
		if f, ok := w.(flusher); ok && w != nil {
			f.Flush()
		}
	}
}

// GetMetrics returns a snapshot of the current metrics.
func (uc *CrawlUseCase) GetMetrics() *entity.Metrics {
	uc.metricsLock.RLock()
	metrics := uc.metrics
	uc.metricsLock.RUnlock()
	metrics.ActiveWorkers = uc.processing.Load()
	metrics.LastUpdateTime = uc.clock.Now()
	return &metrics
}

func (uc *CrawlUseCase) updateMetricsPeriodically(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pending, err := uc.manager.store.PendingCount(ctx); err == nil {
				atomic.StoreInt64(&uc.metrics.PendingEntries, pending)
				monitoring.PendingEntries.Set(float64(pending))
			}
			uc.notifyMetricsObservers()
		}
	}
}

func (uc *CrawlUseCase) notifyMetricsObservers() {
	if len(uc.metricsObservers) == 0 {
		return
	}
	snapshot := uc.GetMetrics()
	for _, observer := range uc.metricsObservers {
		observer.OnMetricsUpdate(snapshot)
	}
}
