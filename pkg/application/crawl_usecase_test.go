package application

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/service"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/extract"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/keyword"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/storage"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/urlnorm"
)

const rootPage = `<html><head><title>Example News - Local</title></head><body>
<a href="/news/protest-story">Hundreds protest downtown ordinance</a>
<a href="/news/football">Football recap: big win in overtime</a>
<a href="https://other.com/wire">Protest coverage elsewhere</a>
</body></html>`

const articlePage = `<html><head><title>Hundreds protest downtown ordinance</title></head><body>
<p>Hundreds of demonstrators marched through downtown on Saturday afternoon to protest the proposed ordinance.</p>
<p>Organizers said the rally drew participants from across the county and remained peaceful throughout the evening.</p>
</body></html>`

// fakeFetcher serves canned pages and scripted failures.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string][]error // consumed one per call
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    map[string]string{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*service.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if errs := f.failures[rawURL]; len(errs) > 0 {
		err := errs[0]
		f.failures[rawURL] = errs[1:]
		return nil, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, &entity.PermanentError{URL: rawURL, StatusCode: 404}
	}
	return &service.FetchResult{
		URL:         rawURL,
		FinalURL:    rawURL,
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte(body),
		Latency:     time.Millisecond,
	}, nil
}

type passFixture struct {
	store   *storage.Store
	fetcher *fakeFetcher
	useCase *CrawlUseCase
}

func newPassFixture(t *testing.T) *passFixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "crawl.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fetcher := newFakeFetcher()
	clock := service.SystemClock{}
	manager := NewQueueManager(
		QueueManagerConfig{
			Politeness:  0,
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffCap:  10 * time.Millisecond,
		},
		store,
		urlnorm.New(),
		storage.NewSeenFilter(storage.FilterConfig{Size: 1000, FalsePositiveRate: 0.01}),
		clock,
		zap.NewNop(),
	)
	useCase := NewCrawlUseCase(
		Config{
			NumWorkers:    2,
			MaxDepth:      2,
			CrawlInterval: 6 * time.Hour,
			IdleWait:      time.Second,
			PollInterval:  5 * time.Millisecond,
		},
		fetcher,
		extract.New(),
		keyword.NewDefault(),
		urlnorm.New(),
		clock,
		manager,
		store,
		store,
		nil,
		nil,
		zap.NewNop(),
	)
	return &passFixture{store: store, fetcher: fetcher, useCase: useCase}
}

func TestExecuteFullPass(t *testing.T) {
	ctx := context.Background()
	fx := newPassFixture(t)

	sid, err := fx.store.InsertSource(ctx, "https://example.com/news", "example")
	if err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	fx.fetcher.pages["https://example.com/news"] = rootPage
	fx.fetcher.pages["https://example.com/news/protest-story"] = articlePage

	if err := fx.useCase.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The matching article was fetched and matched.
	pages, err := fx.store.MatchedPages(ctx)
	if err != nil {
		t.Fatalf("MatchedPages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("matched %d pages, want 1", len(pages))
	}
	if pages[0].Title != "Hundreds protest downtown ordinance" {
		t.Errorf("Title = %q", pages[0].Title)
	}
	if pages[0].ReviewRank != "00001" {
		t.Errorf("ReviewRank = %q, want 00001", pages[0].ReviewRank)
	}

	// The sports link never entered the queue: its anchor text has no
	// keyword and trips the exclusion filter.
	if e, _ := fx.store.EntryByURL(ctx, sid, "https://example.com/news/football"); e != nil {
		t.Errorf("football link was enqueued: %+v", e)
	}
	// The out-of-scope link never entered the queue either.
	if e, _ := fx.store.EntryByURL(ctx, sid, "https://other.com/wire"); e != nil {
		t.Errorf("out-of-scope link was enqueued: %+v", e)
	}

	// The root entry finished.
	root, err := fx.store.EntryByURL(ctx, sid, "https://example.com/news")
	if err != nil || root == nil {
		t.Fatalf("EntryByURL root: %v, %v", root, err)
	}
	if root.Status != entity.StatusDone {
		t.Errorf("root status = %q, want done", root.Status)
	}

	// The source was pushed out by the crawl interval.
	due, err := fx.store.DueSources(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("DueSources: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("source still due right after a pass")
	}
	if n, _ := fx.store.PendingCount(ctx); n != 0 {
		t.Errorf("PendingCount = %d after completed pass", n)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	fx := newPassFixture(t)

	fx.store.InsertSource(ctx, "https://example.com/news", "example")
	fx.fetcher.pages["https://example.com/news"] = rootPage
	fx.fetcher.pages["https://example.com/news/protest-story"] = articlePage
	fx.fetcher.failures["https://example.com/news/protest-story"] = []error{
		&entity.TransientError{URL: "https://example.com/news/protest-story", StatusCode: 503},
	}

	if err := fx.useCase.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	pages, _ := fx.store.MatchedPages(ctx)
	if len(pages) != 1 {
		t.Fatalf("matched %d pages, want 1 after retry", len(pages))
	}
	fx.fetcher.mu.Lock()
	calls := fx.fetcher.calls["https://example.com/news/protest-story"]
	fx.fetcher.mu.Unlock()
	if calls != 2 {
		t.Errorf("article fetched %d times, want 2 (failure then retry)", calls)
	}
}

func TestExecuteFailsEntryAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	fx := newPassFixture(t)

	sid, _ := fx.store.InsertSource(ctx, "https://example.com/news", "example")
	fx.fetcher.pages["https://example.com/news"] = rootPage
	transient := &entity.TransientError{URL: "https://example.com/news/protest-story", StatusCode: 503}
	fx.fetcher.failures["https://example.com/news/protest-story"] = []error{transient, transient, transient}

	if err := fx.useCase.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	entry, err := fx.store.EntryByURL(ctx, sid, "https://example.com/news/protest-story")
	if err != nil || entry == nil {
		t.Fatalf("EntryByURL: %v, %v", entry, err)
	}
	if entry.Status != entity.StatusFailed {
		t.Errorf("status = %q, want failed", entry.Status)
	}
	if entry.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", entry.Attempts)
	}
}

func TestExecuteRecoversInterruptedEntries(t *testing.T) {
	ctx := context.Background()
	fx := newPassFixture(t)

	sid, _ := fx.store.InsertSource(ctx, "https://example.com/news", "example")
	fx.fetcher.pages["https://example.com/news"] = rootPage
	fx.fetcher.pages["https://example.com/news/protest-story"] = articlePage

	// Simulate a crash: an entry claimed by a previous run never finished.
	now := time.Now().UTC()
	fx.store.Enqueue(ctx, &entity.QueueEntry{
		SourceID: sid, URL: "https://example.com/news/protest-story",
		Domain: "example.com", Status: entity.StatusPending, Depth: 1,
		DiscoveredAt: now,
	})
	if _, err := fx.store.ClaimNext(ctx, now, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if err := fx.useCase.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	entry, _ := fx.store.EntryByURL(ctx, sid, "https://example.com/news/protest-story")
	if entry.Status != entity.StatusDone {
		t.Errorf("recovered entry status = %q, want done", entry.Status)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	fx := newPassFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fx.store.InsertSource(context.Background(), "https://example.com/news", "example")
	err := fx.useCase.Execute(ctx)
	if err == nil {
		t.Fatal("Execute with canceled context returned nil")
	}
}
