package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/WangYihang/News-Crawler/pkg/application"
	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/service"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/extract"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/http"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/keyword"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/logging"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/storage"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/urlnorm"
)

// App bundles the assembled use case with the resources that need
// teardown after the pass.
type App struct {
	UseCase *application.CrawlUseCase
	Logger  *zap.Logger

	config   *Config
	store    *storage.Store
	seen     *storage.SeenFilter
	fetchLog *storage.JSONLinesWriter
	findings *storage.JSONLinesWriter
}

// Close flushes and releases everything the pass held open. The seen
// filter is persisted so later passes skip already-known URLs.
func (a *App) Close() {
	if err := a.seen.Save(a.config.BloomFilterFile); err != nil {
		a.Logger.Warn("saving seen filter failed", zap.Error(err))
	}
	a.fetchLog.Flush()
	a.fetchLog.Close()
	a.findings.Flush()
	a.findings.Close()
	a.store.Close()
	a.Logger.Sync()
}

// Assembler assembles all components for the application
type Assembler struct {
	config *Config
}

// NewAssembler creates a new assembler
func NewAssembler(config *Config) *Assembler {
	return &Assembler{config: config}
}

// Assemble builds the crawl use case with all dependencies wired.
func (a *Assembler) Assemble() (*App, error) {
	// The TUI owns the terminal, so console logging is redirected to
	// the log file or dropped.
	var logger *zap.Logger
	var err error
	if a.config.ShowDashboard && a.config.LogFile == "" {
		logger = logging.Nop()
	} else {
		logger, err = logging.New(a.config.Debug, a.config.LogFile)
		if err != nil {
			return nil, &entity.ConfigError{Reason: err.Error()}
		}
	}

	store, err := storage.Open(a.config.DatabaseFile)
	if err != nil {
		return nil, err
	}

	if err := a.registerSources(store); err != nil {
		store.Close()
		return nil, err
	}

	matcher, err := a.buildMatcher()
	if err != nil {
		store.Close()
		return nil, err
	}

	fetcher := http.NewFetcher(http.Config{
		Timeout:         a.config.HTTPTimeoutDuration,
		MaxResponseSize: a.config.MaxResponseSize,
		UserAgent:       a.config.UserAgent,
	})

	normalizer := urlnorm.New()

	seen := storage.NewSeenFilter(storage.FilterConfig{
		Size:              a.config.RealBloomFilterSize,
		FalsePositiveRate: a.config.BloomFilterFP,
	})
	if err := seen.Load(a.config.BloomFilterFile); err != nil {
		logger.Warn("loading seen filter failed, starting empty", zap.Error(err))
	}

	fetchLog, err := storage.NewJSONLinesWriter(a.config.FetchLogFile)
	if err != nil {
		store.Close()
		return nil, &entity.ConfigError{Reason: fmt.Sprintf("open fetch log: %v", err)}
	}
	findings, err := storage.NewJSONLinesWriter(a.config.FindingsFile)
	if err != nil {
		fetchLog.Close()
		store.Close()
		return nil, &entity.ConfigError{Reason: fmt.Sprintf("open findings file: %v", err)}
	}

	clock := service.SystemClock{}

	manager := application.NewQueueManager(
		application.QueueManagerConfig{
			Politeness:  a.config.Politeness,
			MaxAttempts: a.config.MaxAttempts,
			BackoffBase: a.config.BackoffBase,
			BackoffCap:  a.config.BackoffCap,
		},
		store,
		normalizer,
		seen,
		clock,
		logger,
	)

	useCase := application.NewCrawlUseCase(
		application.Config{
			NumWorkers:    a.config.NumWorkers,
			MaxDepth:      a.config.MaxDepth,
			CrawlInterval: a.config.CrawlInterval,
			IdleWait:      a.config.IdleWait,
			PollInterval:  time.Second,
			SkipRanking:   a.config.SkipRanking,
		},
		fetcher,
		extract.New(),
		matcher,
		normalizer,
		clock,
		manager,
		store,
		store,
		fetchLog,
		findings,
		logger,
	)

	return &App{
		UseCase:  useCase,
		Logger:   logger,
		config:   a.config,
		store:    store,
		seen:     seen,
		fetchLog: fetchLog,
		findings: findings,
	}, nil
}

// registerSources inserts sources passed on the command line. The
// normalized host doubles as the label.
func (a *Assembler) registerSources(store *storage.Store) error {
	normalizer := urlnorm.New()
	for _, raw := range a.config.Sources {
		normalized, err := normalizer.Normalize(raw)
		if err != nil {
			return &entity.ConfigError{Reason: fmt.Sprintf("invalid source url %q: %v", raw, err)}
		}
		host, err := normalizer.Host(normalized)
		if err != nil {
			return &entity.ConfigError{Reason: fmt.Sprintf("invalid source url %q: %v", raw, err)}
		}
		if _, err := store.InsertSource(context.Background(), normalized, host); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) buildMatcher() (*keyword.Matcher, error) {
	if a.config.KeywordFile == "" {
		return keyword.NewDefault(), nil
	}
	matcher, err := keyword.NewFromFile(a.config.KeywordFile)
	if err != nil {
		return nil, &entity.ConfigError{Reason: err.Error()}
	}
	return matcher, nil
}
