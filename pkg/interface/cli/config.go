package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Config holds all application configuration
type Config struct {
	// Storage
	DatabaseFile    string   `long:"db" description:"SQLite database holding sources, queue, and pages" default:"news.db"`
	Sources         []string `short:"s" long:"source" description:"Register a source URL before the pass (repeatable)"`
	BloomFilterFile string   `long:"bloom-file" description:"Seen-URL filter persistence file" default:"seen.bloom"`
	BloomFilterSize uint64   `long:"bloom-size" description:"Seen-URL filter size (expected URL count)" default:"1000000"`
	BloomFilterFP   float64  `long:"bloom-fp" description:"Seen-URL filter false positive rate" default:"0.01"`

	// Output
	FindingsFile string `short:"o" long:"findings" description:"Matched-article stream (JSON lines)" default:"findings.jsonl"`
	FetchLogFile string `long:"fetch-log" description:"Per-fetch log file (JSON lines)" default:"fetch.jsonl"`
	LogFile      string `long:"log-file" description:"Application log file (stderr when empty)"`

	// Matching
	KeywordFile string `long:"keywords" description:"Keyword file, one term per line (built-in protest terms when empty)"`
	SkipRanking bool   `long:"skip-ranking" description:"Skip similarity ranking of matched pages after the pass"`

	// Crawling
	NumWorkers         int `long:"workers" description:"Number of concurrent workers" default:"8"`
	MaxDepth           int `long:"max-depth" description:"Maximum link depth below a source root" default:"2"`
	MaxAttempts        int `long:"max-attempts" description:"Fetch attempts before an entry fails permanently" default:"3"`
	PolitenessSeconds  int `long:"politeness" description:"Minimum seconds between fetches against one domain" default:"2"`
	CrawlIntervalHours int `long:"crawl-interval" description:"Hours before a scanned source becomes due again" default:"6"`
	BackoffSeconds     int `long:"backoff" description:"Base retry backoff in seconds, doubled per attempt" default:"30"`
	BackoffCapMinutes  int `long:"backoff-cap" description:"Upper bound on retry backoff in minutes" default:"15"`
	IdleWaitSeconds    int `long:"idle-wait" description:"Longest the pass waits for a rate-limited entry before ending" default:"30"`

	// HTTP
	HTTPTimeout     int    `long:"http-timeout" description:"HTTP request timeout in seconds" default:"15"`
	MaxResponseSize int64  `long:"max-response-size" description:"Maximum HTTP response size in bytes" default:"10485760"`
	UserAgent       string `long:"user-agent" description:"HTTP User-Agent header" default:"NewsCrawler/1.0"`

	// Monitoring
	MetricsAddr string `long:"metrics-addr" description:"Serve Prometheus metrics on this address (disabled when empty)"`

	// UI
	ShowDashboard bool `long:"dashboard" description:"Show interactive TUI dashboard"`
	Debug         bool `long:"debug" description:"Verbose logging"`
	Version       bool `short:"v" long:"version" description:"Print version and exit"`

	// Derived durations (not parsed from flags directly)
	Politeness          time.Duration
	CrawlInterval       time.Duration
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	IdleWait            time.Duration
	HTTPTimeoutDuration time.Duration
	RealBloomFilterSize uint
}

// ParseFlags parses command line flags
func ParseFlags() (*Config, error) {
	cfg := &Config{}

	parser := flags.NewParser(cfg, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, err
	}

	cfg.Politeness = time.Duration(cfg.PolitenessSeconds) * time.Second
	cfg.CrawlInterval = time.Duration(cfg.CrawlIntervalHours) * time.Hour
	cfg.BackoffBase = time.Duration(cfg.BackoffSeconds) * time.Second
	cfg.BackoffCap = time.Duration(cfg.BackoffCapMinutes) * time.Minute
	cfg.IdleWait = time.Duration(cfg.IdleWaitSeconds) * time.Second
	cfg.HTTPTimeoutDuration = time.Duration(cfg.HTTPTimeout) * time.Second
	cfg.RealBloomFilterSize = uint(cfg.BloomFilterSize)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.NumWorkers <= 0 {
		return fmt.Errorf("number of workers must be > 0, got %d", c.NumWorkers)
	}

	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth)
	}

	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be > 0, got %d", c.MaxAttempts)
	}

	if c.Politeness < 0 {
		return fmt.Errorf("politeness interval must be >= 0, got %s", c.Politeness)
	}

	if c.CrawlInterval <= 0 {
		return fmt.Errorf("crawl interval must be > 0, got %s", c.CrawlInterval)
	}

	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("backoff must be > 0 and cap must be >= base, got %s / %s", c.BackoffBase, c.BackoffCap)
	}

	if c.HTTPTimeoutDuration <= 0 {
		return fmt.Errorf("HTTP timeout must be > 0, got %s", c.HTTPTimeoutDuration)
	}

	if c.MaxResponseSize <= 0 {
		return fmt.Errorf("max response size must be > 0, got %d", c.MaxResponseSize)
	}

	if c.BloomFilterFP <= 0 || c.BloomFilterFP >= 1 {
		return fmt.Errorf("bloom filter false positive rate must be between 0 and 1, got %f", c.BloomFilterFP)
	}

	return nil
}
