package service

import (
	"context"
	"time"
)

// FetchResult is the raw outcome of a successful HTTP fetch.
type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Latency     time.Duration
}

// Fetcher retrieves a URL. Failures are reported through the error
// taxonomy in pkg/domain/entity: *entity.TransientError,
// *entity.PermanentError, or *entity.RetryHintError.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*FetchResult, error)
}

// Link is an outbound anchor found in a fetched document.
type Link struct {
	URL  string
	Text string
}

// Extraction is the structured content pulled out of an HTML document.
type Extraction struct {
	Title        string
	CanonicalURL string
	Text         string
	Links        []Link
}

// Extractor parses HTML into title, readable text, and outbound links.
type Extractor interface {
	Extract(body []byte, baseURL string) (*Extraction, error)
}

// KeywordMatcher matches text against the configured keyword set.
type KeywordMatcher interface {
	// Match returns the distinct keywords found in text, in the order
	// they are configured. Empty means no match.
	Match(text string) []string
	// ExcludedTitle reports whether a title trips the exclusion filter
	// (sports scores, photo galleries, and similar noise).
	ExcludedTitle(title string) bool
	// ExcludedURL reports whether a URL path trips the exclusion filter.
	ExcludedURL(rawURL string) bool
}

// URLNormalizer canonicalizes URLs and decides crawl scope.
type URLNormalizer interface {
	// Normalize returns the canonical form of rawURL, or an error for
	// non-HTTP schemes and unparseable input.
	Normalize(rawURL string) (string, error)
	// Host returns the lowercased host of rawURL.
	Host(rawURL string) (string, error)
	// InScope reports whether linkURL belongs to the same registrable
	// domain as rootURL.
	InScope(linkURL, rootURL string) bool
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real time implementation of Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
