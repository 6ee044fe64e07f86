package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/service"
)

// defaultRetryAfter applies when a 429 response carries no usable
// Retry-After header.
const defaultRetryAfter = time.Minute

// Config holds HTTP fetcher configuration
type Config struct {
	Timeout         time.Duration
	MaxResponseSize int64
	UserAgent       string
}

// Fetcher implements service.Fetcher. Outcomes are classified into the
// entity error taxonomy: 5xx and network failures are transient, 4xx
// and non-HTML content are permanent, 429 (and 503 with a Retry-After
// header) produce a retry hint.
type Fetcher struct {
	client          *http.Client
	maxResponseSize int64
	userAgent       string
}

// NewFetcher creates a new HTTP fetcher
func NewFetcher(config Config) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   config.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   config.Timeout,
				ResponseHeaderTimeout: config.Timeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		maxResponseSize: config.MaxResponseSize,
		userAgent:       config.UserAgent,
	}
}

// Fetch implements service.Fetcher
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*service.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &entity.PermanentError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &entity.TransientError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &entity.RetryHintError{URL: rawURL, RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "":
		// A 503 that names a delay is the server asking us to back off,
		// not an ordinary outage.
		return nil, &entity.RetryHintError{URL: rawURL, RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, &entity.TransientError{URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &entity.PermanentError{URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 300:
		// Redirects are followed by the client; anything left over is
		// a redirect we could not act on.
		return nil, &entity.PermanentError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !htmlContentType(contentType) {
		return nil, &entity.PermanentError{
			URL: rawURL,
			Err: fmt.Errorf("unsupported content type %q", contentType),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseSize))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &entity.TransientError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	return &service.FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		Latency:     latency,
	}, nil
}

func htmlContentType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}
