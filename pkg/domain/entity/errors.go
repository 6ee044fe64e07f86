package entity

import (
	"errors"
	"fmt"
	"time"
)

// TransientError marks a failure that is expected to succeed on a later
// attempt: network timeouts, connection resets, HTTP 5xx responses.
type TransientError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient: %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transient: %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: HTTP 4xx
// responses, malformed URLs, unsupported content types.
type PermanentError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent: %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("permanent: %s: %v", e.URL, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// RetryHintError is raised when the remote side asks us to slow down
// (HTTP 429). The entry is rescheduled for RetryAfter without consuming
// an attempt.
type RetryHintError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RetryHintError) Error() string {
	return fmt.Sprintf("retry hint: %s: retry after %s", e.URL, e.RetryAfter)
}

// StoreError wraps a persistence failure. Op names the store operation
// that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// ConfigError reports invalid or contradictory configuration detected
// at startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s", e.Reason) }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// AsRetryHint extracts a RetryHintError if err carries one.
func AsRetryHint(err error) (*RetryHintError, bool) {
	var r *RetryHintError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// AsStoreError extracts a StoreError if err carries one.
func AsStoreError(err error) (*StoreError, bool) {
	var s *StoreError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
