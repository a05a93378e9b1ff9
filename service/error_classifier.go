// ABOUTME: This file defines the pipeline error taxonomy and retry classification
// ABOUTME: Classify maps any error onto a kind; retry loops read the kind, not the error
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/meron14725/note-columns-post-bot/config"
	"github.com/meron14725/note-columns-post-bot/driver"
)

// ErrPaidContent marks an article that is paid or unreadable. The reference
// is marked processed and nothing is persisted for it.
var ErrPaidContent = errors.New("article is paid or unreadable")

// ErrNoSession means the platform client code could not be extracted from
// the landing page.
var ErrNoSession = errors.New("platform session unavailable")

// ErrUnparseableResponse marks an LLM reply from which no structured
// evaluation could be recovered.
var ErrUnparseableResponse = errors.New("unparseable llm response")

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StorageError wraps a persistence failure. The orchestrator leaves the item
// unprocessed so the next run redoes it.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrorKind is the failure category of a pipeline error. Retry decisions and
// batch accounting branch on the kind rather than on individual error values.
type ErrorKind int

const (
	// KindNone is the kind of a nil error.
	KindNone ErrorKind = iota
	// KindUnknown covers errors outside the taxonomy. Never retried.
	KindUnknown
	// KindConfigMissing means required configuration is absent at startup.
	KindConfigMissing
	// KindTransientNetwork covers timeouts, resets and server-side errors.
	KindTransientNetwork
	// KindRateLimited means the remote asked us to slow down (HTTP 429).
	KindRateLimited
	// KindAuthFailure covers rejected credentials and missing sessions.
	KindAuthFailure
	// KindParseFailure means a response could not be turned into structured data.
	KindParseFailure
	// KindValidationFailure marks out-of-range model output. It never surfaces
	// as an error because scores are clamped and defaulted during parsing.
	KindValidationFailure
	// KindPermanentExclusion marks paid or unreadable articles.
	KindPermanentExclusion
	// KindStorageFailure covers database write errors.
	KindStorageFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfigMissing:
		return "config_missing"
	case KindTransientNetwork:
		return "transient_network"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailure:
		return "auth_failure"
	case KindParseFailure:
		return "parse_failure"
	case KindValidationFailure:
		return "validation_failure"
	case KindPermanentExclusion:
		return "permanent_exclusion"
	case KindStorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt can succeed for this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindTransientNetwork || k == KindRateLimited
}

// Classify maps an error onto the taxonomy, unwrapping as needed.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	// Cancellation is a shutdown signal, not a pipeline failure.
	if errors.Is(err, context.Canceled) {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}

	if errors.Is(err, config.ErrMissing) {
		return KindConfigMissing
	}
	if errors.Is(err, ErrPaidContent) {
		return KindPermanentExclusion
	}
	if errors.Is(err, ErrNoSession) {
		return KindAuthFailure
	}
	if errors.Is(err, ErrUnparseableResponse) {
		return KindParseFailure
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return KindStorageFailure
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errno, ok := opErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return KindTransientNetwork
			}
			return KindUnknown
		}
		if opErr.Timeout() {
			return KindTransientNetwork
		}
		return KindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTransientNetwork
		}
		return KindUnknown
	}

	var apiErr *driver.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}

	return KindUnknown
}

// IsRetryableError determines if an error should trigger a retry.
func IsRetryableError(err error) bool {
	return Classify(err).Retryable()
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusRequestTimeout:
		return KindTransientNetwork
	case status >= 500 && status <= 599:
		return KindTransientNetwork
	default:
		return KindUnknown
	}
}
