package services

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/genrelist/internal/shared"
)

// RateLimitError is returned when a service answers 429.
type RateLimitError struct {
	Service string
	Wait    time.Duration // zero when the server sent no usable hint
}

func (e *RateLimitError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Service, e.Wait)
	}
	return fmt.Sprintf("%s: rate limited", e.Service)
}

// RetryAfter returns the server's wait hint.
func (e *RateLimitError) RetryAfter() time.Duration { return e.Wait }

func (e *RateLimitError) Retryable() bool { return true }

func (e *RateLimitError) Unwrap() error { return shared.ErrRateLimited }

// StatusError is a non-2xx response other than 429.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API error: status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: status %d", e.Service, e.StatusCode)
}

// Retryable reports whether the status is worth retrying: 408 and 5xx.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return shared.ErrTokenExpired
	case e.StatusCode == http.StatusNotFound:
		return shared.ErrRecordNotFound
	case e.StatusCode >= 500:
		return shared.ErrServiceUnavailable
	default:
		return shared.ErrAPIRequest
	}
}

// checkResponse converts a non-2xx response into a [*RateLimitError] or [*StatusError].
func checkResponse(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Service: service, Wait: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Service: service, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func parseRetryAfterNow(v string) time.Duration {
	return parseRetryAfter(v, time.Now())
}

// parseRetryAfter accepts delay-seconds or an HTTP date. Unparseable values yield 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
