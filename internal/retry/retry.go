package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

// Error implements the error interface for StatusError.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: request failed with status code %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: request failed with status code %d: %s", e.Op, e.StatusCode, e.Body)
}

// Policy retries transient failures with capped exponential backoff and jitter.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          hclog.Logger
}

// NewPolicy builds a Policy from the http_client directive.
func NewPolicy(cfg *config.Config, logger hclog.Logger) Policy {
	defaults := config.DefaultHTTPConfig()
	p := Policy{
		MaxRetries:      defaults.RetryCount,
		InitialInterval: defaults.RetryWaitTime,
		MaxInterval:     defaults.RetryMaxWaitTime,
		Logger:          logger,
	}
	if cfg != nil {
		p.MaxRetries = config.SetThen(cfg.HTTPClient.RetryCount, p.MaxRetries)
		p.InitialInterval = config.SetThen(cfg.HTTPClient.RetryWaitTime, p.InitialInterval)
		p.MaxInterval = config.SetThen(cfg.HTTPClient.RetryMaxWaitTime, p.MaxInterval)
	}
	return p
}

// Do runs fn until it succeeds, fails permanently or the retries are exhausted.
// Only errors classified by IsRetryable are retried; each retry is logged.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.InitialInterval
	expBackoff.MaxInterval = p.MaxInterval
	expBackoff.Multiplier = 2
	expBackoff.RandomizationFactor = 0.1
	expBackoff.MaxElapsedTime = 0

	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(expBackoff, uint64(p.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		attempt++
		if p.Logger != nil {
			p.Logger.Warn("retrying request", "op", op, "attempt", attempt, "wait", wait, "error", err)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempt+1, err)
	}
	return err
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if sherrors.IsTransient(err) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// IsRetryableStatus reports whether an HTTP status code is transient: throttling or a server error.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// CheckResponse classifies the outcome of a resty call: network failures and
// transient status codes become TransientIOError, other 4xx become StatusError.
func CheckResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return sherrors.NewTransientIOError(op, 0, err)
	}
	if resp == nil {
		return sherrors.NewTransientIOError(op, 0, errors.New("empty response"))
	}

	code := resp.StatusCode()
	switch {
	case IsRetryableStatus(code):
		return sherrors.NewTransientIOError(op, code, fmt.Errorf("server responded %s", http.StatusText(code)))
	case code >= http.StatusBadRequest:
		return &StatusError{Op: op, StatusCode: code, Body: truncate(strings.TrimSpace(resp.String()), 256)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
