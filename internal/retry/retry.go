// Package retry provides the bounded-attempt exponential backoff wrapper
// shared by every outbound client.
//
// Two policies cover the pipeline's needs: HTTPPolicy for task-service and
// chat-source calls (transient status codes, Retry-After hints) and
// GenericPolicy for transcription and extraction calls, which retry any
// failure. Errors are retried by default; wrap with Permanent to stop the
// loop early, or return a RateLimitError to stretch the next delay by the
// server-supplied hint.
package retry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPAttempts    = 4
	defaultGenericAttempts = 3

	// DefaultRetryAfter is substituted when a 429 response carries no
	// parseable Retry-After header.
	DefaultRetryAfter = 2 * time.Second
)

// Policy controls how Do spaces its attempts. The delay before attempt n+1
// is BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// HTTPPolicy returns the policy for direct HTTP calls. maxAttempts <= 0
// selects the default of 4.
func HTTPPolicy(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = defaultHTTPAttempts
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   1500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// GenericPolicy returns the policy for opaque operations such as
// transcription and extraction. maxAttempts <= 0 selects the default of 3.
func GenericPolicy(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = defaultGenericAttempts
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
	}
}

// delay computes the wait after a failed attempt (1-based).
func (p Policy) delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RateLimitError reports a rate-limited call together with the wait the
// server asked for. Do adds Hint on top of the exponential delay.
type RateLimitError struct {
	Err  error
	Hint time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Do runs op up to policy.MaxAttempts times, sleeping an exponentially
// growing delay between attempts. Context cancellation aborts immediately,
// both mid-sleep and between attempts. On exhaustion the last error is
// returned exactly as op produced it.
func Do(ctx context.Context, logger *zap.Logger, policy Policy, desc string, op func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := policy.delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) {
			delay += rl.Hint
		}
		logger.Warn("Operation failed, retrying",
			zap.String("operation", desc),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// RetryableStatus reports whether an HTTP status code is transient enough to
// retry.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ParseRetryAfter interprets a Retry-After header value as either delta
// seconds or an HTTP date. The boolean is false when the value is absent or
// unparseable; callers log and substitute DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
