package util

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/logger"
)

// RetryOptions configures RetryWithBackoff. Zero values fall back to
// DefaultRetryOptions.
type RetryOptions struct {
	Retries      int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Name is only used for logging.
	Name string
}

// DefaultRetryOptions: three retries starting at one second, capped at ten.
var DefaultRetryOptions = RetryOptions{
	Retries:      3,
	InitialDelay: time.Second,
	MaxDelay:     10 * time.Second,
}

// sleep is swapped out in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Retries == 0 && o.InitialDelay == 0 && o.MaxDelay == 0 {
		o.Retries = DefaultRetryOptions.Retries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultRetryOptions.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultRetryOptions.MaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	return o
}

// RetryWithBackoff calls fn until it succeeds, retrying only transient
// failures (see IsTransient). The delay doubles after each attempt up to
// MaxDelay. Fatal errors, the error of the last attempt and context errors
// are returned immediately.
func RetryWithBackoff[T any](ctx context.Context, opts RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	delay := opts.InitialDelay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if !IsTransient(err) || attempt >= opts.Retries {
			return zero, err
		}

		logger.Debug("[Retry] Transient failure, backing off",
			"op", opts.Name, "attempt", attempt+1, "delay", delay, "err", err)

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// statusToken finds a 429 or 5xx status code where error messages put one:
// at the start, after a ": " separator, or after "status" or "code".
var statusToken = regexp.MustCompile(`(?:^|: |\bstatus(?: code)?[ :=]+|\bcode[ :=]+)(429|5[0-9]{2})\b`)

var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
	"quota",
	"overloaded",
	"internal error",
	"internal server error",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
}

// IsTransient classifies an error as worth retrying: rate limits and server
// errors. Typed upstream errors and status-carrying errors are classified by
// status, anything else by a status code or marker in the message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ue *common.UpstreamError
	if errors.As(err, &ue) {
		if ue.Transient {
			return true
		}
		if ue.Status > 0 {
			return isTransientStatus(ue.Status)
		}
	}

	var pe *common.ParseError
	if errors.As(err, &pe) {
		return false
	}
	var rl *common.RateLimitError
	if errors.As(err, &rl) {
		// the local limiter already told the caller when to come back
		return false
	}

	var sc httpStatusCoder
	if errors.As(err, &sc) && sc.HTTPStatusCode() > 0 {
		return isTransientStatus(sc.HTTPStatusCode())
	}

	msg := strings.ToLower(err.Error())
	if statusToken.MatchString(msg) {
		return true
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isTransientStatus(code int) bool {
	return code == 429 || (code >= 500 && code <= 599)
}
