// Package retry provides the bounded retry policy shared by every external call site.
package retry

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/eapache/go-resiliency/retrier"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Policy bounds how an external call is retried.
//
// MaxRetries counts retries after the first attempt, so a call runs at most
// MaxRetries+1 times. Backoff doubles from InitialBackoff up to MaxBackoff and
// every sleep is shifted by a random factor within ±Jitter. CallTimeout, when
// positive, is the deadline of a single attempt; an attempt that exceeds it is
// retried like any other transient failure.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         float64
	CallTimeout    time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		Jitter:         0.2,
	}
}

// Backoff returns the sleep schedule before applying jitter.
func (p Policy) Backoff() []time.Duration {
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}

	initial := p.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	limit := p.MaxBackoff
	if limit < initial {
		limit = initial
	}

	return retrier.LimitedExponentialBackoff(retries, initial, limit)
}

// Attempts returns the maximum number of times Do invokes the work function.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Do runs work until it succeeds, returns a permanent error, or the retry
// budget is spent. attempt starts at 0. The last work error is returned when
// the budget runs out or ctx ends while sleeping.
func (p Policy) Do(ctx context.Context, work func(ctx context.Context, attempt int) error) error {
	if work == nil {
		return errors.New("retry work func is nil")
	}

	r := retrier.New(p.Backoff(), classifier{parent: ctx})
	r.SetJitter(p.Jitter)
	r.WithSurfaceWorkErrors()

	return r.RunFn(ctx, func(ctx context.Context, retries int) error {
		callCtx := ctx
		if p.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}

		return work(callCtx, retries)
	})
}

// classifier treats everything as transient except permanent errors and
// cancellation of the caller's own context.
type classifier struct {
	parent context.Context
}

// Classify implements retrier.Classifier.
func (c classifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case IsPermanent(err):
		return retrier.Fail
	case c.parent != nil && c.parent.Err() != nil:
		return retrier.Fail
	default:
		return retrier.Retry
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}
