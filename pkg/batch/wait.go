package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Default poll bounds: 3 s between attempts, 100 attempts (five minutes).
const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 100
)

var errNotReady = errors.New("condition not met")

// Check reports whether the awaited state is visible. An error aborts the wait.
type Check func(ctx context.Context) (bool, error)

// Waiter polls a Check at a fixed interval up to a bounded number of attempts
type Waiter struct {
	Interval    time.Duration
	MaxAttempts int
	Clock       clock.Clock
}

// NewWaiter returns a waiter; zero values select the defaults
func NewWaiter(interval time.Duration, maxAttempts int) *Waiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Waiter{Interval: interval, MaxAttempts: maxAttempts, Clock: clock.WallClock}
}

// Until re-runs check until it reports true. Exhausting the attempts returns
// a WaitTimeoutError; a check error or context cancellation is returned as is.
func (w *Waiter) Until(ctx context.Context, what string, check Check) error {
	clk := w.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	start := clk.Now()
	attempts := 0
	var lastErr error

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			done, err := check(ctx)
			if err != nil {
				return err
			}
			if !done {
				return errNotReady
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNotReady)
		},
		NotifyFunc: func(err error, attempt int) {
			lastErr = err
			util.WithField("attempt", attempt).Infof("waiting for %s", what)
		},
		Attempts: w.MaxAttempts,
		Delay:    w.Interval,
		Clock:    clk,
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err), retry.IsDurationExceeded(err):
		return &util.WaitTimeoutError{What: what, Attempts: attempts, Elapsed: clk.Now().Sub(start), Last: lastErr}
	case retry.IsRetryStopped(err):
		return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
	default:
		return fmt.Errorf("waiting for %s: %w", what, err)
	}
}
