// Package wait polls externally observed conditions until they hold.
package wait

import (
	"context"
	"time"

	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/retry"
)

// DefaultInterval is the polling interval used when none is given.
const DefaultInterval = 100 * time.Millisecond

// Condition reports whether the awaited state has been reached. An error is
// treated like false: polling continues until the budget runs out.
type Condition func(ctx context.Context) (bool, error)

type options struct {
	interval time.Duration
	backoff  model.BackoffKind
	defaults *retry.Defaults
}

// Option tunes UntilTrue.
type Option func(*options)

// Interval sets the base delay between checks.
func Interval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// Backoff sets how the delay between checks grows.
func Backoff(kind model.BackoffKind) Option {
	return func(o *options) { o.backoff = kind }
}

// Defaults applies the logger and metrics (and delay/backoff unless set
// explicitly) from shared retry defaults.
func Defaults(d retry.Defaults) Option {
	return func(o *options) { o.defaults = &d }
}

// UntilTrue polls cond until it returns true or maxWait elapses. Exhaustion
// is reported as an error matching errclass.ErrRetryExhausted.
func UntilTrue(ctx context.Context, cond Condition, maxWait time.Duration, opts ...Option) error {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	b := retry.Do(retry.Operation[bool](cond)).Named("wait")
	if o.defaults != nil {
		b = b.WithDefaults(*o.defaults)
	} else {
		b = b.WithDelay(DefaultInterval)
	}
	if o.interval > 0 {
		b = b.WithDelay(o.interval)
	}
	if o.backoff != "" {
		b = b.WithBackOff(o.backoff)
	} else if o.defaults == nil {
		b = b.WithBackOff(model.BackoffConstant)
	}

	_, err := b.WithMaxDuration(maxWait).Until(func(ok bool) bool { return ok }).Run(ctx)
	return err
}
