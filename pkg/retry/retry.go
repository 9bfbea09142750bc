// Package retry runs an operation repeatedly until its result satisfies a
// predicate, a wall-clock budget runs out, or the context is cancelled.
//
// The first attempt happens immediately. Between attempts the caller's
// goroutine sleeps on a timer, so other goroutines keep making progress.
//
//	res, err := retry.Do(fetchStatus).
//		WithDelay(100 * time.Millisecond).
//		WithBackOff(model.BackoffExponential).
//		WithMaxDuration(10 * time.Second).
//		Until(func(s Status) bool { return s.Done }).
//		Run(ctx)
package retry

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jvs-project/coordkit/pkg/logging"
	"github.com/jvs-project/coordkit/pkg/metrics"
	"github.com/jvs-project/coordkit/pkg/model"
)

// errBudgetSpent ends the go-retry loop without counting as an attempt.
var errBudgetSpent = errors.New("retry budget spent")

// Package defaults, used when a Builder is not given explicit values.
const (
	DefaultDelay       = 100 * time.Millisecond
	DefaultBackoff     = model.BackoffConstant
	DefaultMaxDuration = 30 * time.Second
)

// Operation is one attempt of a retried call.
type Operation[T any] func(ctx context.Context) (T, error)

// Defaults carries configured values shared by many call sites.
type Defaults struct {
	Delay       time.Duration
	Backoff     model.BackoffKind
	MaxDuration time.Duration
	Logger      *logging.Logger
	Metrics     *metrics.Registry
}

// Builder configures a retry sequence. Builders are not safe for concurrent
// configuration but Run may be called any number of times.
type Builder[T any] struct {
	op          Operation[T]
	name        string
	delay       time.Duration
	backoff     model.BackoffKind
	maxDuration time.Duration
	pred        func(T) (bool, error)
	log         *logging.Logger
	metrics     *metrics.Registry
}

// Do starts configuring a retry sequence for op.
func Do[T any](op Operation[T]) *Builder[T] {
	return &Builder[T]{
		op:          op,
		delay:       DefaultDelay,
		backoff:     DefaultBackoff,
		maxDuration: DefaultMaxDuration,
		log:         logging.Global(),
	}
}

// DoErr retries an operation that only reports success or failure.
func DoErr(op func(ctx context.Context) error) *Builder[struct{}] {
	return Do(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}).Until(func(struct{}) bool { return true })
}

// WithDefaults applies every non-zero field of d.
func (b *Builder[T]) WithDefaults(d Defaults) *Builder[T] {
	if d.Delay > 0 {
		b.delay = d.Delay
	}
	if d.Backoff != "" {
		b.backoff = d.Backoff
	}
	if d.MaxDuration > 0 {
		b.maxDuration = d.MaxDuration
	}
	if d.Logger != nil {
		b.log = d.Logger
	}
	if d.Metrics != nil {
		b.metrics = d.Metrics
	}
	return b
}

// WithDelay sets the base inter-attempt delay.
func (b *Builder[T]) WithDelay(d time.Duration) *Builder[T] {
	b.delay = d
	return b
}

// WithBackOff sets how the delay grows with the attempt count.
func (b *Builder[T]) WithBackOff(kind model.BackoffKind) *Builder[T] {
	b.backoff = kind
	return b
}

// WithMaxDuration sets the wall-clock budget for the whole sequence.
// Zero means exactly one attempt.
func (b *Builder[T]) WithMaxDuration(d time.Duration) *Builder[T] {
	if d < 0 {
		d = 0
	}
	b.maxDuration = d
	return b
}

// Until sets the stop condition evaluated against each successful result.
// The default accepts any non-zero result.
func (b *Builder[T]) Until(pred func(T) bool) *Builder[T] {
	b.pred = func(v T) (bool, error) { return pred(v), nil }
	return b
}

// UntilE is Until for predicates that can fail. A predicate error counts as a
// failed attempt, exactly like an operation error.
func (b *Builder[T]) UntilE(pred func(T) (bool, error)) *Builder[T] {
	b.pred = pred
	return b
}

// Named labels the sequence in log output.
func (b *Builder[T]) Named(name string) *Builder[T] {
	b.name = name
	return b
}

// WithLogger overrides the logger.
func (b *Builder[T]) WithLogger(l *logging.Logger) *Builder[T] {
	b.log = l
	return b
}

// WithMetrics records attempts and outcomes into m.
func (b *Builder[T]) WithMetrics(m *metrics.Registry) *Builder[T] {
	b.metrics = m
	return b
}

// Run executes the sequence. It returns the accepted result, the unwrapped
// error of an operation that returned Permanent, the context error on
// cancellation, or an *ExhaustedError once the budget is spent.
func (b *Builder[T]) Run(ctx context.Context) (T, error) {
	var (
		last     T
		lastErr  error
		attempts int
	)
	start := time.Now()
	backoff := retry.WithMaxDuration(b.maxDuration, NewBackoff(b.backoff, b.delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		// go-retry clamps the final sleep to end on the deadline and then
		// calls once more; no attempt may start once the budget is spent.
		if attempts > 0 && time.Since(start) >= b.maxDuration {
			return errBudgetSpent
		}
		attempts++
		b.metrics.RecordRetryAttempt()

		res, err := b.op(ctx)
		last = res
		if err != nil {
			if IsPermanent(err) {
				lastErr = err
				return err
			}
			lastErr = err
			b.debug("attempt failed", attempts, err)
			return retry.RetryableError(err)
		}

		ok, perr := b.accept(res)
		switch {
		case perr != nil:
			lastErr = perr
		case !ok:
			lastErr = ErrUnsatisfied
		default:
			lastErr = nil
			return nil
		}
		b.debug("attempt rejected", attempts, lastErr)
		return retry.RetryableError(lastErr)
	})

	if err == nil {
		b.metrics.RecordRetryRun(metrics.OutcomeSuccess)
		return last, nil
	}

	var p *permanentError
	if errors.As(err, &p) {
		b.metrics.RecordRetryRun(metrics.OutcomeAborted)
		return last, p.err
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		b.metrics.RecordRetryRun(metrics.OutcomeCanceled)
		return last, err
	}

	elapsed := time.Since(start)
	b.metrics.RecordRetryRun(metrics.OutcomeExhausted)
	if b.log != nil {
		b.log.Warn("retry gave up", map[string]any{
			"name":     b.name,
			"attempts": attempts,
			"elapsed":  elapsed.String(),
			"error":    lastErr.Error(),
		})
	}
	return last, &ExhaustedError{
		Attempts:    attempts,
		Elapsed:     elapsed,
		MaxDuration: b.maxDuration,
		LastResult:  last,
		LastErr:     lastErr,
	}
}

func (b *Builder[T]) accept(res T) (bool, error) {
	if b.pred == nil {
		return !reflect.ValueOf(&res).Elem().IsZero(), nil
	}
	return b.pred(res)
}

func (b *Builder[T]) debug(msg string, attempt int, err error) {
	if b.log == nil {
		return
	}
	b.log.Debug(msg, map[string]any{"name": b.name, "attempt": attempt, "error": err.Error()})
}
