package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/jvs-project/coordkit/pkg/errclass"
)

// ErrUnsatisfied is the last error of a sequence whose operation succeeded
// but whose result never passed the predicate.
var ErrUnsatisfied = errors.New("result did not satisfy predicate")

// ExhaustedError is returned when the duration budget ran out before the
// operation satisfied its predicate. It matches errclass.ErrRetryExhausted and
// unwraps to the last observed error.
type ExhaustedError struct {
	Attempts    int
	Elapsed     time.Duration
	MaxDuration time.Duration
	LastResult  any
	LastErr     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempt(s) in %v (budget %v): %v",
		errclass.ErrRetryExhausted.Code, e.Attempts, e.Elapsed.Round(time.Millisecond), e.MaxDuration, e.LastErr)
}

func (e *ExhaustedError) Is(target error) bool {
	t, ok := target.(*errclass.Error)
	return ok && t.Code == errclass.ErrRetryExhausted.Code
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable: the sequence stops immediately and
// returns err unchanged. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
