package retry

import (
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jvs-project/coordkit/pkg/model"
)

// NewBackoff returns the delay sequence for kind. The n-th call to Next
// (n starting at 1, i.e. after the n-th failed attempt) yields:
//
//	constant:    delay
//	linear:      delay * n
//	exponential: delay * 2^(n-1)
//
// The sequence never stops on its own; bound it with retry.WithMaxDuration.
func NewBackoff(kind model.BackoffKind, delay time.Duration) retry.Backoff {
	if delay <= 0 {
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	switch kind {
	case model.BackoffExponential:
		return retry.NewExponential(delay)
	case model.BackoffLinear:
		var n int64
		return retry.BackoffFunc(func() (time.Duration, bool) {
			n++
			next := delay * time.Duration(n)
			if next/time.Duration(n) != delay {
				return maxDelay, false
			}
			return next, false
		})
	default:
		return retry.NewConstant(delay)
	}
}

// maxDelay caps linear growth on overflow; the duration budget always
// truncates it long before this matters.
const maxDelay = time.Duration(1<<63 - 1)
