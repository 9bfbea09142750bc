package wait_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/retry"
	"github.com/jvs-project/coordkit/pkg/wait"
)

func TestUntilTrue_BecomesTrue(t *testing.T) {
	var flag atomic.Bool
	time.AfterFunc(60*time.Millisecond, func() { flag.Store(true) })

	start := time.Now()
	err := wait.UntilTrue(context.Background(), func(ctx context.Context) (bool, error) {
		return flag.Load(), nil
	}, time.Second, wait.Interval(10*time.Millisecond))

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestUntilTrue_TimesOut(t *testing.T) {
	start := time.Now()
	err := wait.UntilTrue(context.Background(), func(ctx context.Context) (bool, error) {
		return false, nil
	}, 100*time.Millisecond, wait.Interval(20*time.Millisecond))

	assert.ErrorIs(t, err, errclass.ErrRetryExhausted)
	assert.ErrorIs(t, err, retry.ErrUnsatisfied)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestUntilTrue_ErrorsKeepPolling(t *testing.T) {
	var calls atomic.Int32
	err := wait.UntilTrue(context.Background(), func(ctx context.Context) (bool, error) {
		if calls.Add(1) < 3 {
			return false, errors.New("element not attached")
		}
		return true, nil
	}, time.Second, wait.Interval(5*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUntilTrue_ZeroWaitChecksOnce(t *testing.T) {
	var calls atomic.Int32
	err := wait.UntilTrue(context.Background(), func(ctx context.Context) (bool, error) {
		calls.Add(1)
		return false, nil
	}, 0)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUntilTrue_FileAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ready")
	time.AfterFunc(30*time.Millisecond, func() { os.WriteFile(path, nil, 0644) })

	err := wait.UntilTrue(context.Background(), func(ctx context.Context) (bool, error) {
		_, err := os.Stat(path)
		return err == nil, nil
	}, time.Second, wait.Interval(5*time.Millisecond), wait.Backoff(model.BackoffLinear))
	require.NoError(t, err)
}
