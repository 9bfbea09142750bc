package errclass_test

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := errclass.ErrLockTimeout.WithMessage("plan is locked")
	assert.Equal(t, "E_LOCK_TIMEOUT: plan is locked", err.Error())
}

func TestError_Error_WithoutMessage(t *testing.T) {
	err := &errclass.Error{Code: "E_TEST_ERROR"}
	assert.Equal(t, "E_TEST_ERROR", err.Error())
}

func TestError_Error_WithCause(t *testing.T) {
	err := errclass.ErrLockIO.WithMessage("create lock").Wrap(os.ErrPermission)
	assert.Equal(t, "E_LOCK_IO: create lock: permission denied", err.Error())
}

func TestError_Is(t *testing.T) {
	err := errclass.ErrLockTimeout.WithMessage("specific message")
	require.True(t, errors.Is(err, errclass.ErrLockTimeout))
	require.False(t, errors.Is(err, errclass.ErrLockIO))
}

func TestError_Is_ThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("set planId: %w", errclass.ErrLockTimeout.WithMessage("cfg"))
	assert.ErrorIs(t, err, errclass.ErrLockTimeout)
}

func TestError_Unwrap(t *testing.T) {
	err := errclass.ErrLockIO.Wrap(os.ErrPermission)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.ErrorIs(t, err, errclass.ErrLockIO)
}

func TestError_WithMessageKeepsCause(t *testing.T) {
	base := errclass.ErrMapIO.Wrap(os.ErrClosed)
	err := base.WithMessagef("map %s", "cfg")
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Equal(t, "E_MAP_IO", err.Code)
}

func TestError_Codes(t *testing.T) {
	assert.Equal(t, "E_LOCK_TIMEOUT", errclass.ErrLockTimeout.Code)
	assert.Equal(t, "E_RETRY_EXHAUSTED", errclass.ErrRetryExhausted.Code)
}
