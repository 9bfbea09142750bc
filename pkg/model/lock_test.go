package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockToken_IsExpired(t *testing.T) {
	tok := &model.LockToken{AcquiredAtEpochMs: 1_000, TTLMs: 500}

	assert.False(t, tok.IsExpired(time.UnixMilli(1_000)))
	assert.False(t, tok.IsExpired(time.UnixMilli(1_500)), "boundary instant is still live")
	assert.True(t, tok.IsExpired(time.UnixMilli(1_501)))
	assert.Equal(t, time.UnixMilli(1_500), tok.ExpiresAt())
	assert.Equal(t, 500*time.Millisecond, tok.TTL())
}

func TestLockToken_JSONShape(t *testing.T) {
	tok := model.LockToken{ResourceKey: "cfg", OwnerID: "abc", AcquiredAtEpochMs: 7, TTLMs: 9}
	data, err := json.Marshal(tok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceKey":"cfg","ownerId":"abc","acquiredAtEpochMs":7,"ttlMs":9}`, string(data))
}

func TestLockPolicy_WithDefaults(t *testing.T) {
	p := model.LockPolicy{MaxWait: 0}.WithDefaults()
	d := model.DefaultLockPolicy()
	assert.Equal(t, d.DefaultTTL, p.DefaultTTL)
	assert.Equal(t, time.Duration(0), p.MaxWait, "zero wait means a single attempt")
	assert.Equal(t, d.PollInterval, p.PollInterval)
	assert.Equal(t, model.BackoffConstant, p.Backoff)
}

func TestParseBackoffKind(t *testing.T) {
	k, err := model.ParseBackoffKind("Exponential")
	require.NoError(t, err)
	assert.Equal(t, model.BackoffExponential, k)

	k, err = model.ParseBackoffKind("")
	require.NoError(t, err)
	assert.Equal(t, model.BackoffConstant, k)

	_, err = model.ParseBackoffKind("fibonacci")
	assert.Error(t, err)
}
