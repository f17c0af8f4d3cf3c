package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledComponentsAllow(t *testing.T) {
	ctx := context.Background()

	var locker *Locker
	lease, err := locker.Acquire(ctx, "import:job:1", time.Second)
	require.NoError(t, err)
	assert.NoError(t, lease.Release(ctx))
	assert.NoError(t, lease.Release(ctx))

	limiter := NewAdvisorLimiter(config.Config{Advisor: config.AdvisorConfig{RateLimit: 10}}, nil)
	assert.False(t, limiter.Enabled())
	res, err := limiter.Allow(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	var bucket *TokenBucket
	_, err = bucket.Allow(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 0))
}

func TestScriptValueParsing(t *testing.T) {
	assert.InDelta(t, 1.0, scriptNumber(int64(1)), 1e-9)
	assert.InDelta(t, 7.0, scriptNumber("7"), 1e-9)
	assert.InDelta(t, 2.5, scriptNumber("2.5"), 1e-9)
	assert.Zero(t, scriptNumber(nil))
}

func TestRetryAfterRoundsUpToSeconds(t *testing.T) {
	// 10 calls a minute: one token every 6s.
	assert.Equal(t, 6*time.Second, retryAfter(0, 10.0/60))
	assert.Equal(t, 3*time.Second, retryAfter(0.5, 10.0/60))
	assert.Equal(t, time.Second, retryAfter(0.99, 100))
	assert.Equal(t, time.Second, retryAfter(1, 1))
}
