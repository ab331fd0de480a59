package ratekeep_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/xpdustry/claj/internal/ratekeep"
)

func TestAllowBurstThenDeny(t *testing.T) {
	k := ratekeep.New(rate.Limit(1), 2, time.Minute)

	assert.True(t, k.Allow("a"))
	assert.True(t, k.Allow("a"))
	assert.False(t, k.Allow("a"), "burst of 2 exhausted, third call in the same instant should be denied")

	assert.True(t, k.Allow("b"), "a different key has its own bucket")
}

func TestSweepEvictsOnlyIdleKeys(t *testing.T) {
	k := ratekeep.New(rate.Limit(5), 5, time.Millisecond)
	k.Allow("stale")
	assert.Equal(t, 1, k.Len())

	time.Sleep(5 * time.Millisecond)
	k.Allow("fresh")
	k.Sweep(time.Now())

	assert.Equal(t, 1, k.Len(), "stale should have been evicted, fresh should remain")
}

func TestResetForgetsKeyImmediately(t *testing.T) {
	k := ratekeep.New(rate.Limit(1), 1, time.Minute)
	assert.True(t, k.Allow("c"))
	assert.Equal(t, 1, k.Len())

	k.Reset("c")
	assert.Equal(t, 0, k.Len())
	assert.True(t, k.Allow("c"), "a fresh bucket should allow again after reset")
}

func TestSetLimitAffectsOnlyFutureKeys(t *testing.T) {
	k := ratekeep.New(rate.Limit(1), 1, time.Minute)
	assert.True(t, k.Allow("existing"))
	assert.False(t, k.Allow("existing"), "burst of 1 already exhausted")

	k.SetLimit(rate.Limit(100), 100)

	assert.False(t, k.Allow("existing"), "existing limiter keeps its old burst until evicted")
	assert.True(t, k.Allow("new-key"), "a key created after SetLimit uses the new burst")
}
