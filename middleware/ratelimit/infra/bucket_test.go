package infra

import (
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBucket_RefillIsIdempotentForSameInstant(t *testing.T) {
	b := newBucket(domain.Config{Capacity: 10, RefillRate: 2}.WithInitialTokens(0), t0)

	now := t0.Add(1500 * time.Millisecond)
	b.refill(now)
	first := b.tokens
	b.refill(now)
	b.refill(now)

	assert.InDelta(t, 3.0, first, 1e-9)
	assert.Equal(t, first, b.tokens)
}

func TestBucket_RefillNeverExceedsCapacity(t *testing.T) {
	b := newBucket(domain.Config{Capacity: 3, RefillRate: 100}.WithInitialTokens(1), t0)
	b.refill(t0.Add(time.Hour))
	assert.Equal(t, 3.0, b.tokens)
}

func TestBucket_BackwardsClockIsClampedWithoutInflation(t *testing.T) {
	b := newBucket(domain.Config{Capacity: 10, RefillRate: 1}.WithInitialTokens(0), t0)

	b.refill(t0.Add(2 * time.Second))
	require.InDelta(t, 2.0, b.tokens, 1e-9)

	// relógio volta 5s: nada muda, regressão contada
	b.refill(t0.Add(-3 * time.Second))
	assert.InDelta(t, 2.0, b.tokens, 1e-9)
	assert.Equal(t, uint64(1), b.regressions)

	// e ao voltar a avançar, o trecho repetido não é creditado de novo
	b.refill(t0.Add(3 * time.Second))
	assert.InDelta(t, 3.0, b.tokens, 1e-9)
}

func TestBucket_TakeDoesNotConsumeOnDenial(t *testing.T) {
	b := newBucket(domain.Config{Capacity: 5, RefillRate: 1}.WithInitialTokens(2.5), t0)

	assert.False(t, b.take(3))
	assert.Equal(t, 2.5, b.tokens)
	assert.True(t, b.take(2))
	assert.InDelta(t, 0.5, b.tokens, 1e-9)
}

func TestBucket_Wait(t *testing.T) {
	b := newBucket(domain.Config{Capacity: 4, RefillRate: 2}.WithInitialTokens(1), t0)

	assert.Equal(t, time.Duration(0), b.wait(1))
	assert.Equal(t, 500*time.Millisecond, b.wait(2))
	assert.Equal(t, maxWait, b.wait(5), "more than capacity can never be satisfied")
}

func TestSecondsToDuration_Saturates(t *testing.T) {
	assert.Equal(t, maxWait, secondsToDuration(1e30))
	assert.Equal(t, time.Duration(1), secondsToDuration(1e-15))
	assert.Equal(t, time.Second, secondsToDuration(1))
}
