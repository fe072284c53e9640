package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: the second token arrives ~100ms after the first.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()
	url := "https://www.chileautos.cl/vehiculos/?offset=0"

	require.NoError(t, l.Wait(ctx, url))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, url))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "host B must not wait on host A")
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/2"))
}

func TestLimiterPenalize(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0, MinRPS: 0.25})
	url := "https://www.chileautos.cl/vehiculos/"
	assert.Equal(t, rate.Inf, l.Rate(url))

	for _, want := range []rate.Limit{1, 0.5, 0.25, 0.25} {
		l.Penalize(url)
		assert.Equal(t, want, l.Rate(url))
	}
	assert.Equal(t, rate.Inf, l.Rate("https://other.example/"), "other hosts are untouched")
}
