package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiter_EnforcesPerHostDelay(t *testing.T) {
	h := NewHostLimiter(50*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, h.Wait(ctx, "x.test"))

	start := time.Now()
	require.NoError(t, h.Wait(ctx, "x.test"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestHostLimiter_IndependentHosts(t *testing.T) {
	h := NewHostLimiter(time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, h.Wait(ctx, "a.test"))

	done := make(chan struct{})
	go func() {
		_ = h.Wait(ctx, "b.test")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait on a different host should not block on a.test's delay")
	}
}

func TestHostLimiter_RespectsCancellation(t *testing.T) {
	h := NewHostLimiter(time.Hour, nil)
	ctx := context.Background()
	require.NoError(t, h.Wait(ctx, "x.test"))

	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Wait(cctx, "x.test")
	assert.Error(t, err)
}
