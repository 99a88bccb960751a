package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFDLimitBoundsConcurrentAcquires(t *testing.T) {
	limit := NewFDLimit(1)
	ctx := context.Background()

	release, err := limit.Acquire(ctx)
	require.NoError(t, err)

	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = limit.Acquire(blockedCtx)
	assert.Error(t, err, "second acquire should block while the first slot is held")

	release()
	release2, err := limit.Acquire(ctx)
	require.NoError(t, err)
	release2()
}

func TestFDLimitReleaseIsIdempotent(t *testing.T) {
	limit := NewFDLimit(1)
	ctx := context.Background()
	release, err := limit.Acquire(ctx)
	require.NoError(t, err)
	release()
	release()

	release2, err := limit.Acquire(ctx)
	require.NoError(t, err)
	release2()
}
