package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/core/domain"
)

func TestRunnerRegistry_MutualExclusionPerJob(t *testing.T) {
	reg := NewRunnerRegistry(testLogger(), 4)
	ctx := context.Background()

	h, err := reg.Acquire(ctx, "job-1", RunnerBuild)
	require.NoError(t, err)

	_, err = reg.Acquire(ctx, "job-1", RunnerMigration)
	var concurrentErr *domain.ConcurrentOperationError
	require.ErrorAs(t, err, &concurrentErr)
	assert.Equal(t, "build", concurrentErr.Active)

	// A different job is unaffected.
	other, err := reg.Acquire(ctx, "job-2", RunnerMigration)
	require.NoError(t, err)
	reg.Release(other)

	reg.Release(h)

	// Released slot can be re-acquired.
	h, err = reg.Acquire(ctx, "job-1", RunnerRefinement)
	require.NoError(t, err)
	reg.Release(h)
}

func TestRunnerRegistry_ConcurrencyCap(t *testing.T) {
	reg := NewRunnerRegistry(testLogger(), 1)
	ctx := context.Background()

	h, err := reg.Acquire(ctx, "job-1", RunnerBuild)
	require.NoError(t, err)

	// The cap blocks, not rejects: a short deadline surfaces that.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = reg.Acquire(waitCtx, "job-2", RunnerBuild)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	reg.Release(h)

	h2, err := reg.Acquire(ctx, "job-2", RunnerBuild)
	require.NoError(t, err)
	reg.Release(h2)
}

func TestRunnerRegistry_Cancel(t *testing.T) {
	reg := NewRunnerRegistry(testLogger(), 4)
	ctx := context.Background()

	assert.False(t, reg.Cancel("job-1"), "nothing in flight")

	h, err := reg.Acquire(ctx, "job-1", RunnerBuild)
	require.NoError(t, err)
	assert.False(t, h.Cancelled())

	assert.True(t, reg.Cancel("job-1"))
	assert.True(t, h.Cancelled())

	reg.Release(h)
	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed after release")
	}
}
