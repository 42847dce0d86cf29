package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/core/domain"
)

func newTestTasks(t *testing.T) *TaskTracker {
	t.Helper()
	return NewTaskTracker(testLogger(), newMemRepo(), NewEventBus(testLogger()))
}

func TestTaskTracker_CreateAndLifecycle(t *testing.T) {
	tracker := newTestTasks(t)
	ctx := context.Background()

	task, err := tracker.Create(ctx, "job-1", TaskSpec{
		Category:    domain.TaskCategoryPhase,
		Description: "development phase",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, 1, task.Attempts)

	require.NoError(t, tracker.Start(ctx, task.ID))
	require.NoError(t, tracker.Complete(ctx, task.ID, []domain.FileChange{
		{Path: "main.go", ChangeType: domain.ChangeWrite, Insertions: 40},
	}))

	got, err := tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "main.go", got.Files[0].Path)
}

func TestTaskTracker_CreateRejectsEmptyDescription(t *testing.T) {
	tracker := newTestTasks(t)

	_, err := tracker.Create(context.Background(), "job-1", TaskSpec{Category: domain.TaskCategoryPhase})
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestTaskTracker_IllegalTransitions(t *testing.T) {
	tracker := newTestTasks(t)
	ctx := context.Background()

	task, err := tracker.Create(ctx, "job-1", TaskSpec{
		Category:    domain.TaskCategoryPhase,
		Description: "phase",
	})
	require.NoError(t, err)

	// pending -> completed without running.
	require.Error(t, tracker.Complete(ctx, task.ID, nil))

	require.NoError(t, tracker.Start(ctx, task.ID))
	require.NoError(t, tracker.Complete(ctx, task.ID, nil))

	// completed is terminal.
	require.Error(t, tracker.Start(ctx, task.ID))
	require.Error(t, tracker.Fail(ctx, task.ID, "nope"))
}

func TestTaskTracker_RetryKeepsErrorUntilSuccess(t *testing.T) {
	tracker := newTestTasks(t)
	ctx := context.Background()

	task, err := tracker.Create(ctx, "job-1", TaskSpec{
		Category:    domain.TaskCategoryIssue,
		Description: "fix deprecated API",
		IssueID:     "ISS-001",
	})
	require.NoError(t, err)
	require.NoError(t, tracker.Start(ctx, task.ID))
	require.NoError(t, tracker.Fail(ctx, task.ID, "compile error"))

	require.NoError(t, tracker.ResetForRetry(ctx, task.ID))
	got, err := tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Error) // prior error visible until overwritten
	assert.Equal(t, "compile error", *got.Error)

	require.NoError(t, tracker.Start(ctx, task.ID))
	require.NoError(t, tracker.Complete(ctx, task.ID, nil))
	got, err = tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Error)
}

func TestTaskTracker_ResetAllowsForcedRerunOfCompletedTask(t *testing.T) {
	tracker := newTestTasks(t)
	ctx := context.Background()

	task, err := tracker.Create(ctx, "job-1", TaskSpec{
		Category:    domain.TaskCategoryIssue,
		Description: "fix deprecated API",
		IssueID:     "ISS-001",
	})
	require.NoError(t, err)
	require.NoError(t, tracker.Start(ctx, task.ID))
	require.NoError(t, tracker.Complete(ctx, task.ID, nil))

	require.NoError(t, tracker.ResetForRetry(ctx, task.ID))
	got, err := tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.CompletedAt)
}

func TestTaskTracker_SubtaskProgressIsMonotonic(t *testing.T) {
	tracker := newTestTasks(t)
	ctx := context.Background()

	task, err := tracker.Create(ctx, "job-1", TaskSpec{
		Category:    domain.TaskCategoryPhase,
		Description: "phase",
	})
	require.NoError(t, err)
	require.NoError(t, tracker.Start(ctx, task.ID))

	require.NoError(t, tracker.UpdateSubtasks(ctx, task.ID, 3, 10))
	require.NoError(t, tracker.UpdateSubtasks(ctx, task.ID, 1, 10)) // clamped

	got, err := tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SubtasksCompleted)
	assert.Equal(t, 10, got.SubtasksTotal)
}

func TestTaskTracker_Aggregates(t *testing.T) {
	tracker := newTestTasks(t)
	ctx := context.Background()

	first, err := tracker.Create(ctx, "job-1", TaskSpec{Category: domain.TaskCategoryPhase, Description: "a"})
	require.NoError(t, err)
	second, err := tracker.Create(ctx, "job-1", TaskSpec{Category: domain.TaskCategoryPhase, Description: "b"})
	require.NoError(t, err)
	_, err = tracker.Create(ctx, "job-2", TaskSpec{Category: domain.TaskCategoryPhase, Description: "other job"})
	require.NoError(t, err)

	require.NoError(t, tracker.Start(ctx, first.ID))
	require.NoError(t, tracker.Complete(ctx, first.ID, nil))
	require.NoError(t, tracker.Start(ctx, second.ID))

	counts, err := tracker.StatusCounts(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.TaskStatusCompleted])
	assert.Equal(t, 1, counts[domain.TaskStatusRunning])
	assert.Equal(t, 0, counts[domain.TaskStatusPending])

	board, err := tracker.Kanban(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, board[domain.TaskStatusCompleted], 1)
	assert.Equal(t, first.ID, board[domain.TaskStatusCompleted][0].ID)
}
