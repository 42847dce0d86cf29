package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

type refineHarness struct {
	jobs     *JobRegistry
	tasks    *TaskTracker
	executor *fakeExecutor
	vcs      *fakeVCS
	orch     *RefinementOrchestrator
}

func newRefineHarness(t *testing.T) *refineHarness {
	t.Helper()
	logger := testLogger()
	repo := newMemRepo()
	bus := NewEventBus(logger)
	jobs := NewJobRegistry(logger, repo, bus)
	tasks := NewTaskTracker(logger, repo, bus)
	ledger := NewBudgetLedger(logger, LedgerConfig{}, nil)
	runners := NewRunnerRegistry(logger, 4)
	executor := newFakeExecutor()
	vcs := &fakeVCS{diff: []domain.FileChange{
		{Path: "cmd/main.go", ChangeType: domain.ChangeModify, Insertions: 3, Deletions: 1},
		{Path: "internal/api.go", ChangeType: domain.ChangeWrite, Insertions: 20},
	}}
	orch := NewRefinementOrchestrator(logger, jobs, tasks, ledger, runners, executor, vcs,
		NewWorkspaceManager(t.TempDir()), OrchestratorConfig{EstimatedUnitCost: 0.001})
	return &refineHarness{jobs: jobs, tasks: tasks, executor: executor, vcs: vcs, orch: orch}
}

// completedJob creates a job and walks it to COMPLETED, the usual state a
// refinement starts from.
func (h *refineHarness) completedJob(t *testing.T) domain.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.jobs.Create(ctx, "build a todo app")
	require.NoError(t, err)
	require.NoError(t, h.jobs.SetStatus(ctx, job.ID, domain.JobStatusRunning, ""))
	require.NoError(t, h.jobs.SetStatus(ctx, job.ID, domain.JobStatusCompleted, ""))
	return job
}

// waitMessage polls until the job log carries a message containing want
// and the worker has restored the prior status.
func (h *refineHarness) waitMessage(t *testing.T, id domain.JobID, want string) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.jobs.Get(context.Background(), id)
		if err != nil || job.Status == domain.JobStatusRunning {
			return false
		}
		for _, msg := range job.Messages {
			if strings.Contains(msg.Text, want) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestRefinementOrchestrator_RejectsEmptyInstruction(t *testing.T) {
	h := newRefineHarness(t)
	job := h.completedJob(t)

	err := h.orch.Start(context.Background(), job.ID, RefineRequest{Instruction: "   "})
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestRefinementOrchestrator_AppliesEditAndRestoresStatus(t *testing.T) {
	h := newRefineHarness(t)
	ctx := context.Background()
	job := h.completedJob(t)

	require.NoError(t, h.orch.Start(ctx, job.ID, RefineRequest{Instruction: "rename the login button"}))
	done := h.waitMessage(t, job.ID, "refinement completed, 2 files changed")

	// The build outcome is untouched.
	assert.Equal(t, domain.JobStatusCompleted, done.Status)

	tasks, err := h.tasks.List(ctx, job.ID)
	require.NoError(t, err)
	// One run task plus one edit task per changed file.
	require.Len(t, tasks, 3)
	assert.Equal(t, "refine: rename the login button", tasks[0].Description)
	assert.Equal(t, domain.TaskStatusCompleted, tasks[0].Status)
	assert.Len(t, tasks[0].Files, 2)
	assert.Equal(t, "cmd/main.go", tasks[1].FilePath)
	assert.Equal(t, "internal/api.go", tasks[2].FilePath)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskCategoryRefactorEdit, task.Category)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	}
}

func TestRefinementOrchestrator_ScopeNarrowsInstruction(t *testing.T) {
	h := newRefineHarness(t)
	ctx := context.Background()
	job := h.completedJob(t)

	// A scoped request reads the named file, so seed a real workspace.
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "internal"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "internal", "api.go"),
		[]byte("package api\n\nfunc Handle() error { return nil }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "main.go"),
		[]byte("package main\n"), 0o644))
	require.NoError(t, h.jobs.SetWorkspace(ctx, job.ID, workspace))

	require.NoError(t, h.orch.Start(ctx, job.ID, RefineRequest{
		Instruction: "tighten error handling",
		Scope:       []string{"internal/api.go"},
	}))
	h.waitMessage(t, job.ID, "refinement completed")

	calls := h.executor.agents()
	require.Len(t, calls, 1)
	assert.Equal(t, "refiner", calls[0])
	h.executor.mu.Lock()
	call := h.executor.calls[0]
	h.executor.mu.Unlock()
	assert.Contains(t, call.Instruction, "Only touch these paths: internal/api.go")

	// The context is the scoped file's content, not the project listing.
	assert.Contains(t, call.Context, "## internal/api.go")
	assert.Contains(t, call.Context, "func Handle() error")
	assert.NotContains(t, call.Context, "main.go")
}

func TestRefinementOrchestrator_UnscopedContextIsListing(t *testing.T) {
	h := newRefineHarness(t)
	ctx := context.Background()
	job := h.completedJob(t)

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "main.go"),
		[]byte("package main\n"), 0o644))
	require.NoError(t, h.jobs.SetWorkspace(ctx, job.ID, workspace))

	require.NoError(t, h.orch.Start(ctx, job.ID, RefineRequest{Instruction: "add a health endpoint"}))
	h.waitMessage(t, job.ID, "refinement completed")

	h.executor.mu.Lock()
	call := h.executor.calls[0]
	h.executor.mu.Unlock()
	assert.Contains(t, call.Context, "main.go")
}

func TestRefinementOrchestrator_FailureKeepsPriorStatus(t *testing.T) {
	h := newRefineHarness(t)
	ctx := context.Background()
	job := h.completedJob(t)

	h.executor.setHandler(func(_ context.Context, _ ports.ExecRequest) (ports.ExecResult, error) {
		return ports.ExecResult{}, assert.AnError
	})

	require.NoError(t, h.orch.Start(ctx, job.ID, RefineRequest{Instruction: "break something"}))
	done := h.waitMessage(t, job.ID, "refinement")

	assert.Equal(t, domain.JobStatusCompleted, done.Status)

	tasks, err := h.tasks.List(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusFailed, tasks[0].Status)
	require.NotNil(t, tasks[0].Error)
}

func TestRefinementOrchestrator_SecondStartIsRefused(t *testing.T) {
	h := newRefineHarness(t)
	ctx := context.Background()
	job := h.completedJob(t)

	release := make(chan struct{})
	h.executor.setHandler(func(callCtx context.Context, _ ports.ExecRequest) (ports.ExecResult, error) {
		select {
		case <-release:
		case <-callCtx.Done():
			return ports.ExecResult{}, callCtx.Err()
		}
		return ports.ExecResult{Output: "ok", Model: "gpt-4o-mini", InputTokens: 100}, nil
	})

	require.NoError(t, h.orch.Start(ctx, job.ID, RefineRequest{Instruction: "first edit"}))
	require.Eventually(t, func() bool {
		return len(h.executor.agents()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	err := h.orch.Start(ctx, job.ID, RefineRequest{Instruction: "second edit"})
	var concurrentErr *domain.ConcurrentOperationError
	require.ErrorAs(t, err, &concurrentErr)

	close(release)
	h.waitMessage(t, job.ID, "refinement completed")
}

func TestRefinementOrchestrator_CancelBeforeExecution(t *testing.T) {
	h := newRefineHarness(t)
	ctx := context.Background()
	job := h.completedJob(t)

	// Cancel races the worker; whether it lands before or after the
	// executor call, the job ends back at COMPLETED.
	require.NoError(t, h.orch.Start(ctx, job.ID, RefineRequest{Instruction: "minor tweak"}))
	h.orch.Cancel(job.ID)

	done := h.waitMessage(t, job.ID, "refinement")
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
}
