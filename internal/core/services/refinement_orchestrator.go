package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

// RefineRequest is one targeted edit pass over an existing workspace.
type RefineRequest struct {
	// Instruction describes the change in the user's words.
	Instruction string
	// Scope optionally narrows the edit to specific paths. Empty means the
	// whole workspace is in scope.
	Scope []string
}

// RefinementOrchestrator applies targeted edits to a job's workspace
// without re-running the build pipeline. The job's status is forced to
// RUNNING for the duration and restored afterwards: refinement never
// rewrites the outcome of the build that produced the workspace.
type RefinementOrchestrator struct {
	logger   *slog.Logger
	jobs     *JobRegistry
	tasks    *TaskTracker
	ledger   *BudgetLedger
	runners  *RunnerRegistry
	executor ports.AgentExecutor
	vcs      ports.VersionControl
	ws       *WorkspaceManager
	cfg      OrchestratorConfig
}

func NewRefinementOrchestrator(
	logger *slog.Logger,
	jobs *JobRegistry,
	tasks *TaskTracker,
	ledger *BudgetLedger,
	runners *RunnerRegistry,
	executor ports.AgentExecutor,
	vcs ports.VersionControl,
	ws *WorkspaceManager,
	cfg OrchestratorConfig,
) *RefinementOrchestrator {
	cfg.applyDefaults()
	return &RefinementOrchestrator{
		logger:   logger,
		jobs:     jobs,
		tasks:    tasks,
		ledger:   ledger,
		runners:  runners,
		executor: executor,
		vcs:      vcs,
		ws:       ws,
		cfg:      cfg,
	}
}

// Start claims the job for refinement and launches the background edit
// pass. A second concurrent workflow on the same job is refused with
// ConcurrentOperationError before any state changes.
func (o *RefinementOrchestrator) Start(ctx context.Context, jobID domain.JobID, req RefineRequest) error {
	if strings.TrimSpace(req.Instruction) == "" {
		return &domain.ValidationError{Field: "instruction", Reason: "must not be empty"}
	}
	if _, err := o.jobs.Get(ctx, jobID); err != nil {
		return err
	}

	handle, err := o.runners.Acquire(ctx, jobID, RunnerRefinement)
	if err != nil {
		return err
	}

	prior, err := o.jobs.OverrideRunning(ctx, jobID)
	if err != nil {
		o.runners.Release(handle)
		return err
	}

	go o.run(handle, prior, req)
	return nil
}

// Cancel flags a running refinement; the worker observes the flag before
// the executor call and restores the prior status without editing.
func (o *RefinementOrchestrator) Cancel(jobID domain.JobID) bool {
	return o.runners.Cancel(jobID)
}

func (o *RefinementOrchestrator) run(handle *RunnerHandle, prior domain.JobStatus, req RefineRequest) {
	defer o.runners.Release(handle)

	ctx := context.Background()
	jobID := handle.JobID
	defer func() {
		if err := o.jobs.RestoreStatus(ctx, jobID, prior); err != nil {
			o.logger.Error("failed to restore job status", "job_id", jobID, "status", prior, "error", err)
		}
	}()

	if err := o.jobs.SetPhase(ctx, jobID, domain.PhaseRefining, domain.PhaseRefining.Progress()); err != nil {
		o.logger.Error("failed to set phase", "job_id", jobID, "error", err)
		return
	}

	job, err := o.ensureWorkspace(ctx, jobID)
	if err != nil {
		o.report(ctx, jobID, fmt.Errorf("failed to prepare workspace: %w", err))
		return
	}

	if handle.Cancelled() {
		o.reportMessage(ctx, jobID, "refinement cancelled before execution")
		return
	}

	agent := domain.PhaseRefining.Agent()
	reservation, err := o.ledger.Reserve(jobID, agent, o.cfg.EstimatedUnitCost)
	if err != nil {
		o.report(ctx, jobID, err)
		return
	}

	task, err := o.tasks.Create(ctx, jobID, TaskSpec{
		Category:    domain.TaskCategoryRefactorEdit,
		Description: "refine: " + req.Instruction,
		Instruction: req.Instruction,
	})
	if err != nil {
		reservation.Release()
		o.report(ctx, jobID, err)
		return
	}
	if err := o.tasks.Start(ctx, task.ID); err != nil {
		reservation.Release()
		o.report(ctx, jobID, err)
		return
	}

	before, err := o.vcs.Commit(ctx, job.Workspace, "before refinement")
	if err != nil {
		reservation.Release()
		o.failTask(ctx, jobID, task.ID, fmt.Errorf("failed to snapshot workspace: %w", err))
		return
	}

	// Scoped edits see the named files' content; unscoped edits get the
	// project listing instead.
	editContext := o.scopeContext(job.Workspace, req.Scope)

	instruction := "Apply this refinement to the workspace:\n" + req.Instruction
	if len(req.Scope) > 0 {
		instruction += "\nOnly touch these paths: " + strings.Join(req.Scope, ", ")
	}

	refineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.IssueTimeout)
	defer cancel()

	result, execErr := o.executor.Execute(refineCtx, ports.ExecRequest{
		JobID:       jobID,
		Agent:       agent,
		Instruction: instruction,
		Context:     editContext,
		Tools:       NewWorkspaceTools(job.Workspace),
	})
	if execErr != nil {
		reservation.Release()
		var unitErr error
		if errors.Is(execErr, context.DeadlineExceeded) {
			unitErr = &domain.TimeoutError{Unit: "refinement", Limit: o.cfg.IssueTimeout}
		} else {
			unitErr = &domain.AgentExecutionError{Unit: "refinement", Err: execErr}
		}
		o.failTask(ctx, jobID, task.ID, unitErr)
		return
	}

	after, err := o.vcs.Commit(ctx, job.Workspace, "after refinement: "+req.Instruction)
	if err != nil {
		reservation.Release()
		o.failTask(ctx, jobID, task.ID, fmt.Errorf("failed to snapshot workspace: %w", err))
		return
	}
	files, err := o.vcs.Diff(ctx, job.Workspace, before, after)
	if err != nil {
		o.logger.Warn("failed to diff refinement snapshots", "job_id", jobID, "error", err)
		files = nil
	}

	cost := reservation.Commit(result.Model, result.InputTokens, result.OutputTokens)
	if err := o.jobs.AddBudgetSpent(ctx, jobID, cost); err != nil {
		o.logger.Error("failed to record spend", "job_id", jobID, "error", err)
	}
	if err := o.tasks.Complete(ctx, task.ID, files); err != nil {
		o.logger.Error("failed to complete task", "task_id", task.ID, "error", err)
	}
	o.recordEdits(ctx, jobID, req.Instruction, files)
	o.reportMessage(ctx, jobID,
		fmt.Sprintf("refinement completed, %d files changed (cost $%.4f)", len(files), cost))
}

// scopeContext builds the executor context. For a scoped request it is
// the content of the scoped files; otherwise the workspace listing.
// Paths outside the workspace or unreadable files are noted, not fatal.
func (o *RefinementOrchestrator) scopeContext(workspace string, scope []string) string {
	if len(scope) == 0 {
		listing, err := o.ws.Listing(workspace)
		if err != nil {
			o.logger.Warn("failed to list workspace", "workspace", workspace, "error", err)
			return ""
		}
		return listing
	}

	var b strings.Builder
	for _, path := range scope {
		fmt.Fprintf(&b, "## %s\n", path)
		abs, err := resolveInside(workspace, path)
		if err != nil {
			b.WriteString("(outside workspace)\n\n")
			continue
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			o.logger.Warn("failed to read scoped file", "path", path, "error", err)
			b.WriteString("(unreadable)\n\n")
			continue
		}
		b.Write(content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// recordEdits writes one completed task per changed file so the kanban
// shows the edit at file granularity.
func (o *RefinementOrchestrator) recordEdits(ctx context.Context, jobID domain.JobID, instruction string, files []domain.FileChange) {
	for _, fc := range files {
		task, err := o.tasks.Create(ctx, jobID, TaskSpec{
			Category:    domain.TaskCategoryRefactorEdit,
			Description: fmt.Sprintf("%s %s", fc.ChangeType, fc.Path),
			FilePath:    fc.Path,
			Instruction: instruction,
		})
		if err != nil {
			o.logger.Error("failed to record edit task", "job_id", jobID, "path", fc.Path, "error", err)
			continue
		}
		if err := o.tasks.Start(ctx, task.ID); err != nil {
			o.logger.Error("failed to start edit task", "task_id", task.ID, "error", err)
			continue
		}
		if err := o.tasks.Complete(ctx, task.ID, []domain.FileChange{fc}); err != nil {
			o.logger.Error("failed to complete edit task", "task_id", task.ID, "error", err)
		}
	}
}

func (o *RefinementOrchestrator) ensureWorkspace(ctx context.Context, jobID domain.JobID) (domain.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Workspace != "" {
		return job, nil
	}
	path, err := o.ws.Prepare(string(jobID))
	if err != nil {
		return domain.Job{}, err
	}
	if err := o.jobs.SetWorkspace(ctx, jobID, path); err != nil {
		return domain.Job{}, err
	}
	job.Workspace = path
	return job, nil
}

// failTask marks the run task failed and surfaces the error on the job
// log. The prior job status is restored by the run defer; a failed
// refinement never downgrades a completed build.
func (o *RefinementOrchestrator) failTask(ctx context.Context, jobID domain.JobID, taskID domain.TaskID, unitErr error) {
	if err := o.tasks.Fail(ctx, taskID, unitErr.Error()); err != nil {
		o.logger.Error("failed to mark task failed", "task_id", taskID, "error", err)
	}
	o.report(ctx, jobID, unitErr)
}

func (o *RefinementOrchestrator) report(ctx context.Context, jobID domain.JobID, unitErr error) {
	o.reportMessage(ctx, jobID, unitErr.Error())
	o.logger.Warn("refinement ended with error", "job_id", jobID, "error", unitErr)
}

func (o *RefinementOrchestrator) reportMessage(ctx context.Context, jobID domain.JobID, text string) {
	if err := o.jobs.AppendMessage(ctx, jobID, domain.PhaseRefining, text); err != nil {
		o.logger.Error("failed to append message", "job_id", jobID, "error", err)
	}
}
