package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

// OrchestratorConfig holds the execution bounds shared by the workflow
// orchestrators.
type OrchestratorConfig struct {
	// PhaseTimeout is the wall-clock budget of one build phase.
	PhaseTimeout time.Duration
	// IssueTimeout is the wall-clock budget of one migration issue or
	// refinement run.
	IssueTimeout time.Duration
	// EstimatedUnitCost is the conservative reservation held against the
	// ledger before each executor call, replaced by actual cost on commit.
	EstimatedUnitCost float64
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = 15 * time.Minute
	}
	if c.IssueTimeout <= 0 {
		c.IssueTimeout = 10 * time.Minute
	}
	if c.EstimatedUnitCost <= 0 {
		c.EstimatedUnitCost = 0.05
	}
}

// phaseInstructions templates the executor instruction per build phase.
var phaseInstructions = map[domain.Phase]string{
	domain.PhaseMeta:          "Derive the project metadata, naming and high-level shape for this goal:\n%s",
	domain.PhaseProductOwner:  "Write the product requirements and user stories for this goal:\n%s",
	domain.PhaseDesigner:      "Produce the visual and interaction design for this goal:\n%s",
	domain.PhaseTechArchitect: "Define the technical architecture, stack and file layout for this goal:\n%s",
	domain.PhaseDevelopment:   "Implement the application backend for this goal, writing files into the workspace:\n%s",
	domain.PhaseFrontend:      "Implement the application frontend for this goal, writing files into the workspace:\n%s",
}

// BuildOrchestrator drives the primary phase state machine. One worker owns
// one job at a time; phases run strictly sequentially, each gated by the
// budget ledger and bounded by a wall-clock timeout.
type BuildOrchestrator struct {
	logger   *slog.Logger
	jobs     *JobRegistry
	tasks    *TaskTracker
	ledger   *BudgetLedger
	runners  *RunnerRegistry
	executor ports.AgentExecutor
	ws       *WorkspaceManager
	cfg      OrchestratorConfig
}

func NewBuildOrchestrator(
	logger *slog.Logger,
	jobs *JobRegistry,
	tasks *TaskTracker,
	ledger *BudgetLedger,
	runners *RunnerRegistry,
	executor ports.AgentExecutor,
	ws *WorkspaceManager,
	cfg OrchestratorConfig,
) *BuildOrchestrator {
	cfg.applyDefaults()
	return &BuildOrchestrator{
		logger:   logger,
		jobs:     jobs,
		tasks:    tasks,
		ledger:   ledger,
		runners:  runners,
		executor: executor,
		ws:       ws,
		cfg:      cfg,
	}
}

// Start claims a queued job and launches its supervised worker. The worker
// runs in the background; callers observe completion via the job record or
// the runner handle.
func (o *BuildOrchestrator) Start(ctx context.Context, jobID domain.JobID) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusQueued {
		return &domain.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("job must be QUEUED to start, was %s", job.Status),
		}
	}

	handle, err := o.runners.Acquire(ctx, jobID, RunnerBuild)
	if err != nil {
		return err
	}

	go o.run(handle)
	return nil
}

// Cancel requests cooperative cancellation. A queued job is finalized
// directly; a running one is flagged and finalizes at the next boundary.
func (o *BuildOrchestrator) Cancel(ctx context.Context, jobID domain.JobID) error {
	if o.runners.Cancel(jobID) {
		return nil
	}
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusQueued {
		return &domain.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot cancel job in status %s", job.Status),
		}
	}
	return o.jobs.SetStatus(ctx, jobID, domain.JobStatusCancelled, "cancelled before start")
}

// Restart re-queues a failed, cancelled or quota-exhausted job from the
// first phase as a fresh attempt, then starts it.
func (o *BuildOrchestrator) Restart(ctx context.Context, jobID domain.JobID) error {
	if _, active := o.runners.Active(jobID); active {
		h, _ := o.runners.Active(jobID)
		return &domain.ConcurrentOperationError{JobID: jobID, Active: string(h.Kind)}
	}
	if err := o.jobs.ResetForRestart(ctx, jobID); err != nil {
		return err
	}
	return o.Start(ctx, jobID)
}

// run is the worker loop. It owns the job until release: no other
// orchestrator may touch it, and every exit path leaves a terminal status.
func (o *BuildOrchestrator) run(handle *RunnerHandle) {
	defer o.runners.Release(handle)

	ctx := context.Background()
	jobID := handle.JobID

	if err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusRunning, ""); err != nil {
		o.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		return
	}

	var outputs []string
	phase := domain.PhaseQueued
	for {
		if handle.Cancelled() {
			o.finalizeCancelled(ctx, jobID, phase)
			return
		}

		next, ok := domain.NextBuildPhase(phase)
		if !ok {
			return
		}
		if next == domain.PhaseCompleted {
			o.finalizeCompleted(ctx, jobID, outputs)
			return
		}
		phase = next

		output, err := o.runPhase(ctx, handle, jobID, phase)
		if err != nil {
			o.finalizeError(ctx, jobID, phase, err)
			return
		}
		if output != "" {
			outputs = append(outputs, fmt.Sprintf("## %s\n%s", phase, output))
		}
	}
}

// runPhase executes one phase end to end: budget gate, task creation,
// executor invocation, progress translation, task completion.
func (o *BuildOrchestrator) runPhase(ctx context.Context, handle *RunnerHandle, jobID domain.JobID, phase domain.Phase) (string, error) {
	if err := o.jobs.SetPhase(ctx, jobID, phase, phase.Progress()); err != nil {
		return "", err
	}
	if err := o.jobs.AppendMessage(ctx, jobID, phase, fmt.Sprintf("entering phase %s", phase)); err != nil {
		return "", err
	}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}

	switch phase {
	case domain.PhaseFetchingContext:
		return "", o.fetchContext(ctx, jobID)
	case domain.PhaseInitializing:
		return "", o.initialize(ctx, job)
	}

	// LLM-backed phase: admission before any task exists, so a refused
	// phase never leaves a task behind.
	if adm := o.ledger.Check(jobID); adm.Warning {
		if err := o.jobs.AppendMessage(ctx, jobID, phase, "budget warning: "+adm.Message); err != nil {
			return "", err
		}
	}
	reservation, err := o.ledger.Reserve(jobID, phase.Agent(), o.cfg.EstimatedUnitCost)
	if err != nil {
		return "", err
	}

	task, err := o.tasks.Create(ctx, jobID, TaskSpec{
		Category:    domain.TaskCategoryPhase,
		Description: fmt.Sprintf("%s phase", strings.ToLower(string(phase))),
	})
	if err != nil {
		reservation.Release()
		return "", err
	}
	if err := o.tasks.Start(ctx, task.ID); err != nil {
		reservation.Release()
		return "", err
	}

	listing, err := o.ws.Listing(job.Workspace)
	if err != nil {
		listing = ""
	}

	nextAnchor := 100
	if next, ok := domain.NextBuildPhase(phase); ok {
		nextAnchor = next.Progress()
	}
	anchor := phase.Progress()

	// The timeout bounds the call; run-level cancellation deliberately
	// does not propagate, an in-flight executor call is never killed.
	phaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PhaseTimeout)
	defer cancel()

	result, execErr := o.executor.Execute(phaseCtx, ports.ExecRequest{
		JobID:       jobID,
		Agent:       phase.Agent(),
		Instruction: fmt.Sprintf(phaseInstructions[phase], job.Goal),
		Context:     listing,
		Tools:       NewWorkspaceTools(job.Workspace),
		OnProgress: func(completed, total int) {
			if total <= 0 {
				return
			}
			if err := o.tasks.UpdateSubtasks(ctx, task.ID, completed, total); err != nil {
				o.logger.Warn("failed to update subtasks", "task_id", task.ID, "error", err)
			}
			progress := anchor + (nextAnchor-anchor)*completed/total
			if err := o.jobs.SetProgress(ctx, jobID, progress); err != nil {
				o.logger.Warn("failed to update progress", "job_id", jobID, "error", err)
			}
		},
	})
	if execErr != nil {
		reservation.Release()
		var unitErr error
		if errors.Is(execErr, context.DeadlineExceeded) {
			unitErr = &domain.TimeoutError{Unit: string(phase), Limit: o.cfg.PhaseTimeout}
		} else {
			unitErr = &domain.AgentExecutionError{Unit: string(phase), Err: execErr}
		}
		if err := o.tasks.Fail(ctx, task.ID, unitErr.Error()); err != nil {
			o.logger.Error("failed to mark task failed", "task_id", task.ID, "error", err)
		}
		return "", unitErr
	}

	cost := reservation.Commit(result.Model, result.InputTokens, result.OutputTokens)
	if err := o.jobs.AddBudgetSpent(ctx, jobID, cost); err != nil {
		return "", err
	}
	if err := o.tasks.Complete(ctx, task.ID, nil); err != nil {
		return "", err
	}
	if err := o.jobs.AppendMessage(ctx, jobID, phase, fmt.Sprintf("phase %s completed (cost $%.4f)", phase, cost)); err != nil {
		return "", err
	}
	return result.Output, nil
}

// fetchContext prepares the workspace and records its handle on the job.
func (o *BuildOrchestrator) fetchContext(ctx context.Context, jobID domain.JobID) error {
	task, err := o.tasks.Create(ctx, jobID, TaskSpec{
		Category:    domain.TaskCategoryPhase,
		Description: "prepare workspace and fetch context",
	})
	if err != nil {
		return err
	}
	if err := o.tasks.Start(ctx, task.ID); err != nil {
		return err
	}

	path, err := o.ws.Prepare(string(jobID))
	if err != nil {
		failErr := o.tasks.Fail(ctx, task.ID, err.Error())
		if failErr != nil {
			o.logger.Error("failed to mark task failed", "task_id", task.ID, "error", failErr)
		}
		return err
	}
	if err := o.jobs.SetWorkspace(ctx, jobID, path); err != nil {
		return err
	}
	return o.tasks.Complete(ctx, task.ID, nil)
}

// initialize scaffolds the workspace with the goal statement.
func (o *BuildOrchestrator) initialize(ctx context.Context, job domain.Job) error {
	task, err := o.tasks.Create(ctx, job.ID, TaskSpec{
		Category:    domain.TaskCategoryPhase,
		Description: "initialize workspace scaffolding",
	})
	if err != nil {
		return err
	}
	if err := o.tasks.Start(ctx, task.ID); err != nil {
		return err
	}

	goalPath := filepath.Join(job.Workspace, "GOAL.md")
	if err := os.WriteFile(goalPath, []byte("# Goal\n\n"+job.Goal+"\n"), 0o644); err != nil {
		failErr := o.tasks.Fail(ctx, task.ID, err.Error())
		if failErr != nil {
			o.logger.Error("failed to mark task failed", "task_id", task.ID, "error", failErr)
		}
		return fmt.Errorf("failed to scaffold workspace: %w", err)
	}
	return o.tasks.Complete(ctx, task.ID, nil)
}

func (o *BuildOrchestrator) finalizeCompleted(ctx context.Context, jobID domain.JobID, outputs []string) {
	if err := o.jobs.SetPhase(ctx, jobID, domain.PhaseCompleted, domain.PhaseCompleted.Progress()); err != nil {
		o.logger.Error("failed to set completed phase", "job_id", jobID, "error", err)
	}
	if err := o.jobs.SetResult(ctx, jobID, strings.Join(outputs, "\n\n")); err != nil {
		o.logger.Error("failed to set result", "job_id", jobID, "error", err)
	}
	if err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusCompleted, ""); err != nil {
		o.logger.Error("failed to complete job", "job_id", jobID, "error", err)
	}
	o.logger.Info("build completed", "job_id", jobID)
}

func (o *BuildOrchestrator) finalizeCancelled(ctx context.Context, jobID domain.JobID, phase domain.Phase) {
	if err := o.jobs.AppendMessage(ctx, jobID, phase, "cancellation observed, no further phases will run"); err != nil {
		o.logger.Error("failed to append cancel message", "job_id", jobID, "error", err)
	}
	if err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusCancelled, "cancelled by user"); err != nil {
		o.logger.Error("failed to cancel job", "job_id", jobID, "error", err)
	}
	o.logger.Info("build cancelled", "job_id", jobID, "phase", phase)
}

// finalizeError maps the failure taxonomy onto terminal statuses: budget
// refusals end in QUOTA_EXHAUSTED, everything else in FAILED.
func (o *BuildOrchestrator) finalizeError(ctx context.Context, jobID domain.JobID, phase domain.Phase, unitErr error) {
	status := domain.JobStatusFailed
	var budgetErr *domain.BudgetExceededError
	if errors.As(unitErr, &budgetErr) {
		status = domain.JobStatusQuotaExhausted
	}
	if err := o.jobs.AppendMessage(ctx, jobID, phase, unitErr.Error()); err != nil {
		o.logger.Error("failed to append error message", "job_id", jobID, "error", err)
	}
	if err := o.jobs.SetStatus(ctx, jobID, status, unitErr.Error()); err != nil {
		o.logger.Error("failed to finalize job", "job_id", jobID, "error", err)
	}
	o.logger.Warn("build ended with error", "job_id", jobID, "phase", phase, "status", status, "error", unitErr)
}
