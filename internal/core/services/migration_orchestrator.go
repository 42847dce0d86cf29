package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeworks/anvil/internal/adapters/report"
	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

// migrationGuidance is the baseline instruction every analysis and
// execution call carries. Request-supplied context is layered on top of
// it, never in place of it.
const migrationGuidance = `You are migrating an existing codebase. Work issue by issue.
Preserve behavior unless the issue explicitly changes it.
Touch only files relevant to the issue at hand.
Never delete files that the issue does not name.`

// workspaceRuleFile is the per-project override file read from the
// workspace when present.
const workspaceRuleFile = ".anvil/rules.md"

// MigrationRequest carries the report and options of one migration run.
type MigrationRequest struct {
	// Report is the raw report content to ingest.
	Report []byte
	// Format names the report format explicitly; empty means detect.
	Format string

	// Analyze enables the optional enrichment pass between parsing and
	// execution.
	Analyze bool
	// ReferenceDocs are caller-uploaded guidance documents.
	ReferenceDocs []string
	// Notes are free-form run notes from the caller.
	Notes string

	// Force re-executes issues that already completed on a prior run.
	Force bool
}

// MigrationOrchestrator drives report-driven migrations: parse the report
// into an ordered issue plan, optionally enrich each issue with analysis,
// then execute issues one by one with a snapshot pair around each.
type MigrationOrchestrator struct {
	logger   *slog.Logger
	jobs     *JobRegistry
	tasks    *TaskTracker
	ledger   *BudgetLedger
	runners  *RunnerRegistry
	executor ports.AgentExecutor
	vcs      ports.VersionControl
	ws       *WorkspaceManager
	repo     ports.Repository
	reports  *report.Registry
	cfg      OrchestratorConfig
}

func NewMigrationOrchestrator(
	logger *slog.Logger,
	jobs *JobRegistry,
	tasks *TaskTracker,
	ledger *BudgetLedger,
	runners *RunnerRegistry,
	executor ports.AgentExecutor,
	vcs ports.VersionControl,
	ws *WorkspaceManager,
	repo ports.Repository,
	cfg OrchestratorConfig,
) *MigrationOrchestrator {
	cfg.applyDefaults()
	return &MigrationOrchestrator{
		logger:   logger,
		jobs:     jobs,
		tasks:    tasks,
		ledger:   ledger,
		runners:  runners,
		executor: executor,
		vcs:      vcs,
		ws:       ws,
		repo:     repo,
		reports:  report.NewRegistry(),
		cfg:      cfg,
	}
}

// Start claims a queued job for migration. The report is parsed
// synchronously so the caller gets format and validation errors
// immediately; analysis and execution run in the background worker.
//
// A job that already holds a plan and ended in a terminal failure may be
// started again: the existing plan is kept and execution resumes, skipping
// completed issues unless the request forces them.
func (o *MigrationOrchestrator) Start(ctx context.Context, jobID domain.JobID, req MigrationRequest) (domain.MigrationPlan, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.MigrationPlan{}, err
	}

	var plan domain.MigrationPlan
	resuming := false
	switch {
	case job.Status == domain.JobStatusQueued:
		issues, format, err := o.reports.Parse(req.Report, req.Format)
		if err != nil {
			return domain.MigrationPlan{}, err
		}
		now := time.Now()
		plan = domain.MigrationPlan{
			JobID:     jobID,
			Format:    format,
			Issues:    issues,
			CreatedAt: now,
			UpdatedAt: now,
		}
	case job.Status.CanRestart():
		plan, err = o.repo.GetMigrationPlan(ctx, jobID)
		if err != nil {
			return domain.MigrationPlan{}, err
		}
		resuming = true
	default:
		return domain.MigrationPlan{}, &domain.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("job must be QUEUED or restartable to migrate, was %s", job.Status),
		}
	}

	handle, err := o.runners.Acquire(ctx, jobID, RunnerMigration)
	if err != nil {
		return domain.MigrationPlan{}, err
	}

	if resuming {
		if err := o.jobs.ResetForRestart(ctx, jobID); err != nil {
			o.runners.Release(handle)
			return domain.MigrationPlan{}, err
		}
	}
	if err := o.repo.SaveMigrationPlan(ctx, plan); err != nil {
		o.runners.Release(handle)
		return domain.MigrationPlan{}, fmt.Errorf("failed to save migration plan: %w", err)
	}

	go o.run(handle, req)
	return plan, nil
}

// Cancel requests cooperative cancellation of a running migration.
func (o *MigrationOrchestrator) Cancel(ctx context.Context, jobID domain.JobID) error {
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

// Plan returns the persisted plan of a migration job.
func (o *MigrationOrchestrator) Plan(ctx context.Context, jobID domain.JobID) (domain.MigrationPlan, error) {
	return o.repo.GetMigrationPlan(ctx, jobID)
}

// RetryIssue re-runs one failed issue as a fresh attempt. The prior error
// stays on the record until a success overwrites it. The job must not be
// mid-run; the retry claims the job like any other workflow.
func (o *MigrationOrchestrator) RetryIssue(ctx context.Context, jobID domain.JobID, issueID string) error {
	plan, err := o.repo.GetMigrationPlan(ctx, jobID)
	if err != nil {
		return err
	}
	issue := plan.FindIssue(issueID)
	if issue == nil {
		return &domain.ValidationError{Field: "issue_id", Reason: fmt.Sprintf("no issue %s in plan", issueID)}
	}
	if issue.Status != domain.TaskStatusFailed {
		return &domain.ValidationError{
			Field:  "issue_id",
			Reason: fmt.Sprintf("issue %s is %s, only failed issues can be retried", issueID, issue.Status),
		}
	}

	handle, err := o.runners.Acquire(ctx, jobID, RunnerMigration)
	if err != nil {
		return err
	}
	defer o.runners.Release(handle)

	prior, err := o.jobs.OverrideRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if err := o.jobs.SetPhase(ctx, jobID, domain.PhaseExecuting, domain.PhaseExecuting.Progress()); err != nil {
		o.restoreAfterRetry(ctx, jobID, prior)
		return err
	}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		o.restoreAfterRetry(ctx, jobID, prior)
		return err
	}

	guidance := o.composeGuidance(job.Workspace, MigrationRequest{})
	execErr := o.executeIssue(ctx, job, issue, guidance)
	plan.UpdatedAt = time.Now()
	if err := o.repo.SaveMigrationPlan(ctx, plan); err != nil {
		o.logger.Error("failed to save migration plan", "job_id", jobID, "error", err)
	}

	// A retried issue decides the job status on its own: success restores
	// the job to COMPLETED when nothing else is failed, otherwise the prior
	// terminal status stands.
	var budgetErr *domain.BudgetExceededError
	switch {
	case errors.As(execErr, &budgetErr):
		o.finalize(ctx, jobID, &plan, domain.JobStatusQuotaExhausted, execErr.Error())
	case plan.Summary().Failed == 0:
		o.finalize(ctx, jobID, &plan, domain.JobStatusCompleted, "")
	default:
		// Re-derive the error text so it reflects what is failed now, not
		// the state before the retry.
		summary := plan.Summary()
		o.finalize(ctx, jobID, &plan, prior,
			fmt.Sprintf("%d of %d issues failed", summary.Failed, summary.Total))
	}
	return execErr
}

// run is the migration worker loop: parsing is already done, so it walks
// analyzing (optional) then executing, finalizing on every exit path.
func (o *MigrationOrchestrator) run(handle *RunnerHandle, req MigrationRequest) {
	defer o.runners.Release(handle)

	ctx := context.Background()
	jobID := handle.JobID

	if err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusRunning, ""); err != nil {
		o.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		return
	}

	plan, err := o.repo.GetMigrationPlan(ctx, jobID)
	if err != nil {
		o.failRun(ctx, jobID, domain.PhaseParsing, err)
		return
	}

	if err := o.jobs.SetPhase(ctx, jobID, domain.PhaseParsing, domain.PhaseParsing.Progress()); err != nil {
		o.logger.Error("failed to set phase", "job_id", jobID, "error", err)
		return
	}
	if err := o.jobs.AppendMessage(ctx, jobID, domain.PhaseParsing,
		fmt.Sprintf("report parsed as %s: %d issues", plan.Format, len(plan.Issues))); err != nil {
		o.logger.Error("failed to append message", "job_id", jobID, "error", err)
	}

	job, err := o.ensureWorkspace(ctx, jobID)
	if err != nil {
		o.failRun(ctx, jobID, domain.PhaseParsing, err)
		return
	}

	guidance := o.composeGuidance(job.Workspace, req)

	if req.Analyze && !plan.Analyzed {
		if handle.Cancelled() {
			o.cancelRun(ctx, jobID, &plan, domain.PhaseAnalyzing)
			return
		}
		if err := o.analyze(ctx, jobID, &plan, guidance); err != nil {
			o.saveQuiet(ctx, &plan)
			o.failRun(ctx, jobID, domain.PhaseAnalyzing, err)
			return
		}
		o.saveQuiet(ctx, &plan)
	}

	if err := o.jobs.SetPhase(ctx, jobID, domain.PhaseExecuting, domain.PhaseExecuting.Progress()); err != nil {
		o.logger.Error("failed to set phase", "job_id", jobID, "error", err)
		return
	}

	execAnchor := domain.PhaseExecuting.Progress()
	total := len(plan.Issues)
	for i := range plan.Issues {
		issue := &plan.Issues[i]
		if handle.Cancelled() {
			o.saveQuiet(ctx, &plan)
			o.cancelRun(ctx, jobID, &plan, domain.PhaseExecuting)
			return
		}
		if issue.Status == domain.TaskStatusCompleted && !req.Force {
			continue
		}

		err := o.executeIssue(ctx, job, issue, guidance)
		o.saveQuiet(ctx, &plan)

		var budgetErr *domain.BudgetExceededError
		if errors.As(err, &budgetErr) {
			// A budget refusal stops the run; later issues stay pending.
			o.finalize(ctx, jobID, &plan, domain.JobStatusQuotaExhausted, err.Error())
			return
		}
		if err != nil && issue.Status != domain.TaskStatusFailed {
			// The failure happened before the unit ran: task bookkeeping
			// broke, not the issue itself. That is fatal for the run.
			o.failRun(ctx, jobID, domain.PhaseExecuting, err)
			return
		}
		// Issue failures are terminal for the issue, not the run.

		progress := execAnchor + (100-execAnchor)*(i+1)/total
		if progress > 99 {
			progress = 99
		}
		if err := o.jobs.SetProgress(ctx, jobID, progress); err != nil {
			o.logger.Warn("failed to update progress", "job_id", jobID, "error", err)
		}
	}

	summary := plan.Summary()
	if summary.Failed > 0 {
		o.finalize(ctx, jobID, &plan, domain.JobStatusFailed,
			fmt.Sprintf("%d of %d issues failed", summary.Failed, summary.Total))
		return
	}
	o.finalize(ctx, jobID, &plan, domain.JobStatusCompleted, "")
}

// analyze runs the enrichment pass: one executor call per issue, refining
// its hint with codebase-aware guidance. Analysis creates a single task
// for the whole pass.
func (o *MigrationOrchestrator) analyze(ctx context.Context, jobID domain.JobID, plan *domain.MigrationPlan, guidance string) error {
	if err := o.jobs.SetPhase(ctx, jobID, domain.PhaseAnalyzing, domain.PhaseAnalyzing.Progress()); err != nil {
		return err
	}

	agent := domain.PhaseAnalyzing.Agent()
	estimate := o.cfg.EstimatedUnitCost * float64(len(plan.Issues))
	reservation, err := o.ledger.Reserve(jobID, agent, estimate)
	if err != nil {
		return err
	}

	task, err := o.tasks.Create(ctx, jobID, TaskSpec{
		Category:    domain.TaskCategoryPhase,
		Description: fmt.Sprintf("analyze %d migration issues", len(plan.Issues)),
	})
	if err != nil {
		reservation.Release()
		return err
	}
	if err := o.tasks.Start(ctx, task.ID); err != nil {
		reservation.Release()
		return err
	}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		reservation.Release()
		return err
	}
	listing, err := o.ws.Listing(job.Workspace)
	if err != nil {
		listing = ""
	}

	analysisCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.IssueTimeout)
	defer cancel()

	var totalCost float64
	for i := range plan.Issues {
		issue := &plan.Issues[i]
		result, execErr := o.executor.Execute(analysisCtx, ports.ExecRequest{
			JobID: jobID,
			Agent: agent,
			Instruction: fmt.Sprintf(
				"Analyze this migration issue against the codebase and produce a concrete remediation plan.\nIssue: %s\nSeverity: %s\nEffort: %s\nFiles: %s\nReport hint: %s",
				issue.Title, issue.Severity, issue.Effort,
				strings.Join(issue.AffectedFiles, ", "), issue.Hint),
			Context: guidance + "\n\n## Workspace\n" + listing,
			Tools:   NewWorkspaceTools(job.Workspace),
		})
		if execErr != nil {
			reservation.Release()
			var unitErr error
			if errors.Is(execErr, context.DeadlineExceeded) {
				unitErr = &domain.TimeoutError{Unit: "analysis", Limit: o.cfg.IssueTimeout}
			} else {
				unitErr = &domain.AgentExecutionError{Unit: "analysis of " + issue.ID, Err: execErr}
			}
			if err := o.tasks.Fail(ctx, task.ID, unitErr.Error()); err != nil {
				o.logger.Error("failed to mark task failed", "task_id", task.ID, "error", err)
			}
			return unitErr
		}
		if out := strings.TrimSpace(result.Output); out != "" {
			issue.Hint = out
		}
		totalCost += o.ledger.Record(jobID, agent, result.Model, result.InputTokens, result.OutputTokens)
		if err := o.tasks.UpdateSubtasks(ctx, task.ID, i+1, len(plan.Issues)); err != nil {
			o.logger.Warn("failed to update subtasks", "task_id", task.ID, "error", err)
		}
	}
	reservation.Release()

	plan.Analyzed = true
	if err := o.jobs.AddBudgetSpent(ctx, jobID, totalCost); err != nil {
		return err
	}
	if err := o.tasks.Complete(ctx, task.ID, nil); err != nil {
		return err
	}
	return o.jobs.AppendMessage(ctx, jobID, domain.PhaseAnalyzing,
		fmt.Sprintf("analysis enriched %d issues (cost $%.4f)", len(plan.Issues), totalCost))
}

// executeIssue runs one issue end to end: budget gate, task bookkeeping,
// snapshot before, executor call, snapshot and diff after. The returned
// error marks the issue failed but never the run, except for budget
// refusals which the caller maps to QUOTA_EXHAUSTED.
func (o *MigrationOrchestrator) executeIssue(ctx context.Context, job domain.Job, issue *domain.Issue, guidance string) error {
	agent := domain.PhaseExecuting.Agent()

	// Admission before any task mutation, so a refused issue leaves no
	// half-created attempt behind.
	reservation, err := o.ledger.Reserve(job.ID, agent, o.cfg.EstimatedUnitCost)
	if err != nil {
		return err
	}

	var task domain.Task
	if issue.TaskID != "" {
		if err := o.tasks.ResetForRetry(ctx, issue.TaskID); err != nil {
			reservation.Release()
			return err
		}
		task, err = o.tasks.Get(ctx, issue.TaskID)
		if err != nil {
			reservation.Release()
			return err
		}
		issue.Attempts = task.Attempts
	} else {
		task, err = o.tasks.Create(ctx, job.ID, TaskSpec{
			Category:      domain.TaskCategoryIssue,
			Description:   issue.Title,
			IssueID:       issue.ID,
			Severity:      issue.Severity,
			Effort:        issue.Effort,
			AffectedFiles: issue.AffectedFiles,
		})
		if err != nil {
			reservation.Release()
			return err
		}
		issue.TaskID = task.ID
		issue.Attempts = task.Attempts
	}
	if err := o.tasks.Start(ctx, task.ID); err != nil {
		reservation.Release()
		return err
	}
	issue.Status = domain.TaskStatusRunning

	before, err := o.vcs.Commit(ctx, job.Workspace, fmt.Sprintf("before %s", issue.ID))
	if err != nil {
		reservation.Release()
		return o.failIssue(ctx, job.ID, issue, task.ID, fmt.Errorf("failed to snapshot workspace: %w", err))
	}

	listing, err := o.ws.Listing(job.Workspace)
	if err != nil {
		listing = ""
	}

	issueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.IssueTimeout)
	defer cancel()

	result, execErr := o.executor.Execute(issueCtx, ports.ExecRequest{
		JobID: job.ID,
		Agent: agent,
		Instruction: fmt.Sprintf(
			"Apply this migration issue to the workspace.\nIssue %s: %s\nSeverity: %s\nFiles: %s\nGuidance: %s",
			issue.ID, issue.Title, issue.Severity,
			strings.Join(issue.AffectedFiles, ", "), issue.Hint),
		Context: guidance + "\n\n## Workspace\n" + listing,
		Tools:   NewWorkspaceTools(job.Workspace),
	})
	if execErr != nil {
		reservation.Release()
		var unitErr error
		if errors.Is(execErr, context.DeadlineExceeded) {
			unitErr = &domain.TimeoutError{Unit: issue.ID, Limit: o.cfg.IssueTimeout}
		} else {
			unitErr = &domain.AgentExecutionError{Unit: issue.ID, Err: execErr}
		}
		return o.failIssue(ctx, job.ID, issue, task.ID, unitErr)
	}

	after, err := o.vcs.Commit(ctx, job.Workspace, fmt.Sprintf("after %s: %s", issue.ID, issue.Title))
	if err != nil {
		reservation.Release()
		return o.failIssue(ctx, job.ID, issue, task.ID, fmt.Errorf("failed to snapshot workspace: %w", err))
	}
	files, err := o.vcs.Diff(ctx, job.Workspace, before, after)
	if err != nil {
		o.logger.Warn("failed to diff issue snapshots", "job_id", job.ID, "issue_id", issue.ID, "error", err)
		files = nil
	}

	cost := reservation.Commit(result.Model, result.InputTokens, result.OutputTokens)
	if err := o.jobs.AddBudgetSpent(ctx, job.ID, cost); err != nil {
		return err
	}
	if err := o.tasks.Complete(ctx, task.ID, files); err != nil {
		return err
	}
	issue.Status = domain.TaskStatusCompleted
	issue.Error = nil
	issue.Files = files
	return o.jobs.AppendMessage(ctx, job.ID, domain.PhaseExecuting,
		fmt.Sprintf("issue %s completed, %d files changed (cost $%.4f)", issue.ID, len(files), cost))
}

// failIssue records a unit failure on both the issue and its task.
func (o *MigrationOrchestrator) failIssue(ctx context.Context, jobID domain.JobID, issue *domain.Issue, taskID domain.TaskID, unitErr error) error {
	msg := unitErr.Error()
	issue.Status = domain.TaskStatusFailed
	issue.Error = &msg
	if err := o.tasks.Fail(ctx, taskID, msg); err != nil {
		o.logger.Error("failed to mark task failed", "task_id", taskID, "error", err)
	}
	if err := o.jobs.AppendMessage(ctx, jobID, domain.PhaseExecuting, msg); err != nil {
		o.logger.Error("failed to append error message", "job_id", jobID, "error", err)
	}
	return unitErr
}

// ensureWorkspace prepares the workspace on first run; a resumed job keeps
// the one it already has.
func (o *MigrationOrchestrator) ensureWorkspace(ctx context.Context, jobID domain.JobID) (domain.Job, error) {
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

// composeGuidance layers the context tiers: baseline guidance, workspace
// rule file, uploaded documents, run notes. The baseline is always first
// and never displaced.
func (o *MigrationOrchestrator) composeGuidance(workspace string, req MigrationRequest) string {
	var b strings.Builder
	b.WriteString(migrationGuidance)

	if workspace != "" {
		if data, err := os.ReadFile(filepath.Join(workspace, workspaceRuleFile)); err == nil {
			if rules := strings.TrimSpace(string(data)); rules != "" {
				b.WriteString("\n\n## Project rules\n")
				b.WriteString(rules)
			}
		}
	}
	for _, doc := range req.ReferenceDocs {
		if doc = strings.TrimSpace(doc); doc != "" {
			b.WriteString("\n\n## Reference\n")
			b.WriteString(doc)
		}
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		b.WriteString("\n\n## Run notes\n")
		b.WriteString(notes)
	}
	return b.String()
}

func (o *MigrationOrchestrator) saveQuiet(ctx context.Context, plan *domain.MigrationPlan) {
	plan.UpdatedAt = time.Now()
	if err := o.repo.SaveMigrationPlan(ctx, *plan); err != nil {
		o.logger.Error("failed to save migration plan", "job_id", plan.JobID, "error", err)
	}
}

// finalize writes the summary as the job result and settles the terminal
// status.
func (o *MigrationOrchestrator) finalize(ctx context.Context, jobID domain.JobID, plan *domain.MigrationPlan, status domain.JobStatus, errMsg string) {
	summary := plan.Summary()
	if data, err := json.Marshal(summary); err == nil {
		if err := o.jobs.SetResult(ctx, jobID, string(data)); err != nil {
			o.logger.Error("failed to set result", "job_id", jobID, "error", err)
		}
	}
	if status == domain.JobStatusCompleted {
		if err := o.jobs.SetPhase(ctx, jobID, domain.PhaseCompleted, domain.PhaseCompleted.Progress()); err != nil {
			o.logger.Error("failed to set completed phase", "job_id", jobID, "error", err)
		}
	}
	if err := o.jobs.SetStatus(ctx, jobID, status, errMsg); err != nil {
		o.logger.Error("failed to finalize job", "job_id", jobID, "status", status, "error", err)
	}
	o.logger.Info("migration finished",
		"job_id", jobID, "status", status,
		"total", summary.Total, "completed", summary.Completed,
		"failed", summary.Failed, "skipped", summary.Skipped)
}

func (o *MigrationOrchestrator) cancelRun(ctx context.Context, jobID domain.JobID, plan *domain.MigrationPlan, phase domain.Phase) {
	if err := o.jobs.AppendMessage(ctx, jobID, phase, "cancellation observed, remaining issues untouched"); err != nil {
		o.logger.Error("failed to append cancel message", "job_id", jobID, "error", err)
	}
	o.finalize(ctx, jobID, plan, domain.JobStatusCancelled, "cancelled by user")
}

func (o *MigrationOrchestrator) failRun(ctx context.Context, jobID domain.JobID, phase domain.Phase, unitErr error) {
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
}

func (o *MigrationOrchestrator) restoreAfterRetry(ctx context.Context, jobID domain.JobID, prior domain.JobStatus) {
	if err := o.jobs.RestoreStatus(ctx, jobID, prior); err != nil {
		o.logger.Error("failed to restore job status", "job_id", jobID, "error", err)
	}
}
