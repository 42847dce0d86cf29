package ports

import (
	"context"

	"github.com/forgeworks/anvil/internal/core/domain"
)

// Repository abstracts durable storage (DuckDB in production). On process
// restart, terminal-state history is intact; jobs mid-execution at crash
// time remain in their last-written state and are not resumed.
type Repository interface {
	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)

	SaveTask(ctx context.Context, task domain.Task) error
	GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error)
	ListTasks(ctx context.Context, jobID domain.JobID) ([]domain.Task, error)

	SaveMigrationPlan(ctx context.Context, plan domain.MigrationPlan) error
	GetMigrationPlan(ctx context.Context, jobID domain.JobID) (domain.MigrationPlan, error)

	Close() error
}

// ExecRequest is one synchronous unit of work handed to the Agent Executor.
type ExecRequest struct {
	JobID       domain.JobID
	Agent       string // which agent persona performs this unit
	Instruction string
	Context     string // workspace listing, file content, or phase context
	Tools       *domain.ToolRegistry

	// OnProgress, when set, receives incremental completion signals the
	// orchestrator translates into subtask progress. Never called after
	// Execute returns.
	OnProgress func(completed, total int)
}

// ExecResult reports the executor's output plus token usage for the ledger.
type ExecResult struct {
	Output       string
	Model        string
	InputTokens  int
	OutputTokens int
}

// AgentExecutor is the external reasoning component. Execute blocks the
// owning worker until the unit of work finishes or fails; the orchestrators
// never force-kill an in-flight call.
type AgentExecutor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// VersionControl is the narrow snapshot/diff surface the orchestrators use.
// Side-effecting git operations stay behind it so tests can use a fake.
type VersionControl interface {
	// Commit snapshots the workspace and returns a commit id. Empty
	// workspaces produce an empty snapshot rather than an error.
	Commit(ctx context.Context, workspace, message string) (string, error)

	// Diff classifies every path touched between two snapshots.
	Diff(ctx context.Context, workspace, commitA, commitB string) ([]domain.FileChange, error)
}
