package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

// TaskSpec carries the per-category fields for task creation.
type TaskSpec struct {
	Category    domain.TaskCategory
	Description string

	// Migration issue specialization.
	IssueID       string
	Severity      domain.Severity
	Effort        domain.Effort
	AffectedFiles []string

	// Refactor edit specialization.
	FilePath    string
	Instruction string
}

// TaskTracker owns the task records of every job. Tasks are never deleted;
// they are the audit trail behind history views and dashboards. Aggregates
// are derived from the task set on every call, never maintained as
// counters, so they cannot drift from the underlying records.
type TaskTracker struct {
	logger *slog.Logger
	repo   ports.Repository
	bus    *EventBus
}

func NewTaskTracker(logger *slog.Logger, repo ports.Repository, bus *EventBus) *TaskTracker {
	return &TaskTracker{logger: logger, repo: repo, bus: bus}
}

// Create registers a new pending task for a job.
func (t *TaskTracker) Create(ctx context.Context, jobID domain.JobID, spec TaskSpec) (domain.Task, error) {
	if spec.Description == "" {
		return domain.Task{}, &domain.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	task := domain.Task{
		ID:            domain.TaskID(uuid.NewString()),
		JobID:         jobID,
		Category:      spec.Category,
		Description:   spec.Description,
		Status:        domain.TaskStatusPending,
		Attempts:      1,
		IssueID:       spec.IssueID,
		Severity:      spec.Severity,
		Effort:        spec.Effort,
		AffectedFiles: spec.AffectedFiles,
		FilePath:      spec.FilePath,
		Instruction:   spec.Instruction,
		CreatedAt:     time.Now(),
	}
	if err := t.repo.SaveTask(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	t.publish(task)
	return task, nil
}

func (t *TaskTracker) Get(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	return t.repo.GetTask(ctx, id)
}

func (t *TaskTracker) List(ctx context.Context, jobID domain.JobID) ([]domain.Task, error) {
	return t.repo.ListTasks(ctx, jobID)
}

func (t *TaskTracker) transition(ctx context.Context, id domain.TaskID, to domain.TaskStatus, fn func(*domain.Task)) (domain.Task, error) {
	task, err := t.repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !domain.CanTaskTransition(task.Status, to) {
		return domain.Task{}, fmt.Errorf("illegal task transition %s -> %s for task %s", task.Status, to, id)
	}
	task.Status = to
	if fn != nil {
		fn(&task)
	}
	if err := t.repo.SaveTask(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("failed to save task %s: %w", id, err)
	}
	t.publish(task)
	return task, nil
}

func (t *TaskTracker) Start(ctx context.Context, id domain.TaskID) error {
	_, err := t.transition(ctx, id, domain.TaskStatusRunning, nil)
	return err
}

// Complete finishes a task, clearing any error left by a prior attempt and
// attaching the per-file diff when one was produced.
func (t *TaskTracker) Complete(ctx context.Context, id domain.TaskID, files []domain.FileChange) error {
	_, err := t.transition(ctx, id, domain.TaskStatusCompleted, func(task *domain.Task) {
		now := time.Now()
		task.CompletedAt = &now
		task.Error = nil
		if len(files) > 0 {
			task.Files = files
		}
		if task.SubtasksTotal > 0 {
			task.SubtasksCompleted = task.SubtasksTotal
		}
	})
	return err
}

func (t *TaskTracker) Fail(ctx context.Context, id domain.TaskID, errMsg string) error {
	_, err := t.transition(ctx, id, domain.TaskStatusFailed, func(task *domain.Task) {
		now := time.Now()
		task.CompletedAt = &now
		task.Error = &errMsg
	})
	return err
}

func (t *TaskTracker) Skip(ctx context.Context, id domain.TaskID) error {
	_, err := t.transition(ctx, id, domain.TaskStatusSkipped, func(task *domain.Task) {
		now := time.Now()
		task.CompletedAt = &now
	})
	return err
}

// ResetForRetry moves a failed or completed task back to pending as a
// fresh attempt. The prior error stays on the record until overwritten
// by success.
func (t *TaskTracker) ResetForRetry(ctx context.Context, id domain.TaskID) error {
	_, err := t.transition(ctx, id, domain.TaskStatusPending, func(task *domain.Task) {
		task.Attempts++
		task.CompletedAt = nil
	})
	return err
}

// UpdateSubtasks records incremental executor progress on a running task.
func (t *TaskTracker) UpdateSubtasks(ctx context.Context, id domain.TaskID, completed, total int) error {
	task, err := t.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	task.SubtasksTotal = total
	if completed > task.SubtasksCompleted {
		task.SubtasksCompleted = completed
	}
	if err := t.repo.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to save task %s: %w", id, err)
	}
	t.publish(task)
	return nil
}

func (t *TaskTracker) publish(task domain.Task) {
	t.bus.PublishJSON(task.JobID, EventTypeTask, map[string]any{
		"task_id":  task.ID,
		"category": task.Category,
		"status":   task.Status,
	})
}

// StatusCounts derives per-status totals for one job from the task set.
func (t *TaskTracker) StatusCounts(ctx context.Context, jobID domain.JobID) (map[domain.TaskStatus]int, error) {
	tasks, err := t.repo.ListTasks(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// Kanban buckets a job's tasks by status, preserving creation order.
func (t *TaskTracker) Kanban(ctx context.Context, jobID domain.JobID) (map[domain.TaskStatus][]domain.Task, error) {
	tasks, err := t.repo.ListTasks(ctx, jobID)
	if err != nil {
		return nil, err
	}
	buckets := make(map[domain.TaskStatus][]domain.Task)
	for _, task := range tasks {
		buckets[task.Status] = append(buckets[task.Status], task)
	}
	return buckets, nil
}
