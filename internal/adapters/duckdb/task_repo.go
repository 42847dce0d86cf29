package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forgeworks/anvil/internal/core/domain"
)

func (r *Repository) SaveTask(ctx context.Context, task domain.Task) error {
	affectedJSON, err := json.Marshal(task.AffectedFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal affected files: %w", err)
	}
	filesJSON, err := json.Marshal(task.Files)
	if err != nil {
		return fmt.Errorf("failed to marshal files: %w", err)
	}

	query := `
	INSERT INTO tasks (id, job_id, category, description, status, attempts, error, subtasks_total, subtasks_completed, issue_id, severity, effort, affected_files, file_path, action, instruction, files, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		attempts = excluded.attempts,
		error = excluded.error,
		subtasks_total = excluded.subtasks_total,
		subtasks_completed = excluded.subtasks_completed,
		files = excluded.files,
		completed_at = excluded.completed_at;
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.JobID, task.Category, task.Description, task.Status,
		task.Attempts, task.Error, task.SubtasksTotal, task.SubtasksCompleted,
		task.IssueID, task.Severity, task.Effort, string(affectedJSON),
		task.FilePath, task.Action, task.Instruction, string(filesJSON),
		task.CreatedAt, task.CompletedAt,
	)
	return err
}

const taskColumns = `id, job_id, category, description, status, attempts, error, subtasks_total, subtasks_completed, issue_id, severity, effort, CAST(affected_files AS TEXT), file_path, action, instruction, CAST(files AS TEXT), created_at, completed_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var task domain.Task
	var idStr, jobIDStr, categoryStr, statusStr, severityStr, effortStr, actionStr string
	var affectedJSON, filesJSON string

	err := row.Scan(&idStr, &jobIDStr, &categoryStr, &task.Description, &statusStr,
		&task.Attempts, &task.Error, &task.SubtasksTotal, &task.SubtasksCompleted,
		&task.IssueID, &severityStr, &effortStr, &affectedJSON,
		&task.FilePath, &actionStr, &task.Instruction, &filesJSON,
		&task.CreatedAt, &task.CompletedAt)
	if err != nil {
		return domain.Task{}, err
	}

	task.ID = domain.TaskID(idStr)
	task.JobID = domain.JobID(jobIDStr)
	task.Category = domain.TaskCategory(categoryStr)
	task.Status = domain.TaskStatus(statusStr)
	task.Severity = domain.Severity(severityStr)
	task.Effort = domain.Effort(effortStr)
	task.Action = domain.ChangeType(actionStr)
	if err := json.Unmarshal([]byte(affectedJSON), &task.AffectedFiles); err != nil {
		return domain.Task{}, fmt.Errorf("failed to unmarshal affected files for task %s: %w", idStr, err)
	}
	if err := json.Unmarshal([]byte(filesJSON), &task.Files); err != nil {
		return domain.Task{}, fmt.Errorf("failed to unmarshal files for task %s: %w", idStr, err)
	}
	return task, nil
}

func (r *Repository) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	return task, nil
}

func (r *Repository) ListTasks(ctx context.Context, jobID domain.JobID) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
