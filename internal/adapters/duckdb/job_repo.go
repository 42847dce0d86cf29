package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forgeworks/anvil/internal/core/domain"
)

func (r *Repository) SaveJob(ctx context.Context, job domain.Job) error {
	messagesJSON, err := json.Marshal(job.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	query := `
	INSERT INTO jobs (id, goal, status, phase, progress, workspace, result, error, messages, budget_spent, created_at, started_at, completed_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		phase = excluded.phase,
		progress = excluded.progress,
		workspace = excluded.workspace,
		result = excluded.result,
		error = excluded.error,
		messages = excluded.messages,
		budget_spent = excluded.budget_spent,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		updated_at = excluded.updated_at;
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.Goal, job.Status, job.Phase, job.Progress,
		job.Workspace, job.Result, job.Error, string(messagesJSON),
		job.BudgetSpent, job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	return err
}

const jobColumns = `id, goal, status, phase, progress, workspace, result, error, CAST(messages AS TEXT), budget_spent, created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var idStr, statusStr, phaseStr string
	var workspace *string
	var messagesJSON string

	err := row.Scan(&idStr, &job.Goal, &statusStr, &phaseStr, &job.Progress,
		&workspace, &job.Result, &job.Error, &messagesJSON,
		&job.BudgetSpent, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if err != nil {
		return domain.Job{}, err
	}

	job.ID = domain.JobID(idStr)
	job.Status = domain.JobStatus(statusStr)
	job.Phase = domain.Phase(phaseStr)
	if workspace != nil {
		job.Workspace = *workspace
	}
	if err := json.Unmarshal([]byte(messagesJSON), &job.Messages); err != nil {
		return domain.Job{}, fmt.Errorf("failed to unmarshal messages for job %s: %w", idStr, err)
	}
	return job, nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, err
	}
	return job, nil
}

func (r *Repository) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
