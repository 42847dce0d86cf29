package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forgeworks/anvil/internal/core/domain"
)

func (r *Repository) SaveMigrationPlan(ctx context.Context, plan domain.MigrationPlan) error {
	issuesJSON, err := json.Marshal(plan.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal issues: %w", err)
	}

	query := `
	INSERT INTO migration_plans (job_id, format, issues, analyzed, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (job_id) DO UPDATE SET
		format = excluded.format,
		issues = excluded.issues,
		analyzed = excluded.analyzed,
		updated_at = excluded.updated_at;
	`

	_, err = r.db.ExecContext(ctx, query,
		plan.JobID, plan.Format, string(issuesJSON), plan.Analyzed,
		plan.CreatedAt, plan.UpdatedAt,
	)
	return err
}

func (r *Repository) GetMigrationPlan(ctx context.Context, jobID domain.JobID) (domain.MigrationPlan, error) {
	query := `SELECT job_id, format, CAST(issues AS TEXT), analyzed, created_at, updated_at FROM migration_plans WHERE job_id = ?`
	row := r.db.QueryRowContext(ctx, query, jobID)

	var plan domain.MigrationPlan
	var jobIDStr, issuesJSON string

	err := row.Scan(&jobIDStr, &plan.Format, &issuesJSON, &plan.Analyzed, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MigrationPlan{}, domain.ErrPlanNotFound
		}
		return domain.MigrationPlan{}, err
	}

	plan.JobID = domain.JobID(jobIDStr)
	if err := json.Unmarshal([]byte(issuesJSON), &plan.Issues); err != nil {
		return domain.MigrationPlan{}, fmt.Errorf("failed to unmarshal issues for job %s: %w", jobIDStr, err)
	}
	return plan, nil
}
