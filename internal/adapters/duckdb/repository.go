// Package duckdb persists jobs, tasks and migration plans in an embedded
// DuckDB database. Nested structures are stored as JSON columns; single
// writers per job keep upserts race-free.
package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/forgeworks/anvil/internal/core/ports"
)

type Repository struct {
	db *sql.DB
}

var _ ports.Repository = (*Repository)(nil)

// NewRepository opens (or creates) the database at path and ensures the
// schema. An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb at %q: %w", path, err)
	}
	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR PRIMARY KEY,
			goal VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			phase VARCHAR NOT NULL,
			progress INTEGER NOT NULL,
			workspace VARCHAR,
			result VARCHAR,
			error VARCHAR,
			messages JSON,
			budget_spent DOUBLE NOT NULL,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR PRIMARY KEY,
			job_id VARCHAR NOT NULL,
			category VARCHAR NOT NULL,
			description VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			attempts INTEGER NOT NULL,
			error VARCHAR,
			subtasks_total INTEGER NOT NULL,
			subtasks_completed INTEGER NOT NULL,
			issue_id VARCHAR,
			severity VARCHAR,
			effort VARCHAR,
			affected_files JSON,
			file_path VARCHAR,
			action VARCHAR,
			instruction VARCHAR,
			files JSON,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS migration_plans (
			job_id VARCHAR PRIMARY KEY,
			format VARCHAR NOT NULL,
			issues JSON NOT NULL,
			analyzed BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
