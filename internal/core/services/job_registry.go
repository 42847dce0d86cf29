package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

// JobRegistry is the Job Store service: it owns every mutation of a job
// record. Writes are serialized per job id so the owning orchestrator worker
// and concurrent pollers never produce lost updates. Constructed once at
// process start and passed by reference; there are no hidden singletons.
type JobRegistry struct {
	logger *slog.Logger
	repo   ports.Repository
	bus    *EventBus

	mu    sync.Mutex
	locks map[domain.JobID]*sync.Mutex
}

func NewJobRegistry(logger *slog.Logger, repo ports.Repository, bus *EventBus) *JobRegistry {
	return &JobRegistry{
		logger: logger,
		repo:   repo,
		bus:    bus,
		locks:  make(map[domain.JobID]*sync.Mutex),
	}
}

func (r *JobRegistry) lockFor(id domain.JobID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// mutate loads, applies fn, and persists one job under its write lock.
func (r *JobRegistry) mutate(ctx context.Context, id domain.JobID, fn func(*domain.Job) error) (domain.Job, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	job, err := r.repo.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := fn(&job); err != nil {
		return domain.Job{}, err
	}
	job.UpdatedAt = time.Now()
	if err := r.repo.SaveJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to save job %s: %w", id, err)
	}
	return job, nil
}

// Create registers a new queued job for the given goal.
func (r *JobRegistry) Create(ctx context.Context, goal string) (domain.Job, error) {
	if strings.TrimSpace(goal) == "" {
		return domain.Job{}, &domain.ValidationError{Field: "goal", Reason: "must not be empty"}
	}

	now := time.Now()
	job := domain.Job{
		ID:        domain.JobID(uuid.NewString()),
		Goal:      goal,
		Status:    domain.JobStatusQueued,
		Phase:     domain.PhaseQueued,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.SaveJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	r.logger.Info("job created", "job_id", job.ID)
	r.bus.PublishJSON(job.ID, EventTypeStatus, map[string]any{"status": job.Status})
	return job, nil
}

func (r *JobRegistry) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	return r.repo.GetJob(ctx, id)
}

func (r *JobRegistry) List(ctx context.Context) ([]domain.Job, error) {
	return r.repo.ListJobs(ctx)
}

// SetPhase moves the job to a new phase and advances progress. Progress is
// monotonic while running: a lower value than the current one is clamped.
func (r *JobRegistry) SetPhase(ctx context.Context, id domain.JobID, phase domain.Phase, progress int) error {
	job, err := r.mutate(ctx, id, func(j *domain.Job) error {
		j.Phase = phase
		if progress > j.Progress {
			j.Progress = progress
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.bus.PublishJSON(id, EventTypePhase, map[string]any{"phase": phase, "progress": job.Progress})
	return nil
}

// SetProgress bumps progress within the current phase (monotonic clamp).
func (r *JobRegistry) SetProgress(ctx context.Context, id domain.JobID, progress int) error {
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		if progress > j.Progress {
			j.Progress = progress
		}
		return nil
	})
	return err
}

// AppendMessage appends one entry to the job's message log.
func (r *JobRegistry) AppendMessage(ctx context.Context, id domain.JobID, phase domain.Phase, text string) error {
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		j.Messages = append(j.Messages, domain.Message{
			Timestamp: time.Now(),
			Phase:     phase,
			Text:      text,
		})
		return nil
	})
	if err != nil {
		return err
	}
	r.bus.PublishJSON(id, EventTypeMessage, map[string]any{"phase": phase, "text": text})
	return nil
}

// SetStatus transitions the job status, rejecting edges not in the
// transition table. An error message may accompany terminal failures.
func (r *JobRegistry) SetStatus(ctx context.Context, id domain.JobID, status domain.JobStatus, errMsg string) error {
	job, err := r.mutate(ctx, id, func(j *domain.Job) error {
		if !domain.CanTransition(j.Status, status) {
			return fmt.Errorf("illegal status transition %s -> %s for job %s", j.Status, status, id)
		}
		j.Status = status
		now := time.Now()
		if status == domain.JobStatusRunning && j.StartedAt == nil {
			j.StartedAt = &now
		}
		if status.IsTerminal() {
			j.CompletedAt = &now
		}
		if errMsg != "" {
			j.Error = &errMsg
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("job status changed", "job_id", id, "status", status)
	r.bus.PublishJSON(id, EventTypeStatus, map[string]any{"status": job.Status, "error": errMsg})
	return nil
}

// SetWorkspace records the workspace handle assigned to the job.
func (r *JobRegistry) SetWorkspace(ctx context.Context, id domain.JobID, path string) error {
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		j.Workspace = path
		return nil
	})
	return err
}

// SetResult stores the opaque result payload.
func (r *JobRegistry) SetResult(ctx context.Context, id domain.JobID, result string) error {
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		j.Result = &result
		return nil
	})
	return err
}

// AddBudgetSpent accumulates recorded cost onto the job record.
func (r *JobRegistry) AddBudgetSpent(ctx context.Context, id domain.JobID, cost float64) error {
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		j.BudgetSpent += cost
		return nil
	})
	return err
}

// OverrideRunning forces the job to RUNNING regardless of its current
// status and returns the prior status. Refinement uses this so a finished
// job surfaces in active-work views while an edit is in flight; the caller
// must restore the prior status with RestoreStatus.
func (r *JobRegistry) OverrideRunning(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	var prior domain.JobStatus
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		prior = j.Status
		j.Status = domain.JobStatusRunning
		return nil
	})
	if err != nil {
		return "", err
	}
	r.bus.PublishJSON(id, EventTypeStatus, map[string]any{"status": domain.JobStatusRunning})
	return prior, nil
}

// RestoreStatus puts back a status saved by OverrideRunning.
func (r *JobRegistry) RestoreStatus(ctx context.Context, id domain.JobID, status domain.JobStatus) error {
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		j.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	r.bus.PublishJSON(id, EventTypeStatus, map[string]any{"status": status})
	return nil
}

// ResetForRestart re-queues a failed, cancelled or quota-exhausted job from
// the first phase. History (messages, budget spent) is preserved.
func (r *JobRegistry) ResetForRestart(ctx context.Context, id domain.JobID) error {
	_, err := r.mutate(ctx, id, func(j *domain.Job) error {
		if !j.Status.CanRestart() {
			return &domain.ValidationError{
				Field:  "status",
				Reason: fmt.Sprintf("cannot restart job in status %s", j.Status),
			}
		}
		j.Status = domain.JobStatusQueued
		j.Phase = domain.PhaseQueued
		j.Progress = 0
		j.Error = nil
		j.CompletedAt = nil
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("job reset for restart", "job_id", id)
	r.bus.PublishJSON(id, EventTypeStatus, map[string]any{"status": domain.JobStatusQueued, "restarted": true})
	return nil
}
