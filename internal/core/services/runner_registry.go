package services

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/forgeworks/anvil/internal/core/domain"
)

// RunnerKind identifies which workflow variant owns a job right now.
type RunnerKind string

const (
	RunnerBuild      RunnerKind = "build"
	RunnerMigration  RunnerKind = "migration"
	RunnerRefinement RunnerKind = "refinement"
)

// RunnerHandle supervises one in-flight orchestrator worker. Cancellation is
// cooperative: Cancel flips a flag the worker observes at phase/issue
// boundaries; the in-flight executor call is always allowed to finish.
type RunnerHandle struct {
	JobID domain.JobID
	Kind  RunnerKind

	cancelMu  sync.Mutex
	cancelled bool
	done      chan struct{}
}

// Cancel requests cooperative cancellation. Safe to call more than once.
func (h *RunnerHandle) Cancel() {
	h.cancelMu.Lock()
	h.cancelled = true
	h.cancelMu.Unlock()
}

// Cancelled reports whether cancellation was requested.
func (h *RunnerHandle) Cancelled() bool {
	h.cancelMu.Lock()
	defer h.cancelMu.Unlock()
	return h.cancelled
}

// Done is closed when the worker finishes, whatever the outcome.
func (h *RunnerHandle) Done() <-chan struct{} { return h.done }

// RunnerRegistry enforces "at most one of {build, migration, refinement}
// active per job" and keeps every worker reachable for cancel/restart.
// Untracked goroutines are not acceptable: each worker runs under a handle
// released when it returns. A weighted semaphore caps workers process-wide.
type RunnerRegistry struct {
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu     sync.Mutex
	active map[domain.JobID]*RunnerHandle
}

func NewRunnerRegistry(logger *slog.Logger, maxConcurrent int64) *RunnerRegistry {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &RunnerRegistry{
		logger: logger,
		sem:    semaphore.NewWeighted(maxConcurrent),
		active: make(map[domain.JobID]*RunnerHandle),
	}
}

// Acquire claims a job for one workflow kind. A second start attempt while
// one is in flight is rejected synchronously, never queued.
func (r *RunnerRegistry) Acquire(ctx context.Context, jobID domain.JobID, kind RunnerKind) (*RunnerHandle, error) {
	r.mu.Lock()
	if h, busy := r.active[jobID]; busy {
		r.mu.Unlock()
		return nil, &domain.ConcurrentOperationError{JobID: jobID, Active: string(h.Kind)}
	}
	h := &RunnerHandle{
		JobID: jobID,
		Kind:  kind,
		done:  make(chan struct{}),
	}
	r.active[jobID] = h
	r.mu.Unlock()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.release(jobID)
		close(h.done)
		return nil, err
	}

	r.logger.Info("runner acquired", "job_id", jobID, "kind", kind)
	return h, nil
}

// Release returns the job's slot. Exactly one Release per Acquire.
func (r *RunnerRegistry) Release(h *RunnerHandle) {
	r.release(h.JobID)
	r.sem.Release(1)
	close(h.done)
	r.logger.Info("runner released", "job_id", h.JobID, "kind", h.Kind)
}

func (r *RunnerRegistry) release(jobID domain.JobID) {
	r.mu.Lock()
	delete(r.active, jobID)
	r.mu.Unlock()
}

// Cancel flags the active worker for a job. Returns false when nothing is
// in flight (a queued or finished job is cancelled directly by the caller).
func (r *RunnerRegistry) Cancel(jobID domain.JobID) bool {
	r.mu.Lock()
	h, ok := r.active[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.Cancel()
	r.logger.Info("cancellation requested", "job_id", jobID, "kind", h.Kind)
	return true
}

// Active returns the handle currently owning a job, if any.
func (r *RunnerRegistry) Active(jobID domain.JobID) (*RunnerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[jobID]
	return h, ok
}
