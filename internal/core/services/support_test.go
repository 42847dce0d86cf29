package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRepo is an in-memory ports.Repository preserving task creation order.
type memRepo struct {
	mu        sync.Mutex
	jobs      map[domain.JobID]domain.Job
	tasks     map[domain.TaskID]domain.Task
	taskOrder []domain.TaskID
	plans     map[domain.JobID]domain.MigrationPlan
}

var _ ports.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		jobs:  make(map[domain.JobID]domain.Job),
		tasks: make(map[domain.TaskID]domain.Task),
		plans: make(map[domain.JobID]domain.MigrationPlan),
	}
}

func (m *memRepo) SaveJob(_ context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memRepo) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (m *memRepo) ListJobs(_ context.Context) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (m *memRepo) SaveTask(_ context.Context, task domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; !exists {
		m.taskOrder = append(m.taskOrder, task.ID)
	}
	m.tasks[task.ID] = task
	return nil
}

func (m *memRepo) GetTask(_ context.Context, id domain.TaskID) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

func (m *memRepo) ListTasks(_ context.Context, jobID domain.JobID) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []domain.Task
	for _, id := range m.taskOrder {
		if task := m.tasks[id]; task.JobID == jobID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (m *memRepo) SaveMigrationPlan(_ context.Context, plan domain.MigrationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.JobID] = plan
	return nil
}

func (m *memRepo) GetMigrationPlan(_ context.Context, jobID domain.JobID) (domain.MigrationPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[jobID]
	if !ok {
		return domain.MigrationPlan{}, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (m *memRepo) Close() error { return nil }

// fakeExecutor answers every unit of work through a configurable handler.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []ports.ExecRequest
	handler func(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error)
}

var _ ports.AgentExecutor = (*fakeExecutor)(nil)

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		handler: func(_ context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
			return ports.ExecResult{
				Output:       "done: " + req.Agent,
				Model:        "gpt-4o-mini",
				InputTokens:  1000,
				OutputTokens: 500,
			}, nil
		},
	}
}

func (f *fakeExecutor) setHandler(h func(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeExecutor) Execute(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	handler := f.handler
	f.mu.Unlock()
	return handler(ctx, req)
}

func (f *fakeExecutor) agents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Agent)
	}
	return out
}

// fakeVCS hands out sequential snapshot ids and a preset diff.
type fakeVCS struct {
	mu      sync.Mutex
	commits int
	diff    []domain.FileChange
	diffErr error
}

var _ ports.VersionControl = (*fakeVCS)(nil)

func (f *fakeVCS) Commit(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return fmt.Sprintf("c%03d", f.commits), nil
}

func (f *fakeVCS) Diff(_ context.Context, _, _, _ string) ([]domain.FileChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diff, f.diffErr
}
