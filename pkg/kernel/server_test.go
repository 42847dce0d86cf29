package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
	"github.com/forgeworks/anvil/internal/core/services"
)

// stubRepo is an in-memory ports.Repository for handler tests.
type stubRepo struct {
	mu    sync.Mutex
	jobs  map[domain.JobID]domain.Job
	tasks map[domain.TaskID]domain.Task
	plans map[domain.JobID]domain.MigrationPlan
}

var _ ports.Repository = (*stubRepo)(nil)

func newStubRepo() *stubRepo {
	return &stubRepo{
		jobs:  make(map[domain.JobID]domain.Job),
		tasks: make(map[domain.TaskID]domain.Task),
		plans: make(map[domain.JobID]domain.MigrationPlan),
	}
}

func (s *stubRepo) SaveJob(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *stubRepo) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *stubRepo) ListJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *stubRepo) SaveTask(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *stubRepo) GetTask(_ context.Context, id domain.TaskID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

func (s *stubRepo) ListTasks(_ context.Context, jobID domain.JobID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []domain.Task
	for _, task := range s.tasks {
		if task.JobID == jobID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (s *stubRepo) SaveMigrationPlan(_ context.Context, plan domain.MigrationPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.JobID] = plan
	return nil
}

func (s *stubRepo) GetMigrationPlan(_ context.Context, jobID domain.JobID) (domain.MigrationPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[jobID]
	if !ok {
		return domain.MigrationPlan{}, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *stubRepo) Close() error { return nil }

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	return ports.ExecResult{Output: "done: " + req.Agent, Model: "gpt-4o-mini", InputTokens: 100}, nil
}

type stubVCS struct {
	mu      sync.Mutex
	commits int
}

func (s *stubVCS) Commit(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return fmt.Sprintf("c%03d", s.commits), nil
}

func (s *stubVCS) Diff(_ context.Context, _, _, _ string) ([]domain.FileChange, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *services.JobRegistry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newStubRepo()
	bus := services.NewEventBus(logger)
	jobs := services.NewJobRegistry(logger, repo, bus)
	tasks := services.NewTaskTracker(logger, repo, bus)
	ledger := services.NewBudgetLedger(logger, services.LedgerConfig{}, nil)
	runners := services.NewRunnerRegistry(logger, 4)
	executor := stubExecutor{}
	vcs := &stubVCS{}
	ws := services.NewWorkspaceManager(t.TempDir())
	cfg := services.OrchestratorConfig{}

	builds := services.NewBuildOrchestrator(logger, jobs, tasks, ledger, runners, executor, ws, cfg)
	migrations := services.NewMigrationOrchestrator(logger, jobs, tasks, ledger, runners, executor, vcs, ws, repo, cfg)
	refinements := services.NewRefinementOrchestrator(logger, jobs, tasks, ledger, runners, executor, vcs, ws, cfg)

	return NewServer(logger, jobs, tasks, ledger, builds, migrations, refinements, bus), jobs
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CreateJob(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/v1/jobs", map[string]string{"goal": "build a todo app"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var job domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, "build a todo app", job.Goal)

	rec = doRequest(t, h, http.MethodGet, "/v1/jobs/"+string(job.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CreateJobRejectsEmptyGoal(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/jobs", map[string]string{"goal": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListJobs(t *testing.T) {
	srv, jobs := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	_, err := jobs.Create(context.Background(), "first goal")
	require.NoError(t, err)

	rec = doRequest(t, h, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestServer_CancelQueuedJob(t *testing.T) {
	srv, jobs := newTestServer(t)
	job, err := jobs.Create(context.Background(), "a goal")
	require.NoError(t, err)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+string(job.ID)+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
}

func TestServer_StartBuild(t *testing.T) {
	srv, jobs := newTestServer(t)
	job, err := jobs.Create(context.Background(), "build a todo app")
	require.NoError(t, err)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+string(job.ID)+"/start", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		got, err := jobs.Get(context.Background(), job.ID)
		return err == nil && got.Status == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_MigrateAndPlan(t *testing.T) {
	srv, jobs := newTestServer(t)
	h := srv.Handler()
	job, err := jobs.Create(context.Background(), "migrate service")
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodPost, "/v1/jobs/"+string(job.ID)+"/migrate", map[string]string{
		"report": `[{"title": "Drop legacy auth", "severity": "mandatory"}]`,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var plan domain.MigrationPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Issues, 1)
	assert.Equal(t, "ISS-001", plan.Issues[0].ID)

	require.Eventually(t, func() bool {
		got, err := jobs.Get(context.Background(), job.ID)
		return err == nil && got.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	rec = doRequest(t, h, http.MethodGet, "/v1/jobs/"+string(job.ID)+"/plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var withSummary struct {
		domain.MigrationPlan
		Summary domain.MigrationSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &withSummary))
	assert.Equal(t, 1, withSummary.Summary.Total)
	assert.Equal(t, 1, withSummary.Summary.Completed)
}

func TestServer_PlanNotFound(t *testing.T) {
	srv, jobs := newTestServer(t)
	job, err := jobs.Create(context.Background(), "no migration yet")
	require.NoError(t, err)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/jobs/"+string(job.ID)+"/plan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MigrateRejectsBadReport(t *testing.T) {
	srv, jobs := newTestServer(t)
	job, err := jobs.Create(context.Background(), "migrate service")
	require.NoError(t, err)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+string(job.ID)+"/migrate", map[string]string{
		"report": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RefineRejectsEmptyInstruction(t *testing.T) {
	srv, jobs := newTestServer(t)
	job, err := jobs.Create(context.Background(), "a goal")
	require.NoError(t, err)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+string(job.ID)+"/refine", map[string]string{
		"instruction": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Budget(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/budget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestServer_TasksAndKanban(t *testing.T) {
	srv, jobs := newTestServer(t)
	h := srv.Handler()
	job, err := jobs.Create(context.Background(), "a goal")
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/v1/jobs/"+string(job.ID)+"/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = doRequest(t, h, http.MethodGet, "/v1/jobs/nope/tasks", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/jobs/"+string(job.ID)+"/kanban", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
