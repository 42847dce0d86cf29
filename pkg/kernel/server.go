// Package kernel exposes the orchestration engine over HTTP. Handlers are
// thin: they decode, delegate to the services layer and map domain errors
// onto status codes.
package kernel

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/services"
)

type Server struct {
	logger      *slog.Logger
	jobs        *services.JobRegistry
	tasks       *services.TaskTracker
	ledger      *services.BudgetLedger
	builds      *services.BuildOrchestrator
	migrations  *services.MigrationOrchestrator
	refinements *services.RefinementOrchestrator
	bus         *services.EventBus
}

func NewServer(
	logger *slog.Logger,
	jobs *services.JobRegistry,
	tasks *services.TaskTracker,
	ledger *services.BudgetLedger,
	builds *services.BuildOrchestrator,
	migrations *services.MigrationOrchestrator,
	refinements *services.RefinementOrchestrator,
	bus *services.EventBus,
) *Server {
	return &Server{
		logger:      logger,
		jobs:        jobs,
		tasks:       tasks,
		ledger:      ledger,
		builds:      builds,
		migrations:  migrations,
		refinements: refinements,
		bus:         bus,
	}
}

// Handler assembles the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Post("/start", s.handleStartBuild)
				r.Post("/cancel", s.handleCancel)
				r.Post("/restart", s.handleRestart)
				r.Post("/refine", s.handleRefine)
				r.Post("/migrate", s.handleMigrate)
				r.Get("/plan", s.handleGetPlan)
				r.Post("/issues/{issueID}/retry", s.handleRetryIssue)
				r.Get("/tasks", s.handleListTasks)
				r.Get("/kanban", s.handleKanban)
				r.Get("/events", s.handleEvents)
			})
		})
		r.Get("/budget", s.handleBudget)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jobID(r *http.Request) domain.JobID {
	return domain.JobID(chi.URLParam(r, "jobID"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validationErr *domain.ValidationError
	var concurrentErr *domain.ConcurrentOperationError
	var budgetErr *domain.BudgetExceededError
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrPlanNotFound):
		status = http.StatusNotFound
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &concurrentErr):
		status = http.StatusConflict
	case errors.As(err, &budgetErr):
		status = http.StatusPaymentRequired
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
