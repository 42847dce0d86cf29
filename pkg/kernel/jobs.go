package kernel

import (
	"encoding/json"
	"net/http"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/services"
)

type createJobRequest struct {
	Goal string `json:"goal"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	job, err := s.jobs.Create(r.Context(), req.Goal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), jobID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartBuild(w http.ResponseWriter, r *http.Request) {
	id := jobID(r)
	if err := s.builds.Start(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": domain.JobStatusRunning})
}

// handleCancel cancels whichever workflow currently owns the job; a queued
// job with no owner is cancelled directly.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := jobID(r)
	if s.refinements.Cancel(id) {
		s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "cancelling": true})
		return
	}
	if err := s.builds.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "cancelling": true})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := jobID(r)
	if err := s.builds.Restart(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": domain.JobStatusRunning})
}

type refineRequest struct {
	Instruction string   `json:"instruction"`
	Scope       []string `json:"scope,omitempty"`
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	id := jobID(r)
	err := s.refinements.Start(r.Context(), id, services.RefineRequest{
		Instruction: req.Instruction,
		Scope:       req.Scope,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "refining": true})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id := jobID(r)
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleKanban(w http.ResponseWriter, r *http.Request) {
	id := jobID(r)
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	board, err := s.tasks.Kanban(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleBudget(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}
