package kernel

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/services"
)

type migrateRequest struct {
	Report        string   `json:"report"`
	Format        string   `json:"format,omitempty"`
	Analyze       bool     `json:"analyze,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	ReferenceDocs []string `json:"reference_docs,omitempty"`
	Force         bool     `json:"force,omitempty"`
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	plan, err := s.migrations.Start(r.Context(), jobID(r), services.MigrationRequest{
		Report:        []byte(req.Report),
		Format:        req.Format,
		Analyze:       req.Analyze,
		Notes:         req.Notes,
		ReferenceDocs: req.ReferenceDocs,
		Force:         req.Force,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.migrations.Plan(r.Context(), jobID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The summary travels with the plan so clients need not derive it.
	s.writeJSON(w, http.StatusOK, struct {
		domain.MigrationPlan
		Summary domain.MigrationSummary `json:"summary"`
	}{plan, plan.Summary()})
}

func (s *Server) handleRetryIssue(w http.ResponseWriter, r *http.Request) {
	id := jobID(r)
	issueID := chi.URLParam(r, "issueID")
	if err := s.migrations.RetryIssue(r.Context(), id, issueID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "issue_id": issueID, "retried": true})
}
