package domain

import (
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued         JobStatus = "QUEUED"
	JobStatusRunning        JobStatus = "RUNNING"
	JobStatusCompleted      JobStatus = "COMPLETED"
	JobStatusFailed         JobStatus = "FAILED"
	JobStatusCancelled      JobStatus = "CANCELLED"
	JobStatusQuotaExhausted JobStatus = "QUOTA_EXHAUSTED"
)

// statusTransitions is the closed set of legal status edges. Restart is the
// one deliberate exception and goes through CanRestart instead.
var statusTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled, JobStatusFailed, JobStatusQuotaExhausted},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusQuotaExhausted},
}

// CanTransition reports whether moving from -> to is a legal edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusQuotaExhausted:
		return true
	}
	return false
}

// CanRestart reports whether a job in this status may be re-queued.
// Completed jobs are history; everything else terminal can be retried.
func (s JobStatus) CanRestart() bool {
	switch s {
	case JobStatusFailed, JobStatusCancelled, JobStatusQuotaExhausted:
		return true
	}
	return false
}

// Message is one entry in a job's append-only log.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase"`
	Text      string    `json:"text"`
}

// Job is the durable record of one orchestrated goal execution.
type Job struct {
	ID          JobID      `json:"id"`
	Goal        string     `json:"goal"`
	Status      JobStatus  `json:"status"`
	Phase       Phase      `json:"phase"`
	Progress    int        `json:"progress"` // 0-100, monotonic while running
	Workspace   string     `json:"workspace,omitempty"`
	Result      *string    `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Messages    []Message  `json:"messages"`
	BudgetSpent float64    `json:"budget_spent"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
