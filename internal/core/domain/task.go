package domain

import (
	"time"
)

type TaskID string

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusSkipped},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped},
	// failed -> pending is the retry edge: a fresh attempt, prior error kept.
	TaskStatusFailed: {TaskStatusPending},
	// completed -> pending allows a forced re-run of a finished unit.
	TaskStatusCompleted: {TaskStatusPending},
}

// CanTaskTransition reports whether a task may move from -> to.
func CanTaskTransition(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type TaskCategory string

const (
	TaskCategoryPhase        TaskCategory = "phase"
	TaskCategoryIssue        TaskCategory = "migration_issue"
	TaskCategoryRefactorEdit TaskCategory = "refactor_edit"
)

// ChangeType classifies what happened to one file during execution.
type ChangeType string

const (
	ChangeWrite  ChangeType = "write"  // file created
	ChangeModify ChangeType = "modify" // file edited in place
	ChangeDelete ChangeType = "delete" // file removed
)

// FileChange is one entry of a workspace diff between two snapshots.
type FileChange struct {
	Path       string     `json:"path"`
	ChangeType ChangeType `json:"change_type"`
	Insertions int        `json:"insertions"`
	Deletions  int        `json:"deletions"`
}

// Task is the tracked unit of work surfaced to progress views. Phase tasks,
// migration issues and refactor edits share the record; the specialization
// fields are zero-valued when they do not apply.
type Task struct {
	ID          TaskID       `json:"id"`
	JobID       JobID        `json:"job_id"`
	Category    TaskCategory `json:"category"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Attempts    int          `json:"attempts"`
	Error       *string      `json:"error,omitempty"`

	SubtasksTotal     int `json:"subtasks_total,omitempty"`
	SubtasksCompleted int `json:"subtasks_completed,omitempty"`

	// Migration issue specialization.
	IssueID       string   `json:"issue_id,omitempty"`
	Severity      Severity `json:"severity,omitempty"`
	Effort        Effort   `json:"effort,omitempty"`
	AffectedFiles []string `json:"affected_files,omitempty"`

	// Refactor edit specialization.
	FilePath    string     `json:"file_path,omitempty"`
	Action      ChangeType `json:"action,omitempty"`
	Instruction string     `json:"instruction,omitempty"`

	// Files records the per-file diff produced by this unit of work.
	Files []FileChange `json:"files,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
