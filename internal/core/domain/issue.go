package domain

import (
	"sort"
	"time"
)

// Severity ranks how pressing a migration issue is.
type Severity string

const (
	SeverityMandatory   Severity = "mandatory"
	SeverityRecommended Severity = "recommended"
	SeverityOptional    Severity = "optional"
)

var severityRank = map[Severity]int{
	SeverityMandatory:   0,
	SeverityRecommended: 1,
	SeverityOptional:    2,
}

// Rank returns the sort weight of a severity; unknown severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Effort is the parser's estimate of how large a change an issue demands.
type Effort string

const (
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
)

// Issue is one discrete migration finding derived from an ingested report.
type Issue struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Severity      Severity     `json:"severity"`
	Effort        Effort       `json:"effort"`
	AffectedFiles []string     `json:"affected_files,omitempty"`
	Hint          string       `json:"hint,omitempty"`
	Status        TaskStatus   `json:"status"`
	Attempts      int          `json:"attempts"`
	Error         *string      `json:"error,omitempty"`
	Files         []FileChange `json:"files,omitempty"`
	TaskID        TaskID       `json:"task_id,omitempty"`
}

// SortIssues orders issues by severity, then by their discovery index.
// The sort is stable so parsing the same report twice yields the same order.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() < issues[j].Severity.Rank()
	})
}

// MigrationPlan is the persisted state of one migration workflow run.
type MigrationPlan struct {
	JobID     JobID     `json:"job_id"`
	Format    string    `json:"format"` // report format the parser detected
	Issues    []Issue   `json:"issues"`
	Analyzed  bool      `json:"analyzed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MigrationSummary is the roll-up reported when execution finishes.
type MigrationSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summary derives the roll-up from the current issue set. It is computed on
// demand and never stored, so it cannot drift from the issues themselves.
func (p *MigrationPlan) Summary() MigrationSummary {
	var s MigrationSummary
	s.Total = len(p.Issues)
	for _, is := range p.Issues {
		switch is.Status {
		case TaskStatusCompleted:
			s.Completed++
		case TaskStatusFailed:
			s.Failed++
		case TaskStatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// FindIssue returns a pointer to the issue with the given id, or nil.
func (p *MigrationPlan) FindIssue(id string) *Issue {
	for i := range p.Issues {
		if p.Issues[i].ID == id {
			return &p.Issues[i]
		}
	}
	return nil
}
