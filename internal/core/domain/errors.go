package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrTaskNotFound = errors.New("task not found")
	ErrPlanNotFound = errors.New("migration plan not found")
)

// ValidationError reports malformed create/start input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BudgetLimit identifies which ledger limit refused admission.
type BudgetLimit string

const (
	BudgetLimitProject BudgetLimit = "project"
	BudgetLimitHourly  BudgetLimit = "hourly"
)

// BudgetExceededError blocks a phase or issue from starting. It is never
// auto-retried; the job ends in QUOTA_EXHAUSTED.
type BudgetExceededError struct {
	JobID JobID
	Limit BudgetLimit
	Spent float64
	Max   float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s limit reached ($%.4f of $%.4f)", e.Limit, e.Spent, e.Max)
}

// AgentExecutionError wraps any Agent Executor failure. It is terminal for
// the unit of work that triggered it.
type AgentExecutionError struct {
	Unit string // phase token, issue id, or "refinement"
	Err  error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent execution failed (%s): %v", e.Unit, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }

// TimeoutError marks a unit of work that exceeded its wall-clock budget.
type TimeoutError struct {
	Unit  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Unit, e.Limit)
}

// ConcurrentOperationError rejects a second build/migration/refinement start
// while one is already in flight for the same job. It is surfaced to the
// caller of the rejected request, never recorded against the running job.
type ConcurrentOperationError struct {
	JobID  JobID
	Active string // kind of the operation currently holding the job
}

func (e *ConcurrentOperationError) Error() string {
	return fmt.Sprintf("job %s already has an active %s operation", e.JobID, e.Active)
}
