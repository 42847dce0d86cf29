package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeworks/anvil/internal/core/domain"
)

// LedgerConfig sets the admission limits. A limit <= 0 means unlimited.
type LedgerConfig struct {
	MaxCostPerProject float64
	MaxCostPerHour    float64
	// AlertThreshold is the fraction of a limit at which Check starts
	// returning a non-blocking warning. Defaults to 0.8.
	AlertThreshold float64
}

// Admission is the outcome of a budget check.
type Admission struct {
	Allowed bool
	Warning bool
	Message string
}

// BudgetLedger is the accounting store gating further execution. Its
// counters are the one resource genuinely shared across concurrent jobs:
// every increment happens under one mutex, so recording N costs in any
// interleaving yields the same totals per job, hour bucket, and agent.
//
// Admission and recording are bridged by reserve-then-commit: Reserve
// atomically checks the limits and holds a conservative estimate that
// counts toward later admissions; Commit replaces the hold with the actual
// cost once token usage is known. Two units racing between a bare Check
// and Record can therefore no longer both slip under a nearly-spent limit.
type BudgetLedger struct {
	logger  *slog.Logger
	cfg     LedgerConfig
	pricing map[string]domain.ModelPrice // config overrides, checked first
	now     func() time.Time

	mu       sync.Mutex
	byJob    map[domain.JobID]float64
	byHour   map[int64]float64
	byAgent  map[string]float64
	heldJob  map[domain.JobID]float64
	heldHour map[int64]float64
}

func NewBudgetLedger(logger *slog.Logger, cfg LedgerConfig, pricingOverrides map[string]domain.ModelPrice) *BudgetLedger {
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold >= 1 {
		cfg.AlertThreshold = 0.8
	}
	return &BudgetLedger{
		logger:   logger,
		cfg:      cfg,
		pricing:  pricingOverrides,
		now:      time.Now,
		byJob:    make(map[domain.JobID]float64),
		byHour:   make(map[int64]float64),
		byAgent:  make(map[string]float64),
		heldJob:  make(map[domain.JobID]float64),
		heldHour: make(map[int64]float64),
	}
}

func (l *BudgetLedger) hourBucket() int64 {
	return l.now().Truncate(time.Hour).Unix()
}

// admissionLocked evaluates both limits including held reservations plus an
// optional extra amount about to be reserved. Caller holds l.mu.
func (l *BudgetLedger) admissionLocked(jobID domain.JobID, extra float64) (Admission, *domain.BudgetExceededError) {
	hour := l.hourBucket()
	projectSpent := l.byJob[jobID] + l.heldJob[jobID] + extra
	hourSpent := l.byHour[hour] + l.heldHour[hour] + extra

	if l.cfg.MaxCostPerProject > 0 && projectSpent >= l.cfg.MaxCostPerProject {
		return Admission{}, &domain.BudgetExceededError{
			JobID: jobID,
			Limit: domain.BudgetLimitProject,
			Spent: projectSpent,
			Max:   l.cfg.MaxCostPerProject,
		}
	}
	if l.cfg.MaxCostPerHour > 0 && hourSpent >= l.cfg.MaxCostPerHour {
		return Admission{}, &domain.BudgetExceededError{
			JobID: jobID,
			Limit: domain.BudgetLimitHourly,
			Spent: hourSpent,
			Max:   l.cfg.MaxCostPerHour,
		}
	}

	adm := Admission{Allowed: true}
	if l.cfg.MaxCostPerProject > 0 && projectSpent >= l.cfg.AlertThreshold*l.cfg.MaxCostPerProject {
		adm.Warning = true
		adm.Message = fmt.Sprintf("project budget at $%.4f of $%.4f", projectSpent, l.cfg.MaxCostPerProject)
	} else if l.cfg.MaxCostPerHour > 0 && hourSpent >= l.cfg.AlertThreshold*l.cfg.MaxCostPerHour {
		adm.Warning = true
		adm.Message = fmt.Sprintf("hourly budget at $%.4f of $%.4f", hourSpent, l.cfg.MaxCostPerHour)
	}
	return adm, nil
}

// Check evaluates admission without holding anything. A refusal carries a
// message naming the limit that was hit.
func (l *BudgetLedger) Check(jobID domain.JobID) Admission {
	l.mu.Lock()
	defer l.mu.Unlock()

	adm, exceeded := l.admissionLocked(jobID, 0)
	if exceeded != nil {
		return Admission{Allowed: false, Message: exceeded.Error()}
	}
	return adm
}

// Reservation is a held estimate awaiting Commit or Release.
type Reservation struct {
	ledger   *BudgetLedger
	jobID    domain.JobID
	agent    string
	estimate float64
	hour     int64
	settled  bool
}

// Reserve atomically checks admission and holds estimate against the job
// and current hour bucket. A reservation whose own estimate would breach
// a limit is refused up front. Returns BudgetExceededError on refusal.
func (l *BudgetLedger) Reserve(jobID domain.JobID, agent string, estimate float64) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exceeded := l.admissionLocked(jobID, estimate); exceeded != nil {
		return nil, exceeded
	}
	hour := l.hourBucket()
	l.heldJob[jobID] += estimate
	l.heldHour[hour] += estimate
	return &Reservation{ledger: l, jobID: jobID, agent: agent, estimate: estimate, hour: hour}, nil
}

// Commit replaces the held estimate with the actual cost computed from
// token usage and returns that cost. Unknown models fall back to the
// conservative default price with a warning.
func (res *Reservation) Commit(model string, inputTokens, outputTokens int) float64 {
	l := res.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	res.releaseLocked()
	return l.recordLocked(res.jobID, res.agent, model, inputTokens, outputTokens)
}

// Release abandons the reservation without recording cost. Used when the
// unit of work was refused or never reached the executor.
func (res *Reservation) Release() {
	l := res.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	res.releaseLocked()
}

func (res *Reservation) releaseLocked() {
	if res.settled {
		return
	}
	res.settled = true
	l := res.ledger
	l.heldJob[res.jobID] -= res.estimate
	if l.heldJob[res.jobID] <= 0 {
		delete(l.heldJob, res.jobID)
	}
	l.heldHour[res.hour] -= res.estimate
	if l.heldHour[res.hour] <= 0 {
		delete(l.heldHour, res.hour)
	}
}

// Record accumulates the cost of one executor invocation directly, without
// a prior reservation.
func (l *BudgetLedger) Record(jobID domain.JobID, agent, model string, inputTokens, outputTokens int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(jobID, agent, model, inputTokens, outputTokens)
}

func (l *BudgetLedger) recordLocked(jobID domain.JobID, agent, model string, inputTokens, outputTokens int) float64 {
	price, known := l.priceFor(model)
	if !known {
		l.logger.Warn("unknown model, using fallback pricing", "model", model)
	}
	cost := domain.TokenCost(price, inputTokens, outputTokens)

	l.byJob[jobID] += cost
	l.byHour[l.hourBucket()] += cost
	l.byAgent[agent] += cost

	l.logger.Info("cost recorded",
		"job_id", jobID, "agent", agent, "model", model,
		"input_tokens", inputTokens, "output_tokens", outputTokens, "cost", cost)
	return cost
}

func (l *BudgetLedger) priceFor(model string) (domain.ModelPrice, bool) {
	if p, ok := l.pricing[model]; ok {
		return p, true
	}
	return domain.PriceFor(model)
}

// JobSpent returns the committed cost for one job (reservations excluded).
func (l *BudgetLedger) JobSpent(jobID domain.JobID) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byJob[jobID]
}

// LedgerSnapshot is a point-in-time copy of the committed counters.
type LedgerSnapshot struct {
	ByJob   map[domain.JobID]float64 `json:"by_job"`
	ByHour  map[int64]float64        `json:"by_hour"`
	ByAgent map[string]float64       `json:"by_agent"`
}

// Snapshot copies the counters for dashboards and the HTTP surface.
func (l *BudgetLedger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := LedgerSnapshot{
		ByJob:   make(map[domain.JobID]float64, len(l.byJob)),
		ByHour:  make(map[int64]float64, len(l.byHour)),
		ByAgent: make(map[string]float64, len(l.byAgent)),
	}
	for k, v := range l.byJob {
		snap.ByJob[k] = v
	}
	for k, v := range l.byHour {
		snap.ByHour[k] = v
	}
	for k, v := range l.byAgent {
		snap.ByAgent[k] = v
	}
	return snap
}
