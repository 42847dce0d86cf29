package domain

// Phase names one stage of the build pipeline. The migration and refinement
// workflows reuse the same token type for their own stage names so the job
// record always carries a single "where am I" field.
type Phase string

const (
	PhaseQueued          Phase = "QUEUED"
	PhaseFetchingContext Phase = "FETCHING_CONTEXT"
	PhaseInitializing    Phase = "INITIALIZING"
	PhaseMeta            Phase = "META"
	PhaseProductOwner    Phase = "PRODUCT_OWNER"
	PhaseDesigner        Phase = "DESIGNER"
	PhaseTechArchitect   Phase = "TECH_ARCHITECT"
	PhaseDevelopment     Phase = "DEVELOPMENT"
	PhaseFrontend        Phase = "FRONTEND"
	PhaseCompleted       Phase = "COMPLETED"

	// Migration workflow stages.
	PhaseParsing   Phase = "PARSING"
	PhaseAnalyzing Phase = "ANALYZING"
	PhaseExecuting Phase = "EXECUTING"

	// Refinement runs as a single stage.
	PhaseRefining Phase = "REFINING"
)

// BuildPhases is the primary pipeline in execution order.
var BuildPhases = []Phase{
	PhaseQueued,
	PhaseFetchingContext,
	PhaseInitializing,
	PhaseMeta,
	PhaseProductOwner,
	PhaseDesigner,
	PhaseTechArchitect,
	PhaseDevelopment,
	PhaseFrontend,
	PhaseCompleted,
}

// phaseProgress anchors each phase to a progress percentage. Progress within
// a phase interpolates between its anchor and the next.
var phaseProgress = map[Phase]int{
	PhaseQueued:          0,
	PhaseFetchingContext: 5,
	PhaseInitializing:    10,
	PhaseMeta:            20,
	PhaseProductOwner:    32,
	PhaseDesigner:        45,
	PhaseTechArchitect:   58,
	PhaseDevelopment:     75,
	PhaseFrontend:        90,
	PhaseCompleted:       100,

	PhaseParsing:   10,
	PhaseAnalyzing: 25,
	PhaseExecuting: 40,
	PhaseRefining:  10,
}

// phaseAgents maps each LLM-backed phase to the agent contributing it.
var phaseAgents = map[Phase]string{
	PhaseMeta:          "meta",
	PhaseProductOwner:  "product_owner",
	PhaseDesigner:      "designer",
	PhaseTechArchitect: "tech_architect",
	PhaseDevelopment:   "developer",
	PhaseFrontend:      "frontend",
	PhaseAnalyzing:     "migration_analyst",
	PhaseExecuting:     "migration_engineer",
	PhaseRefining:      "refiner",
}

// NextBuildPhase returns the phase following p in the build pipeline.
// ok is false at COMPLETED or for tokens outside the pipeline.
func NextBuildPhase(p Phase) (Phase, bool) {
	for i, bp := range BuildPhases {
		if bp == p && i+1 < len(BuildPhases) {
			return BuildPhases[i+1], true
		}
	}
	return p, false
}

// Progress returns the anchor percentage for a phase (0 if unknown).
func (p Phase) Progress() int {
	return phaseProgress[p]
}

// Agent returns the agent name responsible for an LLM-backed phase.
// Empty string means the phase runs without the executor.
func (p Phase) Agent() string {
	return phaseAgents[p]
}

// LLMBacked reports whether entering p requires a budget admission check.
func (p Phase) LLMBacked() bool {
	return phaseAgents[p] != ""
}
