// Package session implements the crash-safe on-disk session store (§4.H):
// atomic write-then-rename, a `latest` pointer, pruning by retention limit,
// and quarantine of corrupt state on read.
//
// Grounded on the teacher's Checkpoint/CheckpointStore idiom
// (internal/agents/core/state_machine.go), which already persists state
// machine snapshots to disk for crash recovery; generalized here to the
// engine's full session layout (state.json, metrics.json, a plan.md the
// operator can read, and derived caches) using
// github.com/google/renameio/v2 for the atomic write instead of the
// teacher's manual write-then-os.Rename (the same library already adopted
// by internal/section's disk cache).
package session

import (
	"time"

	"github.com/DigiBanks99/lopen/internal/tasktree"
)

// Phase is the high-level workflow phase (§3).
type Phase string

const (
	PhaseRequirementGathering Phase = "RequirementGathering"
	PhasePlanning             Phase = "Planning"
	PhaseBuilding             Phase = "Building"
)

// Step is the workflow state machine's current step (§4.J).
type Step string

const (
	StepDraftSpec             Step = "DraftSpec"
	StepDetermineDependencies Step = "DetermineDependencies"
	StepIdentifyComponents    Step = "IdentifyComponents"
	StepSelectNextComponent   Step = "SelectNextComponent"
	StepBreakIntoTasks        Step = "BreakIntoTasks"
	StepIterateTasks          Step = "IterateTasks"
	StepRepeat                Step = "Repeat"
	StepComplete              Step = "Complete"
)

// PhaseForStep derives the workflow phase from step (§3: "Phase is derived
// from step").
func PhaseForStep(step Step) Phase {
	switch step {
	case StepDraftSpec:
		return PhaseRequirementGathering
	case StepDetermineDependencies, StepIdentifyComponents, StepSelectNextComponent, StepBreakIntoTasks:
		return PhasePlanning
	default:
		return PhaseBuilding
	}
}

// State is the persisted session state (§6 "Session state JSON").
type State struct {
	SessionID                string         `json:"sessionId"`
	Module                   string         `json:"module"`
	Phase                    Phase          `json:"phase"`
	Step                     Step           `json:"step"`
	Component                string         `json:"component,omitempty"`
	Task                     string         `json:"task,omitempty"`
	TaskTree                 *tasktree.Tree `json:"taskTree"`
	SectionHashes            map[string]string `json:"sectionHashes"`
	LastTaskCompletionCommitSha string      `json:"lastTaskCompletionCommitSha,omitempty"`
	IsComplete               bool           `json:"isComplete"`
	CreatedAt                time.Time      `json:"createdAt"`
	UpdatedAt                time.Time      `json:"updatedAt"`
}

// IterationTokens records one iteration's token usage (§6 "Session metrics
// JSON").
type IterationTokens struct {
	Input             int64 `json:"input"`
	Output            int64 `json:"output"`
	ContextWindowSize int64 `json:"contextWindowSize"`
}

// Metrics is the persisted session metrics (§6).
type Metrics struct {
	IterationCount          int                `json:"iterationCount"`
	CumulativeInputTokens   int64              `json:"cumulativeInputTokens"`
	CumulativeOutputTokens  int64              `json:"cumulativeOutputTokens"`
	PremiumRequestCount     int64              `json:"premiumRequestCount"`
	PerIterationTokens      []IterationTokens  `json:"perIterationTokens"`
}
