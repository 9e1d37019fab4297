// Package assess implements the re-entrant state assessor (§4.I):
// treats the persisted session step as a hint, recomputes it from
// specification drift and task-tree reality, and is pure with respect to
// its inputs.
//
// Grounded on the teacher's re-entrant orchestrator design
// (internal/agents/orchestrator.go), which re-derives its next action from
// current database state on every invocation rather than trusting an
// in-memory cursor — the same re-entry discipline the spec requires here,
// generalized against this engine's flat-file session snapshot instead of
// a database row.
package assess

import (
	"os"
	"sort"
	"strings"

	"github.com/DigiBanks99/lopen/internal/section"
	"github.com/DigiBanks99/lopen/internal/session"
	"github.com/DigiBanks99/lopen/internal/tasktree"
)

// Drift classifies what happened to one previously-hashed spec section.
type Drift int

const (
	DriftNone Drift = iota
	DriftAcceptanceCriteria
	DriftDependencies
	DriftOther
)

// Input bundles everything the assessor reads. Assembling it is the
// caller's job so Assess itself stays pure.
type Input struct {
	PersistedState session.State
	HasPersisted   bool
	SpecPath       string
	SectionStore   *section.Store
}

// Result is the assessor's output: the recomputed step, plus any drift
// detected (for logging) and the component/task the engine should resume
// at.
type Result struct {
	Step      session.Step
	Drift     []DriftEvent
	Component string
	Task      string
}

// DriftEvent records one section's observed drift, for logging.
type DriftEvent struct {
	Header string
	Kind   Drift
}

// Assess computes the workflow step a module should resume at. It is pure
// with respect to in: calling it twice with unchanged inputs returns the
// same Result.
func Assess(in Input, tree *tasktree.Tree) Result {
	if !in.HasPersisted {
		return Result{Step: session.StepDraftSpec}
	}

	step := in.PersistedState.Step
	var events []DriftEvent

	source, err := os.ReadFile(in.SpecPath)
	haveSource := err == nil

	headers := make([]string, 0, len(in.PersistedState.SectionHashes))
	for header := range in.PersistedState.SectionHashes {
		headers = append(headers, header)
	}
	sort.Strings(headers)

	for _, header := range headers {
		prevHash := in.PersistedState.SectionHashes[header]
		var d section.DriftResult
		if haveSource {
			d = section.Drift(source, header, prevHash)
		} else {
			d = section.Removed
		}

		switch d {
		case section.Unchanged:
			continue
		case section.Drifted, section.Removed:
			kind := classify(header)
			events = append(events, DriftEvent{Header: header, Kind: kind})
			step = reenterStep(kind, step)
		}
	}

	component, task, regressed := verifyTreeLocation(tree, in.PersistedState.Component, in.PersistedState.Task)
	if regressed == regressComponent {
		step = session.StepSelectNextComponent
	} else if regressed == regressTask {
		step = session.StepBreakIntoTasks
	}

	if tree != nil && tree.AggregateState(tree.Root) == tasktree.StateComplete {
		step = session.StepComplete
	}

	return Result{Step: step, Drift: events, Component: component, Task: task}
}

func classify(header string) Drift {
	h := strings.ToLower(header)
	switch {
	case strings.Contains(h, "acceptance criteria"):
		return DriftAcceptanceCriteria
	case strings.Contains(h, "dependencies"):
		return DriftDependencies
	default:
		return DriftOther
	}
}

func reenterStep(kind Drift, current session.Step) session.Step {
	switch kind {
	case DriftAcceptanceCriteria:
		return session.StepIdentifyComponents
	case DriftDependencies:
		return session.StepDetermineDependencies
	default:
		return current
	}
}

type regression int

const (
	regressNone regression = iota
	regressComponent
	regressTask
)

// verifyTreeLocation confirms the persisted component/task still exist in
// tree, regressing one level if not (§4.I step 4).
func verifyTreeLocation(tree *tasktree.Tree, component, task string) (string, string, regression) {
	if tree == nil {
		return component, task, regressNone
	}
	var foundComponent, foundTask *tasktree.Node
	it := tree.Descendants(tree.Root)
	for n, ok := it(); ok; n, ok = it() {
		if n.Type == tasktree.TypeComponent && n.Name == component {
			foundComponent = n
		}
		if n.Type == tasktree.TypeTask && n.Name == task {
			foundTask = n
		}
	}

	if component != "" && foundComponent == nil {
		return "", "", regressComponent
	}
	if task != "" && foundTask == nil {
		return component, "", regressTask
	}
	return component, task, regressNone
}
