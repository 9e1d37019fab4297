// Package workflow implements the seven-step/three-phase workflow state
// machine (§3, §4.J). Its "current state" is never stored directly —
// every read delegates to internal/assess, so a stale in-memory cursor can
// never diverge from what the session snapshot and task tree actually
// show.
//
// Grounded on the teacher's internal/agents/core/state_machine.go
// transition-table pattern (a map from state to its legal next states,
// checked before any transition is applied), generalized here to the
// engine's fixed seven-step table with per-transition guards instead of a
// flat legal-set check.
package workflow

import (
	"github.com/DigiBanks99/lopen/internal/assess"
	"github.com/DigiBanks99/lopen/internal/lopenerr"
	"github.com/DigiBanks99/lopen/internal/session"
	"github.com/DigiBanks99/lopen/internal/tasktree"
)

// Trigger names the event driving a transition (§4.J).
type Trigger string

const (
	TriggerSpecApproved          Trigger = "SpecApproved"
	TriggerAssess                Trigger = "Assess"
	TriggerDependenciesResolved  Trigger = "DependenciesResolved"
	TriggerComponentsIdentified  Trigger = "ComponentsIdentified"
	TriggerComponentSelected     Trigger = "ComponentSelected"
	TriggerAllDone               Trigger = "AllDone"
	TriggerTasksBrokenDown       Trigger = "TasksBrokenDown"
	TriggerTaskComplete          Trigger = "TaskComplete"
	TriggerComponentComplete     Trigger = "ComponentComplete"
)

// Guard evaluates whether a transition may fire, given the current task
// tree.
type Guard func(tree *tasktree.Tree) bool

type transitionKey struct {
	from    session.Step
	trigger Trigger
}

type transitionRule struct {
	to    session.Step
	guard Guard
}

// AlwaysAllowed is a Guard with no precondition.
func AlwaysAllowed(*tasktree.Tree) bool { return true }

// MoreComponentsExist is the guard on SelectNextComponent/ComponentSelected:
// true when the module has a component that has not yet aggregated to
// Complete or Failed. Checked directly against the root's children rather
// than tasktree.FindNextPending, which answers a narrower question (the
// next actionable task leaf) than "is there an unfinished component."
func MoreComponentsExist(tree *tasktree.Tree) bool {
	if tree == nil {
		return false
	}
	for _, c := range tree.Root.Children() {
		s := tree.AggregateState(c)
		if s != tasktree.StateComplete && s != tasktree.StateFailed {
			return true
		}
	}
	return false
}

// NoComponentsRemain is the negation of MoreComponentsExist, used by
// SelectNextComponent/AllDone.
func NoComponentsRemain(tree *tasktree.Tree) bool {
	return !MoreComponentsExist(tree)
}

// MoreTasksInComponent guards IterateTasks/TaskComplete -> IterateTasks:
// true when the current component still has a Pending task.
func MoreTasksInComponent(component *tasktree.Node) Guard {
	return func(*tasktree.Tree) bool {
		if component == nil {
			return false
		}
		for _, c := range component.Children() {
			if c.State() == tasktree.StatePending {
				return true
			}
		}
		return false
	}
}

// CurrentComponentFinished guards IterateTasks/ComponentComplete ->
// Repeat: true when every task in component has aggregated to Complete or
// Failed (i.e. none remain Pending or InProgress).
func CurrentComponentFinished(component *tasktree.Node) Guard {
	return func(tree *tasktree.Tree) bool {
		if component == nil || tree == nil {
			return false
		}
		s := tree.AggregateState(component)
		return s == tasktree.StateComplete || s == tasktree.StateFailed
	}
}

func table() map[transitionKey]transitionRule {
	return map[transitionKey]transitionRule{
		{session.StepDraftSpec, TriggerSpecApproved}: {session.StepDetermineDependencies, AlwaysAllowed},
		{session.StepDraftSpec, TriggerAssess}:        {session.StepDraftSpec, AlwaysAllowed},

		{session.StepDetermineDependencies, TriggerDependenciesResolved}: {session.StepIdentifyComponents, AlwaysAllowed},

		{session.StepIdentifyComponents, TriggerComponentsIdentified}: {session.StepSelectNextComponent, AlwaysAllowed},

		{session.StepSelectNextComponent, TriggerComponentSelected}: {session.StepBreakIntoTasks, MoreComponentsExist},
		{session.StepSelectNextComponent, TriggerAllDone}:           {session.StepComplete, NoComponentsRemain},

		{session.StepBreakIntoTasks, TriggerTasksBrokenDown}: {session.StepIterateTasks, AlwaysAllowed},

		{session.StepIterateTasks, TriggerTaskComplete}:      {session.StepIterateTasks, nil}, // guard supplied per-call
		{session.StepIterateTasks, TriggerComponentComplete}: {session.StepRepeat, nil},        // guard supplied per-call

		{session.StepRepeat, TriggerAssess}: {session.StepSelectNextComponent, nil}, // resolved via assessor, see Fire
	}
}

// Engine drives the workflow state machine. Its CurrentStep is never
// cached — every call re-delegates to assess.Assess.
type Engine struct {
	Tree     *tasktree.Tree
	SpecPath string
}

// NewEngine creates an Engine over tree, reading drift from the spec file
// at specPath.
func NewEngine(tree *tasktree.Tree, specPath string) *Engine {
	return &Engine{Tree: tree, SpecPath: specPath}
}

// CurrentStep is the read-through accessor (§4.J "state accessor"): it
// always re-derives the step via the assessor rather than trusting a
// stored cursor.
func (e *Engine) CurrentStep(persisted session.State, hasPersisted bool) session.Step {
	r := assess.Assess(assess.Input{PersistedState: persisted, HasPersisted: hasPersisted, SpecPath: e.SpecPath}, e.Tree)
	return r.Step
}

// Initialize clears per-run caches (none are owned directly by Engine; the
// caller is responsible for dropping its section/assessment cache
// instances) and returns the assessor's starting step. Re-entrant: calling
// it again replays the assessment and returns the same answer for
// unchanged inputs.
func (e *Engine) Initialize(persisted session.State, hasPersisted bool) session.Step {
	return e.CurrentStep(persisted, hasPersisted)
}

// Fire attempts trigger from the given step. currentComponent is required
// for the IterateTasks triggers (TaskComplete, ComponentComplete) to
// evaluate their guard against the live tree; it is ignored otherwise.
// Repeat/Assess resolves directly through the assessor rather than the
// static table, per §4.J and the resolved Open Question that Repeat always
// routes through Assess before reaching Complete.
func (e *Engine) Fire(from session.Step, trigger Trigger, currentComponent *tasktree.Node, persisted session.State, hasPersisted bool) (session.Step, error) {
	if from == session.StepRepeat && trigger == TriggerAssess {
		return e.CurrentStep(persisted, hasPersisted), nil
	}

	key := transitionKey{from, trigger}
	rule, ok := table()[key]
	if !ok {
		return from, lopenerr.New(lopenerr.ErrInvalidTransition,
			"workflow step "+string(from)+" on trigger "+string(trigger),
			"no such transition is defined",
			"drive the workflow through its defined trigger set")
	}

	guard := rule.guard
	if guard == nil {
		switch trigger {
		case TriggerTaskComplete:
			guard = MoreTasksInComponent(currentComponent)
		case TriggerComponentComplete:
			guard = CurrentComponentFinished(currentComponent)
		default:
			guard = AlwaysAllowed
		}
	}

	if !guard(e.Tree) {
		return from, lopenerr.New(lopenerr.ErrInvalidTransition,
			"workflow step "+string(from)+" on trigger "+string(trigger),
			"the transition's guard condition was not satisfied",
			"ensure the precondition holds before firing this trigger")
	}

	return rule.to, nil
}
