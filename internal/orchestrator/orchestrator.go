// Package orchestrator implements the run loop (§4.K): the per-module
// iteration pipeline that ties every other collaborator together — drift
// check, context build, guardrails, prompt assembly, LLM invocation, tool
// dispatch, task-tree update, trigger determination, git commit, and
// session save.
//
// Grounded on the teacher's BuildOrchestrator.runPipeline
// (internal/agents/orchestrator.go): a loop over phases driven by an fsm
// transition helper, with error handling that distinguishes a recoverable
// phase failure from one that aborts the whole build. This package
// generalizes that shape to the engine's seven-step workflow and its
// narrower, audited tool-call contract.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/DigiBanks99/lopen/internal/audit"
	"github.com/DigiBanks99/lopen/internal/budget"
	"github.com/DigiBanks99/lopen/internal/churn"
	"github.com/DigiBanks99/lopen/internal/clock"
	"github.com/DigiBanks99/lopen/internal/gitengine"
	"github.com/DigiBanks99/lopen/internal/guardrail"
	"github.com/DigiBanks99/lopen/internal/llmtransport"
	"github.com/DigiBanks99/lopen/internal/lopenerr"
	"github.com/DigiBanks99/lopen/internal/metrics"
	"github.com/DigiBanks99/lopen/internal/oracle"
	"github.com/DigiBanks99/lopen/internal/section"
	"github.com/DigiBanks99/lopen/internal/session"
	"github.com/DigiBanks99/lopen/internal/tasktree"
	"github.com/DigiBanks99/lopen/internal/workflow"
	"go.uber.org/zap"
)

// Names the core tool interface dispatches itself (§6 "Tool interface").
// Every other tool name is passed through to the surrounding environment's
// tool set unexecuted by this package.
const (
	ToolReadSpec                 = "read_spec"
	ToolUpdateTaskStatus         = "update_task_status"
	ToolVerifyTaskCompletion     = "verify_task_completion"
	ToolVerifyComponentCompletion = "verify_component_completion"
	ToolVerifyModuleCompletion   = "verify_module_completion"
)

// stepSections maps a workflow step to the spec headers its prompt needs
// (§4.K step 2, "load relevant spec sections by header").
var stepSections = map[session.Step][]string{
	session.StepDraftSpec:             {"Overview", "Purpose"},
	session.StepDetermineDependencies: {"Dependencies"},
	session.StepIdentifyComponents:    {"Components", "Component Design"},
	session.StepSelectNextComponent:   {"Components"},
	session.StepBreakIntoTasks:        {"Acceptance Criteria", "Tasks"},
	session.StepIterateTasks:          {"Acceptance Criteria", "Tasks"},
	session.StepRepeat:                {"Acceptance Criteria", "Dependencies"},
}

// Engine wires every collaborator for one module's run. All fields are
// explicit constructor arguments per §5's "no global mutable state" rule.
type Engine struct {
	Settings   Settings
	Sessions   *session.Store
	Sections   *section.Store
	Audit      *audit.Log
	Budget     *budget.Tracker
	Churn      *churn.Tracker
	Circular   *churn.CircularDetector
	Oracle     *oracle.Oracle
	Transport  llmtransport.Transport
	Git        *gitengine.Engine
	Guardrails *guardrail.Pipeline
	Workflow   *workflow.Engine
	Log        *zap.Logger
	Clock      clock.Clock
	Metrics    *metrics.Collector // optional; nil means metrics export is disabled for this run

	Module   string
	SpecPath string
	Tree     *tasktree.Tree

	circularWarning string // set by the previous iteration's tool dispatch, read by the next guardrail pass
}

// Settings is the narrow slice of internal/settings.Settings the
// orchestrator itself consults; kept as its own type so this package does
// not need to import internal/settings directly (avoiding an import cycle
// with cmd/lopen, which constructs both).
type Settings struct {
	LLMTimeout    time.Duration
	OracleTimeout time.Duration

	WarnFraction    float64
	ConfirmFraction float64
}

// Outcome summarizes one iteration's result for the caller (§4.K failure
// classification).
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeBlocked
	OutcomeComplete
	OutcomeCancelled
	OutcomeLLMTransient
	OutcomeLLMFatal
)

// Run drives the module to completion, one iteration at a time, until the
// workflow reaches Complete or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Git.EnsureBranch(ctx, "lopen/"+e.Module); err != nil {
		return fmt.Errorf("orchestrator: ensure branch: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return lopenerr.New(lopenerr.ErrCancelled, "module run", "context was cancelled", "resume with the same module id")
		default:
		}

		outcome, err := e.RunIteration(ctx)
		if err != nil {
			return err
		}
		if outcome == OutcomeComplete {
			return nil
		}
	}
}

// RunIteration executes exactly one pass of the §4.K pipeline.
func (e *Engine) RunIteration(ctx context.Context) (Outcome, error) {
	persisted, hasPersisted, err := e.loadPersisted()
	if err != nil {
		return OutcomeLLMFatal, err
	}

	step := e.Workflow.CurrentStep(persisted, hasPersisted)
	if !hasPersisted {
		id, idErr := e.Sessions.NextSessionID(e.Module, e.now())
		if idErr != nil {
			return OutcomeLLMFatal, fmt.Errorf("orchestrator: allocate session id: %w", idErr)
		}
		persisted = session.State{
			SessionID: id,
			Module:    e.Module,
			Phase:     session.PhaseRequirementGathering,
			Step:      step,
			TaskTree:  e.Tree,
			CreatedAt: e.now(),
		}
	}
	persisted.Step = step
	persisted.Phase = session.PhaseForStep(step)
	persisted.TaskTree = e.Tree
	iterationID := fmt.Sprintf("%s-%d", e.Module, e.now().UnixNano())

	sections := e.loadSections(step)

	budgetSnap := e.Budget.Snapshot()
	// NextStepIsCompletion/CompletionScopeKind/CompletionScopeID are left
	// unset here: at this point the model hasn't run yet, so there is no
	// specific task/component/module completion claim to gate against —
	// setting NextStepIsCompletion from the step alone would make the
	// oracle-verification guardrail block every IterateTasks/
	// SelectNextComponent iteration before the LLM is ever invoked. The
	// real oracle gate is enforced where the actual completion claim is
	// known: updateTaskStatus, below.
	gctx := guardrail.Context{
		IterationID:           iterationID,
		ModuleID:              e.Module,
		BudgetFraction:        e.Budget.Tokens.Fraction(),
		BudgetSeverityWarn:    e.Budget.Tokens.Fraction() >= e.Settings.warnFraction(),
		BudgetSeverityConfirm: e.Budget.Tokens.Fraction() >= e.Settings.confirmFraction(),
		OracleVerified: func(scopeKind, scopeID string) bool {
			return e.Oracle.Satisfied(iterationID, oracle.Scope(scopeKind), scopeID)
		},
	}
	if persisted.Task != "" {
		if e.Churn.Escalated(persisted.Task) {
			gctx.ChurnEscalatedTaskID = persisted.Task
		}
	}
	gctx.CircularWarning = e.circularWarning
	e.circularWarning = ""
	e.Circular.Reset()

	aggregate := e.Guardrails.Run(gctx)
	if e.Metrics != nil {
		e.Metrics.RecordVerdicts(aggregate)
	}
	if aggregate.IsBlocked() {
		e.logf("guardrail block on iteration %s: %s", iterationID, aggregate.BuildCorrectiveInstructions())
		persisted.UpdatedAt = e.now()
		_ = e.Sessions.Save(persisted, budgetSnapToMetrics(budgetSnap))
		return OutcomeBlocked, nil
	}

	systemPrompt := buildSystemPrompt(step, sections, aggregate.BuildCorrectiveInstructions())
	tools := toolSetFor(step)

	handler := func(hctx context.Context, call *llmtransport.ToolCall) {
		e.dispatchTool(hctx, iterationID, call)
	}
	result, err := e.Transport.Invoke(ctx, systemPrompt, e.Module, tools, handler, e.Settings.LLMTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled, lopenerr.New(lopenerr.ErrCancelled, "llm invocation", "context was cancelled mid-call", "resume the run; it is re-entrant")
		}
		e.logf("llm transient failure on iteration %s: %v", iterationID, err)
		persisted.UpdatedAt = e.now()
		_ = e.Sessions.Save(persisted, budgetSnapToMetrics(budgetSnap))
		return OutcomeLLMTransient, nil
	}

	e.Budget.RecordTokens(result.Usage.TotalTokens)

	trigger, currentComponent := e.determineTrigger(step, persisted)
	var nextErr error
	if trigger != "" {
		newStep, fireErr := e.Workflow.Fire(step, trigger, currentComponent, persisted, hasPersisted)
		if fireErr != nil {
			nextErr = fireErr
		} else {
			persisted.Step = newStep
			persisted.Phase = session.PhaseForStep(newStep)
			if (trigger == workflow.TriggerTaskComplete || trigger == workflow.TriggerComponentComplete) && persisted.Task != "" {
				e.commitCompletion(ctx, &persisted, trigger)
			}
		}
	}

	persisted.UpdatedAt = e.now()
	persisted.IsComplete = persisted.Step == session.StepComplete
	if err := e.Sessions.Save(persisted, budgetSnapToMetrics(e.Budget.Snapshot())); err != nil {
		return OutcomeLLMFatal, fmt.Errorf("orchestrator: save after iteration: %w", err)
	}

	if nextErr != nil {
		e.logf("transition rejected on iteration %s: %v", iterationID, nextErr)
		return OutcomeContinue, nil
	}
	if persisted.IsComplete {
		return OutcomeComplete, nil
	}
	return OutcomeContinue, nil
}

func (e *Engine) loadPersisted() (session.State, bool, error) {
	id, ok, err := e.Sessions.Latest()
	if err != nil {
		return session.State{}, false, err
	}
	if !ok {
		return session.State{}, false, nil
	}
	st, _, found, err := e.Sessions.Load(id)
	if err != nil {
		return session.State{}, false, err
	}
	return st, found, nil
}

func (e *Engine) loadSections(step session.Step) map[string]string {
	out := map[string]string{}
	for _, header := range stepSections[step] {
		if content, ok := e.Sections.Extract(e.SpecPath, header); ok {
			out[header] = string(content)
		}
	}
	return out
}

// dispatchTool executes the core's own named tools directly; every other
// name is recorded as a passed-through call, unexecuted here, since the
// surrounding agent environment owns the general-purpose file/command tool
// set (see DESIGN.md).
func (e *Engine) dispatchTool(ctx context.Context, iterationID string, call *llmtransport.ToolCall) {
	start := time.Now()
	outcome := audit.Success
	errMsg := ""

	switch call.Name {
	case ToolReadSpec:
		header := call.Arguments["header"]
		if content, ok := e.Sections.Extract(e.SpecPath, header); ok {
			call.Result = string(content)
		} else {
			outcome = audit.Failure
			errMsg = "no such section"
		}
	case ToolUpdateTaskStatus:
		err := e.updateTaskStatus(iterationID, call.Arguments["task"], call.Arguments["status"])
		if err != nil {
			outcome = audit.Failure
			errMsg = err.Error()
			call.Err = err
		}
	case ToolVerifyTaskCompletion, ToolVerifyComponentCompletion, ToolVerifyModuleCompletion:
		// Oracle.Verify appends its own audit record (tool name
		// verify_{scope}_completion, keyed by scope_id) — it is the
		// enforcement record update_task_status's gate reads back, so this
		// dispatch must not also append a second, differently-shaped record
		// under the same iteration.
		scope := scopeForTool(call.Name)
		ev := oracle.Evidence{ScopeKind: scope, ScopeID: call.Arguments["scope"], SpecSection: call.Arguments["section"]}
		verdict, err := e.Oracle.Verify(ctx, iterationID, ev)
		call.Start = start
		call.Duration = time.Since(start)
		if err != nil {
			call.Err = err
			return
		}
		call.Result = verdict.Summary
		return
	default:
		// Passed through to the environment's own tool set; this engine
		// does not execute it. Write-like calls still feed the circular
		// detector so a repeated no-op edit surfaces as a guardrail warning
		// on the following iteration.
		if path, ok := call.Arguments["path"]; ok && (call.Name == "write_file" || call.Name == "edit_file") {
			hash := section.Hash(call.Arguments["content"])
			if e.Circular.Observe(path, call.Name, hash) {
				e.circularWarning = "repeated identical edit to " + path
			}
		}
	}

	call.Start = start
	call.Duration = time.Since(start)
	e.Audit.Append(iterationID, call.Name, call.Arguments, start, call.Duration, outcome, errMsg)
}

func scopeForTool(name string) oracle.Scope {
	switch name {
	case ToolVerifyComponentCompletion:
		return oracle.ScopeComponent
	case ToolVerifyModuleCompletion:
		return oracle.ScopeModule
	default:
		return oracle.ScopeTask
	}
}

// updateTaskStatus implements the oracle gate (§8 property 8): a
// completion status change is refused unless Oracle.Satisfied reports a
// prior verify_* success in this same iteration.
func (e *Engine) updateTaskStatus(iterationID, taskID, status string) error {
	node := findNode(e.Tree.Root, taskID)
	if node == nil {
		return lopenerr.New(lopenerr.ErrInvalidTransition, "update_task_status", "no such task "+taskID, "reference an existing task id")
	}
	if status == "complete" {
		if !e.Oracle.Satisfied(iterationID, oracle.ScopeTask, taskID) {
			return lopenerr.New(lopenerr.ErrOracleGateNotSatisfied, "update_task_status(complete, "+taskID+")",
				"no verify_task_completion call with outcome=Success for this task in the current iteration",
				"call verify_task_completion first")
		}
		if node.State() == tasktree.StatePending {
			_ = e.Tree.Transition(node, tasktree.StateInProgress)
		}
		if err := e.Tree.Transition(node, tasktree.StateComplete); err != nil {
			e.Churn.RecordFailure(taskID, err.Error())
			return err
		}
		e.Churn.RecordSuccess(taskID)
		return nil
	}
	if status == "in_progress" {
		return e.Tree.Transition(node, tasktree.StateInProgress)
	}
	if status == "failed" {
		e.Churn.RecordFailure(taskID, "handler reported failure")
		return e.Tree.Transition(node, tasktree.StateFailed)
	}
	return lopenerr.New(lopenerr.ErrInvalidTransition, "update_task_status", "unknown status "+status, "use in_progress|complete|failed")
}

func findNode(n *tasktree.Node, id string) *tasktree.Node {
	if n.ID == id {
		return n
	}
	for _, c := range n.Children() {
		if found := findNode(c, id); found != nil {
			return found
		}
	}
	return nil
}

// determineTrigger implements the §4.K trigger-determination rules table.
func (e *Engine) determineTrigger(step session.Step, persisted session.State) (workflow.Trigger, *tasktree.Node) {
	switch step {
	case session.StepDraftSpec:
		return "", nil
	case session.StepDetermineDependencies:
		return workflow.TriggerDependenciesResolved, nil
	case session.StepIdentifyComponents:
		return workflow.TriggerComponentsIdentified, nil
	case session.StepSelectNextComponent:
		if workflow.MoreComponentsExist(e.Tree) {
			return workflow.TriggerComponentSelected, nil
		}
		return workflow.TriggerAllDone, nil
	case session.StepBreakIntoTasks:
		return workflow.TriggerTasksBrokenDown, nil
	case session.StepIterateTasks:
		comp := findNode(e.Tree.Root, persisted.Component)
		if comp != nil {
			for _, c := range comp.Children() {
				if c.State() == tasktree.StatePending {
					return workflow.TriggerTaskComplete, comp
				}
			}
			return workflow.TriggerComponentComplete, comp
		}
		return workflow.TriggerTaskComplete, comp
	case session.StepRepeat:
		return workflow.TriggerAssess, nil
	default:
		return "", nil
	}
}

func (e *Engine) commitCompletion(ctx context.Context, st *session.State, trigger workflow.Trigger) {
	msg := fmt.Sprintf("feat(%s): complete %s in %s", e.Module, st.Task, st.Component)
	sha, err := e.Git.CommitAll(ctx, msg)
	if err != nil {
		e.logf("commit failed for %s: %v", msg, err)
		return
	}
	st.LastTaskCompletionCommitSha = sha
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log == nil {
		return
	}
	e.Log.Sugar().Infof(format, args...)
}

func (s Settings) warnFraction() float64 {
	if s.WarnFraction <= 0 {
		return 0.8
	}
	return s.WarnFraction
}

func (s Settings) confirmFraction() float64 {
	if s.ConfirmFraction <= 0 {
		return 0.9
	}
	return s.ConfirmFraction
}

func budgetSnapToMetrics(snap budget.Snapshot) session.Metrics {
	return session.Metrics{
		CumulativeInputTokens:  snap.TokensConsumed,
		CumulativeOutputTokens: 0,
		PremiumRequestCount:    snap.PremiumUsed,
	}
}

func buildSystemPrompt(step session.Step, sections map[string]string, corrective string) string {
	prompt := "You are driving workflow step " + string(step) + ".\n\n"
	for header, body := range sections {
		prompt += "## " + header + "\n" + body + "\n\n"
	}
	if corrective != "" {
		prompt += "## Corrective instructions\n" + corrective + "\n"
	}
	return prompt
}

func toolSetFor(step session.Step) []llmtransport.Tool {
	base := []llmtransport.Tool{
		{Name: ToolReadSpec, Description: "Read a named spec section", Parameters: map[string]any{
			"type": "object", "properties": map[string]any{"header": map[string]any{"type": "string"}}, "required": []string{"header"},
		}},
	}
	if step == session.StepIterateTasks {
		base = append(base,
			llmtransport.Tool{Name: ToolUpdateTaskStatus, Description: "Update a task's status", Parameters: map[string]any{
				"type": "object", "properties": map[string]any{
					"task":   map[string]any{"type": "string"},
					"status": map[string]any{"type": "string"},
				}, "required": []string{"task", "status"},
			}},
			llmtransport.Tool{Name: ToolVerifyTaskCompletion, Description: "Ask the oracle to verify a task's completion", Parameters: map[string]any{
				"type": "object", "properties": map[string]any{"scope": map[string]any{"type": "string"}},
			}},
		)
	}
	return base
}
