package guardrail

import "fmt"

// BudgetGuardrail reports Warn at >=80% of token budget and Block
// (requires confirmation) at >=90% (§4.F order 100).
type BudgetGuardrail struct {
	WarnFraction    float64
	ConfirmFraction float64
}

func NewBudgetGuardrail(warnFraction, confirmFraction float64) BudgetGuardrail {
	return BudgetGuardrail{WarnFraction: warnFraction, ConfirmFraction: confirmFraction}
}

func (BudgetGuardrail) Name() string            { return "budget" }
func (BudgetGuardrail) Order() int               { return 100 }
func (BudgetGuardrail) ShortCircuitOnBlock() bool { return true }
func (BudgetGuardrail) Category() Category       { return CategoryResourceLimits }

func (b BudgetGuardrail) Evaluate(ctx Context) Result {
	switch {
	case ctx.BudgetFraction >= b.ConfirmFraction:
		return Result{
			Name: b.Name(), Category: b.Category(), Verdict: Block,
			Message:                  fmt.Sprintf("token budget at %.0f%%", ctx.BudgetFraction*100),
			Corrective:               "token budget is nearly exhausted; wrap up the current task and avoid starting new exploratory work",
			RequiresUserConfirmation: true,
		}
	case ctx.BudgetFraction >= b.WarnFraction:
		return Result{
			Name: b.Name(), Category: b.Category(), Verdict: Warn,
			Message:    fmt.Sprintf("token budget at %.0f%%", ctx.BudgetFraction*100),
			Corrective: "token budget is getting high; prefer targeted edits over broad exploration",
		}
	default:
		return Result{Name: b.Name(), Category: b.Category(), Verdict: Pass}
	}
}

// ChurnGuardrail blocks (requiring confirmation) once a task has reached
// the churn threshold (§4.F order 200).
type ChurnGuardrail struct{}

func (ChurnGuardrail) Name() string            { return "churn" }
func (ChurnGuardrail) Order() int               { return 200 }
func (ChurnGuardrail) ShortCircuitOnBlock() bool { return true }
func (ChurnGuardrail) Category() Category       { return CategoryProgressIntegrity }

func (ChurnGuardrail) Evaluate(ctx Context) Result {
	if ctx.ChurnEscalatedTaskID == "" {
		return Result{Name: "churn", Category: CategoryProgressIntegrity, Verdict: Pass}
	}
	return Result{
		Name: "churn", Category: CategoryProgressIntegrity, Verdict: Block,
		Message:                  fmt.Sprintf("task %s has failed the churn threshold consecutively", ctx.ChurnEscalatedTaskID),
		Corrective:               fmt.Sprintf("task %s keeps failing; stop retrying the same approach and either change strategy or ask for help", ctx.ChurnEscalatedTaskID),
		RequiresUserConfirmation: true,
	}
}

// CircularGuardrail warns (never blocks) on detected circular behavior
// (§4.F order 210).
type CircularGuardrail struct{}

func (CircularGuardrail) Name() string            { return "circular-behavior" }
func (CircularGuardrail) Order() int               { return 210 }
func (CircularGuardrail) ShortCircuitOnBlock() bool { return false }
func (CircularGuardrail) Category() Category       { return CategoryProgressIntegrity }

func (CircularGuardrail) Evaluate(ctx Context) Result {
	if ctx.CircularWarning == "" {
		return Result{Name: "circular-behavior", Category: CategoryProgressIntegrity, Verdict: Pass}
	}
	return Result{
		Name: "circular-behavior", Category: CategoryProgressIntegrity, Verdict: Warn,
		Message:    ctx.CircularWarning,
		Corrective: fmt.Sprintf("%s — the content hasn't changed; try a different action instead of repeating this one", ctx.CircularWarning),
	}
}

// OracleGuardrail blocks a completion claim unless the required
// verification tool has already succeeded in the current iteration's audit
// log (§4.F order 300, §4.G).
type OracleGuardrail struct{}

func (OracleGuardrail) Name() string            { return "oracle-verification" }
func (OracleGuardrail) Order() int               { return 300 }
func (OracleGuardrail) ShortCircuitOnBlock() bool { return true }
func (OracleGuardrail) Category() Category       { return CategoryQualityGate }

func (OracleGuardrail) Evaluate(ctx Context) Result {
	if !ctx.NextStepIsCompletion {
		return Result{Name: "oracle-verification", Category: CategoryQualityGate, Verdict: Pass}
	}
	if ctx.OracleVerified != nil && ctx.OracleVerified(ctx.CompletionScopeKind, ctx.CompletionScopeID) {
		return Result{Name: "oracle-verification", Category: CategoryQualityGate, Verdict: Pass}
	}
	return Result{
		Name: "oracle-verification", Category: CategoryQualityGate, Verdict: Block,
		Message:    fmt.Sprintf("completion of %s %s claimed without a prior successful verification", ctx.CompletionScopeKind, ctx.CompletionScopeID),
		Corrective: fmt.Sprintf("call verify_%s_completion(%s) and wait for it to succeed before marking it complete", ctx.CompletionScopeKind, ctx.CompletionScopeID),
	}
}

// ToolDisciplineGuardrail warns (never blocks) when a known undisciplined
// tool-use pattern is detected (§4.F order 400).
type ToolDisciplineGuardrail struct{}

func (ToolDisciplineGuardrail) Name() string            { return "tool-discipline" }
func (ToolDisciplineGuardrail) Order() int               { return 400 }
func (ToolDisciplineGuardrail) ShortCircuitOnBlock() bool { return false }
func (ToolDisciplineGuardrail) Category() Category       { return CategoryToolDiscipline }

func (ToolDisciplineGuardrail) Evaluate(ctx Context) Result {
	if len(ctx.ToolDisciplineWarnings) == 0 {
		return Result{Name: "tool-discipline", Category: CategoryToolDiscipline, Verdict: Pass}
	}
	corrective := ""
	for i, w := range ctx.ToolDisciplineWarnings {
		if i > 0 {
			corrective += "; "
		}
		corrective += w
	}
	return Result{
		Name: "tool-discipline", Category: CategoryToolDiscipline, Verdict: Warn,
		Message:    "undisciplined tool-use pattern detected",
		Corrective: corrective,
	}
}

// StandardPipeline builds the fixed five-guardrail pipeline in §4.F's
// order with its fixed short-circuit policy.
func StandardPipeline(warnFraction, confirmFraction float64) *Pipeline {
	return NewPipeline(
		NewBudgetGuardrail(warnFraction, confirmFraction),
		ChurnGuardrail{},
		CircularGuardrail{},
		OracleGuardrail{},
		ToolDisciplineGuardrail{},
	)
}
