package guardrail

import (
	"testing"
	"time"

	"github.com/DigiBanks99/lopen/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuardrail struct {
	name      string
	order     int
	shortCirc bool
	category  Category
	result    Result
	panics    bool
}

func (f fakeGuardrail) Name() string             { return f.name }
func (f fakeGuardrail) Order() int                { return f.order }
func (f fakeGuardrail) ShortCircuitOnBlock() bool { return f.shortCirc }
func (f fakeGuardrail) Category() Category        { return f.category }
func (f fakeGuardrail) Evaluate(ctx Context) Result {
	if f.panics {
		panic("boom")
	}
	return f.result
}

func TestPipeline_RunsInAscendingOrder(t *testing.T) {
	var seen []string
	mk := func(name string, order int) fakeGuardrail {
		return fakeGuardrail{name: name, order: order, result: Result{Name: name, Verdict: Pass}}
	}
	p := NewPipeline(mk("c", 300), mk("a", 100), mk("b", 200))

	agg := p.Run(Context{})
	for _, r := range agg.Results {
		seen = append(seen, r.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestPipeline_ShortCircuitsOnBlock(t *testing.T) {
	blocker := fakeGuardrail{name: "blocker", order: 100, shortCirc: true, result: Result{Name: "blocker", Verdict: Block}}
	never := fakeGuardrail{name: "never-runs", order: 200, result: Result{Name: "never-runs", Verdict: Pass}}
	p := NewPipeline(blocker, never)

	agg := p.Run(Context{})
	require.Len(t, agg.Results, 1)
	assert.Equal(t, "blocker", agg.Results[0].Name)
	assert.True(t, agg.IsBlocked())
}

func TestPipeline_NonShortCircuitingBlockContinues(t *testing.T) {
	blocker := fakeGuardrail{name: "blocker", order: 100, shortCirc: false, result: Result{Name: "blocker", Verdict: Block}}
	after := fakeGuardrail{name: "after", order: 200, result: Result{Name: "after", Verdict: Pass}}
	p := NewPipeline(blocker, after)

	agg := p.Run(Context{})
	require.Len(t, agg.Results, 2)
}

func TestPipeline_FailOpenOnPanic(t *testing.T) {
	broken := fakeGuardrail{name: "broken", order: 100, panics: true}
	after := fakeGuardrail{name: "after", order: 200, result: Result{Name: "after", Verdict: Pass}}
	p := NewPipeline(broken, after)

	agg := p.Run(Context{})
	require.Len(t, agg.Results, 2, "a panicking guardrail must not abort the pipeline")
	assert.Equal(t, Warn, agg.Results[0].Verdict)
	assert.False(t, agg.IsBlocked())
}

func TestAggregate_BuildCorrectiveInstructions(t *testing.T) {
	agg := Aggregate{Results: []Result{
		{Name: "a", Verdict: Pass},
		{Name: "b", Verdict: Warn, Corrective: "slow down"},
		{Name: "c", Verdict: Block, Corrective: "stop"},
	}}
	instr := agg.BuildCorrectiveInstructions()
	assert.Contains(t, instr, "slow down")
	assert.Contains(t, instr, "stop")
	assert.NotContains(t, instr, "[Pass]")
}

func TestBudgetGuardrail_Thresholds(t *testing.T) {
	g := NewBudgetGuardrail(0.8, 0.9)

	assert.Equal(t, Pass, g.Evaluate(Context{BudgetFraction: 0.5}).Verdict)
	assert.Equal(t, Warn, g.Evaluate(Context{BudgetFraction: 0.85}).Verdict)

	r := g.Evaluate(Context{BudgetFraction: 0.95})
	assert.Equal(t, Block, r.Verdict)
	assert.True(t, r.RequiresUserConfirmation)
}

func TestChurnGuardrail(t *testing.T) {
	g := ChurnGuardrail{}
	assert.Equal(t, Pass, g.Evaluate(Context{}).Verdict)
	r := g.Evaluate(Context{ChurnEscalatedTaskID: "T1"})
	assert.Equal(t, Block, r.Verdict)
	assert.True(t, r.RequiresUserConfirmation)
}

func TestCircularGuardrail_NeverBlocks(t *testing.T) {
	g := CircularGuardrail{}
	assert.False(t, g.ShortCircuitOnBlock())
	r := g.Evaluate(Context{CircularWarning: "read a.go 3 times unchanged"})
	assert.Equal(t, Warn, r.Verdict)
}

func TestOracleGuardrail_BlocksUnverifiedCompletion(t *testing.T) {
	g := OracleGuardrail{}
	ctx := Context{
		NextStepIsCompletion: true,
		CompletionScopeKind:  "task",
		CompletionScopeID:    "T7",
		OracleVerified:       func(kind, id string) bool { return false },
	}
	r := g.Evaluate(ctx)
	assert.Equal(t, Block, r.Verdict)

	ctx.OracleVerified = func(kind, id string) bool { return kind == "task" && id == "T7" }
	assert.Equal(t, Pass, g.Evaluate(ctx).Verdict)
}

func TestOracleGuardrail_PassesWhenNotCompleting(t *testing.T) {
	g := OracleGuardrail{}
	assert.Equal(t, Pass, g.Evaluate(Context{NextStepIsCompletion: false}).Verdict)
}

func TestStandardPipeline_FixedOrderAndShortCircuitPolicy(t *testing.T) {
	p := StandardPipeline(0.8, 0.9)
	var orders []int
	for _, g := range p.guardrails {
		orders = append(orders, g.Order())
	}
	assert.Equal(t, []int{100, 200, 210, 300, 400}, orders)
}

func TestDetectToolDisciplinePatterns(t *testing.T) {
	now := time.Now()
	records := []audit.Record{
		{ToolName: "read_file", Arguments: map[string]string{"path": "a.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "read_file", Arguments: map[string]string{"path": "a.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "read_file", Arguments: map[string]string{"path": "a.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "bash", Arguments: map[string]string{"command": "go test ./..."}, Timestamp: now, Outcome: audit.Failure},
		{ToolName: "bash", Arguments: map[string]string{"command": "go test ./..."}, Timestamp: now, Outcome: audit.Failure},
		{ToolName: "bash", Arguments: map[string]string{"command": "go test ./..."}, Timestamp: now, Outcome: audit.Failure},
		{ToolName: "write_file", Arguments: map[string]string{"path": "b.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "write_file", Arguments: map[string]string{"path": "c.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "edit_file", Arguments: map[string]string{"path": "d.go"}, Timestamp: now, Outcome: audit.Success},
	}
	warnings := DetectToolDisciplinePatterns(records, 3, 3)
	require.Len(t, warnings, 3)
}

func TestDetectToolDisciplinePatterns_TestRunSuppressesShotgunWarning(t *testing.T) {
	now := time.Now()
	records := []audit.Record{
		{ToolName: "write_file", Arguments: map[string]string{"path": "a.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "write_file", Arguments: map[string]string{"path": "b.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "write_file", Arguments: map[string]string{"path": "c.go"}, Timestamp: now, Outcome: audit.Success},
		{ToolName: "run_tests", Arguments: nil, Timestamp: now, Outcome: audit.Success},
	}
	warnings := DetectToolDisciplinePatterns(records, 3, 3)
	assert.Empty(t, warnings)
}
