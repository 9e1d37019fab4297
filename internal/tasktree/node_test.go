package tasktree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample() *Tree {
	tr := NewTree("auth", "auth module")
	comp := NewNode("jwt-validator", "jwt validator", TypeComponent)
	_ = tr.AddChild(tr.Root, comp)
	task1 := NewNode("parse-header", "parse header", TypeTask)
	task2 := NewNode("verify-sig", "verify signature", TypeTask)
	_ = tr.AddChild(comp, task1)
	_ = tr.AddChild(comp, task2)
	sub := NewNode("split-bearer", "split bearer prefix", TypeSubtask)
	_ = tr.AddChild(task1, sub)
	return tr
}

func TestAddChild_InvalidNesting(t *testing.T) {
	tr := buildSample()
	task := tr.Root.Children()[0].Children()[0]
	badChild := NewNode("oops", "oops", TypeComponent)
	err := tr.AddChild(task, badChild)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid nesting")
}

func TestTransition_LegalAndIllegal(t *testing.T) {
	tr := buildSample()
	sub := tr.Root.Children()[0].Children()[0].Children()[0]

	require.NoError(t, tr.Transition(sub, StateInProgress))
	assert.Equal(t, StateInProgress, sub.State())

	err := tr.Transition(sub, StatePending)
	require.Error(t, err)
	assert.Equal(t, StateInProgress, sub.State(), "state must be unchanged on illegal transition")

	require.NoError(t, tr.Transition(sub, StateFailed))
	require.NoError(t, tr.Transition(sub, StateInProgress)) // retry
	require.NoError(t, tr.Transition(sub, StateComplete))
}

func TestAggregateState_Rules(t *testing.T) {
	tr := buildSample()
	comp := tr.Root.Children()[0]
	task1 := comp.Children()[0]
	task2 := comp.Children()[1]
	sub := task1.Children()[0]

	assert.Equal(t, StatePending, tr.AggregateState(comp), "all-pending leaves aggregate to pending")

	require.NoError(t, tr.Transition(sub, StateInProgress))
	assert.Equal(t, StateInProgress, tr.AggregateState(task1))
	assert.Equal(t, StateInProgress, tr.AggregateState(comp), "mixed states aggregate to in-progress")

	require.NoError(t, tr.Transition(sub, StateFailed))
	assert.Equal(t, StateFailed, tr.AggregateState(task1))
	assert.Equal(t, StateFailed, tr.AggregateState(comp), "any failed child dominates")

	require.NoError(t, tr.Transition(sub, StateInProgress))
	require.NoError(t, tr.Transition(sub, StateComplete))
	require.NoError(t, tr.Transition(task2, StateInProgress))
	require.NoError(t, tr.Transition(task2, StateComplete))
	assert.Equal(t, StateComplete, tr.AggregateState(comp), "all complete aggregates to complete")
}

func TestAggregateState_StableUnderReordering(t *testing.T) {
	a := buildSample()
	b := buildSample()
	// Swap task1/task2 order in b's component children.
	comp := b.Root.Children()[0]
	comp.children[0], comp.children[1] = comp.children[1], comp.children[0]

	assert.Equal(t, a.AggregateState(a.Root), b.AggregateState(b.Root))
}

func TestDescendants_PreOrderFiniteNonRestartable(t *testing.T) {
	tr := buildSample()
	next := tr.Descendants(tr.Root)
	var ids []string
	for {
		n, ok := next()
		if !ok {
			break
		}
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"jwt-validator", "parse-header", "split-bearer", "verify-sig"}, ids)

	// Exhausted iterator stays exhausted.
	_, ok := next()
	assert.False(t, ok)
}

func TestFindNextPending(t *testing.T) {
	tr := buildSample()
	n := tr.FindNextPending()
	require.NotNil(t, n)
	assert.Equal(t, "split-bearer", n.ID)
}

func TestFindNextPending_EmptyTask(t *testing.T) {
	tr := NewTree("m", "m")
	comp := NewNode("c", "c", TypeComponent)
	_ = tr.AddChild(tr.Root, comp)
	task := NewNode("t", "t", TypeTask)
	_ = tr.AddChild(comp, task)

	n := tr.FindNextPending()
	require.NotNil(t, n)
	assert.Equal(t, "t", n.ID)
}

func TestRoundTripSerialization(t *testing.T) {
	tr := buildSample()
	sub := tr.Root.Children()[0].Children()[0].Children()[0]
	require.NoError(t, tr.Transition(sub, StateInProgress))

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var restored Tree
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, tr.Root.ID, restored.Root.ID)
	restoredSub := restored.Root.Children()[0].Children()[0].Children()[0]
	assert.Equal(t, StateInProgress, restoredSub.State())
	assert.Same(t, restored.Root.Children()[0], restoredSub.Parent().Parent(), "parent back-references must be rewired on restore")
}

func TestRestoreStateBypassesValidation(t *testing.T) {
	tr := buildSample()
	sub := tr.Root.Children()[0].Children()[0].Children()[0]
	tr.RestoreState(sub, StateComplete) // illegal as a Transition, legal as a restore
	assert.Equal(t, StateComplete, sub.State())
}
