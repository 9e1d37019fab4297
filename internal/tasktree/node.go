// Package tasktree implements the typed four-level Module→Component→Task→
// Subtask work hierarchy: validated state transitions, the aggregate-state
// rule, and pre-order traversal. Grounded on the teacher's AgentFSM
// transition-table idiom (internal/agents/core/state_machine.go) generalized
// from a single linear state machine to a recursive tree of nodes, each of
// which behaves like a tiny FSM of its own.
package tasktree

import (
	"fmt"

	"github.com/DigiBanks99/lopen/internal/lopenerr"
)

// NodeType is the tagged variant discriminator. The legal nesting is
// Module→Component→Task→Subtask; no other nesting is permitted.
type NodeType string

const (
	TypeModule    NodeType = "module"
	TypeComponent NodeType = "component"
	TypeTask      NodeType = "task"
	TypeSubtask   NodeType = "subtask"
)

// permittedChild maps a parent type to the only child type it may hold.
// Subtask is a leaf: it has no entry and therefore no permitted child.
var permittedChild = map[NodeType]NodeType{
	TypeModule:    TypeComponent,
	TypeComponent: TypeTask,
	TypeTask:      TypeSubtask,
}

// State is a work node's lifecycle state.
type State string

const (
	StatePending    State = "Pending"
	StateInProgress State = "InProgress"
	StateComplete   State = "Complete"
	StateFailed     State = "Failed"
)

// legalStateTransitions is the canonical node-state transition table, tiny
// enough to express as a literal set the way the teacher's validTransitions
// slice does for the agent FSM.
var legalStateTransitions = map[State]map[State]bool{
	StatePending:    {StateInProgress: true},
	StateInProgress: {StateComplete: true, StateFailed: true},
	StateFailed:     {StateInProgress: true},
	StateComplete:   {},
}

// CanTransition reports whether from→to is in the legal set.
func CanTransition(from, to State) bool {
	return legalStateTransitions[from][to]
}

// Node is one member of the work hierarchy. Identifiers are allocated once at
// creation and never reused. Parent is a non-owning back-reference,
// reconstructed after deserialization and never persisted (see Tree.Rehydrate).
type Node struct {
	ID       string
	Name     string
	Type     NodeType
	state    State
	parent   *Node
	children []*Node
}

// NewNode creates a node in the Pending state. id must be unique within the
// project; callers are responsible for allocating it.
func NewNode(id, name string, typ NodeType) *Node {
	return &Node{ID: id, Name: name, Type: typ, state: StatePending}
}

// State returns the node's own stored state (not the aggregate — leaves
// report their stored state directly; see Tree.AggregateState for non-leaves).
func (n *Node) State() State { return n.state }

// Parent returns the non-owning parent back-reference, or nil at the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's children in insertion order. The returned
// slice is a copy; mutating it does not affect the tree.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// IsLeaf reports whether this node's type has no permitted child type.
func (n *Node) IsLeaf() bool {
	_, ok := permittedChild[n.Type]
	return !ok
}

// Tree owns a rooted work hierarchy and enforces its invariants. The
// orchestrator owns exactly one Tree for the duration of a module run (see
// §3 Ownership); it is not safe for concurrent mutation from multiple
// goroutines — tool handlers mutate it only via a dispatching queue
// serialized on the orchestrator, per §5.
type Tree struct {
	Root *Node
}

// NewTree creates a tree rooted at a Module node.
func NewTree(moduleID, moduleName string) *Tree {
	return &Tree{Root: NewNode(moduleID, moduleName, TypeModule)}
}

// AddChild attaches child to parent. Fails with ErrInvalidNesting if child's
// type is not the permitted child type of parent's type (including when
// parent is a leaf and so permits no children at all).
func (t *Tree) AddChild(parent, child *Node) error {
	want, ok := permittedChild[parent.Type]
	if !ok || child.Type != want {
		return lopenerr.New(lopenerr.ErrInvalidNesting,
			fmt.Sprintf("add %s %q under %s %q", child.Type, child.ID, parent.Type, parent.ID),
			fmt.Sprintf("a %s may only contain %s children", parent.Type, childLabel(parent.Type)),
			"attach the child under a node of the correct parent type",
		)
	}
	child.parent = parent
	parent.children = append(parent.children, child)
	return nil
}

func childLabel(parent NodeType) string {
	if want, ok := permittedChild[parent]; ok {
		return string(want)
	}
	return "no"
}

// Transition moves node to targetState, validating against the legal
// transition set. Fails with ErrInvalidTransition and leaves state unchanged
// otherwise.
func (t *Tree) Transition(node *Node, target State) error {
	if !CanTransition(node.state, target) {
		return lopenerr.New(lopenerr.ErrInvalidTransition,
			fmt.Sprintf("%s %q: %s -> %s", node.Type, node.ID, node.state, target),
			"that pair is not in the legal transition set",
			"drive the node through its legal states (Pending->InProgress->Complete|Failed, Failed->InProgress)",
		)
	}
	node.state = target
	return nil
}

// RestoreState bypasses transition validation. Used exclusively when
// deserializing persisted state, where the stored state is known-good and
// re-validating it against the transition table would be both redundant and
// wrong (a restored node may "arrive" directly in any state).
func (t *Tree) RestoreState(node *Node, state State) {
	node.state = state
}

// Descendants returns a lazy pre-order traversal of node's subtree (node
// itself excluded) as a finite, non-restartable iterator function. Each call
// to Descendants starts a fresh traversal; the returned function is
// stateful and must not be reused after it returns false.
func (t *Tree) Descendants(node *Node) func() (*Node, bool) {
	// the stack pops from the front, so it starts in insertion order
	stack := make([]*Node, len(node.children))
	copy(stack, node.children)
	return func() (*Node, bool) {
		if len(stack) == 0 {
			return nil, false
		}
		n := stack[0]
		stack = stack[1:]
		// expand n's children onto the front of the stack, preserving
		// pre-order (n's children visited immediately after n).
		rest := make([]*Node, 0, len(n.children)+len(stack))
		rest = append(rest, n.children...)
		rest = append(rest, stack...)
		stack = rest
		return n, true
	}
}

// AggregateState computes node's effective state per the recursive rule:
//  1. any child Failed -> Failed
//  2. all children Complete -> Complete
//  3. all children Pending -> Pending
//  4. otherwise -> InProgress
//
// Leaves, and non-leaves with no children yet, report their own stored
// state. The function is total, pure (it
// never mutates the tree), and stable under reordering of identical
// children.
func (t *Tree) AggregateState(node *Node) State {
	if node.IsLeaf() {
		return node.state
	}
	if len(node.children) == 0 {
		// A non-leaf type with no children yet (e.g. a freshly identified
		// component with no tasks broken down) reports its own stored state,
		// which is Pending until it is transitioned.
		return node.state
	}

	anyFailed := false
	allComplete := true
	allPending := true
	for _, c := range node.children {
		cs := t.AggregateState(c)
		if cs == StateFailed {
			anyFailed = true
		}
		if cs != StateComplete {
			allComplete = false
		}
		if cs != StatePending {
			allPending = false
		}
	}

	switch {
	case anyFailed:
		return StateFailed
	case allComplete:
		return StateComplete
	case allPending:
		return StatePending
	default:
		return StateInProgress
	}
}

// FindNextPending returns the first leaf in pre-order whose effective state
// is Pending, or the first non-leaf Task with no children in state Pending.
// Returns nil if nothing is pending.
func (t *Tree) FindNextPending() *Node {
	next := t.Descendants(t.Root)
	for {
		n, ok := next()
		if !ok {
			return nil
		}
		if n.IsLeaf() {
			if t.AggregateState(n) == StatePending {
				return n
			}
			continue
		}
		if n.Type == TypeTask && len(n.children) == 0 && n.state == StatePending {
			return n
		}
	}
}

// Rehydrate walks the subtree rooted at node once, wiring parent
// back-references after deserialization. Parent links are never persisted
// (see §3 Ownership), so every deserialize must call this before the tree is
// used.
func Rehydrate(node *Node) {
	for _, c := range node.children {
		c.parent = node
		Rehydrate(c)
	}
}
