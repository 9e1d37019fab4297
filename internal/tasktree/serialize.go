package tasktree

import "encoding/json"

// wireNode is the polymorphic JSON shape from §6: a `$type` discriminator
// plus the fields every level shares. Parent is never persisted.
type wireNode struct {
	Type     NodeType    `json:"$type"`
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	State    State       `json:"state"`
	Children []*wireNode `json:"children,omitempty"`
}

func toWire(n *Node) *wireNode {
	w := &wireNode{Type: n.Type, ID: n.ID, Name: n.Name, State: n.state}
	for _, c := range n.children {
		w.Children = append(w.Children, toWire(c))
	}
	return w
}

func fromWire(w *wireNode) *Node {
	n := NewNode(w.ID, w.Name, w.Type)
	n.state = w.State
	for _, cw := range w.Children {
		n.children = append(n.children, fromWire(cw))
	}
	return n
}

// MarshalJSON serializes the tree as its root's polymorphic representation.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(t.Root))
}

// UnmarshalJSON restores a tree from its polymorphic representation and
// rewires parent back-references (never itself persisted).
func (t *Tree) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.Root = fromWire(&w)
	Rehydrate(t.Root)
	return nil
}
