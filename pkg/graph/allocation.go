package graph

import "sort"

// Allocation is one candidate solution: a set of allocated node ids plus the
// chosen effect for each allocated mastery node. A valid allocation forms a
// connected subgraph containing the designated root; the optimizers maintain
// that invariant through their operators and the graph's connectivity
// queries.
type Allocation struct {
	nodes      map[NodeID]struct{}
	selections map[NodeID]int
}

// NewAllocation creates an allocation over the given node ids with no mastery
// selections.
func NewAllocation(nodes []NodeID) *Allocation {
	a := &Allocation{
		nodes:      make(map[NodeID]struct{}, len(nodes)),
		selections: make(map[NodeID]int),
	}
	for _, id := range nodes {
		a.nodes[id] = struct{}{}
	}
	return a
}

// Clone returns a deep copy. Operators always clone before modifying so that
// parents survive breeding untouched.
func (a *Allocation) Clone() *Allocation {
	c := &Allocation{
		nodes:      make(map[NodeID]struct{}, len(a.nodes)),
		selections: make(map[NodeID]int, len(a.selections)),
	}
	for id := range a.nodes {
		c.nodes[id] = struct{}{}
	}
	for id, effect := range a.selections {
		c.selections[id] = effect
	}
	return c
}

// Has reports whether the node is allocated.
func (a *Allocation) Has(id NodeID) bool {
	_, ok := a.nodes[id]
	return ok
}

// Add allocates a node.
func (a *Allocation) Add(id NodeID) {
	a.nodes[id] = struct{}{}
}

// Remove deallocates a node and drops any mastery selection it carried.
func (a *Allocation) Remove(id NodeID) {
	delete(a.nodes, id)
	delete(a.selections, id)
}

// Len returns the number of allocated nodes.
func (a *Allocation) Len() int {
	return len(a.nodes)
}

// SortedNodes returns the allocated node ids in ascending order. Operators
// iterate in this order so runs with a fixed random seed are reproducible.
func (a *Allocation) SortedNodes() []NodeID {
	ids := make([]NodeID, 0, len(a.nodes))
	for id := range a.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NodeSet returns the underlying allocated-node set. The returned map is
// shared with the allocation and must be treated as read-only.
func (a *Allocation) NodeSet() map[NodeID]struct{} {
	return a.nodes
}

// Select records the chosen effect for a mastery node.
func (a *Allocation) Select(node NodeID, effect int) {
	a.selections[node] = effect
}

// SelectedEffect returns the chosen effect for a mastery node.
func (a *Allocation) SelectedEffect(node NodeID) (int, bool) {
	effect, ok := a.selections[node]
	return effect, ok
}

// ClearSelection drops the effect choice for a mastery node.
func (a *Allocation) ClearSelection(node NodeID) {
	delete(a.selections, node)
}

// Selections returns the mastery selections as a copied map.
func (a *Allocation) Selections() map[NodeID]int {
	out := make(map[NodeID]int, len(a.selections))
	for id, effect := range a.selections {
		out[id] = effect
	}
	return out
}

// SelectionCount returns the number of mastery selections.
func (a *Allocation) SelectionCount() int {
	return len(a.selections)
}
