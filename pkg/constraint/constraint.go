// Package constraint computes protected (mutation-illegal) nodes and
// validates or repairs allocations against budget, attribute and socket
// requirements.
package constraint

import (
	"fmt"
	"sort"

	"github.com/quellaran/treeopt/pkg/graph"
)

// Policy decides how optimizers treat constraint violations on generated
// candidates.
type Policy int

const (
	// SoftPenalize keeps violating candidates in the population with a
	// fitness penalty. This is the default: hard rejection collapses the
	// search space early when the seed sits close to a constraint boundary.
	SoftPenalize Policy = iota
	// HardReject discards violating candidates outright.
	HardReject
)

// String provides human-readable policy names.
func (p Policy) String() string {
	if p == HardReject {
		return "hard-reject"
	}
	return "soft-penalize"
}

// PointBudget bounds the number of allocated nodes.
type PointBudget struct {
	Min int
	Max int // 0 means unbounded
}

// SocketRequirement bounds the number of allocated socket nodes.
type SocketRequirement struct {
	Min int
	Max int // 0 means unbounded
}

// ConstraintSet holds the structural requirements of one optimization run.
// Construct it once per run alongside the graph and pass it into optimizer
// constructors.
type ConstraintSet struct {
	g *graph.TreeGraph

	budget     PointBudget
	attributes map[string]float64
	sockets    SocketRequirement
	policy     Policy

	// occupied holds socket nodes currently carrying an externally-owned
	// object. They must never be vacated.
	occupied map[graph.NodeID]struct{}

	// atomicGroups are externally-generated subgraphs treated as single
	// units: no member is ever added or removed independently.
	atomicGroups [][]graph.NodeID

	protected map[graph.NodeID]struct{}
}

// Option configures a ConstraintSet.
type Option func(*ConstraintSet)

// WithPointBudget sets the allocation size bounds.
func WithPointBudget(min, max int) Option {
	return func(c *ConstraintSet) {
		c.budget = PointBudget{Min: min, Max: max}
	}
}

// WithAttributeMinimum requires the allocation's summed grants for the named
// attribute to reach at least min.
func WithAttributeMinimum(name string, min float64) Option {
	return func(c *ConstraintSet) {
		c.attributes[name] = min
	}
}

// WithSocketBounds bounds the number of allocated socket nodes.
func WithSocketBounds(min, max int) Option {
	return func(c *ConstraintSet) {
		c.sockets = SocketRequirement{Min: min, Max: max}
	}
}

// WithPolicy selects the violation policy.
func WithPolicy(p Policy) Option {
	return func(c *ConstraintSet) {
		c.policy = p
	}
}

// WithOccupiedSockets marks socket nodes that hold externally-owned objects.
func WithOccupiedSockets(ids ...graph.NodeID) Option {
	return func(c *ConstraintSet) {
		for _, id := range ids {
			c.occupied[id] = struct{}{}
		}
	}
}

// WithAtomicGroup registers an externally-generated subgraph whose members
// are never touched independently.
func WithAtomicGroup(ids ...graph.NodeID) Option {
	return func(c *ConstraintSet) {
		group := make([]graph.NodeID, len(ids))
		copy(group, ids)
		c.atomicGroups = append(c.atomicGroups, group)
	}
}

// New builds a ConstraintSet over the graph. The protected set is derived
// once: the root, every occupied socket, and every atomic-group member.
func New(g *graph.TreeGraph, opts ...Option) *ConstraintSet {
	c := &ConstraintSet{
		g:          g,
		attributes: make(map[string]float64),
		occupied:   make(map[graph.NodeID]struct{}),
		policy:     SoftPenalize,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.protected = make(map[graph.NodeID]struct{}, len(c.occupied)+8)
	c.protected[g.Root()] = struct{}{}
	for id := range c.occupied {
		c.protected[id] = struct{}{}
	}
	for _, group := range c.atomicGroups {
		for _, id := range group {
			c.protected[id] = struct{}{}
		}
	}

	return c
}

// Policy returns the configured violation policy.
func (c *ConstraintSet) Policy() Policy {
	return c.policy
}

// Budget returns the configured point budget.
func (c *ConstraintSet) Budget() PointBudget {
	return c.budget
}

// ProtectedNodes returns the nodes no operator may add or remove: the root,
// occupied sockets, and atomic-group members. The set does not depend on the
// allocation's contents beyond being defined for it; the returned map is a
// copy the caller may retain.
func (c *ConstraintSet) ProtectedNodes(alloc *graph.Allocation) map[graph.NodeID]struct{} {
	out := make(map[graph.NodeID]struct{}, len(c.protected))
	for id := range c.protected {
		out[id] = struct{}{}
	}
	return out
}

// IsProtected reports whether the node is in the protected set.
func (c *ConstraintSet) IsProtected(id graph.NodeID) bool {
	_, ok := c.protected[id]
	return ok
}

// AttributeTotals sums the allocation's grants for every required attribute.
func (c *ConstraintSet) AttributeTotals(alloc *graph.Allocation) map[string]float64 {
	totals := make(map[string]float64, len(c.attributes))
	for name := range c.attributes {
		totals[name] = 0
	}
	for id := range alloc.NodeSet() {
		n, ok := c.g.Metadata(id)
		if !ok {
			continue
		}
		for name := range c.attributes {
			totals[name] += n.Stat(name)
		}
	}
	return totals
}

// socketCount counts allocated socket nodes.
func (c *ConstraintSet) socketCount(alloc *graph.Allocation) int {
	count := 0
	for id := range alloc.NodeSet() {
		if n, ok := c.g.Metadata(id); ok && n.Type == graph.NodeSocket {
			count++
		}
	}
	return count
}

// Validate checks the allocation against every configured constraint and
// returns the list of violations. Connectivity is not checked here; that is
// the graph's concern and the operators maintain it.
func (c *ConstraintSet) Validate(alloc *graph.Allocation) (bool, []string) {
	var violations []string

	size := alloc.Len()
	if c.budget.Min > 0 && size < c.budget.Min {
		violations = append(violations, fmt.Sprintf("point budget not met: %d < %d", size, c.budget.Min))
	}
	if c.budget.Max > 0 && size > c.budget.Max {
		violations = append(violations, fmt.Sprintf("point budget exceeded: %d > %d", size, c.budget.Max))
	}

	totals := c.AttributeTotals(alloc)
	names := make([]string, 0, len(c.attributes))
	for name := range c.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if totals[name] < c.attributes[name] {
			violations = append(violations,
				fmt.Sprintf("attribute %s below minimum: %.0f < %.0f", name, totals[name], c.attributes[name]))
		}
	}

	sockets := c.socketCount(alloc)
	if c.sockets.Min > 0 && sockets < c.sockets.Min {
		violations = append(violations, fmt.Sprintf("socket count below minimum: %d < %d", sockets, c.sockets.Min))
	}
	if c.sockets.Max > 0 && sockets > c.sockets.Max {
		violations = append(violations, fmt.Sprintf("socket count above maximum: %d > %d", sockets, c.sockets.Max))
	}

	return len(violations) == 0, violations
}

// Penalty returns a non-negative fitness penalty proportional to how far the
// allocation sits outside each constraint. Used by optimizers under
// SoftPenalize; zero for a valid allocation.
func (c *ConstraintSet) Penalty(alloc *graph.Allocation) float64 {
	penalty := 0.0

	size := float64(alloc.Len())
	if c.budget.Min > 0 && size < float64(c.budget.Min) {
		penalty += (float64(c.budget.Min) - size) / float64(c.budget.Min)
	}
	if c.budget.Max > 0 && size > float64(c.budget.Max) {
		penalty += (size - float64(c.budget.Max)) / float64(c.budget.Max)
	}

	totals := c.AttributeTotals(alloc)
	for name, min := range c.attributes {
		if min > 0 && totals[name] < min {
			penalty += (min - totals[name]) / min
		}
	}

	sockets := float64(c.socketCount(alloc))
	if c.sockets.Min > 0 && sockets < float64(c.sockets.Min) {
		penalty += (float64(c.sockets.Min) - sockets) / float64(c.sockets.Min)
	}
	if c.sockets.Max > 0 && sockets > float64(c.sockets.Max) {
		penalty += (sockets - float64(c.sockets.Max)) / float64(c.sockets.Max)
	}

	return penalty
}
