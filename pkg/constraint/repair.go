package constraint

import (
	"sort"

	"github.com/quellaran/treeopt/pkg/graph"
)

// Repair attempts to correct a violating allocation: unmet attribute and
// socket minimums are satisfied by the cheapest path extension toward a
// granting node, budget overruns by trimming removable leaves. Returns false
// when no correction exists, signaling the caller to reject the candidate.
// The input allocation is never modified.
func (c *ConstraintSet) Repair(alloc *graph.Allocation) (*graph.Allocation, bool) {
	repaired := alloc.Clone()

	if !c.repairAttributes(repaired) {
		return nil, false
	}
	if !c.repairSockets(repaired) {
		return nil, false
	}
	if !c.repairBudget(repaired) {
		return nil, false
	}

	if ok, _ := c.Validate(repaired); !ok {
		return nil, false
	}
	return repaired, true
}

// repairAttributes extends the allocation toward the nearest nodes granting
// each deficient attribute until the minimum is met or no reachable grant
// remains.
func (c *ConstraintSet) repairAttributes(alloc *graph.Allocation) bool {
	names := make([]string, 0, len(c.attributes))
	for name := range c.attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		min := c.attributes[name]
		for {
			totals := c.AttributeTotals(alloc)
			if totals[name] >= min {
				break
			}
			path, ok := c.cheapestExtension(alloc, func(n *graph.Node) bool {
				return n.Stat(name) > 0
			})
			if !ok {
				return false
			}
			for _, id := range path {
				alloc.Add(id)
			}
		}
	}
	return true
}

// repairSockets extends toward unallocated socket nodes while below the
// socket minimum.
func (c *ConstraintSet) repairSockets(alloc *graph.Allocation) bool {
	if c.sockets.Min == 0 {
		return true
	}
	for c.socketCount(alloc) < c.sockets.Min {
		path, ok := c.cheapestExtension(alloc, func(n *graph.Node) bool {
			return n.Type == graph.NodeSocket
		})
		if !ok {
			return false
		}
		for _, id := range path {
			alloc.Add(id)
		}
	}
	return true
}

// repairBudget trims removable non-protected nodes until the allocation fits
// the maximum budget. Highest node id goes first so the trim is
// deterministic.
func (c *ConstraintSet) repairBudget(alloc *graph.Allocation) bool {
	if c.budget.Max == 0 {
		return true
	}
	for alloc.Len() > c.budget.Max {
		ids := alloc.SortedNodes()
		removed := false
		for i := len(ids) - 1; i >= 0; i-- {
			id := ids[i]
			if c.IsProtected(id) {
				continue
			}
			if !c.g.RemovalKeepsConnected(alloc, id) {
				continue
			}
			alloc.Remove(id)
			removed = true
			break
		}
		if !removed {
			return false
		}
	}
	return true
}

// cheapestExtension finds the unallocated node matching want with the
// shortest path from the current allocation, and returns that path. Ties
// break toward lower node ids.
func (c *ConstraintSet) cheapestExtension(alloc *graph.Allocation, want func(*graph.Node) bool) ([]graph.NodeID, bool) {
	var (
		bestPath []graph.NodeID
		bestLen  = -1
		bestID   graph.NodeID
	)

	source := alloc.NodeSet()
	for _, id := range c.candidateTargets(alloc, want) {
		path, ok := c.g.ShortestPath(source, id)
		if !ok || len(path) == 0 {
			continue
		}
		if bestLen == -1 || len(path) < bestLen || (len(path) == bestLen && id < bestID) {
			bestPath = path
			bestLen = len(path)
			bestID = id
		}
	}

	return bestPath, bestLen != -1
}

// candidateTargets lists unallocated nodes matching want, ascending by id.
func (c *ConstraintSet) candidateTargets(alloc *graph.Allocation, want func(*graph.Node) bool) []graph.NodeID {
	var targets []graph.NodeID
	for _, id := range c.g.Nodes() {
		if alloc.Has(id) {
			continue
		}
		n, _ := c.g.Metadata(id)
		if !want(n) {
			continue
		}
		targets = append(targets, id)
	}
	return targets
}
