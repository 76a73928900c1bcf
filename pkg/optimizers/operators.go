package optimizers

import (
	"math/rand"

	"github.com/quellaran/treeopt/pkg/constraint"
	"github.com/quellaran/treeopt/pkg/errors"
	"github.com/quellaran/treeopt/pkg/graph"
)

// variation implements the graph-aware genetic operators shared by the
// genetic optimizer and the multi-objective engine. All operators preserve
// root connectivity and never add or remove protected nodes.
type variation struct {
	g           *graph.TreeGraph
	constraints *constraint.ConstraintSet
	rng         *rand.Rand
	inclusion   float64
	minSize     int
}

// crossover builds an offspring allocation from two parents: nodes in both
// parents are kept wholesale, each parent-unique node is included
// independently with the configured probability, and mastery selections come
// from the fitter parent. The result is reconnected before returning.
func (v *variation) crossover(fitter, other *graph.Allocation) *graph.Allocation {
	child := graph.NewAllocation([]graph.NodeID{v.g.Root()})

	include := func(id graph.NodeID, shared bool) bool {
		if shared || v.constraints.IsProtected(id) {
			return true
		}
		return v.rng.Float64() < v.inclusion
	}

	for _, id := range fitter.SortedNodes() {
		if include(id, other.Has(id)) {
			child.Add(id)
		}
	}
	for _, id := range other.SortedNodes() {
		if fitter.Has(id) {
			continue
		}
		if include(id, false) {
			child.Add(id)
		}
	}

	for node, effect := range fitter.Selections() {
		if child.Has(node) {
			child.Select(node, effect)
		}
	}

	v.reconnect(child)
	return child
}

// reconnect restores root connectivity after crossover. Orphaned branches
// are reattached via the shortest path from the connected part; branches
// unreachable in the underlying graph are dropped.
func (v *variation) reconnect(alloc *graph.Allocation) {
	for {
		orphans := v.g.OrphanedNodes(alloc)
		if len(orphans) == 0 {
			return
		}

		orphanSet := make(map[graph.NodeID]struct{}, len(orphans))
		for _, id := range orphans {
			orphanSet[id] = struct{}{}
		}
		connected := make(map[graph.NodeID]struct{})
		for id := range alloc.NodeSet() {
			if _, orphaned := orphanSet[id]; !orphaned {
				connected[id] = struct{}{}
			}
		}

		path, ok := v.g.ShortestPath(connected, orphans[0])
		if !ok {
			for _, id := range orphans {
				alloc.Remove(id)
			}
			return
		}
		for _, id := range path {
			alloc.Add(id)
		}
	}
}

const (
	mutateAdd = iota
	mutateRemove
	mutateReroll
	mutationKinds
)

// mutate applies exactly one change in place: add a random frontier node,
// remove a random removable node, or reroll one mastery effect. Kinds are
// tried in random order until one applies; returns false if none did.
func (v *variation) mutate(alloc *graph.Allocation) bool {
	for _, kind := range v.rng.Perm(mutationKinds) {
		switch kind {
		case mutateAdd:
			if v.mutateAddNode(alloc) {
				return true
			}
		case mutateRemove:
			if v.mutateRemoveNode(alloc) {
				return true
			}
		case mutateReroll:
			if v.mutateRerollMastery(alloc) {
				return true
			}
		}
	}
	return false
}

func (v *variation) mutateAddNode(alloc *graph.Allocation) bool {
	if max := v.constraints.Budget().Max; max > 0 && alloc.Len() >= max {
		return false
	}
	frontier := v.g.UnallocatedNeighbors(alloc)
	if len(frontier) == 0 {
		return false
	}
	alloc.Add(frontier[v.rng.Intn(len(frontier))])
	return true
}

func (v *variation) mutateRemoveNode(alloc *graph.Allocation) bool {
	if alloc.Len() <= v.minSize {
		return false
	}
	removable := v.removableNodes(alloc)
	if len(removable) == 0 {
		return false
	}
	alloc.Remove(removable[v.rng.Intn(len(removable))])
	return true
}

func (v *variation) mutateRerollMastery(alloc *graph.Allocation) bool {
	masteries := v.masteryNodes(alloc)
	if len(masteries) == 0 {
		return false
	}
	id := masteries[v.rng.Intn(len(masteries))]
	node, _ := v.g.Metadata(id)
	alloc.Select(id, node.Effects[v.rng.Intn(len(node.Effects))])
	return true
}

// removableNodes lists allocated nodes whose removal keeps the allocation
// connected, excluding protected nodes and the root.
func (v *variation) removableNodes(alloc *graph.Allocation) []graph.NodeID {
	var out []graph.NodeID
	for _, id := range alloc.SortedNodes() {
		if id == v.g.Root() || v.constraints.IsProtected(id) {
			continue
		}
		if v.g.RemovalKeepsConnected(alloc, id) {
			out = append(out, id)
		}
	}
	return out
}

// masteryNodes lists allocated mastery nodes that have selectable effects.
func (v *variation) masteryNodes(alloc *graph.Allocation) []graph.NodeID {
	var out []graph.NodeID
	for _, id := range alloc.SortedNodes() {
		node, ok := v.g.Metadata(id)
		if ok && node.Type == graph.NodeMastery && len(node.Effects) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// validateSeed checks the invariants every optimizer requires of its seed.
// A bad seed is fatal before the run starts.
func validateSeed(g *graph.TreeGraph, cs *constraint.ConstraintSet, seed *graph.Allocation) error {
	if seed == nil || !seed.Has(g.Root()) {
		return errors.New(errors.InvalidSeed, "seed allocation must contain the root")
	}
	if !g.IsConnected(seed) {
		return errors.Wrap(
			errors.New(errors.ConnectivityViolation, "allocation does not reach the root"),
			errors.InvalidSeed, "seed allocation is not connected")
	}
	if cs.Policy() == constraint.HardReject {
		if ok, violations := cs.Validate(seed); !ok {
			return errors.WithFields(
				errors.Wrap(
					errors.New(errors.ConstraintViolation, "allocation violates hard constraints"),
					errors.InvalidSeed, "seed allocation violates constraints"),
				errors.Fields{"violations": violations},
			)
		}
	}
	return nil
}
