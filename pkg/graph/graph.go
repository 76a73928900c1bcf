package graph

import (
	"sort"

	"github.com/quellaran/treeopt/pkg/errors"
)

// TreeGraph is the immutable topology an optimization run searches over.
// Construct it once, then share it freely: all methods are safe for
// concurrent readers.
type TreeGraph struct {
	root   NodeID
	nodes  map[NodeID]*Node
	adj    map[NodeID][]NodeID
	sorted []NodeID
}

// New builds a graph from node metadata and undirected edges. The root must
// be one of the nodes and every edge endpoint must exist. Adjacency lists are
// deduplicated and sorted so traversal order is deterministic.
func New(root NodeID, nodes []Node, edges [][2]NodeID) (*TreeGraph, error) {
	g := &TreeGraph{
		root:  root,
		nodes: make(map[NodeID]*Node, len(nodes)),
		adj:   make(map[NodeID][]NodeID, len(nodes)),
	}

	for i := range nodes {
		n := nodes[i]
		if _, exists := g.nodes[n.ID]; exists {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "duplicate node id"),
				errors.Fields{"node": n.ID})
		}
		g.nodes[n.ID] = &n
	}

	if _, ok := g.nodes[root]; !ok {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "root node not present in graph"),
			errors.Fields{"root": root})
	}

	seen := make(map[[2]NodeID]struct{}, len(edges))
	for _, e := range edges {
		a, b := e[0], e[1]
		if a == b {
			continue
		}
		if _, ok := g.nodes[a]; !ok {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "edge references unknown node"),
				errors.Fields{"node": a})
		}
		if _, ok := g.nodes[b]; !ok {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "edge references unknown node"),
				errors.Fields{"node": b})
		}
		if a > b {
			a, b = b, a
		}
		key := [2]NodeID{a, b}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}

	for id := range g.adj {
		neighbors := g.adj[id]
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
	}

	g.sorted = make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		g.sorted = append(g.sorted, id)
	}
	sort.Slice(g.sorted, func(i, j int) bool { return g.sorted[i] < g.sorted[j] })

	return g, nil
}

// Nodes returns every node id in ascending order. The returned slice is
// shared with the graph and must be treated as read-only.
func (g *TreeGraph) Nodes() []NodeID {
	return g.sorted
}

// Root returns the designated root node id.
func (g *TreeGraph) Root() NodeID {
	return g.root
}

// NodeCount returns the number of nodes in the graph.
func (g *TreeGraph) NodeCount() int {
	return len(g.nodes)
}

// HasNode reports whether the id exists in the graph.
func (g *TreeGraph) HasNode(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Metadata returns the node's static metadata. The returned Node is shared
// with the graph and must be treated as read-only.
func (g *TreeGraph) Metadata(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Neighbors returns the ids adjacent to the node, in ascending order. The
// returned slice is shared with the graph and must be treated as read-only.
func (g *TreeGraph) Neighbors(id NodeID) []NodeID {
	return g.adj[id]
}

// IsConnected reports whether every allocated node is reachable from the root
// through allocated nodes only. An allocation that does not contain the root
// is never connected.
func (g *TreeGraph) IsConnected(alloc *Allocation) bool {
	if alloc == nil || !alloc.Has(g.root) {
		return false
	}
	return len(g.reachable(alloc)) == alloc.Len()
}

// OrphanedNodes returns the allocated nodes unreachable from the root within
// the allocation, in ascending order. An empty result means the allocation is
// connected (assuming it contains the root).
func (g *TreeGraph) OrphanedNodes(alloc *Allocation) []NodeID {
	if alloc == nil || alloc.Len() == 0 {
		return nil
	}
	if !alloc.Has(g.root) {
		return alloc.SortedNodes()
	}

	visited := g.reachable(alloc)
	var orphans []NodeID
	for id := range alloc.nodes {
		if _, ok := visited[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	return orphans
}

// reachable runs BFS from the root restricted to allocated nodes.
func (g *TreeGraph) reachable(alloc *Allocation) map[NodeID]struct{} {
	visited := make(map[NodeID]struct{}, alloc.Len())
	queue := newNodeQueue(alloc.Len())

	visited[g.root] = struct{}{}
	queue.push(g.root)

	for !queue.empty() {
		id := queue.pop()
		for _, nbr := range g.adj[id] {
			if !alloc.Has(nbr) {
				continue
			}
			if _, seen := visited[nbr]; seen {
				continue
			}
			visited[nbr] = struct{}{}
			queue.push(nbr)
		}
	}
	return visited
}

// ShortestPathLength returns the number of edges on the shortest path from
// any node in the source set to the target, over the full graph. Zero when
// the target is itself a source; false when no path exists or the source set
// is empty.
func (g *TreeGraph) ShortestPathLength(from map[NodeID]struct{}, to NodeID) (int, bool) {
	path, ok := g.ShortestPath(from, to)
	if !ok {
		return 0, false
	}
	return len(path), true
}

// ShortestPath returns the nodes on a shortest path from the source set to
// the target, excluding the source endpoint and including the target. The
// result is empty (and ok) when the target is already in the source set.
// Multi-source BFS; ties resolve toward lower node ids because adjacency is
// sorted.
func (g *TreeGraph) ShortestPath(from map[NodeID]struct{}, to NodeID) ([]NodeID, bool) {
	if len(from) == 0 {
		return nil, false
	}
	if !g.HasNode(to) {
		return nil, false
	}
	if _, ok := from[to]; ok {
		return nil, true
	}

	// Seed the frontier with every source in ascending order so the parent
	// assignment is deterministic.
	sources := make([]NodeID, 0, len(from))
	for id := range from {
		if g.HasNode(id) {
			sources = append(sources, id)
		}
	}
	if len(sources) == 0 {
		return nil, false
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	parent := make(map[NodeID]NodeID, len(g.nodes)/4)
	visited := make(map[NodeID]struct{}, len(g.nodes)/4)
	queue := newNodeQueue(len(sources) * 2)

	for _, id := range sources {
		visited[id] = struct{}{}
		queue.push(id)
	}

	for !queue.empty() {
		id := queue.pop()
		for _, nbr := range g.adj[id] {
			if _, seen := visited[nbr]; seen {
				continue
			}
			visited[nbr] = struct{}{}
			parent[nbr] = id

			if nbr == to {
				return g.assemblePath(from, parent, to), true
			}
			queue.push(nbr)
		}
	}

	return nil, false
}

// assemblePath walks parent links back from the target until it hits a
// source, then reverses.
func (g *TreeGraph) assemblePath(from map[NodeID]struct{}, parent map[NodeID]NodeID, to NodeID) []NodeID {
	var reversed []NodeID
	cur := to
	for {
		reversed = append(reversed, cur)
		prev, ok := parent[cur]
		if !ok {
			break
		}
		if _, isSource := from[prev]; isSource {
			break
		}
		cur = prev
	}

	path := make([]NodeID, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// UnallocatedNeighbors returns the frontier of the allocation: unallocated
// nodes adjacent to at least one allocated node, in ascending order.
func (g *TreeGraph) UnallocatedNeighbors(alloc *Allocation) []NodeID {
	if alloc == nil {
		return nil
	}

	seen := make(map[NodeID]struct{})
	var frontier []NodeID
	for id := range alloc.nodes {
		for _, nbr := range g.adj[id] {
			if alloc.Has(nbr) {
				continue
			}
			if _, dup := seen[nbr]; dup {
				continue
			}
			seen[nbr] = struct{}{}
			frontier = append(frontier, nbr)
		}
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })
	return frontier
}

// RemovalKeepsConnected reports whether removing the node leaves the
// remaining allocation connected to the root. The allocation is not
// modified.
func (g *TreeGraph) RemovalKeepsConnected(alloc *Allocation, id NodeID) bool {
	if !alloc.Has(id) || id == g.root {
		return false
	}

	// BFS from the root skipping the removed node.
	target := alloc.Len() - 1
	visited := make(map[NodeID]struct{}, target)
	queue := newNodeQueue(target)

	visited[g.root] = struct{}{}
	queue.push(g.root)
	count := 1

	for !queue.empty() {
		cur := queue.pop()
		for _, nbr := range g.adj[cur] {
			if nbr == id || !alloc.Has(nbr) {
				continue
			}
			if _, seen := visited[nbr]; seen {
				continue
			}
			visited[nbr] = struct{}{}
			count++
			queue.push(nbr)
		}
	}
	return count == target
}
