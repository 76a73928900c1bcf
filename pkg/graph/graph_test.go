package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineGraph builds 0-1-2-...-n-1 rooted at 0.
func lineGraph(t *testing.T, n int) *TreeGraph {
	t.Helper()

	nodes := make([]Node, 0, n)
	edges := make([][2]NodeID, 0, n-1)
	for i := 0; i < n; i++ {
		nodes = append(nodes, Node{ID: NodeID(i), Type: NodeNormal})
		if i > 0 {
			edges = append(edges, [2]NodeID{NodeID(i - 1), NodeID(i)})
		}
	}

	g, err := New(0, nodes, edges)
	require.NoError(t, err)
	return g
}

// diamondGraph builds a 4-node cycle 0-1-3, 0-2-3 rooted at 0.
func diamondGraph(t *testing.T) *TreeGraph {
	t.Helper()

	nodes := []Node{
		{ID: 0, Type: NodeNormal},
		{ID: 1, Type: NodeNormal},
		{ID: 2, Type: NodeNotable},
		{ID: 3, Type: NodeKeystone},
	}
	edges := [][2]NodeID{{0, 1}, {0, 2}, {1, 3}, {2, 3}}

	g, err := New(0, nodes, edges)
	require.NoError(t, err)
	return g
}

func TestNewValidation(t *testing.T) {
	nodes := []Node{{ID: 1}, {ID: 2}}

	_, err := New(7, nodes, nil)
	assert.Error(t, err, "missing root should fail")

	_, err = New(1, nodes, [][2]NodeID{{1, 99}})
	assert.Error(t, err, "edge to unknown node should fail")

	_, err = New(1, []Node{{ID: 1}, {ID: 1}}, nil)
	assert.Error(t, err, "duplicate node id should fail")
}

func TestNeighborsSortedAndDeduplicated(t *testing.T) {
	nodes := []Node{{ID: 0}, {ID: 1}, {ID: 2}}
	// Duplicate and reversed edges collapse to one adjacency entry each.
	edges := [][2]NodeID{{0, 2}, {2, 0}, {0, 1}, {0, 1}}

	g, err := New(0, nodes, edges)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{1, 2}, g.Neighbors(0))
}

func TestIsConnected(t *testing.T) {
	g := lineGraph(t, 6)

	assert.True(t, g.IsConnected(NewAllocation([]NodeID{0, 1, 2})))
	assert.False(t, g.IsConnected(NewAllocation([]NodeID{0, 1, 3})), "gap at node 2")
	assert.False(t, g.IsConnected(NewAllocation([]NodeID{1, 2})), "root missing")
	assert.True(t, g.IsConnected(NewAllocation([]NodeID{0})), "root alone is connected")
	assert.False(t, g.IsConnected(NewAllocation(nil)))
}

func TestOrphanedNodes(t *testing.T) {
	g := lineGraph(t, 6)

	orphans := g.OrphanedNodes(NewAllocation([]NodeID{0, 1, 3, 4}))
	assert.Equal(t, []NodeID{3, 4}, orphans)

	assert.Empty(t, g.OrphanedNodes(NewAllocation([]NodeID{0, 1, 2})))
	assert.Equal(t, []NodeID{2, 3}, g.OrphanedNodes(NewAllocation([]NodeID{2, 3})), "everything orphaned without root")
}

func TestShortestPath(t *testing.T) {
	g := lineGraph(t, 8)

	from := map[NodeID]struct{}{0: {}, 1: {}}

	path, ok := g.ShortestPath(from, 4)
	require.True(t, ok)
	assert.Equal(t, []NodeID{2, 3, 4}, path, "path excludes source, includes target")

	length, ok := g.ShortestPathLength(from, 4)
	require.True(t, ok)
	assert.Equal(t, 3, length)

	// Target inside the source set has zero length.
	length, ok = g.ShortestPathLength(from, 1)
	require.True(t, ok)
	assert.Equal(t, 0, length)

	// Empty source set finds nothing.
	_, ok = g.ShortestPath(map[NodeID]struct{}{}, 4)
	assert.False(t, ok)
}

func TestShortestPathDisconnected(t *testing.T) {
	nodes := []Node{{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3}}
	g, err := New(0, nodes, [][2]NodeID{{0, 1}, {2, 3}})
	require.NoError(t, err)

	_, ok := g.ShortestPath(map[NodeID]struct{}{0: {}}, 3)
	assert.False(t, ok)
}

func TestShortestPathPrefersNearestSource(t *testing.T) {
	g := lineGraph(t, 10)

	from := map[NodeID]struct{}{0: {}, 7: {}}
	length, ok := g.ShortestPathLength(from, 5)
	require.True(t, ok)
	assert.Equal(t, 2, length, "node 7 is two steps from 5, node 0 is five")
}

func TestUnallocatedNeighbors(t *testing.T) {
	g := diamondGraph(t)

	frontier := g.UnallocatedNeighbors(NewAllocation([]NodeID{0}))
	assert.Equal(t, []NodeID{1, 2}, frontier)

	frontier = g.UnallocatedNeighbors(NewAllocation([]NodeID{0, 1}))
	assert.Equal(t, []NodeID{2, 3}, frontier)

	frontier = g.UnallocatedNeighbors(NewAllocation([]NodeID{0, 1, 2, 3}))
	assert.Empty(t, frontier)
}

func TestRemovalKeepsConnected(t *testing.T) {
	g := lineGraph(t, 5)
	alloc := NewAllocation([]NodeID{0, 1, 2, 3})

	assert.True(t, g.RemovalKeepsConnected(alloc, 3), "leaf removal is safe")
	assert.False(t, g.RemovalKeepsConnected(alloc, 1), "interior removal splits the chain")
	assert.False(t, g.RemovalKeepsConnected(alloc, 0), "root is never removable")
	assert.False(t, g.RemovalKeepsConnected(alloc, 4), "unallocated node is not removable")

	// On the diamond, either middle node is removable because the other path
	// keeps node 3 attached.
	d := diamondGraph(t)
	full := NewAllocation([]NodeID{0, 1, 2, 3})
	assert.True(t, d.RemovalKeepsConnected(full, 1))
	assert.True(t, d.RemovalKeepsConnected(full, 2))
}

func TestAllocationCloneIsIndependent(t *testing.T) {
	a := NewAllocation([]NodeID{0, 1, 2})
	a.Select(2, 7)

	b := a.Clone()
	b.Add(3)
	b.Remove(1)
	b.Select(2, 9)

	assert.True(t, a.Has(1))
	assert.False(t, a.Has(3))
	effect, ok := a.SelectedEffect(2)
	require.True(t, ok)
	assert.Equal(t, 7, effect)
}

func TestAllocationRemoveDropsSelection(t *testing.T) {
	a := NewAllocation([]NodeID{0, 5})
	a.Select(5, 3)
	a.Remove(5)

	_, ok := a.SelectedEffect(5)
	assert.False(t, ok)
	assert.Equal(t, 0, a.SelectionCount())
}

func TestNodeQueueRing(t *testing.T) {
	q := newNodeQueue(4)
	// Push enough to force at least one grow and wraparound.
	for i := 0; i < 10; i++ {
		q.push(NodeID(i))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, NodeID(i), q.pop())
	}
	for i := 10; i < 40; i++ {
		q.push(NodeID(i))
	}

	want := NodeID(5)
	for !q.empty() {
		assert.Equal(t, want, q.pop())
		want++
	}
	assert.Equal(t, NodeID(40), want)
}

func TestMetadataClassificationIsAuthoritative(t *testing.T) {
	g := diamondGraph(t)

	n, ok := g.Metadata(2)
	require.True(t, ok)
	assert.Equal(t, NodeNotable, n.Type)

	n, ok = g.Metadata(3)
	require.True(t, ok)
	assert.Equal(t, NodeKeystone, n.Type)

	_, ok = g.Metadata(99)
	assert.False(t, ok)
}
