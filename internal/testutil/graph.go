// Package testutil provides synthetic graphs, deterministic evaluators, and
// in-memory worker processes for tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quellaran/treeopt/pkg/graph"
)

// NodeWeight returns the deterministic weight assigned to a node in
// synthetic graphs.
func NodeWeight(id graph.NodeID) float64 {
	return float64((uint32(id)*37)%101) / 10.0
}

// GridGraph builds a width x height grid rooted at node 0. Node ids run
// row-major; every node carries its NodeWeight as a "weight" stat. The grid
// shape gives removal tests redundant paths to exercise.
func GridGraph(t *testing.T, width, height int) *graph.TreeGraph {
	t.Helper()

	n := width * height
	nodes := make([]graph.Node, 0, n)
	for i := 0; i < n; i++ {
		id := graph.NodeID(i)
		nodes = append(nodes, graph.Node{
			ID:    id,
			Type:  graph.NodeNormal,
			Stats: map[string]float64{"weight": NodeWeight(id)},
		})
	}

	var edges [][2]graph.NodeID
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			id := graph.NodeID(y*width + x)
			if x+1 < width {
				edges = append(edges, [2]graph.NodeID{id, id + 1})
			}
			if y+1 < height {
				edges = append(edges, [2]graph.NodeID{id, id + graph.NodeID(width)})
			}
		}
	}

	g, err := graph.New(0, nodes, edges)
	require.NoError(t, err)
	return g
}

// SeedAllocation grows a connected allocation of n nodes outward from the
// root, always taking the lowest-id frontier node. Deterministic.
func SeedAllocation(t *testing.T, g *graph.TreeGraph, n int) *graph.Allocation {
	t.Helper()

	alloc := graph.NewAllocation([]graph.NodeID{g.Root()})
	for alloc.Len() < n {
		frontier := g.UnallocatedNeighbors(alloc)
		require.NotEmpty(t, frontier, "graph too small for requested seed size")
		alloc.Add(frontier[0])
	}
	return alloc
}
