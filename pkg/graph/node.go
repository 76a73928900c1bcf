// Package graph provides the immutable topology model that optimization runs
// search over: node metadata, adjacency, connectivity checks and shortest
// paths. Graphs in practice hold 1,500-3,500 nodes and connectivity queries
// run thousands of times per optimization, so the traversal paths avoid
// per-visit allocations where possible.
package graph

// NodeID identifies a node in the graph.
type NodeID uint32

// NodeType classifies a node. The classification is assigned once when the
// graph is constructed from authoritative topology data and consumed
// everywhere else through Metadata; callers must not re-derive it from id
// ranges or naming conventions.
type NodeType int

const (
	// NodeNormal is a small travel or stat node.
	NodeNormal NodeType = iota
	// NodeNotable is a significant stat node.
	NodeNotable
	// NodeKeystone toggles a build-defining mechanic.
	NodeKeystone
	// NodeSocket can hold an externally-owned object and is protected while
	// occupied.
	NodeSocket
	// NodeMastery carries a per-allocation effect selection.
	NodeMastery
)

// String provides human-readable node types.
func (t NodeType) String() string {
	switch t {
	case NodeNormal:
		return "normal"
	case NodeNotable:
		return "notable"
	case NodeKeystone:
		return "keystone"
	case NodeSocket:
		return "socket"
	case NodeMastery:
		return "mastery"
	default:
		return "unknown"
	}
}

// Node holds the static metadata of a single graph node.
type Node struct {
	ID   NodeID
	Type NodeType

	// Tags classify what the node grants ("strength", "life", ...). Constraint
	// attribute sums and evaluators key off these.
	Tags []string

	// Stats are the per-node numeric grants, keyed by stat name. A node
	// tagged "strength" typically carries Stats["strength"].
	Stats map[string]float64

	// Effects lists the selectable effect ids for mastery nodes. Empty for
	// every other node type.
	Effects []int
}

// HasTag reports whether the node carries the given tag.
func (n *Node) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Stat returns the node's grant for the named stat, zero when absent.
func (n *Node) Stat(name string) float64 {
	return n.Stats[name]
}
