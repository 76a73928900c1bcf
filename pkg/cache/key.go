package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/quellaran/treeopt/pkg/graph"
)

// KeyGenerator produces canonical cache keys for allocations. Two
// allocations with the same node set and mastery selections always hash to
// the same key, regardless of construction order.
type KeyGenerator struct {
	// Prefix for all cache keys (e.g., "treeopt_")
	prefix string
}

// NewKeyGenerator creates a new cache key generator.
func NewKeyGenerator(prefix string) *KeyGenerator {
	if prefix == "" {
		prefix = "treeopt_"
	}
	return &KeyGenerator{prefix: prefix}
}

// AllocationKey creates a deterministic key from an allocation's node set and
// mastery selections.
func (g *KeyGenerator) AllocationKey(alloc *graph.Allocation) string {
	h := sha256.New()

	var buf [8]byte
	for _, id := range alloc.SortedNodes() {
		binary.BigEndian.PutUint32(buf[:4], uint32(id))
		h.Write(buf[:4])
	}

	// Separator between node ids and selections so neither section can
	// masquerade as the other.
	h.Write([]byte{0xff})

	selections := alloc.Selections()
	selected := make([]graph.NodeID, 0, len(selections))
	for id := range selections {
		selected = append(selected, id)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })
	for _, id := range selected {
		binary.BigEndian.PutUint32(buf[:4], uint32(id))
		binary.BigEndian.PutUint32(buf[4:], uint32(selections[id]))
		h.Write(buf[:])
	}

	hash := hex.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%salloc_%s", g.prefix, hash[:16])
}
