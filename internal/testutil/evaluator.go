package testutil

import (
	"context"
	"sync/atomic"

	"github.com/quellaran/treeopt/pkg/eval"
	"github.com/quellaran/treeopt/pkg/graph"
)

// WeightEvaluator scores an allocation as the sum of its node weights plus
// the numeric value of each chosen mastery effect. Deterministic and
// in-process, with a call counter for memoization tests.
type WeightEvaluator struct {
	// Weights overrides NodeWeight for the listed nodes.
	Weights map[graph.NodeID]float64

	calls atomic.Int64
}

func (e *WeightEvaluator) Evaluate(_ context.Context, alloc *graph.Allocation) (eval.Metrics, error) {
	e.calls.Add(1)

	total := 0.0
	for _, id := range alloc.SortedNodes() {
		if w, ok := e.Weights[id]; ok {
			total += w
		} else {
			total += NodeWeight(id)
		}
	}
	for _, effect := range alloc.Selections() {
		total += float64(effect)
	}

	return eval.Metrics{
		TotalDamage: total,
		Life:        100 + total/2,
	}, nil
}

// Calls reports how many times Evaluate has run.
func (e *WeightEvaluator) Calls() int64 {
	return e.calls.Load()
}
