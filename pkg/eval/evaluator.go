// Package eval turns allocations into objective metrics. The production path
// is a pool of persistent external calculator processes spoken to over a
// line-oriented JSON protocol; MemoEvaluator adds allocation-keyed caching on
// top of any Evaluator.
package eval

import (
	"context"

	"github.com/quellaran/treeopt/pkg/graph"
)

// Evaluator maps an allocation to objective metrics. Implementations must be
// referentially transparent per allocation: the same node set and mastery
// selections always yield the same metrics, which is what makes memoization
// sound.
type Evaluator interface {
	Evaluate(ctx context.Context, alloc *graph.Allocation) (Metrics, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, alloc *graph.Allocation) (Metrics, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, alloc *graph.Allocation) (Metrics, error) {
	return f(ctx, alloc)
}
