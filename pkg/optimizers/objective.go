package optimizers

import (
	"math"
	"sort"

	"github.com/quellaran/treeopt/pkg/constraint"
	"github.com/quellaran/treeopt/pkg/eval"
	"github.com/quellaran/treeopt/pkg/graph"
)

// Objective turns evaluation metrics into a scalar fitness: the relative
// percentage change of one metric against a baseline, or a weighted sum of
// relative changes for a balanced objective.
type Objective struct {
	metric  string
	weights map[string]float64

	baseline    eval.Metrics
	hasBaseline bool
}

// NewObjective maximizes a single metric by name.
func NewObjective(metric string) *Objective {
	return &Objective{metric: metric}
}

// NewBalancedObjective maximizes a weighted sum of several metrics.
func NewBalancedObjective(weights map[string]float64) *Objective {
	return &Objective{weights: weights}
}

// SetBaseline fixes the reference metrics fitness is measured against,
// normally the seed allocation's metrics.
func (o *Objective) SetBaseline(m eval.Metrics) {
	o.baseline = m
	o.hasBaseline = true
}

// Fitness scores metrics against the baseline. Without a baseline the raw
// metric values are used directly.
func (o *Objective) Fitness(m eval.Metrics) float64 {
	if len(o.weights) > 0 {
		names := make([]string, 0, len(o.weights))
		for name := range o.weights {
			names = append(names, name)
		}
		sort.Strings(names)

		total := 0.0
		for _, name := range names {
			total += o.weights[name] * o.relative(name, m)
		}
		return total
	}
	return o.relative(o.metric, m)
}

func (o *Objective) relative(name string, m eval.Metrics) float64 {
	v, _ := m.Value(name)
	if !o.hasBaseline {
		return v
	}
	base, _ := o.baseline.Value(name)
	if base == 0 {
		return v
	}
	return (v - base) / math.Abs(base) * 100
}

// scoreAllocation converts metrics into fitness under the constraint policy:
// hard-reject maps any violation to MinFitness, soft-penalize subtracts the
// scaled penalty so slightly-invalid candidates stay searchable.
func scoreAllocation(cs *constraint.ConstraintSet, obj *Objective, penaltyScale float64, alloc *graph.Allocation, m eval.Metrics) float64 {
	fitness := obj.Fitness(m)
	if ok, _ := cs.Validate(alloc); !ok {
		if cs.Policy() == constraint.HardReject {
			return MinFitness
		}
		fitness -= penaltyScale * cs.Penalty(alloc)
	}
	return fitness
}
