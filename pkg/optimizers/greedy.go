package optimizers

import (
	"context"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/quellaran/treeopt/pkg/constraint"
	"github.com/quellaran/treeopt/pkg/errors"
	"github.com/quellaran/treeopt/pkg/eval"
	"github.com/quellaran/treeopt/pkg/graph"
	"github.com/quellaran/treeopt/pkg/logging"
)

// GreedyConfig holds hill-climbing parameters.
type GreedyConfig struct {
	// Maximum number of improvement iterations.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// CandidatesPerStep bounds how many removal and how many addition
	// candidates each iteration evaluates.
	CandidatesPerStep int `json:"candidates_per_step" yaml:"candidates_per_step"`

	// SkipMasteryPass disables the secondary per-mastery effect pass that
	// runs after node-level convergence. The pass is on by default.
	SkipMasteryPass bool `json:"skip_mastery_pass" yaml:"skip_mastery_pass"`

	// Concurrency bounds candidate evaluation fan-out.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// PenaltyScale weights constraint penalties under soft-penalize.
	PenaltyScale float64 `json:"penalty_scale" yaml:"penalty_scale"`

	// Seed for candidate sampling; 0 seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultGreedyConfig returns the default hill-climbing parameters.
func DefaultGreedyConfig() GreedyConfig {
	return GreedyConfig{
		MaxIterations:     100,
		CandidatesPerStep: 10,
		Concurrency:       4,
		PenaltyScale:      10,
	}
}

// GreedyResult reports the outcome of one hill-climbing run.
type GreedyResult struct {
	Best        *graph.Allocation
	Fitness     float64
	SeedFitness float64
	Iterations  int
	Evaluations int64
	Status      Status
}

// GreedyOptimizer performs single-objective local search: each iteration
// evaluates a bounded set of single-node changes and keeps the best strictly
// improving one until nothing improves or the iteration cap is hit.
type GreedyOptimizer struct {
	g           *graph.TreeGraph
	constraints *constraint.ConstraintSet
	evaluator   eval.Evaluator
	objective   *Objective
	config      GreedyConfig
	rng         *rand.Rand
	logger      *logging.Logger

	evaluations atomic.Int64
	failures    atomic.Int64
}

// NewGreedyOptimizer wires a hill climber over the given graph, constraints,
// and evaluator.
func NewGreedyOptimizer(g *graph.TreeGraph, cs *constraint.ConstraintSet, evaluator eval.Evaluator, objective *Objective, config GreedyConfig) *GreedyOptimizer {
	defaults := DefaultGreedyConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.CandidatesPerStep <= 0 {
		config.CandidatesPerStep = defaults.CandidatesPerStep
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PenaltyScale <= 0 {
		config.PenaltyScale = defaults.PenaltyScale
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &GreedyOptimizer{
		g:           g,
		constraints: cs,
		evaluator:   evaluator,
		objective:   objective,
		config:      config,
		rng:         rand.New(rand.NewSource(seed)),
		logger:      logging.GetLogger(),
	}
}

type greedyCandidate struct {
	alloc   *graph.Allocation
	node    graph.NodeID
	delta   int
	fitness float64
}

// Optimize hill-climbs from the seed allocation. The seed must be connected
// and contain the root; its metrics become the fitness baseline.
func (o *GreedyOptimizer) Optimize(ctx context.Context, seed *graph.Allocation) (*GreedyResult, error) {
	if err := validateSeed(o.g, o.constraints, seed); err != nil {
		return nil, err
	}

	seedMetrics, err := o.evaluator.Evaluate(ctx, seed)
	o.evaluations.Add(1)
	if err != nil {
		return nil, errors.Wrap(err, errors.EvaluatorUnavailable, "failed to establish seed baseline")
	}
	o.objective.SetBaseline(seedMetrics)

	current := seed.Clone()
	currentFitness := scoreAllocation(o.constraints, o.objective, o.config.PenaltyScale, current, seedMetrics)
	seedFitness := currentFitness

	status := StatusCompleted
	iterations := 0
	for iter := 0; iter < o.config.MaxIterations; iter++ {
		iterations = iter + 1

		if err := errors.CheckContext(ctx, "greedy optimization"); err != nil {
			return o.result(current, currentFitness, seedFitness, iterations, StatusAborted), err
		}

		candidates := o.candidates(current)
		if len(candidates) == 0 {
			status = StatusConverged
			break
		}

		if err := o.evaluateCandidates(ctx, candidates); err != nil {
			return o.result(current, currentFitness, seedFitness, iterations, StatusAborted), err
		}

		best := bestCandidate(candidates)
		if best == nil || best.fitness <= currentFitness {
			status = StatusConverged
			break
		}

		current = best.alloc
		currentFitness = best.fitness
		o.logger.Debug(ctx, "iteration %d: node %d delta %+d fitness %.4f",
			iterations, best.node, best.delta, best.fitness)
	}

	if !o.config.SkipMasteryPass {
		current, currentFitness = o.optimizeMasteries(ctx, current, currentFitness)
	}

	return o.result(current, currentFitness, seedFitness, iterations, status), nil
}

func (o *GreedyOptimizer) result(best *graph.Allocation, fitness, seedFitness float64, iterations int, status Status) *GreedyResult {
	return &GreedyResult{
		Best:        best,
		Fitness:     fitness,
		SeedFitness: seedFitness,
		Iterations:  iterations,
		Evaluations: o.evaluations.Load(),
		Status:      status,
	}
}

// candidates generates up to CandidatesPerStep removal candidates and up to
// CandidatesPerStep addition candidates around the current allocation.
// Additions that would exceed the point budget are never generated.
func (o *GreedyOptimizer) candidates(current *graph.Allocation) []*greedyCandidate {
	var out []*greedyCandidate

	budget := o.constraints.Budget()

	if budget.Min == 0 || current.Len() > budget.Min {
		var removable []graph.NodeID
		for _, id := range current.SortedNodes() {
			if id == o.g.Root() || o.constraints.IsProtected(id) {
				continue
			}
			if o.g.RemovalKeepsConnected(current, id) {
				removable = append(removable, id)
			}
		}
		for _, id := range sampleNodes(o.rng, removable, o.config.CandidatesPerStep) {
			alloc := current.Clone()
			alloc.Remove(id)
			out = append(out, &greedyCandidate{alloc: alloc, node: id, delta: -1, fitness: MinFitness})
		}
	}

	if budget.Max == 0 || current.Len() < budget.Max {
		frontier := o.g.UnallocatedNeighbors(current)
		for _, id := range sampleNodes(o.rng, frontier, o.config.CandidatesPerStep) {
			alloc := current.Clone()
			alloc.Add(id)
			out = append(out, &greedyCandidate{alloc: alloc, node: id, delta: 1, fitness: MinFitness})
		}
	}

	return out
}

func (o *GreedyOptimizer) evaluateCandidates(ctx context.Context, candidates []*greedyCandidate) error {
	var unavailable atomic.Bool

	workers := pool.New().WithMaxGoroutines(o.config.Concurrency)
	for _, cand := range candidates {
		cand := cand
		workers.Go(func() {
			metrics, err := o.evaluator.Evaluate(ctx, cand.alloc)
			o.evaluations.Add(1)
			if err != nil {
				cand.fitness = MinFitness
				if o.failures.Add(1)%10 == 1 {
					o.logger.Warn(ctx, "candidate evaluation failed (%d failures so far): %v", o.failures.Load(), err)
				}
				if errors.HasCode(err, errors.EvaluatorUnavailable) {
					unavailable.Store(true)
				}
				return
			}
			cand.fitness = scoreAllocation(o.constraints, o.objective, o.config.PenaltyScale, cand.alloc, metrics)
		})
	}
	workers.Wait()

	if unavailable.Load() {
		return errors.New(errors.EvaluatorUnavailable, "evaluation pool exhausted during candidate scoring")
	}
	return nil
}

// optimizeMasteries independently optimizes each allocated mastery node's
// effect selection. Selections never affect connectivity, so each node can
// be tuned in isolation.
func (o *GreedyOptimizer) optimizeMasteries(ctx context.Context, current *graph.Allocation, fitness float64) (*graph.Allocation, float64) {
	for _, id := range current.SortedNodes() {
		node, ok := o.g.Metadata(id)
		if !ok || node.Type != graph.NodeMastery || len(node.Effects) == 0 {
			continue
		}

		bestFitness := fitness
		bestEffect := 0
		improved := false
		for _, effect := range node.Effects {
			if selected, ok := current.SelectedEffect(id); ok && selected == effect {
				continue
			}
			trial := current.Clone()
			trial.Select(id, effect)

			metrics, err := o.evaluator.Evaluate(ctx, trial)
			o.evaluations.Add(1)
			if err != nil {
				o.failures.Add(1)
				continue
			}
			if f := scoreAllocation(o.constraints, o.objective, o.config.PenaltyScale, trial, metrics); f > bestFitness {
				bestFitness = f
				bestEffect = effect
				improved = true
			}
		}
		if improved {
			current.Select(id, bestEffect)
			fitness = bestFitness
		}
	}
	return current, fitness
}

// bestCandidate picks the highest-fitness candidate, breaking ties by
// smaller point delta, then by lower node id.
func bestCandidate(candidates []*greedyCandidate) *greedyCandidate {
	var best *greedyCandidate
	for _, c := range candidates {
		switch {
		case best == nil:
			best = c
		case c.fitness != best.fitness:
			if c.fitness > best.fitness {
				best = c
			}
		case c.delta != best.delta:
			if c.delta < best.delta {
				best = c
			}
		case c.node < best.node:
			best = c
		}
	}
	return best
}

// sampleNodes picks up to k ids uniformly without replacement, preserving
// ascending order so candidate generation stays deterministic per rng seed.
func sampleNodes(rng *rand.Rand, ids []graph.NodeID, k int) []graph.NodeID {
	if k <= 0 || len(ids) <= k {
		return ids
	}
	idx := rng.Perm(len(ids))[:k]
	sort.Ints(idx)
	out := make([]graph.NodeID, 0, k)
	for _, i := range idx {
		out = append(out, ids[i])
	}
	return out
}
