package optimizers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellaran/treeopt/internal/testutil"
	"github.com/quellaran/treeopt/pkg/constraint"
	"github.com/quellaran/treeopt/pkg/errors"
	"github.com/quellaran/treeopt/pkg/eval"
	"github.com/quellaran/treeopt/pkg/graph"
)

func TestGeneticBestFitnessNeverRegresses(t *testing.T) {
	g := testutil.GridGraph(t, 8, 8)
	cs := constraint.New(g, constraint.WithPointBudget(0, 20))
	seed := testutil.SeedAllocation(t, g, 10)

	opt := NewGeneticOptimizer(g, cs, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage),
		GeneticConfig{
			PopulationSize: 12,
			MaxGenerations: 12,
			ElitismCount:   2,
			Seed:           5,
		})

	res, err := opt.Optimize(context.Background(), seed)
	require.NoError(t, err)
	require.NotEmpty(t, res.History)

	// With elitism and a deterministic evaluator, best fitness is monotone.
	for i := 1; i < len(res.History); i++ {
		assert.GreaterOrEqual(t, res.History[i], res.History[i-1],
			"generation %d regressed", i)
	}
	assert.GreaterOrEqual(t, res.Best.Fitness, 0.0, "best at least matches the seed")
}

func TestGeneticBestAllocationIsValid(t *testing.T) {
	g := testutil.GridGraph(t, 8, 8)
	protected := []graph.NodeID{1, 8}
	cs := constraint.New(g,
		constraint.WithPointBudget(0, 20),
		constraint.WithOccupiedSockets(protected...))
	seed := testutil.SeedAllocation(t, g, 10)

	opt := NewGeneticOptimizer(g, cs, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage),
		GeneticConfig{PopulationSize: 10, MaxGenerations: 8, Seed: 9})

	res, err := opt.Optimize(context.Background(), seed)
	require.NoError(t, err)

	best := res.Best.Alloc
	assert.True(t, best.Has(g.Root()))
	assert.True(t, g.IsConnected(best))
	for _, id := range protected {
		assert.True(t, best.Has(id), "protected node %d survived the run", id)
	}
	assert.LessOrEqual(t, best.Len(), 20)
}

func TestGeneticConvergesOnStagnation(t *testing.T) {
	g := testutil.GridGraph(t, 6, 6)
	cs := constraint.New(g)
	seed := testutil.SeedAllocation(t, g, 8)

	// Constant metrics: fitness can never improve, so the run stops after
	// one full stagnation window.
	flat := eval.EvaluatorFunc(func(context.Context, *graph.Allocation) (eval.Metrics, error) {
		return eval.Metrics{TotalDamage: 100}, nil
	})

	opt := NewGeneticOptimizer(g, cs, flat, NewObjective(eval.MetricTotalDamage),
		GeneticConfig{
			PopulationSize:   8,
			MaxGenerations:   50,
			StagnationWindow: 3,
			Seed:             21,
		})

	res, err := opt.Optimize(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Less(t, res.Generations, 50)
}

func TestGeneticAbsorbsCandidateFailures(t *testing.T) {
	g := testutil.GridGraph(t, 8, 8)
	cs := constraint.New(g)
	seed := testutil.SeedAllocation(t, g, 10)

	// Evaluations fail for one specific allocation size the seed never has;
	// such candidates sink to sentinel fitness but the run continues.
	inner := &testutil.WeightEvaluator{}
	flaky := eval.EvaluatorFunc(func(ctx context.Context, alloc *graph.Allocation) (eval.Metrics, error) {
		if alloc.Len() == 11 {
			return eval.Metrics{}, errors.New(errors.EvaluatorTimeout, "evaluation timed out")
		}
		return inner.Evaluate(ctx, alloc)
	})

	opt := NewGeneticOptimizer(g, cs, flaky, NewObjective(eval.MetricTotalDamage),
		GeneticConfig{PopulationSize: 10, MaxGenerations: 6, Seed: 33})

	res, err := opt.Optimize(context.Background(), seed)
	require.NoError(t, err, "per-candidate failures never abort the run")
	assert.Greater(t, res.FailedEvaluations, int64(0))
	require.NotNil(t, res.Best)
	assert.NotEqual(t, MinFitness, res.Best.Fitness)
}

func TestGeneticHardRejectKeepsPopulationValid(t *testing.T) {
	g := testutil.GridGraph(t, 8, 8)
	cs := constraint.New(g,
		constraint.WithPointBudget(0, 12),
		constraint.WithPolicy(constraint.HardReject))
	seed := testutil.SeedAllocation(t, g, 10)

	opt := NewGeneticOptimizer(g, cs, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage),
		GeneticConfig{PopulationSize: 10, MaxGenerations: 6, Seed: 15})

	res, err := opt.Optimize(context.Background(), seed)
	require.NoError(t, err)

	ok, violations := cs.Validate(res.Best.Alloc)
	assert.True(t, ok, "hard reject never lets an invalid winner through: %v", violations)
}

func TestGeneticAbortsWhenEvaluatorUnavailable(t *testing.T) {
	g := testutil.GridGraph(t, 6, 6)
	cs := constraint.New(g)
	seed := testutil.SeedAllocation(t, g, 8)

	inner := &testutil.WeightEvaluator{}
	calls := 0
	dying := eval.EvaluatorFunc(func(ctx context.Context, alloc *graph.Allocation) (eval.Metrics, error) {
		calls++
		if calls <= 5 {
			return inner.Evaluate(ctx, alloc)
		}
		return eval.Metrics{}, errors.New(errors.EvaluatorUnavailable, "no healthy evaluation workers available")
	})

	opt := NewGeneticOptimizer(g, cs, dying, NewObjective(eval.MetricTotalDamage),
		GeneticConfig{PopulationSize: 8, MaxGenerations: 10, Concurrency: 1, Seed: 27})

	res, err := opt.Optimize(context.Background(), seed)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.EvaluatorUnavailable))
	require.NotNil(t, res)
	assert.Equal(t, StatusAborted, res.Status)
}

func TestGeneticStopsOnCanceledContext(t *testing.T) {
	g := testutil.GridGraph(t, 6, 6)
	cs := constraint.New(g)
	seed := testutil.SeedAllocation(t, g, 8)

	ctx, cancel := context.WithCancel(context.Background())

	inner := &testutil.WeightEvaluator{}
	evaluator := eval.EvaluatorFunc(func(ctx context.Context, alloc *graph.Allocation) (eval.Metrics, error) {
		// Cancel after the baseline so the run dies at the first generation.
		defer cancel()
		return inner.Evaluate(ctx, alloc)
	})

	opt := NewGeneticOptimizer(g, cs, evaluator, NewObjective(eval.MetricTotalDamage),
		GeneticConfig{PopulationSize: 8, MaxGenerations: 10, Seed: 11})

	res, err := opt.Optimize(ctx, seed)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.Canceled))
	require.NotNil(t, res)
	assert.Equal(t, StatusAborted, res.Status)
}

func TestIndividualSummaryAndClone(t *testing.T) {
	alloc := graph.NewAllocation([]graph.NodeID{0, 1, 2})
	alloc.Select(2, 4)

	ind := NewIndividual(alloc, 3, "parent-a")
	assert.Equal(t, MinFitness, ind.Fitness)
	assert.Equal(t, []string{"parent-a"}, ind.ParentIDs)

	sum := ind.Summary()
	assert.Equal(t, 3, sum.NodeCount)
	assert.Equal(t, map[graph.NodeID]int{2: 4}, sum.Selections)
	assert.Same(t, sum, ind.Summary(), "summary is computed once")

	ind.Fitness = 12.5
	ind.Evaluated = true
	clone := ind.Clone(4)
	assert.NotEqual(t, ind.ID, clone.ID)
	assert.Equal(t, []string{ind.ID}, clone.ParentIDs)
	assert.Equal(t, 12.5, clone.Fitness)
	assert.True(t, clone.Evaluated)
	assert.Equal(t, 4, clone.Generation)

	clone.Alloc.Remove(1)
	assert.True(t, ind.Alloc.Has(1), "clone does not share the allocation")
}

func TestPopulationTracksBestAndHistory(t *testing.T) {
	a := NewIndividual(graph.NewAllocation([]graph.NodeID{0}), 0)
	a.Fitness = 1
	b := NewIndividual(graph.NewAllocation([]graph.NodeID{0, 1}), 0)
	b.Fitness = 5

	pop := NewPopulation([]*Individual{a, b})
	pop.Record()
	assert.Same(t, b, pop.Best())
	assert.Equal(t, []float64{5}, pop.History())

	// A weaker later generation never displaces the best-ever tracker.
	c := NewIndividual(graph.NewAllocation([]graph.NodeID{0}), 1)
	c.Fitness = 3
	pop.Members = []*Individual{c}
	pop.Record()
	assert.Same(t, b, pop.Best())
	assert.Equal(t, []float64{5, 5}, pop.History())
}
