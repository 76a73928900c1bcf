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

func TestGreedyEndToEnd(t *testing.T) {
	// 200-node synthetic graph, 50-node connected seed, budget max 60.
	g := testutil.GridGraph(t, 10, 20)
	cs := constraint.New(g, constraint.WithPointBudget(0, 60))
	seed := testutil.SeedAllocation(t, g, 50)

	opt := NewGreedyOptimizer(g, cs, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage),
		GreedyConfig{MaxIterations: 20, Seed: 7})

	res, err := opt.Optimize(context.Background(), seed)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Fitness, res.SeedFitness)
	assert.LessOrEqual(t, res.Best.Len(), 60)
	assert.True(t, g.IsConnected(res.Best))
	assert.Contains(t, []Status{StatusCompleted, StatusConverged}, res.Status)
	assert.Greater(t, res.Evaluations, int64(1))
}

func TestGreedyIsDeterministicPerSeed(t *testing.T) {
	g := testutil.GridGraph(t, 8, 8)
	cs := constraint.New(g, constraint.WithPointBudget(0, 20))
	seed := testutil.SeedAllocation(t, g, 10)

	run := func() []graph.NodeID {
		opt := NewGreedyOptimizer(g, cs, &testutil.WeightEvaluator{},
			NewObjective(eval.MetricTotalDamage),
			GreedyConfig{MaxIterations: 10, Seed: 42})
		res, err := opt.Optimize(context.Background(), seed)
		require.NoError(t, err)
		return res.Best.SortedNodes()
	}

	assert.Equal(t, run(), run())
}

func TestGreedyRejectsInvalidSeed(t *testing.T) {
	g := testutil.GridGraph(t, 4, 4)
	cs := constraint.New(g)
	opt := NewGreedyOptimizer(g, cs, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage), GreedyConfig{})

	// Missing root.
	_, err := opt.Optimize(context.Background(), graph.NewAllocation([]graph.NodeID{1, 2}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidSeed))

	// Disconnected.
	_, err = opt.Optimize(context.Background(), graph.NewAllocation([]graph.NodeID{0, 15}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidSeed))
	assert.True(t, errors.HasCode(err, errors.ConnectivityViolation))

	// Over budget under hard reject.
	strict := constraint.New(g,
		constraint.WithPointBudget(0, 2),
		constraint.WithPolicy(constraint.HardReject))
	opt = NewGreedyOptimizer(g, strict, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage), GreedyConfig{})
	_, err = opt.Optimize(context.Background(), testutil.SeedAllocation(t, g, 5))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidSeed))
	assert.True(t, errors.HasCode(err, errors.ConstraintViolation))
}

func TestGreedyMasteryPass(t *testing.T) {
	nodes := []graph.Node{
		{ID: 0, Type: graph.NodeNormal},
		{ID: 1, Type: graph.NodeMastery, Effects: []int{1, 5, 3}},
	}
	g, err := graph.New(0, nodes, [][2]graph.NodeID{{0, 1}})
	require.NoError(t, err)
	cs := constraint.New(g, constraint.WithPointBudget(0, 2))

	opt := NewGreedyOptimizer(g, cs, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage),
		GreedyConfig{MaxIterations: 1, Seed: 1})

	res, err := opt.Optimize(context.Background(), graph.NewAllocation([]graph.NodeID{0, 1}))
	require.NoError(t, err)

	// The weight evaluator scores each effect by its numeric value, so the
	// secondary pass must pick 5. The config leaves SkipMasteryPass at its
	// zero value: the pass runs by default.
	effect, ok := res.Best.SelectedEffect(1)
	require.True(t, ok)
	assert.Equal(t, 5, effect)
}

func TestGreedySkipMasteryPass(t *testing.T) {
	nodes := []graph.Node{
		{ID: 0, Type: graph.NodeNormal},
		{ID: 1, Type: graph.NodeMastery, Effects: []int{1, 5, 3}},
	}
	g, err := graph.New(0, nodes, [][2]graph.NodeID{{0, 1}})
	require.NoError(t, err)
	cs := constraint.New(g, constraint.WithPointBudget(0, 2))

	opt := NewGreedyOptimizer(g, cs, &testutil.WeightEvaluator{},
		NewObjective(eval.MetricTotalDamage),
		GreedyConfig{MaxIterations: 1, SkipMasteryPass: true, Seed: 1})

	res, err := opt.Optimize(context.Background(), graph.NewAllocation([]graph.NodeID{0, 1}))
	require.NoError(t, err)

	_, ok := res.Best.SelectedEffect(1)
	assert.False(t, ok, "no effect is selected when the pass is disabled")
}

func TestGreedyStopsOnCanceledContext(t *testing.T) {
	g := testutil.GridGraph(t, 8, 8)
	cs := constraint.New(g)
	seed := testutil.SeedAllocation(t, g, 10)

	ctx, cancel := context.WithCancel(context.Background())

	inner := &testutil.WeightEvaluator{}
	evaluator := eval.EvaluatorFunc(func(ctx context.Context, alloc *graph.Allocation) (eval.Metrics, error) {
		// Cancel after the baseline so the run dies at the next iteration.
		defer cancel()
		return inner.Evaluate(ctx, alloc)
	})

	opt := NewGreedyOptimizer(g, cs, evaluator,
		NewObjective(eval.MetricTotalDamage),
		GreedyConfig{MaxIterations: 10, SkipMasteryPass: true, Seed: 3})

	res, err := opt.Optimize(ctx, seed)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.Canceled))
	require.NotNil(t, res)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, seed.SortedNodes(), res.Best.SortedNodes())
}

func TestGreedyAbortsWhenEvaluatorUnavailable(t *testing.T) {
	g := testutil.GridGraph(t, 8, 8)
	cs := constraint.New(g)
	seed := testutil.SeedAllocation(t, g, 10)

	inner := &testutil.WeightEvaluator{}
	calls := 0
	evaluator := eval.EvaluatorFunc(func(ctx context.Context, alloc *graph.Allocation) (eval.Metrics, error) {
		calls++
		if calls == 1 {
			return inner.Evaluate(ctx, alloc)
		}
		return eval.Metrics{}, errors.New(errors.EvaluatorUnavailable, "no healthy evaluation workers available")
	})

	opt := NewGreedyOptimizer(g, cs, evaluator,
		NewObjective(eval.MetricTotalDamage),
		GreedyConfig{MaxIterations: 5, Concurrency: 1, SkipMasteryPass: true, Seed: 3})

	res, err := opt.Optimize(context.Background(), seed)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.EvaluatorUnavailable))
	require.NotNil(t, res, "best so far is still reported")
	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, seed.SortedNodes(), res.Best.SortedNodes())
}

func TestBestCandidateTieBreaks(t *testing.T) {
	a := &greedyCandidate{node: 9, delta: 1, fitness: 2}
	b := &greedyCandidate{node: 4, delta: -1, fitness: 2}
	c := &greedyCandidate{node: 2, delta: -1, fitness: 2}
	d := &greedyCandidate{node: 1, delta: 1, fitness: 1}

	// Equal fitness prefers the smaller point delta, then the lower node id.
	assert.Same(t, c, bestCandidate([]*greedyCandidate{a, b, c, d}))
	assert.Same(t, b, bestCandidate([]*greedyCandidate{a, b, d}))
	assert.Same(t, a, bestCandidate([]*greedyCandidate{a, d}))
}
