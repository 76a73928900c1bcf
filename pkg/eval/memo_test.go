package eval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellaran/treeopt/internal/testutil"
	"github.com/quellaran/treeopt/pkg/cache"
	"github.com/quellaran/treeopt/pkg/eval"
	"github.com/quellaran/treeopt/pkg/graph"
)

func TestMemoEvaluatorDispatchesOnce(t *testing.T) {
	store, err := cache.New(cache.Config{})
	require.NoError(t, err)
	defer store.Close()

	inner := &testutil.WeightEvaluator{}
	memo := eval.NewMemoEvaluator(inner, store)
	ctx := context.Background()

	alloc := graph.NewAllocation([]graph.NodeID{0, 1, 2})

	first, err := memo.Evaluate(ctx, alloc)
	require.NoError(t, err)
	second, err := memo.Evaluate(ctx, alloc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.Calls(), "second call served from cache")

	// An equivalent allocation built in a different order also hits.
	same := graph.NewAllocation([]graph.NodeID{2, 0, 1})
	_, err = memo.Evaluate(ctx, same)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.Calls())

	// A different allocation misses.
	other := graph.NewAllocation([]graph.NodeID{0, 1, 3})
	_, err = memo.Evaluate(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.Calls())
}

func TestMemoEvaluatorDistinguishesSelections(t *testing.T) {
	store, err := cache.New(cache.Config{})
	require.NoError(t, err)
	defer store.Close()

	inner := &testutil.WeightEvaluator{}
	memo := eval.NewMemoEvaluator(inner, store)
	ctx := context.Background()

	plain := graph.NewAllocation([]graph.NodeID{0, 1})
	selected := graph.NewAllocation([]graph.NodeID{0, 1})
	selected.Select(1, 4)

	base, err := memo.Evaluate(ctx, plain)
	require.NoError(t, err)
	withEffect, err := memo.Evaluate(ctx, selected)
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.Calls())
	assert.InDelta(t, base.TotalDamage+4, withEffect.TotalDamage, 1e-9)
}

func TestMemoEvaluatorPropagatesErrors(t *testing.T) {
	store, err := cache.New(cache.Config{})
	require.NoError(t, err)
	defer store.Close()

	failing := eval.EvaluatorFunc(func(context.Context, *graph.Allocation) (eval.Metrics, error) {
		return eval.Metrics{}, assert.AnError
	})
	memo := eval.NewMemoEvaluator(failing, store)

	_, err = memo.Evaluate(context.Background(), graph.NewAllocation([]graph.NodeID{0}))
	assert.ErrorIs(t, err, assert.AnError)
}
