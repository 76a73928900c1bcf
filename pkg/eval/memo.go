package eval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quellaran/treeopt/pkg/cache"
	"github.com/quellaran/treeopt/pkg/graph"
	"github.com/quellaran/treeopt/pkg/logging"
)

// MemoEvaluator wraps an Evaluator with allocation-keyed memoization.
// Identical candidates within or across generations hit the cache instead of
// the worker pool. Cache failures degrade to plain evaluation.
type MemoEvaluator struct {
	inner  Evaluator
	store  cache.Cache
	keys   *cache.KeyGenerator
	ttl    time.Duration
	logger *logging.Logger
}

// MemoOption configures a MemoEvaluator.
type MemoOption func(*MemoEvaluator)

// WithTTL bounds how long cached results live. Zero means no expiry.
func WithTTL(ttl time.Duration) MemoOption {
	return func(m *MemoEvaluator) { m.ttl = ttl }
}

// WithKeyPrefix namespaces cache keys, so runs against different graphs or
// calculator versions can share one store without collisions.
func WithKeyPrefix(prefix string) MemoOption {
	return func(m *MemoEvaluator) { m.keys = cache.NewKeyGenerator(prefix) }
}

// NewMemoEvaluator wraps inner with memoization backed by store.
func NewMemoEvaluator(inner Evaluator, store cache.Cache, opts ...MemoOption) *MemoEvaluator {
	m := &MemoEvaluator{
		inner:  inner,
		store:  store,
		keys:   cache.NewKeyGenerator(""),
		logger: logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoEvaluator) Evaluate(ctx context.Context, alloc *graph.Allocation) (Metrics, error) {
	key := m.keys.AllocationKey(alloc)

	if data, found, err := m.store.Get(ctx, key); err == nil && found {
		var metrics Metrics
		if err := json.Unmarshal(data, &metrics); err == nil {
			return metrics, nil
		}
		// Unreadable entry; drop it and re-evaluate.
		_ = m.store.Delete(ctx, key)
	}

	metrics, err := m.inner.Evaluate(ctx, alloc)
	if err != nil {
		return Metrics{}, err
	}

	if data, err := json.Marshal(metrics); err == nil {
		if err := m.store.Set(ctx, key, data, m.ttl); err != nil {
			m.logger.Debug(ctx, "failed to cache evaluation result: %v", err)
		}
	}
	return metrics, nil
}
