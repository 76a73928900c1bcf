package logging

import "context"

type contextKey string

const (
	runIDKey      contextKey = "treeopt_run_id"
	generationKey contextKey = "treeopt_generation"
)

// WithRunID attaches an optimization run identifier to the context. Entries
// logged with this context carry the run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID extracts the run identifier from the context.
func GetRunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok
}

// WithGeneration attaches the current generation number to the context.
func WithGeneration(ctx context.Context, generation int) context.Context {
	return context.WithValue(ctx, generationKey, generation)
}

// GetGeneration extracts the generation number from the context.
func GetGeneration(ctx context.Context) (int, bool) {
	g, ok := ctx.Value(generationKey).(int)
	return g, ok
}
