// Package optimizers contains the allocation search strategies: greedy local
// search, a population-based genetic optimizer, and a multi-objective Pareto
// engine built on the same population mechanics.
package optimizers

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quellaran/treeopt/pkg/graph"
)

// MinFitness is the sentinel fitness for candidates whose evaluation failed
// or that a hard-reject policy ruled out. Any real score beats it.
var MinFitness = math.Inf(-1)

// Status reports how an optimization run ended.
type Status string

const (
	// StatusCompleted means the run used its full iteration budget.
	StatusCompleted Status = "completed"

	// StatusConverged means the run stopped early with no further improvement.
	StatusConverged Status = "converged"

	// StatusAborted means a systemic failure stopped the run. Partial results
	// are still reported.
	StatusAborted Status = "aborted"
)

// Individual is one candidate solution: an allocation plus its fitness and
// lineage. Individuals are created at mutation/crossover time and discarded
// when not selected.
type Individual struct {
	ID         string
	Alloc      *graph.Allocation
	Generation int
	Fitness    float64
	Evaluated  bool
	ParentIDs  []string
	CreatedAt  time.Time

	summary *Summary
}

// NewIndividual wraps an allocation with a fresh identity and sentinel fitness.
func NewIndividual(alloc *graph.Allocation, generation int, parents ...string) *Individual {
	return &Individual{
		ID:         uuid.New().String(),
		Alloc:      alloc,
		Generation: generation,
		Fitness:    MinFitness,
		ParentIDs:  parents,
		CreatedAt:  time.Now(),
	}
}

// Summary is derived allocation state, computed once on first use.
type Summary struct {
	NodeCount  int
	Selections map[graph.NodeID]int
}

// Summary returns the lazily-built summary of the individual's allocation.
func (ind *Individual) Summary() *Summary {
	if ind.summary == nil {
		ind.summary = &Summary{
			NodeCount:  ind.Alloc.Len(),
			Selections: ind.Alloc.Selections(),
		}
	}
	return ind.summary
}

// Clone copies the individual into a new generation with a fresh identity,
// preserving its evaluated fitness. Used for elitism.
func (ind *Individual) Clone(generation int) *Individual {
	out := NewIndividual(ind.Alloc.Clone(), generation, ind.ID)
	out.Fitness = ind.Fitness
	out.Evaluated = ind.Evaluated
	return out
}

// Population holds one generation of individuals plus run-long bookkeeping:
// the best individual ever seen and the best fitness per generation.
type Population struct {
	Members    []*Individual
	Generation int

	best    *Individual
	history []float64
}

// NewPopulation wraps generation-zero members.
func NewPopulation(members []*Individual) *Population {
	return &Population{Members: members}
}

// Record closes out the current generation after evaluation, updating the
// best-ever tracker and the fitness history.
func (p *Population) Record() {
	for _, ind := range p.Members {
		if p.best == nil || ind.Fitness > p.best.Fitness {
			p.best = ind
		}
	}
	best := MinFitness
	if p.best != nil {
		best = p.best.Fitness
	}
	p.history = append(p.history, best)
}

// Best returns the best individual seen across all generations so far.
func (p *Population) Best() *Individual {
	return p.best
}

// History returns the best fitness recorded for each generation.
func (p *Population) History() []float64 {
	out := make([]float64, len(p.history))
	copy(out, p.history)
	return out
}

// SortByFitness orders members best-first. The sort is stable so equal
// fitness preserves insertion order, keeping runs deterministic.
func (p *Population) SortByFitness() {
	sort.SliceStable(p.Members, func(i, j int) bool {
		return p.Members[i].Fitness > p.Members[j].Fitness
	})
}
