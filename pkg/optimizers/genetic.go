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

// GeneticConfig holds genetic optimizer parameters.
type GeneticConfig struct {
	// Number of individuals per generation.
	PopulationSize int `json:"population_size" yaml:"population_size"`

	// Generation cap.
	MaxGenerations int `json:"max_generations" yaml:"max_generations"`

	// Top individuals copied unchanged into the next generation.
	ElitismCount int `json:"elitism_count" yaml:"elitism_count"`

	// Tournament size for parent selection.
	TournamentSize int `json:"tournament_size" yaml:"tournament_size"`

	// Probability of crossover per offspring; otherwise the fitter parent is
	// cloned.
	CrossoverRate float64 `json:"crossover_rate" yaml:"crossover_rate"`

	// Probability of mutating an offspring.
	MutationRate float64 `json:"mutation_rate" yaml:"mutation_rate"`

	// Probability a parent-unique node is kept during crossover.
	InclusionProbability float64 `json:"inclusion_probability" yaml:"inclusion_probability"`

	// Minimum allocation size the removal mutation must preserve.
	MinSize int `json:"min_size" yaml:"min_size"`

	// StagnationWindow and StagnationEpsilon stop the run when best fitness
	// has improved by at most epsilon over the last window generations.
	StagnationWindow  int     `json:"stagnation_window" yaml:"stagnation_window"`
	StagnationEpsilon float64 `json:"stagnation_epsilon" yaml:"stagnation_epsilon"`

	// Concurrency bounds fitness evaluation fan-out per generation.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// PenaltyScale weights constraint penalties under soft-penalize.
	PenaltyScale float64 `json:"penalty_scale" yaml:"penalty_scale"`

	// Seed for the run's randomness; 0 seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultGeneticConfig returns the default genetic parameters.
func DefaultGeneticConfig() GeneticConfig {
	return GeneticConfig{
		PopulationSize:       30,
		MaxGenerations:       50,
		ElitismCount:         2,
		TournamentSize:       3,
		CrossoverRate:        0.9,
		MutationRate:         0.3,
		InclusionProbability: 0.5,
		MinSize:              1,
		StagnationWindow:     10,
		StagnationEpsilon:    1e-6,
		Concurrency:          4,
		PenaltyScale:         10,
	}
}

func (c GeneticConfig) withDefaults() GeneticConfig {
	defaults := DefaultGeneticConfig()
	if c.PopulationSize <= 0 {
		c.PopulationSize = defaults.PopulationSize
	}
	if c.MaxGenerations <= 0 {
		c.MaxGenerations = defaults.MaxGenerations
	}
	if c.TournamentSize <= 0 {
		c.TournamentSize = defaults.TournamentSize
	}
	if c.CrossoverRate <= 0 {
		c.CrossoverRate = defaults.CrossoverRate
	}
	if c.MutationRate <= 0 {
		c.MutationRate = defaults.MutationRate
	}
	if c.InclusionProbability <= 0 {
		c.InclusionProbability = defaults.InclusionProbability
	}
	if c.MinSize <= 0 {
		c.MinSize = defaults.MinSize
	}
	if c.StagnationWindow <= 0 {
		c.StagnationWindow = defaults.StagnationWindow
	}
	if c.StagnationEpsilon <= 0 {
		c.StagnationEpsilon = defaults.StagnationEpsilon
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.PenaltyScale <= 0 {
		c.PenaltyScale = defaults.PenaltyScale
	}
	return c
}

// GeneticResult reports the outcome of one genetic run.
type GeneticResult struct {
	Best              *Individual
	Generations       int
	History           []float64
	Status            Status
	Evaluations       int64
	FailedEvaluations int64
}

// GeneticOptimizer searches with a population: each generation is evaluated
// concurrently, the top E individuals survive unchanged, and the rest are
// bred by tournament selection, union crossover, and single-step mutation.
type GeneticOptimizer struct {
	g           *graph.TreeGraph
	constraints *constraint.ConstraintSet
	evaluator   eval.Evaluator
	objective   *Objective
	config      GeneticConfig
	vary        *variation
	rng         *rand.Rand
	logger      *logging.Logger

	evaluations atomic.Int64
	failures    atomic.Int64
}

// NewGeneticOptimizer wires a genetic search over the given graph,
// constraints, and evaluator.
func NewGeneticOptimizer(g *graph.TreeGraph, cs *constraint.ConstraintSet, evaluator eval.Evaluator, objective *Objective, config GeneticConfig) *GeneticOptimizer {
	config = config.withDefaults()
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	return &GeneticOptimizer{
		g:           g,
		constraints: cs,
		evaluator:   evaluator,
		objective:   objective,
		config:      config,
		rng:         rng,
		logger:      logging.GetLogger(),
		vary: &variation{
			g:           g,
			constraints: cs,
			rng:         rng,
			inclusion:   config.InclusionProbability,
			minSize:     config.MinSize,
		},
	}
}

// Optimize evolves a population from the seed allocation. It returns the
// best individual found plus run statistics; systemic evaluator failure
// aborts with the best found so far.
func (o *GeneticOptimizer) Optimize(ctx context.Context, seed *graph.Allocation) (*GeneticResult, error) {
	if err := validateSeed(o.g, o.constraints, seed); err != nil {
		return nil, err
	}

	seedMetrics, err := o.evaluator.Evaluate(ctx, seed)
	o.evaluations.Add(1)
	if err != nil {
		return nil, errors.Wrap(err, errors.EvaluatorUnavailable, "failed to establish seed baseline")
	}
	o.objective.SetBaseline(seedMetrics)

	population := NewPopulation(o.initialPopulation(seed))

	status := StatusCompleted
	generations := 0
	for gen := 0; gen < o.config.MaxGenerations; gen++ {
		generations = gen + 1

		if err := errors.CheckContext(ctx, "genetic optimization"); err != nil {
			return o.result(population, generations, StatusAborted), err
		}

		if err := o.evaluatePopulation(ctx, population); err != nil {
			return o.result(population, generations, StatusAborted), err
		}
		population.Record()

		best := population.Best()
		o.logger.Debug(logging.WithGeneration(ctx, gen), "generation %d: best fitness %.4f (%d nodes)",
			gen, best.Fitness, best.Summary().NodeCount)

		if o.stagnated(population.History()) {
			status = StatusConverged
			break
		}
		if gen == o.config.MaxGenerations-1 {
			break
		}

		population = &Population{
			Members:    o.breed(population),
			Generation: population.Generation + 1,
			best:       population.best,
			history:    population.history,
		}
	}

	return o.result(population, generations, status), nil
}

func (o *GeneticOptimizer) result(population *Population, generations int, status Status) *GeneticResult {
	return &GeneticResult{
		Best:              population.Best(),
		Generations:       generations,
		History:           population.History(),
		Status:            status,
		Evaluations:       o.evaluations.Load(),
		FailedEvaluations: o.failures.Load(),
	}
}

// initialPopulation is the seed plus randomly mutated variants of it.
func (o *GeneticOptimizer) initialPopulation(seed *graph.Allocation) []*Individual {
	members := make([]*Individual, 0, o.config.PopulationSize)
	members = append(members, NewIndividual(seed.Clone(), 0))
	for len(members) < o.config.PopulationSize {
		alloc := seed.Clone()
		for i, n := 0, 1+o.rng.Intn(3); i < n; i++ {
			o.vary.mutate(alloc)
		}
		members = append(members, NewIndividual(alloc, 0))
	}
	return members
}

// evaluatePopulation scores all unevaluated members concurrently, bounded by
// the configured concurrency. Per-candidate failures become MinFitness; only
// full evaluator unavailability is returned as an error.
func (o *GeneticOptimizer) evaluatePopulation(ctx context.Context, population *Population) error {
	var unavailable atomic.Bool

	workers := pool.New().WithMaxGoroutines(o.config.Concurrency)
	for _, ind := range population.Members {
		if ind.Evaluated {
			continue
		}
		ind := ind
		workers.Go(func() {
			metrics, err := o.evaluator.Evaluate(ctx, ind.Alloc)
			o.evaluations.Add(1)
			if err != nil {
				ind.Fitness = MinFitness
				ind.Evaluated = true
				if o.failures.Add(1)%10 == 1 {
					o.logger.Warn(ctx, "evaluation failed for individual %s (%d failures so far): %v",
						ind.ID, o.failures.Load(), err)
				}
				if errors.HasCode(err, errors.EvaluatorUnavailable) {
					unavailable.Store(true)
				}
				return
			}
			ind.Fitness = scoreAllocation(o.constraints, o.objective, o.config.PenaltyScale, ind.Alloc, metrics)
			ind.Evaluated = true
		})
	}
	workers.Wait()

	if unavailable.Load() {
		return errors.New(errors.EvaluatorUnavailable, "evaluation pool exhausted during generation scoring")
	}
	return nil
}

// breed builds the next generation: elites first, then tournament-selected
// parents crossed over and mutated.
func (o *GeneticOptimizer) breed(population *Population) []*Individual {
	nextGen := population.Generation + 1

	ranked := append([]*Individual(nil), population.Members...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness > ranked[j].Fitness
	})

	next := make([]*Individual, 0, o.config.PopulationSize)
	for i := 0; i < o.config.ElitismCount && i < len(ranked); i++ {
		next = append(next, ranked[i].Clone(nextGen))
	}

	for len(next) < o.config.PopulationSize {
		a := o.tournament(population.Members)
		b := o.tournament(population.Members)
		fitter, other := a, b
		if b.Fitness > a.Fitness {
			fitter, other = b, a
		}

		var childAlloc *graph.Allocation
		if o.rng.Float64() < o.config.CrossoverRate {
			childAlloc = o.vary.crossover(fitter.Alloc, other.Alloc)
		} else {
			childAlloc = fitter.Alloc.Clone()
		}
		if o.rng.Float64() < o.config.MutationRate {
			o.vary.mutate(childAlloc)
		}
		childAlloc = o.enforce(childAlloc, fitter.Alloc)

		next = append(next, NewIndividual(childAlloc, nextGen, fitter.ID, other.ID))
	}
	return next
}

// enforce applies the hard-reject policy at breeding time: an invalid
// offspring is repaired when possible and otherwise replaced by a copy of
// its fitter parent. Under soft-penalize the offspring passes through and
// scoring shapes its fitness instead.
func (o *GeneticOptimizer) enforce(child, fallback *graph.Allocation) *graph.Allocation {
	if o.constraints.Policy() != constraint.HardReject {
		return child
	}
	if ok, _ := o.constraints.Validate(child); ok {
		return child
	}
	if repaired, ok := o.constraints.Repair(child); ok {
		return repaired
	}
	return fallback.Clone()
}

func (o *GeneticOptimizer) tournament(members []*Individual) *Individual {
	best := members[o.rng.Intn(len(members))]
	for i := 1; i < o.config.TournamentSize; i++ {
		if c := members[o.rng.Intn(len(members))]; c.Fitness > best.Fitness {
			best = c
		}
	}
	return best
}

// stagnated reports whether best fitness improved by at most epsilon over
// the last StagnationWindow generations.
func (o *GeneticOptimizer) stagnated(history []float64) bool {
	w := o.config.StagnationWindow
	if len(history) <= w {
		return false
	}
	latest := history[len(history)-1]
	previous := history[len(history)-1-w]
	return latest-previous <= o.config.StagnationEpsilon
}
