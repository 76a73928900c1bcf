package optimizers

import (
	"context"
	"math"
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

// ParetoIndividual pairs an individual with its objective vector and
// dominance-ranking state.
type ParetoIndividual struct {
	*Individual
	Objectives []float64
	Rank       int
	Crowding   float64

	failed bool
}

// Dominates reports whether a Pareto-dominates b: at least as good in every
// objective and strictly better in at least one.
func Dominates(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	strict := false
	for i := range a {
		if a[i] < b[i] {
			return false
		}
		if a[i] > b[i] {
			strict = true
		}
	}
	return strict
}

// rankByDominance sorts individuals into non-dominated fronts: front 0 is
// dominated by nobody, front k only by earlier fronts. Pairwise comparison
// costs O(M*N^2); fine at tens of individuals, pick a faster algorithm
// before scaling to hundreds.
func rankByDominance(inds []*ParetoIndividual) [][]*ParetoIndividual {
	n := len(inds)
	dominatedBy := make([]int, n)
	dominatesIdx := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case Dominates(inds[i].Objectives, inds[j].Objectives):
				dominatesIdx[i] = append(dominatesIdx[i], j)
				dominatedBy[j]++
			case Dominates(inds[j].Objectives, inds[i].Objectives):
				dominatesIdx[j] = append(dominatesIdx[j], i)
				dominatedBy[i]++
			}
		}
	}

	var fronts [][]*ParetoIndividual
	var current []int
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			inds[i].Rank = 0
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		front := make([]*ParetoIndividual, 0, len(current))
		for _, i := range current {
			front = append(front, inds[i])
		}
		fronts = append(fronts, front)

		var next []int
		for _, i := range current {
			for _, j := range dominatesIdx[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					inds[j].Rank = len(fronts)
					next = append(next, j)
				}
			}
		}
		current = next
	}
	return fronts
}

// setCrowding assigns crowding distances within one front: boundary members
// per objective get infinite distance, interior members accumulate the
// normalized gap between their neighbors across all objectives.
func setCrowding(front []*ParetoIndividual) {
	if len(front) == 0 {
		return
	}
	for _, ind := range front {
		ind.Crowding = 0
	}

	m := len(front[0].Objectives)
	for obj := 0; obj < m; obj++ {
		obj := obj
		sort.SliceStable(front, func(i, j int) bool {
			return front[i].Objectives[obj] < front[j].Objectives[obj]
		})

		lo := front[0].Objectives[obj]
		hi := front[len(front)-1].Objectives[obj]
		front[0].Crowding = math.Inf(1)
		front[len(front)-1].Crowding = math.Inf(1)
		if hi == lo {
			continue
		}
		for i := 1; i < len(front)-1; i++ {
			if math.IsInf(front[i].Crowding, 1) {
				continue
			}
			front[i].Crowding += (front[i+1].Objectives[obj] - front[i-1].Objectives[obj]) / (hi - lo)
		}
	}
}

// preferred orders multi-objective individuals: lower rank first, then
// higher crowding distance.
func preferred(a, b *ParetoIndividual) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.Crowding > b.Crowding
}

// ParetoFrontier is the set of non-dominated individuals from a run.
type ParetoFrontier struct {
	Members        []*ParetoIndividual
	ObjectiveNames []string
}

// ExtractFrontier ranks the candidates and returns the non-dominated front
// with crowding distances assigned. Failed evaluations never appear.
func ExtractFrontier(inds []*ParetoIndividual, names []string) *ParetoFrontier {
	valid := make([]*ParetoIndividual, 0, len(inds))
	for _, ind := range inds {
		if !ind.failed && len(ind.Objectives) == len(names) {
			valid = append(valid, ind)
		}
	}
	fronts := rankByDominance(valid)
	if len(fronts) == 0 {
		return &ParetoFrontier{ObjectiveNames: names}
	}

	setCrowding(fronts[0])
	members := append([]*ParetoIndividual(nil), fronts[0]...)
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i].Objectives, members[j].Objectives
		for k := range a {
			if a[k] != b[k] {
				return a[k] > b[k]
			}
		}
		return members[i].ID < members[j].ID
	})
	return &ParetoFrontier{Members: members, ObjectiveNames: names}
}

// Size returns the number of frontier members.
func (f *ParetoFrontier) Size() int {
	return len(f.Members)
}

// ExtremePoints returns, per objective, the frontier member maximizing it.
func (f *ParetoFrontier) ExtremePoints() map[string]*ParetoIndividual {
	out := make(map[string]*ParetoIndividual, len(f.ObjectiveNames))
	for i, name := range f.ObjectiveNames {
		var best *ParetoIndividual
		for _, ind := range f.Members {
			if best == nil || ind.Objectives[i] > best.Objectives[i] {
				best = ind
			}
		}
		if best != nil {
			out[name] = best
		}
	}
	return out
}

// BalancedPick returns the frontier member with minimal variance across
// normalized objectives, the most even trade-off on the frontier.
func (f *ParetoFrontier) BalancedPick() *ParetoIndividual {
	if len(f.Members) == 0 {
		return nil
	}

	m := len(f.ObjectiveNames)
	mins := make([]float64, m)
	maxs := make([]float64, m)
	for i := 0; i < m; i++ {
		mins[i], maxs[i] = math.Inf(1), math.Inf(-1)
		for _, ind := range f.Members {
			mins[i] = math.Min(mins[i], ind.Objectives[i])
			maxs[i] = math.Max(maxs[i], ind.Objectives[i])
		}
	}

	var best *ParetoIndividual
	bestVariance := math.Inf(1)
	for _, ind := range f.Members {
		norm := make([]float64, m)
		mean := 0.0
		for i := 0; i < m; i++ {
			if maxs[i] == mins[i] {
				norm[i] = 0.5
			} else {
				norm[i] = (ind.Objectives[i] - mins[i]) / (maxs[i] - mins[i])
			}
			mean += norm[i]
		}
		mean /= float64(m)

		variance := 0.0
		for i := 0; i < m; i++ {
			variance += (norm[i] - mean) * (norm[i] - mean)
		}
		if variance < bestVariance {
			best = ind
			bestVariance = variance
		}
	}
	return best
}

// MultiObjectiveConfig holds Pareto engine parameters: the genetic mechanics
// plus the metric names forming the objective vector.
type MultiObjectiveConfig struct {
	Genetic    GeneticConfig `json:"genetic" yaml:"genetic"`
	Objectives []string      `json:"objectives" yaml:"objectives"`
}

// ParetoResult reports the outcome of one multi-objective run.
type ParetoResult struct {
	Frontier          *ParetoFrontier
	Generations       int
	Status            Status
	Evaluations       int64
	FailedEvaluations int64
}

// MultiObjectiveEngine reuses the genetic population mechanics but replaces
// scalar fitness with an objective vector, producing a Pareto frontier
// instead of a single winner.
type MultiObjectiveEngine struct {
	g           *graph.TreeGraph
	constraints *constraint.ConstraintSet
	evaluator   eval.Evaluator
	config      MultiObjectiveConfig
	vary        *variation
	rng         *rand.Rand
	logger      *logging.Logger

	evaluations atomic.Int64
	failures    atomic.Int64
}

// NewMultiObjectiveEngine wires a Pareto search maximizing the configured
// metrics. At least two objectives are required.
func NewMultiObjectiveEngine(g *graph.TreeGraph, cs *constraint.ConstraintSet, evaluator eval.Evaluator, config MultiObjectiveConfig) (*MultiObjectiveEngine, error) {
	if len(config.Objectives) < 2 {
		return nil, errors.New(errors.InvalidInput, "multi-objective engine requires at least two objectives")
	}
	config.Genetic = config.Genetic.withDefaults()
	seed := config.Genetic.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	return &MultiObjectiveEngine{
		g:           g,
		constraints: cs,
		evaluator:   evaluator,
		config:      config,
		rng:         rng,
		logger:      logging.GetLogger(),
		vary: &variation{
			g:           g,
			constraints: cs,
			rng:         rng,
			inclusion:   config.Genetic.InclusionProbability,
			minSize:     config.Genetic.MinSize,
		},
	}, nil
}

// Optimize evolves a population from the seed and returns the final Pareto
// frontier. Convergence means no objective's best value improved by more
// than epsilon for a full stagnation window.
func (e *MultiObjectiveEngine) Optimize(ctx context.Context, seed *graph.Allocation) (*ParetoResult, error) {
	if err := validateSeed(e.g, e.constraints, seed); err != nil {
		return nil, err
	}

	population := e.initialPopulation(seed)

	var maxHistory [][]float64
	status := StatusCompleted
	generations := 0
	for gen := 0; gen < e.config.Genetic.MaxGenerations; gen++ {
		generations = gen + 1

		if err := errors.CheckContext(ctx, "multi-objective optimization"); err != nil {
			return e.result(population, generations, StatusAborted), err
		}

		if err := e.evaluatePopulation(ctx, population); err != nil {
			return e.result(population, generations, StatusAborted), err
		}
		e.rank(population)

		frontier := ExtractFrontier(population, e.config.Objectives)
		e.logger.Debug(logging.WithGeneration(ctx, gen), "generation %d: frontier size %d", gen, frontier.Size())

		maxHistory = append(maxHistory, objectiveMaxima(population, len(e.config.Objectives)))
		if e.stagnated(maxHistory) {
			status = StatusConverged
			break
		}
		if gen == e.config.Genetic.MaxGenerations-1 {
			break
		}

		population = e.breed(population, gen+1)
	}

	return e.result(population, generations, status), nil
}

func (e *MultiObjectiveEngine) result(population []*ParetoIndividual, generations int, status Status) *ParetoResult {
	return &ParetoResult{
		Frontier:          ExtractFrontier(population, e.config.Objectives),
		Generations:       generations,
		Status:            status,
		Evaluations:       e.evaluations.Load(),
		FailedEvaluations: e.failures.Load(),
	}
}

func (e *MultiObjectiveEngine) initialPopulation(seed *graph.Allocation) []*ParetoIndividual {
	members := make([]*ParetoIndividual, 0, e.config.Genetic.PopulationSize)
	members = append(members, &ParetoIndividual{Individual: NewIndividual(seed.Clone(), 0)})
	for len(members) < e.config.Genetic.PopulationSize {
		alloc := seed.Clone()
		for i, n := 0, 1+e.rng.Intn(3); i < n; i++ {
			e.vary.mutate(alloc)
		}
		members = append(members, &ParetoIndividual{Individual: NewIndividual(alloc, 0)})
	}
	return members
}

func (e *MultiObjectiveEngine) evaluatePopulation(ctx context.Context, population []*ParetoIndividual) error {
	var unavailable atomic.Bool

	workers := pool.New().WithMaxGoroutines(e.config.Genetic.Concurrency)
	for _, ind := range population {
		if ind.Evaluated {
			continue
		}
		ind := ind
		workers.Go(func() {
			metrics, err := e.evaluator.Evaluate(ctx, ind.Alloc)
			e.evaluations.Add(1)
			if err != nil {
				ind.failed = true
				ind.Evaluated = true
				if e.failures.Add(1)%10 == 1 {
					e.logger.Warn(ctx, "evaluation failed for individual %s (%d failures so far): %v",
						ind.ID, e.failures.Load(), err)
				}
				if errors.HasCode(err, errors.EvaluatorUnavailable) {
					unavailable.Store(true)
				}
				return
			}
			ind.Objectives = e.objectiveVector(ind.Alloc, metrics)
			ind.Evaluated = true
		})
	}
	workers.Wait()

	if unavailable.Load() {
		return errors.New(errors.EvaluatorUnavailable, "evaluation pool exhausted during generation scoring")
	}
	return nil
}

// objectiveVector extracts the configured metrics, shaping each by the
// constraint penalty under soft-penalize so invalid candidates sink in every
// objective at once. Hard-reject floors the whole vector instead.
func (e *MultiObjectiveEngine) objectiveVector(alloc *graph.Allocation, metrics eval.Metrics) []float64 {
	out := make([]float64, len(e.config.Objectives))
	for i, name := range e.config.Objectives {
		out[i], _ = metrics.Value(name)
	}
	if ok, _ := e.constraints.Validate(alloc); !ok {
		if e.constraints.Policy() == constraint.HardReject {
			for i := range out {
				out[i] = MinFitness
			}
			return out
		}
		penalty := e.config.Genetic.PenaltyScale * e.constraints.Penalty(alloc)
		for i := range out {
			out[i] -= penalty
		}
	}
	return out
}

// rank assigns dominance ranks and crowding distances across the whole
// population. Failed individuals land behind every real front.
func (e *MultiObjectiveEngine) rank(population []*ParetoIndividual) {
	valid := make([]*ParetoIndividual, 0, len(population))
	worst := 0
	for _, ind := range population {
		if ind.failed {
			continue
		}
		valid = append(valid, ind)
	}
	for _, front := range rankByDominance(valid) {
		setCrowding(front)
		worst++
	}
	for _, ind := range population {
		if ind.failed {
			ind.Rank = worst + 1
			ind.Crowding = 0
		}
	}
}

func (e *MultiObjectiveEngine) breed(population []*ParetoIndividual, generation int) []*ParetoIndividual {
	ranked := append([]*ParetoIndividual(nil), population...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return preferred(ranked[i], ranked[j])
	})

	next := make([]*ParetoIndividual, 0, e.config.Genetic.PopulationSize)
	for i := 0; i < e.config.Genetic.ElitismCount && i < len(ranked); i++ {
		elite := &ParetoIndividual{
			Individual: ranked[i].Individual.Clone(generation),
			Objectives: ranked[i].Objectives,
			Rank:       ranked[i].Rank,
			Crowding:   ranked[i].Crowding,
		}
		next = append(next, elite)
	}

	for len(next) < e.config.Genetic.PopulationSize {
		a := e.tournament(population)
		b := e.tournament(population)
		fitter, other := a, b
		if preferred(b, a) {
			fitter, other = b, a
		}

		var childAlloc *graph.Allocation
		if e.rng.Float64() < e.config.Genetic.CrossoverRate {
			childAlloc = e.vary.crossover(fitter.Alloc, other.Alloc)
		} else {
			childAlloc = fitter.Alloc.Clone()
		}
		if e.rng.Float64() < e.config.Genetic.MutationRate {
			e.vary.mutate(childAlloc)
		}
		childAlloc = e.enforce(childAlloc, fitter.Alloc)

		next = append(next, &ParetoIndividual{
			Individual: NewIndividual(childAlloc, generation, fitter.ID, other.ID),
		})
	}
	return next
}

// enforce applies the hard-reject policy at breeding time, mirroring the
// single-objective optimizer: repair the offspring or fall back to a copy of
// its fitter parent.
func (e *MultiObjectiveEngine) enforce(child, fallback *graph.Allocation) *graph.Allocation {
	if e.constraints.Policy() != constraint.HardReject {
		return child
	}
	if ok, _ := e.constraints.Validate(child); ok {
		return child
	}
	if repaired, ok := e.constraints.Repair(child); ok {
		return repaired
	}
	return fallback.Clone()
}

func (e *MultiObjectiveEngine) tournament(population []*ParetoIndividual) *ParetoIndividual {
	best := population[e.rng.Intn(len(population))]
	for i := 1; i < e.config.Genetic.TournamentSize; i++ {
		if c := population[e.rng.Intn(len(population))]; preferred(c, best) {
			best = c
		}
	}
	return best
}

// objectiveMaxima is the per-objective best value in the population, the
// stagnation signal for convergence.
func objectiveMaxima(population []*ParetoIndividual, m int) []float64 {
	maxima := make([]float64, m)
	for i := range maxima {
		maxima[i] = math.Inf(-1)
	}
	for _, ind := range population {
		if ind.failed {
			continue
		}
		for i, v := range ind.Objectives {
			maxima[i] = math.Max(maxima[i], v)
		}
	}
	return maxima
}

func (e *MultiObjectiveEngine) stagnated(maxHistory [][]float64) bool {
	w := e.config.Genetic.StagnationWindow
	if len(maxHistory) <= w {
		return false
	}
	latest := maxHistory[len(maxHistory)-1]
	previous := maxHistory[len(maxHistory)-1-w]
	for i := range latest {
		if latest[i]-previous[i] > e.config.Genetic.StagnationEpsilon {
			return false
		}
	}
	return true
}
