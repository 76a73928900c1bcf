// Package treeopt searches large constrained node graphs for allocations
// that maximize externally-scored objectives.
//
// The library targets "talent tree" style graphs: a few thousand nodes, a
// designated root, and candidate solutions that must stay connected to that
// root while respecting a point budget, attribute minimums, and regions
// owned by external systems. Scoring is delegated to a black-box evaluator,
// typically a pool of persistent calculator processes driven over a
// line-oriented protocol.
//
// Key Components:
//
//   - graph: Immutable topology with node metadata, BFS connectivity checks
//     and multi-source shortest paths tuned for hot-loop use.
//
//   - constraint: Protected-node computation, budget/attribute/socket
//     validation, and automatic repair with a configurable soft-penalize or
//     hard-reject policy.
//
//   - eval: The Evaluator contract, a resilient worker pool wrapping
//     external calculator processes, and memoization keyed by canonical
//     allocation hashes.
//
//   - optimizers: A hill-climbing Greedy optimizer, a population-based
//     Genetic optimizer with connectivity-preserving crossover and
//     mutation, and a MultiObjective engine producing Pareto frontiers
//     with crowding-distance diversity.
//
//   - config: YAML run configuration with validation.
//
//   - logging, errors, cache: Structured logging, typed error codes, and
//     pluggable memory/SQLite caches shared across the library.
//
// Construction is explicit everywhere: graphs, constraint sets, pools and
// caches are built once per run and passed into optimizer constructors.
// There is no ambient global state beyond the default logger.
package treeopt
