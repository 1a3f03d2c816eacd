// Package deltastream is an in-process incremental computation engine.
//
// Computations are expressed over Z-sets, weighted collections where the
// weight of an element records how many times it was added minus how many
// times it was removed. A query written against full collections can be
// run against small deltas instead: the circuit package provides the
// integration, differentiation and delay operators that turn a batch
// query into its incremental form, so each step does work proportional
// to its input delta rather than to the accumulated state.
//
// The repository is organised as follows:
//
//   - zset: the weighted-collection algebra (add, negate, filter, map,
//     join, distinct, aggregates)
//   - circuit: dataflow graphs of lifted operators with per-step
//     evaluation and feedback through unit delays
//   - columnar: a column-oriented table with bitmap selection masks for
//     analytical scans
//   - freshq: a bounded queue that favours fresh data, dropping the
//     oldest entries on overflow and stale entries on dequeue
//   - processor: batch schedulers that drain a queue, apply a Z-set
//     transform and fan results out to subscribers, in a strict
//     (process everything, in order) and a freshness (bounded lag)
//     variant
//   - engine: lifecycle composition of processors with shared metrics
//     and logging
//   - config: YAML configuration loading and validation
//
// Supporting packages live under pkg/ (ring buffer, TTL dedup tracker,
// retry) together with errors and metric, which define the error
// taxonomy and Prometheus registration used throughout.
package deltastream
