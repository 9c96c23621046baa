// Package sim provides the discrete-event core of a multi-party incident
// command exercise.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - world.go: the ExerciseState snapshot and its entity collections
//   - engine.go: the tick sweep over simulated regions (dispatch, activities)
//   - treatment.go: incremental caterer/patient matching over the spatial index
//
// # Architecture
//
// The sim package holds the world model and both engines; supporting code
// lives in sub-packages:
//   - sim/spatial/: point R-tree used for radius and rectangle queries
//   - sim/trace/: dispatch trace recording
//   - sim/scenario/: YAML scenario loading and initial world construction
//   - sim/store/: compressed snapshot files and the SQLite action log
//
// Behaviors, activities and events are tagged variants. Their kinds are
// looked up in registries built once from the canonical lists in catalog.go;
// a kind missing from a registry is skipped, never treated as an error.
//
// # Determinism
//
// Every participant applies the same ordered sequence of Advance calls to
// the same snapshot. Identifiers and random choices are drawn from the
// snapshot's Generator (rng.go), never from wall-clock time, so replays are
// bit-identical. Regions are swept in ascending id order, behaviors in
// registration order, activities in ascending id order.
package sim
