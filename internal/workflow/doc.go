// Package workflow is the orchestration core of stagerun: an ordered registry
// of named stages and the single forward pass that brings each of them up to
// date.
//
// # Freshness
//
// Every stage compares three timestamps: the oldest local output, the oldest
// cached copy of its outputs, and the newest file its definition depends on.
// The newest of the three decides what happens. Local output wins ties over
// the cache, and the cache wins ties over re-running the stage. A zero
// time.Time stands for "never", so a stage whose outputs are missing
// everywhere always runs.
//
// # Cascade
//
// Registration order is execution order, and a stage may only depend on
// stages registered before it. While a run is in progress the workflow keeps
// the set of stages that actually executed; any stage depending on one of
// them executes too, regardless of its own freshness.
//
// # Failures
//
// Problems talking to the remote cache never fail a run. They are logged and
// the stage falls back to the next strategy. Registration mistakes, failing
// stage functions, outputs missing after a run and passthrough stages with no
// artifact anywhere are fatal and stop the run at that stage.
package workflow
