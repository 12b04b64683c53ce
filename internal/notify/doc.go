// Package notify provides workflow observers.
//
// Notifier forwards run progress to a socket.io server so a dashboard can
// follow a long pipeline. Events are run_start, stage_start, stage_resolved
// and run_complete, each carrying a flat JSON object. LogObserver writes the
// run summary to the context logger.
package notify
