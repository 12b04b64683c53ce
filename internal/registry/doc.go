// Package registry provides the central "glue" for the module system.
//
// The Registry maps the stage kinds used in workflow files (the first label
// of a `stage "<kind>" "<name>"` block) to the compiled Go functions that
// implement them, together with a constructor for each kind's config struct.
//
// During application startup, modules register their handlers and the
// registry is validated against the loaded workflow, so that a typo in a
// stage kind is reported before anything runs.
package registry
