// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the commands it executes, decoupled from
// any specific entrypoint like a CLI.
//
// NewApp loads the workflow definition, checks it against the registered
// stage kinds, connects the optional remote cache and notifier, and
// registers every stage into a workflow.Workflow in declaration order.
package app
