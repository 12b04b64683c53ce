// Package config defines the format-agnostic model of a workflow file, along
// with the interfaces (Loader, Converter) that format-specific packages
// implement.
//
// The `config.Model` is what the app turns into a workflow.Workflow. The HCL
// implementation lives in the hcl_adapter package.
package config
