package config

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Loader is the interface for a format-specific workflow loader.
type Loader interface {
	// Load reads the workflow definition from the given paths, translates it
	// into the format-agnostic model, and returns a matching Converter.
	// Relative paths inside the definition are resolved against root.
	Load(ctx context.Context, root string, paths ...string) (*Model, Converter, error)
}

// Converter binds raw stage configuration to the Go types used by modules.
type Converter interface {
	// DecodeConfig decodes the stage's config block into target, which must
	// be a non-nil pointer to a struct. A stage without a config block
	// decodes as an empty body, so required attributes still fail.
	DecodeConfig(ctx context.Context, stage *Stage, target any) error

	// ToCtyValue converts a native Go value into its cty.Value.
	ToCtyValue(v any) (cty.Value, error)
}
