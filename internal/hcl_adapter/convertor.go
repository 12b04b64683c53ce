package hcl_adapter

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/stagerun/internal/config"
	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Converter is the HCL-specific implementation of the config.Converter interface.
type Converter struct {
	evalCtx *hcl.EvalContext
}

// NewConverter creates a converter evaluating expressions in evalCtx.
func NewConverter(evalCtx *hcl.EvalContext) *Converter {
	return &Converter{evalCtx: evalCtx}
}

// DecodeConfig decodes the stage's config block with gohcl, so the target
// struct uses `hcl:"..."` field tags.
func (c *Converter) DecodeConfig(ctx context.Context, stage *config.Stage, target any) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding stage config.", "stage", stage.Name)

	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("config target for stage %q must be a non-nil pointer", stage.Name)
	}

	body := stage.Config
	if body == nil {
		body = hcl.EmptyBody()
	}
	if diags := gohcl.DecodeBody(body, c.evalCtx, target); diags.HasErrors() {
		return fmt.Errorf("invalid config for stage %q: %w", stage.Name, diags)
	}
	return nil
}

// ToCtyValue converts a native Go value into its corresponding cty.Value.
func (c *Converter) ToCtyValue(v any) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}
