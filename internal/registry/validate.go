package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/stagerun/internal/config"
	"github.com/specialistvlad/stagerun/internal/ctxlog"
)

// ValidateRegistry checks that every registered input type can be decoded
// from a config block: a pointer to a struct whose exported fields carry
// `hcl` tags.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, kind := range r.Kinds() {
		handler := r.HandlerRegistry[kind]
		if handler.NewInput == nil {
			continue
		}

		input := handler.NewInput()
		t := reflect.TypeOf(input)
		if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
			errs = append(errs, fmt.Sprintf("stage kind '%s': NewInput must return a pointer to a struct, got %v", kind, t))
			continue
		}

		tagged := 0
		st := t.Elem()
		for i := 0; i < st.NumField(); i++ {
			field := st.Field(i)
			if !field.IsExported() {
				continue
			}
			if _, ok := field.Tag.Lookup("hcl"); ok {
				tagged++
				continue
			}
			logger.Warn("Config field has no hcl tag and can never be set from a workflow file.", "kind", kind, "field", field.Name)
		}
		if tagged == 0 {
			continue
		}

		// Panics on malformed tags, e.g. an unknown tag kind.
		func() {
			defer func() {
				if p := recover(); p != nil {
					errs = append(errs, fmt.Sprintf("stage kind '%s': invalid hcl tags: %v", kind, p))
				}
			}()
			gohcl.ImpliedBodySchema(input)
		}()
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ValidateModel checks that every stage kind used by the workflow is
// registered.
func (r *Registry) ValidateModel(ctx context.Context, model *config.Model) error {
	var errs []string

	for _, stage := range model.Stages {
		if stage.IsInput() {
			continue
		}
		if _, ok := r.HandlerRegistry[stage.Kind]; !ok {
			errs = append(errs, fmt.Sprintf("stage '%s' in %s: unknown stage kind '%s' (available: %s)",
				stage.Name, stage.FSInformation.FilePath, stage.Kind, strings.Join(r.Kinds(), ", ")))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("workflow validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	ctxlog.FromContext(ctx).Debug("Workflow stage kinds validated.", "stages", len(model.Stages))
	return nil
}
