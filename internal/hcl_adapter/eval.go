package hcl_adapter

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// functions available in every expression of a workflow file.
func functions() map[string]function.Function {
	return map[string]function.Function{
		"format": stdlib.FormatFunc,
		"join":   stdlib.JoinFunc,
		"upper":  stdlib.UpperFunc,
		"lower":  stdlib.LowerFunc,
	}
}

// newEvalContext exposes `path.root` and every resolved `paths` entry.
func newEvalContext(root string, paths map[string]string) *hcl.EvalContext {
	attrs := map[string]cty.Value{"root": cty.StringVal(root)}
	for name, p := range paths {
		attrs[name] = cty.StringVal(p)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"path": cty.ObjectVal(attrs)},
		Functions: functions(),
	}
}

// resolvePath makes p absolute, relative to root.
func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// decodePaths evaluates the `paths` block. Entries may refer to path.root
// but not to each other.
func decodePaths(block *hcl.Block, root string) (map[string]string, hcl.Diagnostics) {
	paths := make(map[string]string)
	if block == nil {
		return paths, nil
	}

	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	evalCtx := newEvalContext(root, nil)
	for _, name := range names {
		attr := attrs[name]
		if name == "root" {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Reserved path name",
				Detail:   "\"root\" is always the workflow root directory and cannot be redefined.",
				Subject:  attr.NameRange.Ptr(),
			})
			continue
		}
		val, valDiags := attr.Expr.Value(evalCtx)
		diags = append(diags, valDiags...)
		if valDiags.HasErrors() {
			continue
		}
		if val.IsNull() || !val.Type().Equals(cty.String) {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid path",
				Detail:   fmt.Sprintf("Path %q must be a string.", name),
				Subject:  attr.Expr.Range().Ptr(),
			})
			continue
		}
		paths[name] = resolvePath(root, val.AsString())
	}
	return paths, diags
}
