package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileSchema lists the top-level blocks of a workflow file. Content() keeps
// blocks in source order, which is the registration order of the stages.
var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "paths"},
		{Type: "cache"},
		{Type: "input", LabelNames: []string{"name"}},
		{Type: "stage", LabelNames: []string{"kind", "name"}},
	},
}

// CacheBlock is the `cache` block.
type CacheBlock struct {
	Backend   string `hcl:"backend,optional"`
	Repo      string `hcl:"repo,optional"`
	Dir       string `hcl:"dir,optional"`
	Tag       string `hcl:"tag,optional"`
	Timeout   string `hcl:"timeout,optional"`
	APIURL    string `hcl:"api_url,optional"`
	UploadURL string `hcl:"upload_url,optional"`
}

// InputBlock is an `input "<name>"` block: artifacts produced outside the
// workflow.
type InputBlock struct {
	Output    string   `hcl:"output,optional"`
	Outputs   []string `hcl:"outputs,optional"`
	DependsOn []string `hcl:"depends_on,optional"`
	Cache     bool     `hcl:"cache,optional"`
}

// StageBlock is a `stage "<kind>" "<name>"` block.
type StageBlock struct {
	Output    string   `hcl:"output,optional"`
	Outputs   []string `hcl:"outputs,optional"`
	DependsOn []string `hcl:"depends_on,optional"`
	Cache     bool     `hcl:"cache,optional"`
	Sources   []string `hcl:"sources,optional"`
	// TrackDefinition adds the declaring file to the sources.
	TrackDefinition bool         `hcl:"track_definition,optional"`
	Config          *ConfigBlock `hcl:"config,block"`
}

// ConfigBlock keeps the stage configuration unevaluated until the handler's
// input type is known.
type ConfigBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// findUniqueBlock returns the only block of the given type, or nil when there
// is none. Every extra block produces an error diagnostic.
func findUniqueBlock(blocks hcl.Blocks, blockType string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	var diags hcl.Diagnostics

	for _, block := range blocks {
		if block.Type != blockType {
			continue
		}
		if found != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate \"" + blockType + "\" block",
				Detail:   "Only one \"" + blockType + "\" block is allowed per workflow; another one is declared at " + found.DefRange.String() + ".",
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}
		found = block
	}

	return found, diags
}
