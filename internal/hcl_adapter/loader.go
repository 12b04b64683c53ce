package hcl_adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/stagerun/internal/config"
	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL workflow loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under the given paths, in lexical order, and
// translates their blocks into a config.Model. An empty root means the
// current directory.
func (l *Loader) Load(ctx context.Context, root string, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths), "root", root)

	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving root directory: %w", err)
	}

	files, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no .hcl workflow files found in %v", paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	var blocks hcl.Blocks
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		content, diags := hclFile.Body.Content(fileSchema)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		blocks = append(blocks, content.Blocks...)
	}

	pathsBlock, diags := findUniqueBlock(blocks, "paths")
	if diags.HasErrors() {
		return nil, nil, diags
	}
	resolved, diags := decodePaths(pathsBlock, root)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("invalid paths block: %w", diags)
	}
	evalCtx := newEvalContext(root, resolved)

	model := &config.Model{
		Root:  root,
		Paths: resolved,
		Files: files,
	}

	cacheBlock, diags := findUniqueBlock(blocks, "cache")
	if diags.HasErrors() {
		return nil, nil, diags
	}
	if cacheBlock != nil {
		model.Cache, err = l.translateCache(cacheBlock, evalCtx, root)
		if err != nil {
			return nil, nil, err
		}
	}

	for _, block := range blocks {
		var stage *config.Stage
		switch block.Type {
		case "input":
			stage, err = l.translateInput(block, evalCtx, root)
		case "stage":
			stage, err = l.translateStage(block, evalCtx, root)
		default:
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("Translated stage.", "name", stage.Name, "kind", stage.Kind, "file", stage.FSInformation.FilePath)
		model.Stages = append(model.Stages, stage)
	}

	logger.Debug("HCL loading complete.", "stages", len(model.Stages), "paths", len(model.Paths), "cache", model.Cache != nil)
	return model, NewConverter(evalCtx), nil
}

// findAllHCLFiles expands directories and removes duplicates, keeping the
// first occurrence of every file.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})

	for _, path := range paths {
		found, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		for _, f := range found {
			abs, err := filepath.Abs(f)
			if err != nil {
				return nil, err
			}
			if _, wasSeen := seen[abs]; wasSeen {
				continue
			}
			seen[abs] = struct{}{}
			allFiles = append(allFiles, abs)
		}
	}
	return allFiles, nil
}

func (l *Loader) translateCache(block *hcl.Block, evalCtx *hcl.EvalContext, root string) (*config.Cache, error) {
	var raw CacheBlock
	if diags := gohcl.DecodeBody(block.Body, evalCtx, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("invalid cache block: %w", diags)
	}

	c := &config.Cache{
		Backend:       raw.Backend,
		Repo:          raw.Repo,
		Tag:           raw.Tag,
		APIURL:        raw.APIURL,
		UploadURL:     raw.UploadURL,
		FSInformation: config.NewFSInfo(block.DefRange.Filename),
	}
	if raw.Dir != "" {
		c.Dir = resolvePath(root, raw.Dir)
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid cache timeout %q: %w", block.DefRange, raw.Timeout, err)
		}
		c.Timeout = d
	}
	return c, nil
}

func (l *Loader) translateInput(block *hcl.Block, evalCtx *hcl.EvalContext, root string) (*config.Stage, error) {
	name := block.Labels[0]
	var raw InputBlock
	if diags := gohcl.DecodeBody(block.Body, evalCtx, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("invalid input %q: %w", name, diags)
	}
	outputs, err := mergeOutputs(block, raw.Output, raw.Outputs, root)
	if err != nil {
		return nil, err
	}
	return &config.Stage{
		Name:          name,
		Outputs:       outputs,
		DependsOn:     raw.DependsOn,
		Cache:         raw.Cache,
		FSInformation: config.NewFSInfo(block.DefRange.Filename),
	}, nil
}

func (l *Loader) translateStage(block *hcl.Block, evalCtx *hcl.EvalContext, root string) (*config.Stage, error) {
	kind, name := block.Labels[0], block.Labels[1]
	var raw StageBlock
	if diags := gohcl.DecodeBody(block.Body, evalCtx, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("invalid stage %q: %w", name, diags)
	}
	outputs, err := mergeOutputs(block, raw.Output, raw.Outputs, root)
	if err != nil {
		return nil, err
	}

	file := block.DefRange.Filename
	var sources []string
	if raw.TrackDefinition {
		sources = append(sources, file)
	}
	for _, src := range raw.Sources {
		p := resolvePath(root, src)
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%s: stage %q: source %s: %w", block.DefRange, name, src, err)
		}
		sources = append(sources, p)
	}

	stage := &config.Stage{
		Kind:          kind,
		Name:          name,
		Outputs:       outputs,
		DependsOn:     raw.DependsOn,
		Cache:         raw.Cache,
		Sources:       sources,
		FSInformation: config.NewFSInfo(file),
	}
	if raw.Config != nil {
		stage.Config = raw.Config.Body
	}
	return stage, nil
}

// mergeOutputs accepts either `output` or `outputs`, never both.
func mergeOutputs(block *hcl.Block, single string, many []string, root string) ([]string, error) {
	name := block.Labels[len(block.Labels)-1]
	switch {
	case single != "" && len(many) > 0:
		return nil, fmt.Errorf("%s: %s %q sets both output and outputs", block.DefRange, block.Type, name)
	case single == "" && len(many) == 0:
		return nil, fmt.Errorf("%s: %s %q declares no outputs", block.DefRange, block.Type, name)
	case single != "":
		many = []string{single}
	}
	outputs := make([]string, len(many))
	for i, o := range many {
		outputs[i] = resolvePath(root, o)
	}
	return outputs, nil
}
