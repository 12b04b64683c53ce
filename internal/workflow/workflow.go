package workflow

import (
	"context"
	"fmt"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/remotecache"
)

// Workflow is an ordered set of stages sharing one remote cache connection.
// It is not safe for concurrent use.
type Workflow struct {
	stages    []*Stage
	byName    map[string]*Stage
	blobOwner map[string]string
	cache     *remotecache.Client
	observers observers
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithRemoteCache sets the cache client. Without it, or with a nil client,
// the workflow runs local-only.
func WithRemoteCache(c *remotecache.Client) Option {
	return func(w *Workflow) { w.cache = c }
}

// WithObserver adds an observer. Observers are notified in the order added.
func WithObserver(o Observer) Option {
	return func(w *Workflow) {
		if o != nil {
			w.observers = append(w.observers, o)
		}
	}
}

// New creates an empty workflow.
func New(opts ...Option) *Workflow {
	w := &Workflow{
		byName:    make(map[string]*Stage),
		blobOwner: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Cache returns the remote cache client, nil when none was configured.
func (w *Workflow) Cache() *remotecache.Client { return w.cache }

type stageOptions struct {
	deps   []string
	cache  bool
	config any
}

// StageOption configures a stage in AddStage.
type StageOption func(*stageOptions)

// WithDependencies names stages that must be registered already.
func WithDependencies(names ...string) StageOption {
	return func(o *stageOptions) { o.deps = append(o.deps, names...) }
}

// WithCache makes the stage outputs take part in the remote cache.
func WithCache(enabled bool) StageOption {
	return func(o *stageOptions) { o.cache = enabled }
}

// WithConfig attaches an opaque value handed to the stage function.
func WithConfig(cfg any) StageOption {
	return func(o *stageOptions) { o.config = cfg }
}

// AddStage registers a stage. A nil kind registers a Passthrough. Nothing is
// registered when an error is returned.
func (w *Workflow) AddStage(name string, kind Kind, outputs []string, opts ...StageOption) error {
	if _, exists := w.byName[name]; exists {
		return &DuplicateStageNameError{Name: name}
	}

	var o stageOptions
	for _, opt := range opts {
		opt(&o)
	}

	if kind == nil {
		kind = Passthrough{}
	}
	if c, ok := kind.(Compute); ok && c.Fn == nil {
		return fmt.Errorf("stage %q: compute stage has no function", name)
	}

	outs := dedupe(outputs)
	if len(outs) == 0 {
		return fmt.Errorf("stage %q: %w", name, ErrNoOutputs)
	}

	deps := dedupe(o.deps)
	depSet := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		if _, ok := w.byName[d]; !ok {
			return &UnknownDependencyError{Stage: name, Dependency: d}
		}
		depSet[d] = struct{}{}
	}

	if o.cache {
		seen := make(map[string]string, len(outs))
		for _, out := range outs {
			blob := blobName(out)
			if owner, taken := w.blobOwner[blob]; taken {
				return &BlobNameConflictError{Blob: blob, Stage: name, Output: out, Other: owner}
			}
			if _, taken := seen[blob]; taken {
				return &BlobNameConflictError{Blob: blob, Stage: name, Output: out, Other: name}
			}
			seen[blob] = out
		}
		for blob := range seen {
			w.blobOwner[blob] = name
		}
	}

	s := &Stage{
		name:    name,
		kind:    kind,
		outputs: outs,
		deps:    deps,
		depSet:  depSet,
		cache:   o.cache,
		config:  o.config,
	}
	w.stages = append(w.stages, s)
	w.byName[name] = s
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Stages returns the stages in registration order.
func (w *Workflow) Stages() []*Stage {
	return append([]*Stage(nil), w.stages...)
}

// Stage looks a stage up by name.
func (w *Workflow) Stage(name string) (*Stage, bool) {
	s, ok := w.byName[name]
	return s, ok
}

// QueryAll reports the status of every stage without running anything. The
// only side effect is connecting to the remote cache.
func (w *Workflow) QueryAll(ctx context.Context) (map[string]Status, error) {
	statuses := make(map[string]Status, len(w.stages))
	for _, s := range w.stages {
		st, err := s.Query(ctx, w.cache)
		if err != nil {
			return nil, err
		}
		statuses[s.name] = st
	}
	return statuses, nil
}

// Run resolves every stage in registration order. A stage executes when its
// definition is newer than any copy of its outputs, or when a dependency
// executed earlier in this run. The first fatal error stops the run; the
// returned report covers the stages resolved so far.
//
// Cancellation of ctx is checked between stages. A stage already executing
// is left to finish.
func (w *Workflow) Run(ctx context.Context) (report *Report, err error) {
	logger := ctxlog.FromContext(ctx)
	report = &Report{}

	names := make([]string, len(w.stages))
	for i, s := range w.stages {
		s.resolution = Unresolved
		names[i] = s.name
	}

	w.observers.runStart(ctx, names)
	defer func() { w.observers.runComplete(ctx, report, err) }()

	logger.Debug("Starting workflow run.", "stages", len(w.stages), "cache_namespace", w.cache.Namespace())

	executed := make(map[string]struct{})
	for _, s := range w.stages {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("workflow interrupted before stage %q: %w", s.name, err)
		}

		dependencyChanged := false
		for d := range s.depSet {
			if _, ok := executed[d]; ok {
				dependencyChanged = true
				break
			}
		}

		result, err := s.resolve(ctx, w.cache, dependencyChanged, w.observers)
		w.observers.stageResolved(ctx, result, err)
		if err != nil {
			return report, err
		}
		report.Results = append(report.Results, result)
		if result.Resolution == Ran {
			executed[s.name] = struct{}{}
		}
	}

	logger.Debug("Workflow run finished.", "ran", len(report.Ran()), "skipped", len(report.Skipped()), "downloaded", len(report.Downloaded()))
	return report, nil
}
