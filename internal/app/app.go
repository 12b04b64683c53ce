package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/stagerun/internal/config"
	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/notify"
	"github.com/specialistvlad/stagerun/internal/registry"
	"github.com/specialistvlad/stagerun/internal/remotecache"
	"github.com/specialistvlad/stagerun/internal/remotecache/filestore"
	"github.com/specialistvlad/stagerun/internal/remotecache/githubstore"
	"github.com/specialistvlad/stagerun/internal/workflow"
)

// Cache backends accepted in the workflow's cache block.
const (
	BackendDirectory = "directory"
	BackendGitHub    = "github"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	config    *Config
	registry  *registry.Registry
	model     *config.Model
	converter config.Converter
	cache     *remotecache.Client
	notifier  *notify.Notifier
	workflow  *workflow.Workflow
}

// NewApp is the constructor for the main application. It loads and validates
// the workflow definition and builds the workflow. With no modules given the
// core modules are registered.
func NewApp(ctx context.Context, outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	// Load all configuration into the format-agnostic model first.
	model, converter, err := loader.Load(ctx, cfg.Root, cfg.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	logger.Debug("Workflow loaded and translated into unified model.", "stages", len(model.Stages))
	if paths, err := converter.ToCtyValue(model.Paths); err == nil {
		logger.Debug("Resolved workflow paths.", "paths", paths.GoString())
	}

	// Create and populate the registry with Go handlers.
	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(model.Root)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	if err := reg.ValidateRegistry(ctx); err != nil {
		return nil, err
	}
	if err := reg.ValidateModel(ctx, model); err != nil {
		return nil, err
	}
	logger.Debug("Registry validation passed.")

	a := &App{
		outW:      outW,
		logger:    logger,
		config:    cfg,
		registry:  reg,
		model:     model,
		converter: converter,
	}

	a.cache, err = newCacheClient(cfg, model.Cache)
	if err != nil {
		return nil, err
	}

	// Cache maintenance commands never run stages.
	if cfg.Command != CommandRun && cfg.Command != CommandQuery {
		return a, nil
	}

	opts := []workflow.Option{
		workflow.WithRemoteCache(a.cache),
		workflow.WithObserver(&notify.LogObserver{}),
	}
	if cfg.Command == CommandRun && cfg.NotifyURL != "" {
		a.notifier, err = notify.Dial(ctx, cfg.NotifyURL, notify.Options{})
		if err != nil {
			logger.Warn("Progress notifier unavailable. Continuing without it.", "url", cfg.NotifyURL, "error", err)
		} else {
			opts = append(opts, workflow.WithObserver(a.notifier))
		}
	}

	a.workflow, err = a.buildWorkflow(ctx, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildWorkflow registers every model stage in declaration order. Config
// blocks are decoded into the input struct of the stage kind's handler.
func (a *App) buildWorkflow(ctx context.Context, opts ...workflow.Option) (*workflow.Workflow, error) {
	wf := workflow.New(opts...)
	for _, st := range a.model.Stages {
		var kind workflow.Kind
		var input any
		if !st.IsInput() {
			h, ok := a.registry.Handler(st.Kind)
			if !ok {
				return nil, fmt.Errorf("stage %q: unknown stage kind %q", st.Name, st.Kind)
			}
			if h.NewInput != nil {
				input = h.NewInput()
				if err := a.converter.DecodeConfig(ctx, st, input); err != nil {
					return nil, err
				}
			}
			kind = workflow.Compute{Fn: h.Fn, Sources: st.Sources}
		}

		stageOpts := []workflow.StageOption{
			workflow.WithDependencies(st.DependsOn...),
			workflow.WithCache(st.Cache),
		}
		if input != nil {
			stageOpts = append(stageOpts, workflow.WithConfig(input))
		}
		if err := wf.AddStage(st.Name, kind, st.Outputs, stageOpts...); err != nil {
			return nil, fmt.Errorf("%s: %w", st.FSInformation.FilePath, err)
		}
	}
	a.logger.Debug("Workflow built.", "stages", len(wf.Stages()))
	return wf, nil
}

// newCacheClient builds the remote cache client, nil when the workflow
// declares no cache or the cache is disabled.
func newCacheClient(cfg *Config, c *config.Cache) (*remotecache.Client, error) {
	if cfg.NoCache || c == nil {
		return nil, nil
	}

	var store remotecache.Store
	switch c.Backend {
	case BackendDirectory:
		if c.Dir == "" {
			return nil, fmt.Errorf("cache backend %q needs 'dir'", c.Backend)
		}
		store = filestore.New(c.Dir)
	case BackendGitHub:
		gh, err := githubstore.New(githubstore.Options{
			Repo:      c.Repo,
			Token:     cfg.GitHubToken,
			APIURL:    c.APIURL,
			UploadURL: c.UploadURL,
			Timeout:   c.Timeout,
		})
		if err != nil {
			return nil, err
		}
		store = gh
	default:
		return nil, fmt.Errorf("unknown cache backend %q (available: %s, %s)", c.Backend, BackendDirectory, BackendGitHub)
	}

	tag := c.Tag
	if cfg.Tag != "" {
		tag = cfg.Tag
	}
	return remotecache.NewClient(store, tag, remotecache.WithTimeout(c.Timeout)), nil
}

// Execute runs the configured command.
func (a *App) Execute(ctx context.Context) error {
	switch a.config.Command {
	case CommandRun:
		return a.Run(ctx)
	case CommandQuery:
		return a.Query(ctx)
	case CommandCacheList:
		return a.CacheList(ctx)
	case CommandCacheNamespaces:
		return a.CacheNamespaces(ctx)
	case CommandCacheDelete:
		return a.CacheDelete(ctx, a.config.DeleteNamespace)
	default:
		return fmt.Errorf("unknown command %q", a.config.Command)
	}
}

// Close releases the notifier connection.
func (a *App) Close() {
	if a.notifier != nil {
		a.notifier.Close()
		a.notifier = nil
	}
}

// Workflow returns the built workflow, nil for cache commands. This is
// primarily for testing.
func (a *App) Workflow() *workflow.Workflow {
	return a.workflow
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
