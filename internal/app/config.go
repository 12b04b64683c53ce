package app

import (
	"errors"
	"fmt"
)

// Commands understood by App.Execute.
const (
	CommandRun             = "run"
	CommandQuery           = "query"
	CommandCacheList       = "cache list"
	CommandCacheNamespaces = "cache namespaces"
	CommandCacheDelete     = "cache delete"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command string
	// DeleteNamespace is the target of CommandCacheDelete.
	DeleteNamespace string

	WorkflowPath string // .hcl file or directory
	Root         string // base for relative paths, the current directory when empty

	// Tag overrides the namespace of the workflow's cache block.
	Tag       string
	NoCache   bool
	NotifyURL string

	// GitHubToken authenticates the github cache backend.
	GitHubToken string

	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkflowPath == "" {
		return nil, errors.New("WorkflowPath is a required configuration field and cannot be empty")
	}

	switch cfg.Command {
	case "":
		cfg.Command = CommandRun
	case CommandRun, CommandQuery, CommandCacheList, CommandCacheNamespaces:
	case CommandCacheDelete:
		if cfg.DeleteNamespace == "" {
			return nil, errors.New("cache delete needs a namespace")
		}
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}

	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}

	return &cfg, nil
}
