package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/specialistvlad/stagerun/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("stagerun", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
stagerun - Runs a staged data pipeline, reusing outputs that are still current
locally or in a remote cache.

Usage:
  stagerun [options] <command> [arguments]

Commands:
  run                  Resolve every stage, running only what is stale.
  query                Print where the newest copy of each stage's outputs is.
  cache list           List the blobs of the cache namespace.
  cache namespaces     List cache namespaces, newest first.
  cache delete NS      Delete a cache namespace.

Environment:
  GITHUB_TOKEN         Token for the github cache backend.

Options:
`)
		flagSet.PrintDefaults()
	}

	fileFlag := flagSet.String("file", "", "Path to the workflow file or a directory of .hcl files.")
	fFlag := flagSet.String("f", "", "Path to the workflow file or directory (shorthand).")
	rootFlag := flagSet.String("root", "", "Directory relative paths are resolved against. Defaults to the current directory.")
	tagFlag := flagSet.String("tag", "", "Cache namespace to use, created when missing. Overrides the workflow's cache tag.")
	noCacheFlag := flagSet.Bool("no-cache", false, "Ignore the remote cache.")
	notifyFlag := flagSet.String("notify-url", "", "socket.io server receiving progress events, e.g. http://localhost:3000/socket.io/.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := "."
	if *fileFlag != "" {
		path = *fileFlag
	} else if *fFlag != "" {
		path = *fFlag
	}
	slog.Debug("Workflow path determined.", "path", path)

	if flagSet.NArg() == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	command, deleteNS, err := parseCommand(flagSet.Args())
	if err != nil {
		return nil, false, err
	}

	config, err := app.NewConfig(app.Config{
		Command:         command,
		DeleteNamespace: deleteNS,
		WorkflowPath:    path,
		Root:            *rootFlag,
		Tag:             *tagFlag,
		NoCache:         *noCacheFlag,
		NotifyURL:       *notifyFlag,
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		LogFormat:       strings.ToLower(*logFormatFlag),
		LogLevel:        strings.ToLower(*logLevelFlag),
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "command", config.Command)
	return config, false, nil
}

// parseCommand maps the positional arguments to an app command.
func parseCommand(args []string) (command, namespace string, err error) {
	switch args[0] {
	case "run", "query":
		if len(args) > 1 {
			return "", "", usageError("%s takes no arguments, got %q", args[0], args[1:])
		}
		return args[0], "", nil
	case "cache":
		if len(args) < 2 {
			return "", "", usageError("cache needs a subcommand: list, namespaces or delete")
		}
		switch args[1] {
		case "list", "namespaces":
			if len(args) > 2 {
				return "", "", usageError("cache %s takes no arguments, got %q", args[1], args[2:])
			}
			return "cache " + args[1], "", nil
		case "delete":
			if len(args) != 3 {
				return "", "", usageError("usage: cache delete NAMESPACE")
			}
			return app.CommandCacheDelete, args[2], nil
		default:
			return "", "", usageError("unknown cache subcommand %q", args[1])
		}
	default:
		return "", "", usageError("unknown command %q", args[0])
	}
}
