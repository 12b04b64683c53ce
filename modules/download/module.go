package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/registry"
	"github.com/specialistvlad/stagerun/internal/workflow"
	"resty.dev/v3"
)

const defaultTimeout = 5 * time.Minute

// Module implements the registry.Module interface for this package. A nil
// Client means a default resty client.
type Module struct {
	Client *resty.Client
}

// Input defines the arguments of the 'config' block of a download stage. The
// n-th URL is saved as the n-th output.
type Input struct {
	URLs    []string          `hcl:"urls"`
	Headers map[string]string `hcl:"headers,optional"`
	Timeout string            `hcl:"timeout,optional"`
}

// Handler returns the stage function bound to the module's client.
func (m *Module) Handler() workflow.Func {
	client := m.Client
	if client == nil {
		client = resty.New()
	}
	return func(ctx context.Context, req workflow.Request) error {
		return onRunDownload(ctx, client, req)
	}
}

func onRunDownload(ctx context.Context, client *resty.Client, req workflow.Request) error {
	input, ok := req.Config.(*Input)
	if !ok || input == nil {
		return fmt.Errorf("download stage %q: missing config", req.Stage)
	}
	if len(input.URLs) != len(req.Outputs) {
		return fmt.Errorf("download stage %q: %d urls for %d outputs", req.Stage, len(input.URLs), len(req.Outputs))
	}

	timeout := defaultTimeout
	if input.Timeout != "" {
		d, err := time.ParseDuration(input.Timeout)
		if err != nil {
			return fmt.Errorf("download stage %q: invalid timeout %q: %w", req.Stage, input.Timeout, err)
		}
		timeout = d
	}

	// A started stage is never interrupted; only the timeout bounds it.
	ctx = context.WithoutCancel(ctx)
	logger := ctxlog.FromContext(ctx).With("runner", "download")
	for i, url := range input.URLs {
		logger.Info("Downloading", "url", url, "output", req.Outputs[i])
		if err := fetch(ctx, client, url, input.Headers, timeout, req.Outputs[i]); err != nil {
			return err
		}
	}
	return nil
}

// fetch streams url into dest through a temporary file in the same
// directory.
func fetch(ctx context.Context, client *resty.Client, url string, headers map[string]string, timeout time.Duration, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status())
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("GET %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("download", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       m.Handler(),
	})
}
