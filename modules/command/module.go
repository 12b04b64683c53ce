package command

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/registry"
	"github.com/specialistvlad/stagerun/internal/workflow"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Root is where commands run when 'dir' is empty, and what a relative
	// 'dir' is resolved against. Empty means the process working directory.
	Root string
}

// Input defines the arguments of the 'config' block of a command stage.
type Input struct {
	Command []string          `hcl:"command"`
	Dir     string            `hcl:"dir,optional"`
	Env     map[string]string `hcl:"env,optional"`
}

// Handler returns the stage function bound to the module's root.
func (m *Module) Handler() workflow.Func {
	root := m.Root
	return func(ctx context.Context, req workflow.Request) error {
		return onRunCommand(ctx, root, req)
	}
}

// onRunCommand runs the configured program. The stage name and its outputs
// (joined with the OS path list separator) are passed as STAGE_NAME and
// STAGE_OUTPUTS. Output lines are logged as they are produced.
func onRunCommand(ctx context.Context, root string, req workflow.Request) error {
	input, ok := req.Config.(*Input)
	if !ok || input == nil {
		return fmt.Errorf("command stage %q: missing config", req.Stage)
	}
	if len(input.Command) == 0 || input.Command[0] == "" {
		return fmt.Errorf("command stage %q: command must not be empty", req.Stage)
	}

	dir := workDir(root, input.Dir)
	logger := ctxlog.FromContext(ctx).With("runner", "command", "program", input.Command[0])
	logger.Debug("Handler started", "args", input.Command[1:], "dir", dir)
	defer logger.Debug("Handler finished")

	// Not CommandContext: a stage that started is never interrupted.
	cmd := exec.Command(input.Command[0], input.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"STAGE_NAME="+req.Stage,
		"STAGE_OUTPUTS="+strings.Join(req.Outputs, string(os.PathListSeparator)),
	)
	for k, v := range input.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout := &lineLogger{logger: logger, level: slog.LevelInfo, stream: "stdout"}
	stderr := &lineLogger{logger: logger, level: slog.LevelWarn, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush(ctx)
	stderr.Flush(ctx)
	if err != nil {
		return fmt.Errorf("running %s: %w", input.Command[0], err)
	}
	return nil
}

// workDir resolves the configured directory against root.
func workDir(root, dir string) string {
	if dir == "" {
		return root
	}
	if filepath.IsAbs(dir) || root == "" {
		return dir
	}
	return filepath.Join(root, dir)
}

// lineLogger logs whatever is written to it one line at a time.
type lineLogger struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	stream string
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			break
		}
		l.emit(context.Background(), strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush logs a trailing line without newline.
func (l *lineLogger) Flush(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := bufio.NewScanner(&l.buf)
	for sc.Scan() {
		l.emit(ctx, sc.Text())
	}
	l.buf.Reset()
}

func (l *lineLogger) emit(ctx context.Context, line string) {
	l.logger.Log(ctx, l.level, line, "stream", l.stream)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("command", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       m.Handler(),
	})
}
