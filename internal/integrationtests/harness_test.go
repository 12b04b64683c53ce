package integrationtests

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/stagerun/internal/app"
	"github.com/specialistvlad/stagerun/internal/hcl_adapter"
	"github.com/specialistvlad/stagerun/internal/registry"
	"github.com/specialistvlad/stagerun/internal/testutil"
	"github.com/specialistvlad/stagerun/internal/workflow"
	"github.com/stretchr/testify/require"
)

// base is the default mtime of workflow files, older than anything the tests
// produce.
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// touchModule registers the "touch" stage kind. It writes its config content
// into every output and records the stages it ran.
type touchModule struct {
	mu    sync.Mutex
	calls []string
}

type touchInput struct {
	Content string `hcl:"content,optional"`
}

func (m *touchModule) Register(r *registry.Registry) {
	r.RegisterHandler("touch", &registry.Handler{
		NewInput: func() any { return new(touchInput) },
		Fn:       m.run,
	})
}

func (m *touchModule) run(ctx context.Context, req workflow.Request) error {
	m.mu.Lock()
	m.calls = append(m.calls, req.Stage)
	m.mu.Unlock()

	input := req.Config.(*touchInput)
	for _, out := range req.Outputs {
		content := input.Content
		if content == "" {
			content = fmt.Sprintf("made by %s", req.Stage)
		}
		if err := os.WriteFile(out, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns the stages run so far and forgets them.
func (m *touchModule) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := m.calls
	m.calls = nil
	return calls
}

// Result is the outcome of one harness invocation.
type Result struct {
	App *app.App
	Out *testutil.SafeBuffer
	Err error
}

// writeWorkflow writes files relative to root, all with the base mtime.
func writeWorkflow(t *testing.T, root string, files map[string]string) {
	t.Helper()
	writeWorkflowAt(t, root, files, base)
}

// writeWorkflowAt writes files relative to root with the given mtime.
func writeWorkflowAt(t *testing.T, root string, files map[string]string, mtime time.Time) {
	t.Helper()
	for name, content := range files {
		testutil.WriteFile(t, filepath.Join(root, name), content, mtime)
	}
}

// RunIntegrationTest builds an App over the workflow files in root, like
// the CLI would, and executes cfg.Command. Building errors are returned in
// Result.Err.
func RunIntegrationTest(t *testing.T, root string, cfg app.Config, modules ...registry.Module) Result {
	t.Helper()

	out := &testutil.SafeBuffer{}
	if cfg.WorkflowPath == "" {
		cfg.WorkflowPath = root
	}
	cfg.Root = root
	cfg.LogLevel = "debug"
	appConfig, err := app.NewConfig(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		if os.Getenv("STAGERUN_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), out.String())
		}
	})

	ctx := context.Background()
	a, err := app.NewApp(ctx, out, appConfig, hcl_adapter.NewLoader(), modules...)
	if err != nil {
		return Result{Out: out, Err: err}
	}
	defer a.Close()
	return Result{App: a, Out: out, Err: a.Execute(ctx)}
}
