package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/stagerun/internal/remotecache"
	"github.com/specialistvlad/stagerun/internal/remotecache/filestore"
	"github.com/specialistvlad/stagerun/internal/testutil"
	"github.com/specialistvlad/stagerun/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain registers A -> B with one output each and no caching.
func chain(t *testing.T, dir string, rec *recorder) *workflow.Workflow {
	t.Helper()
	w := workflow.New()
	require.NoError(t, w.AddStage("A", rec.compute(t, dir, "A", at(0)), []string{filepath.Join(dir, "a.txt")}))
	require.NoError(t, w.AddStage("B", rec.compute(t, dir, "B", at(0)), []string{filepath.Join(dir, "b.txt")},
		workflow.WithDependencies("A")))
	return w
}

func TestRun_SecondRunExecutesNothing(t *testing.T) {
	// Arrange
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	w := chain(t, dir, rec)

	// Act
	first, err := w.Run(ctx)
	require.NoError(t, err)
	rec.reset()
	second, err := w.Run(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, first.Ran())
	assert.Empty(t, rec.calls)
	assert.Empty(t, second.Ran())
	assert.Equal(t, []string{"A", "B"}, second.Skipped())
	for _, r := range second.Results {
		assert.Equal(t, workflow.ReasonLocalCurrent, r.Reason)
	}
}

func TestRun_DeletedUpstreamOutputCascades(t *testing.T) {
	// Arrange
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	w := chain(t, dir, rec)
	_, err := w.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	rec.reset()

	// Act
	report, err := w.Run(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, rec.calls)
	want := []workflow.StageResult{
		{Stage: "A", Resolution: workflow.Ran, Reason: workflow.ReasonOutputsMissing},
		{Stage: "B", Resolution: workflow.Ran, Reason: workflow.ReasonDependencyChanged},
	}
	ignoreDuration := cmp.Comparer(func(a, b workflow.StageResult) bool {
		return a.Stage == b.Stage && a.Resolution == b.Resolution && a.Reason == b.Reason
	})
	if diff := cmp.Diff(want, report.Results, ignoreDuration); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.FileExists(t, filepath.Join(dir, "a.txt"))
}

func TestRun_SkippedDependencyDoesNotCascade(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	w := workflow.New()
	testutil.WriteFile(t, filepath.Join(dir, "a.txt"), "a", at(2))
	testutil.WriteFile(t, filepath.Join(dir, "b.txt"), "b", at(2))
	testutil.WriteFile(t, filepath.Join(dir, "c.txt"), "c", at(2))
	require.NoError(t, w.AddStage("A", rec.compute(t, dir, "A", at(0)), []string{filepath.Join(dir, "a.txt")}))
	// B's definition changed after its output was written.
	require.NoError(t, w.AddStage("B", rec.compute(t, dir, "B", at(3)), []string{filepath.Join(dir, "b.txt")},
		workflow.WithDependencies("A")))
	require.NoError(t, w.AddStage("C", rec.compute(t, dir, "C", at(0)), []string{filepath.Join(dir, "c.txt")},
		workflow.WithDependencies("A")))

	report, err := w.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, rec.calls)
	assert.Equal(t, workflow.ResolvedLocal, report.Resolution("A"))
	assert.Equal(t, workflow.Ran, report.Resolution("B"))
	assert.Equal(t, workflow.ResolvedLocal, report.Resolution("C"))
	assert.Equal(t, workflow.ReasonStageChanged, report.Results[1].Reason)
}

func TestRun_CascadeIsTransitive(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	w := chain(t, dir, rec)
	require.NoError(t, w.AddStage("C", rec.compute(t, dir, "C", at(0)), []string{filepath.Join(dir, "c.txt")},
		workflow.WithDependencies("B")))
	_, err := w.Run(ctx)
	require.NoError(t, err)

	// Touch A's definition so it is newer than a.txt.
	testutil.WriteFile(t, filepath.Join(dir, "defs", "A.py"), "# A v2", testutil.ModTime(t, filepath.Join(dir, "a.txt")).Add(1e9))
	rec.reset()

	report, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, rec.calls)
	assert.Equal(t, []string{"A", "B", "C"}, report.Ran())
}

func TestRun_CacheRestoresArtifactsInFreshDirectory(t *testing.T) {
	// Arrange
	ctx, _ := testutil.NewContext(t)
	store := filestore.New(t.TempDir())
	first, second := t.TempDir(), t.TempDir()
	rec := &recorder{}

	build := func(dir string) *workflow.Workflow {
		w := workflow.New(workflow.WithRemoteCache(remotecache.NewClient(store, "")))
		require.NoError(t, w.AddStage("C", rec.compute(t, dir, "C", at(0)), []string{filepath.Join(dir, "out", "c.parquet")},
			workflow.WithCache(true)))
		return w
	}

	// Act: the first process computes and uploads.
	w1 := build(first)
	r1, err := w1.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, r1.Ran())
	assert.Equal(t, remotecache.DefaultNamespace, w1.Cache().Namespace())

	blob, err := store.Stat(ctx, remotecache.DefaultNamespace, "c.parquet")
	require.NoError(t, err)
	requireModTime(t, blob.UpdatedAt, filepath.Join(first, "out", "c.parquet"))

	// Act: a second process with an empty working directory.
	rec.reset()
	w2 := build(second)
	r2, err := w2.Run(ctx)

	// Assert
	require.NoError(t, err)
	assert.Empty(t, rec.calls)
	assert.Equal(t, []string{"C"}, r2.Downloaded())
	downloaded := filepath.Join(second, "out", "c.parquet")
	data, err := os.ReadFile(downloaded)
	require.NoError(t, err)
	assert.Equal(t, "C", string(data))
	requireModTime(t, blob.UpdatedAt, downloaded)

	// The first directory is level with the cache and stays local.
	r3, err := build(first).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, r3.Skipped())
	assert.Empty(t, rec.calls)
}

func TestRun_LocalUploadIsPerFile(t *testing.T) {
	// Arrange
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.dat"), filepath.Join(dir, "b.dat")
	testutil.WriteFile(t, a, "a", at(2))
	testutil.WriteFile(t, b, "b", at(2))
	store := newMemStore(at(4))
	store.seed("v1", "a.dat", "a", at(3))
	store.seed("v1", "b.dat", "old b", at(1))

	rec := &recorder{}
	w := workflow.New(workflow.WithRemoteCache(remotecache.NewClient(store, "v1")))
	require.NoError(t, w.AddStage("S", rec.compute(t, dir, "S", at(0)), []string{a, b}, workflow.WithCache(true)))

	// Act
	report, err := w.Run(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, report.Skipped())
	assert.Equal(t, []string{"b.dat"}, store.puts)
	requireModTime(t, at(2), a)
	requireModTime(t, at(4), b)
	assert.Equal(t, "b", string(store.blobs["v1/b.dat"].data))
}

func TestRun_ExecutedStageUploadsAllOutputs(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	store := newMemStore(at(30))
	rec := &recorder{}
	w := workflow.New(workflow.WithRemoteCache(remotecache.NewClient(store, "v1")))
	outs := []string{filepath.Join(dir, "x.dat"), filepath.Join(dir, "y.dat")}
	require.NoError(t, w.AddStage("S", rec.compute(t, dir, "S", at(0)), outs, workflow.WithCache(true)))

	report, err := w.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, report.Ran())
	assert.Equal(t, []string{"x.dat", "y.dat"}, store.puts)
	requireModTime(t, at(30), outs[0])
	requireModTime(t, at(30), outs[1])
}

func TestRun_CacheDownloadFailureFallsBackToExecution(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	dir := t.TempDir()
	store := newMemStore(at(10))
	store.seed("v1", "out.dat", "cached", at(5))
	store.failGet = true
	rec := &recorder{}
	w := workflow.New(workflow.WithRemoteCache(remotecache.NewClient(store, "v1")))
	require.NoError(t, w.AddStage("S", rec.compute(t, dir, "S", at(0)), []string{filepath.Join(dir, "out.dat")},
		workflow.WithCache(true)))

	report, err := w.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, rec.calls)
	assert.Equal(t, workflow.Ran, report.Resolution("S"))
	assert.Equal(t, workflow.ReasonCacheFailed, report.Results[0].Reason)
	assert.Contains(t, logs.String(), "Cache download failed")
}

func TestRun_UnreachableCacheRunsLocalOnly(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	dir := t.TempDir()
	store := newMemStore(at(10))
	store.failConnect = true
	rec := &recorder{}
	w := workflow.New(workflow.WithRemoteCache(remotecache.NewClient(store, "v1")))
	require.NoError(t, w.AddStage("A", rec.compute(t, dir, "A", at(0)), []string{filepath.Join(dir, "a.dat")},
		workflow.WithCache(true)))
	require.NoError(t, w.AddStage("B", rec.compute(t, dir, "B", at(0)), []string{filepath.Join(dir, "b.dat")},
		workflow.WithCache(true), workflow.WithDependencies("A")))

	first, err := w.Run(ctx)
	require.NoError(t, err)
	second, err := w.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, first.Ran())
	assert.Equal(t, []string{"A", "B"}, second.Skipped())
	assert.Empty(t, store.puts)
	assert.Equal(t, 1, store.connectCalled)
	assert.Equal(t, 1, strings.Count(logs.String(), "Failed to connect to remote cache"))
}

func TestRun_PassthroughWithoutArtifactIsFatal(t *testing.T) {
	// Arrange
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	input := filepath.Join(dir, "input.csv")
	w := workflow.New()
	require.NoError(t, w.AddStage("inputs", nil, []string{input}))
	require.NoError(t, w.AddStage("later", rec.compute(t, dir, "later", at(0)), []string{filepath.Join(dir, "later.txt")}))

	// Act
	report, err := w.Run(ctx)

	// Assert
	require.ErrorIs(t, err, workflow.ErrUnresolvableNoOp)
	var noop *workflow.UnresolvableNoOpStageError
	require.ErrorAs(t, err, &noop)
	assert.Equal(t, "inputs", noop.Stage)
	assert.Equal(t, []string{input}, noop.Missing)
	assert.Contains(t, err.Error(), "input.csv")
	assert.Empty(t, rec.calls)
	assert.Empty(t, report.Results)
	s, _ := w.Stage("later")
	assert.Equal(t, workflow.Unresolved, s.Resolution())
}

func TestRun_PassthroughPresentLocallyOrInCache(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	local := filepath.Join(dir, "local.csv")
	remote := filepath.Join(dir, "remote.csv")
	testutil.WriteFile(t, local, "l", at(1))
	store := newMemStore(at(10))
	store.seed("v1", "remote.csv", "r", at(2))

	w := workflow.New(workflow.WithRemoteCache(remotecache.NewClient(store, "v1")))
	require.NoError(t, w.AddStage("local", nil, []string{local}))
	require.NoError(t, w.AddStage("remote", nil, []string{remote}, workflow.WithCache(true)))

	report, err := w.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, report.Skipped())
	assert.Equal(t, []string{"remote"}, report.Downloaded())
	requireModTime(t, at(2), remote)
}

func TestRun_PassthroughForcedByDependency(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	marker := filepath.Join(dir, "manual.csv")
	testutil.WriteFile(t, marker, "by hand", at(5))
	w := workflow.New()
	require.NoError(t, w.AddStage("gen", rec.compute(t, dir, "gen", at(0)), []string{filepath.Join(dir, "gen.txt")}))
	require.NoError(t, w.AddStage("manual", nil, []string{marker}, workflow.WithDependencies("gen")))

	report, err := w.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"gen", "manual"}, report.Ran())
	requireModTime(t, at(5), marker)
}

func TestRun_MissingOutputIsFatal(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{skip: map[string]bool{"A": true}}
	w := chain(t, dir, rec)

	report, err := w.Run(ctx)

	require.ErrorIs(t, err, workflow.ErrMissingOutput)
	var missing *workflow.MissingOutputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "A", missing.Stage)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt")}, missing.Missing)
	assert.Equal(t, []string{"A"}, rec.calls, "B must not run after a fatal error")
	assert.Empty(t, report.Ran())
}

func TestRun_StageErrorStopsRun(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	boom := errors.New("boom")
	rec := &recorder{fail: map[string]error{"B": boom}}
	w := chain(t, dir, rec)
	require.NoError(t, w.AddStage("C", rec.compute(t, dir, "C", at(0)), []string{filepath.Join(dir, "c.txt")}))

	report, err := w.Run(ctx)

	require.ErrorIs(t, err, boom)
	var stageErr *workflow.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "B", stageErr.Stage)
	assert.Equal(t, []string{"A", "B"}, rec.calls)
	assert.Equal(t, []string{"A"}, report.Ran())
	assert.Equal(t, workflow.Unresolved, report.Resolution("C"))
}

func TestRun_OutputDirectoriesAreCreated(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	out := filepath.Join(dir, "figures", "nested", "plot.pdf")
	w := workflow.New()
	require.NoError(t, w.AddStage("plot", rec.compute(t, dir, "plot", at(0)), []string{out}))

	_, err := w.Run(ctx)

	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestRun_CancellationIsCheckedBetweenStages(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	dir := t.TempDir()

	var calls []string
	fn := func(ctx context.Context, req workflow.Request) error {
		calls = append(calls, req.Stage)
		cancel()
		return os.WriteFile(req.Outputs[0], []byte("x"), 0644)
	}
	w := workflow.New()
	require.NoError(t, w.AddStage("A", workflow.Compute{Fn: fn}, []string{filepath.Join(dir, "a.txt")}))
	require.NoError(t, w.AddStage("B", workflow.Compute{Fn: fn}, []string{filepath.Join(dir, "b.txt")}))

	report, err := w.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"A"}, calls, "the started stage finishes; the next one never starts")
	assert.Equal(t, []string{"A"}, report.Ran())
}

func TestRun_ResetsResolutionEachRun(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{fail: map[string]error{}}
	w := chain(t, dir, rec)
	_, err := w.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	rec.fail["A"] = errors.New("offline")
	_, err = w.Run(ctx)
	require.Error(t, err)

	a, _ := w.Stage("A")
	b, _ := w.Stage("B")
	assert.Equal(t, workflow.Unresolved, a.Resolution())
	assert.Equal(t, workflow.Unresolved, b.Resolution())
}

type eventObserver struct {
	workflow.NoopObserver
	events []string
}

func (o *eventObserver) OnRunStart(_ context.Context, stages []string) {
	o.events = append(o.events, "start:"+strings.Join(stages, ","))
}

func (o *eventObserver) OnStageStart(_ context.Context, stage string, reason workflow.Reason) {
	o.events = append(o.events, "exec:"+stage+":"+string(reason))
}

func (o *eventObserver) OnStageResolved(_ context.Context, r workflow.StageResult, err error) {
	o.events = append(o.events, "resolved:"+r.Stage+":"+r.Resolution.String())
}

func (o *eventObserver) OnRunComplete(_ context.Context, report *workflow.Report, err error) {
	o.events = append(o.events, "done:"+strings.Join(report.Ran(), ","))
}

type panickingObserver struct{ workflow.NoopObserver }

func (*panickingObserver) OnStageResolved(context.Context, workflow.StageResult, error) {
	panic("observer bug")
}

func TestRun_NotifiesObservers(t *testing.T) {
	ctx, logs := testutil.NewContext(t)
	dir := t.TempDir()
	rec := &recorder{}
	obs := &eventObserver{}
	w := workflow.New(workflow.WithObserver(&panickingObserver{}), workflow.WithObserver(obs))
	testutil.WriteFile(t, filepath.Join(dir, "a.txt"), "a", at(1))
	require.NoError(t, w.AddStage("A", rec.compute(t, dir, "A", at(0)), []string{filepath.Join(dir, "a.txt")}))
	require.NoError(t, w.AddStage("B", rec.compute(t, dir, "B", at(0)), []string{filepath.Join(dir, "b.txt")},
		workflow.WithDependencies("A")))

	_, err := w.Run(ctx)

	require.NoError(t, err)
	want := []string{
		"start:A,B",
		"resolved:A:local",
		"exec:B:outputs are missing",
		"resolved:B:ran",
		"done:B",
	}
	if diff := cmp.Diff(want, obs.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, logs.String(), "Observer panicked")
}
