package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/stagerun/internal/remotecache"
	"github.com/specialistvlad/stagerun/internal/testutil"
	"github.com/specialistvlad/stagerun/internal/workflow"
	"github.com/stretchr/testify/require"
)

// base is comfortably in the past so that files written by stage functions
// are always newer than any fixture.
var base = time.Now().Add(-24 * time.Hour).Truncate(time.Second)

// at returns base plus n hours.
func at(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

// recorder is a stage function that writes every requested output and
// remembers which stages it ran for.
type recorder struct {
	calls []string
	fail  map[string]error
	skip  map[string]bool // stages that "forget" to write their outputs
}

func (r *recorder) Fn(ctx context.Context, req workflow.Request) error {
	r.calls = append(r.calls, req.Stage)
	if err := r.fail[req.Stage]; err != nil {
		return err
	}
	if r.skip[req.Stage] {
		return nil
	}
	for _, out := range req.Outputs {
		if err := os.WriteFile(out, []byte(req.Stage), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (r *recorder) reset() { r.calls = nil }

// compute returns a Compute kind defined by a source file stamped at t.
func (r *recorder) compute(t *testing.T, dir, name string, defined time.Time) workflow.Compute {
	t.Helper()
	src := filepath.Join(dir, "defs", name+".py")
	testutil.WriteFile(t, src, "# "+name, defined)
	return workflow.Compute{Fn: r.Fn, Sources: []string{src}}
}

type memBlob struct {
	data []byte
	at   time.Time
}

// memStore is an in-memory remotecache.Store with a settable clock and
// injectable failures.
type memStore struct {
	namespaces    []string
	blobs         map[string]memBlob
	now           time.Time
	puts          []string
	failConnect   bool
	failGet       bool
	connectCalled int
}

func newMemStore(now time.Time) *memStore {
	return &memStore{blobs: make(map[string]memBlob), now: now}
}

var errUnreachable = errors.New("unreachable")

func key(ns, name string) string { return ns + "/" + name }

func (m *memStore) seed(ns, name, content string, t time.Time) {
	m.blobs[key(ns, name)] = memBlob{data: []byte(content), at: t}
}

func (m *memStore) Namespaces(context.Context) ([]string, error) {
	if m.failConnect {
		m.connectCalled++
		return nil, errUnreachable
	}
	return m.namespaces, nil
}

func (m *memStore) EnsureNamespace(_ context.Context, ns string) error {
	if m.failConnect {
		m.connectCalled++
		return errUnreachable
	}
	for _, n := range m.namespaces {
		if n == ns {
			return nil
		}
	}
	m.namespaces = append([]string{ns}, m.namespaces...)
	return nil
}

func (m *memStore) DeleteNamespace(context.Context, string) error { return errors.New("not supported") }

func (m *memStore) List(context.Context, string) ([]remotecache.Blob, error) {
	return nil, errors.New("not supported")
}

func (m *memStore) Stat(_ context.Context, ns, name string) (remotecache.Blob, error) {
	b, ok := m.blobs[key(ns, name)]
	if !ok {
		return remotecache.Blob{}, fmt.Errorf("%s: %w", name, remotecache.ErrNotFound)
	}
	return remotecache.Blob{Name: name, Size: int64(len(b.data)), UpdatedAt: b.at}, nil
}

func (m *memStore) Put(_ context.Context, ns, name, localPath string) (remotecache.Blob, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return remotecache.Blob{}, err
	}
	m.puts = append(m.puts, name)
	m.blobs[key(ns, name)] = memBlob{data: data, at: m.now}
	return remotecache.Blob{Name: name, Size: int64(len(data)), UpdatedAt: m.now}, nil
}

func (m *memStore) Get(_ context.Context, ns, name, destPath string) error {
	if m.failGet {
		return errUnreachable
	}
	b, ok := m.blobs[key(ns, name)]
	if !ok {
		return remotecache.ErrNotFound
	}
	return os.WriteFile(destPath, b.data, 0644)
}

func (m *memStore) Delete(context.Context, string, string) error { return errors.New("not supported") }

// requireModTime asserts the exact modification time of path.
func requireModTime(t *testing.T, want time.Time, path string) {
	t.Helper()
	got := testutil.ModTime(t, path)
	require.True(t, got.Equal(want), "mtime of %s: want %s, got %s", path, want, got)
}
