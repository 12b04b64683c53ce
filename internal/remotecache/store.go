// Package remotecache defines the namespaced blob store that stage outputs
// are cached in, and the Client the workflow engine talks to.
//
// # Store vs Client
//
// A Store is a backend: a directory on a shared file system, GitHub
// releases, or anything else able to keep named blobs inside a namespace
// with an update timestamp per blob. Store methods return errors for every
// failure.
//
// The Client wraps a Store for a single namespace and a single process. It
// connects lazily, memoizes the outcome, and turns connectivity problems
// into "absent" answers so that a workflow can continue local-only.
package remotecache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Store implementations when a namespace or a
	// blob does not exist.
	ErrNotFound = errors.New("not found in remote cache")

	// ErrNotConnected is returned by Client operations when the cache was
	// never requested or the connection attempt failed.
	ErrNotConnected = errors.New("remote cache not connected")
)

// Blob is the metadata the store records for a single cached artifact.
type Blob struct {
	Name      string
	Size      int64
	UpdatedAt time.Time
}

// Store is a namespaced blob store. Implementations must be safe to call
// sequentially from one goroutine; the engine never issues calls concurrently.
type Store interface {
	// Namespaces returns the existing namespaces, newest first.
	Namespaces(ctx context.Context) ([]string, error)

	// EnsureNamespace creates the namespace if it is absent.
	EnsureNamespace(ctx context.Context, namespace string) error

	// DeleteNamespace removes a namespace and everything in it.
	DeleteNamespace(ctx context.Context, namespace string) error

	// List returns the metadata of every blob in the namespace.
	List(ctx context.Context, namespace string) ([]Blob, error)

	// Stat returns the metadata for a single blob, or ErrNotFound.
	Stat(ctx context.Context, namespace, name string) (Blob, error)

	// Put uploads the local file as the named blob, replacing any existing
	// blob of the same name, and returns the new metadata.
	Put(ctx context.Context, namespace, name, localPath string) (Blob, error)

	// Get writes the named blob to destPath.
	Get(ctx context.Context, namespace, name, destPath string) error

	// Delete removes a single blob.
	Delete(ctx context.Context, namespace, name string) error
}
