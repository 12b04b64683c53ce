package remotecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/fsutil"
)

const (
	// DefaultNamespace is created when no namespace was requested and the
	// store holds none yet.
	DefaultNamespace = "v1"

	// DefaultTimeout bounds every individual store call.
	DefaultTimeout = 30 * time.Second
)

// State is the memoized outcome of Client.Connect.
type State int

const (
	// NotAttempted means Connect has not been called yet.
	NotAttempted State = iota
	// Connected means the namespace exists and the store answered.
	Connected
	// Failed means the connection attempt failed; the cache is treated as absent.
	Failed
)

func (s State) String() string {
	switch s {
	case NotAttempted:
		return "not_attempted"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Client is a session-scoped view of a Store bound to one namespace.
//
// A nil *Client is valid and behaves as "no remote cache requested": every
// lookup reports absence and every transfer returns ErrNotConnected.
type Client struct {
	store     Store
	namespace string
	timeout   time.Duration
	state     State
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each store call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the given namespace. An empty namespace is
// resolved on Connect to the newest existing one, or DefaultNamespace.
func NewClient(store Store, namespace string, opts ...Option) *Client {
	c := &Client{
		store:     store,
		namespace: namespace,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Namespace returns the namespace in use. Before a successful Connect it is
// the requested namespace, which may be empty.
func (c *Client) Namespace() string {
	if c == nil {
		return ""
	}
	return c.namespace
}

// State returns the memoized connection state without attempting to connect.
func (c *Client) State() State {
	if c == nil {
		return NotAttempted
	}
	return c.state
}

// Connect resolves and creates the namespace on first use and memoizes the
// result for the life of the client. A failure is logged once as a warning.
func (c *Client) Connect(ctx context.Context) State {
	if c == nil {
		return Failed
	}
	if c.state != NotAttempted {
		return c.state
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Connecting to remote cache.", "namespace", c.namespace)

	ns, err := c.resolveNamespace(ctx)
	if err == nil {
		err = c.call(ctx, func(ctx context.Context) error {
			return c.store.EnsureNamespace(ctx, ns)
		})
	}
	if err != nil {
		logger.Warn("Failed to connect to remote cache. Continuing without it.", "namespace", c.namespace, "error", err)
		c.state = Failed
		return c.state
	}

	c.namespace = ns
	c.state = Connected
	logger.Info("🔗 Connected to remote cache", "namespace", ns)
	return c.state
}

func (c *Client) resolveNamespace(ctx context.Context) (string, error) {
	if c.namespace != "" {
		return c.namespace, nil
	}
	var namespaces []string
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		namespaces, err = c.store.Namespaces(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("listing namespaces: %w", err)
	}
	if len(namespaces) == 0 {
		return DefaultNamespace, nil
	}
	return namespaces[0], nil
}

// Stat reports the recorded update time of a blob. Any failure, including a
// missing connection, is reported as absence.
func (c *Client) Stat(ctx context.Context, name string) (time.Time, bool) {
	if c.Connect(ctx) != Connected {
		return time.Time{}, false
	}
	var blob Blob
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		blob, err = c.store.Stat(ctx, c.namespace, name)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			ctxlog.FromContext(ctx).Debug("Remote cache lookup failed.", "blob", name, "error", err)
		}
		return time.Time{}, false
	}
	return blob.UpdatedAt, true
}

// Upload stores localPath under name and aligns the local modification time
// with the update time the store recorded.
func (c *Client) Upload(ctx context.Context, name, localPath string) (time.Time, error) {
	if c.Connect(ctx) != Connected {
		return time.Time{}, ErrNotConnected
	}
	var blob Blob
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		blob, err = c.store.Put(ctx, c.namespace, name, localPath)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("uploading %s: %w", name, err)
	}
	if err := fsutil.SetModTime(localPath, blob.UpdatedAt); err != nil {
		return time.Time{}, fmt.Errorf("aligning modification time of %s: %w", localPath, err)
	}
	return blob.UpdatedAt, nil
}

// Download fetches the named blob into destPath and sets its modification
// time to the recorded update time. The file is written next to destPath and
// renamed into place, so a failed transfer never leaves a partial artifact.
func (c *Client) Download(ctx context.Context, name, destPath string) (time.Time, error) {
	if c.Connect(ctx) != Connected {
		return time.Time{}, ErrNotConnected
	}

	var blob Blob
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		blob, err = c.store.Stat(ctx, c.namespace, name)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("looking up %s: %w", name, err)
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return time.Time{}, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".download-*")
	if err != nil {
		return time.Time{}, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	err = c.call(ctx, func(ctx context.Context) error {
		return c.store.Get(ctx, c.namespace, name, tmpPath)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("downloading %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return time.Time{}, err
	}
	if err := fsutil.SetModTime(destPath, blob.UpdatedAt); err != nil {
		return time.Time{}, err
	}
	return blob.UpdatedAt, nil
}

// List returns every blob in the connected namespace.
func (c *Client) List(ctx context.Context) ([]Blob, error) {
	if c.Connect(ctx) != Connected {
		return nil, ErrNotConnected
	}
	var blobs []Blob
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		blobs, err = c.store.List(ctx, c.namespace)
		return err
	})
	return blobs, err
}

// Namespaces lists the namespaces in the store without connecting to any of them.
func (c *Client) Namespaces(ctx context.Context) ([]string, error) {
	if c == nil {
		return nil, ErrNotConnected
	}
	var namespaces []string
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		namespaces, err = c.store.Namespaces(ctx)
		return err
	})
	return namespaces, err
}

// DeleteNamespace removes a namespace from the store. It does not require a
// connection, since connecting would create the target namespace.
func (c *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	if c == nil {
		return ErrNotConnected
	}
	return c.call(ctx, func(ctx context.Context) error {
		return c.store.DeleteNamespace(ctx, namespace)
	})
}

func (c *Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(ctx)
}
