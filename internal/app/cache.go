package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/remotecache"
)

var errNoCache = errors.New("no remote cache configured: add a cache block to the workflow")

func (a *App) requireCache() error {
	if a.cache == nil {
		return errNoCache
	}
	return nil
}

// CacheList prints every blob in the target namespace.
func (a *App) CacheList(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if err := a.requireCache(); err != nil {
		return err
	}
	if a.cache.Connect(ctx) != remotecache.Connected {
		return fmt.Errorf("listing cache: %w", remotecache.ErrNotConnected)
	}

	blobs, err := a.cache.List(ctx)
	if err != nil {
		return fmt.Errorf("listing cache namespace %q: %w", a.cache.Namespace(), err)
	}

	fmt.Fprintf(a.outW, "Namespace %s\n", a.cache.Namespace())
	tw := tabwriter.NewWriter(a.outW, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tUPDATED")
	for _, b := range blobs {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Name, b.Size, formatTime(b.UpdatedAt))
	}
	return tw.Flush()
}

// CacheNamespaces prints the namespaces of the store, newest first.
func (a *App) CacheNamespaces(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if err := a.requireCache(); err != nil {
		return err
	}

	namespaces, err := a.cache.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("listing cache namespaces: %w", err)
	}
	for _, ns := range namespaces {
		fmt.Fprintln(a.outW, ns)
	}
	return nil
}

// CacheDelete removes a namespace and every blob in it.
func (a *App) CacheDelete(ctx context.Context, namespace string) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if err := a.requireCache(); err != nil {
		return err
	}

	if err := a.cache.DeleteNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("deleting cache namespace %q: %w", namespace, err)
	}
	a.logger.Info("🗑️ Deleted cache namespace.", "namespace", namespace)
	fmt.Fprintf(a.outW, "Deleted namespace %s\n", namespace)
	return nil
}
