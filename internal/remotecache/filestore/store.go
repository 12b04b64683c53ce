// Package filestore implements remotecache.Store on a directory, typically a
// shared or network-mounted file system. Each namespace is a sub-directory
// and each blob a file inside it; the file's modification time is the
// blob's recorded update time. A marker file written when the namespace is
// created records its creation time.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/specialistvlad/stagerun/internal/remotecache"
)

// reservedPrefix starts the names of the store's own files, which are never
// blobs.
const reservedPrefix = ".stagerun-"

// markerName is the file whose modification time is the namespace creation
// time.
const markerName = reservedPrefix + "namespace"

// Store is a directory-backed remotecache.Store.
type Store struct {
	root string
	now  func() time.Time
}

// New creates a store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

func (s *Store) nsDir(namespace string) (string, error) {
	if err := checkName(namespace); err != nil {
		return "", fmt.Errorf("namespace: %w", err)
	}
	return filepath.Join(s.root, namespace), nil
}

func (s *Store) blobPath(namespace, name string) (string, error) {
	dir, err := s.nsDir(namespace)
	if err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", fmt.Errorf("blob: %w", err)
	}
	if strings.HasPrefix(name, reservedPrefix) {
		return "", fmt.Errorf("blob: reserved name %q", name)
	}
	return filepath.Join(dir, name), nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// Namespaces lists sub-directories by creation time, newest first. A
// directory without a marker counts as created at its modification time.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type nsInfo struct {
		name string
		mod  time.Time
	}
	var infos []nsInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		created, err := s.createdAt(e)
		if err != nil {
			return nil, err
		}
		infos = append(infos, nsInfo{name: e.Name(), mod: created})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].mod.Equal(infos[j].mod) {
			return infos[i].mod.After(infos[j].mod)
		}
		return infos[i].name > infos[j].name
	})

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.name
	}
	return names, nil
}

func (s *Store) createdAt(e fs.DirEntry) (time.Time, error) {
	info, err := os.Stat(filepath.Join(s.root, e.Name(), markerName))
	if err == nil {
		return info.ModTime(), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, err
	}
	info, err = e.Info()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// EnsureNamespace creates the namespace directory and its marker if needed.
// An existing marker is left untouched.
func (s *Store) EnsureNamespace(ctx context.Context, namespace string) error {
	dir, err := s.nsDir(namespace)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, markerName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := s.now()
	return os.Chtimes(f.Name(), now, now)
}

// DeleteNamespace removes the namespace directory and its blobs.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	dir, err := s.nsDir(namespace)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("namespace %q: %w", namespace, remotecache.ErrNotFound)
		}
		return err
	}
	return os.RemoveAll(dir)
}

// List returns every blob in the namespace sorted by name.
func (s *Store) List(ctx context.Context, namespace string) ([]remotecache.Blob, error) {
	dir, err := s.nsDir(namespace)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("namespace %q: %w", namespace, remotecache.ErrNotFound)
		}
		return nil, err
	}

	var blobs []remotecache.Blob
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), reservedPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blobFromInfo(info))
	}
	return blobs, nil
}

// Stat returns the metadata of a single blob.
func (s *Store) Stat(ctx context.Context, namespace, name string) (remotecache.Blob, error) {
	path, err := s.blobPath(namespace, name)
	if err != nil {
		return remotecache.Blob{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return remotecache.Blob{}, fmt.Errorf("blob %q: %w", name, remotecache.ErrNotFound)
		}
		return remotecache.Blob{}, err
	}
	return blobFromInfo(info), nil
}

// Put copies localPath into the namespace, replacing any existing blob, and
// stamps it with the current time.
func (s *Store) Put(ctx context.Context, namespace, name, localPath string) (remotecache.Blob, error) {
	dest, err := s.blobPath(namespace, name)
	if err != nil {
		return remotecache.Blob{}, err
	}
	if err := s.EnsureNamespace(ctx, namespace); err != nil {
		return remotecache.Blob{}, err
	}
	if err := copyFile(localPath, dest); err != nil {
		return remotecache.Blob{}, err
	}
	now := s.now()
	if err := os.Chtimes(dest, now, now); err != nil {
		return remotecache.Blob{}, err
	}
	return s.Stat(ctx, namespace, name)
}

// Get copies the blob to destPath.
func (s *Store) Get(ctx context.Context, namespace, name, destPath string) error {
	src, err := s.blobPath(namespace, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob %q: %w", name, remotecache.ErrNotFound)
		}
		return err
	}
	return copyFile(src, destPath)
}

// Delete removes a single blob.
func (s *Store) Delete(ctx context.Context, namespace, name string) error {
	path, err := s.blobPath(namespace, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob %q: %w", name, remotecache.ErrNotFound)
		}
		return err
	}
	return nil
}

func blobFromInfo(info fs.FileInfo) remotecache.Blob {
	return remotecache.Blob{
		Name:      info.Name(),
		Size:      info.Size(),
		UpdatedAt: info.ModTime(),
	}
}

// copyFile writes src to a temporary file beside dst and renames it over dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), reservedPrefix+"tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
