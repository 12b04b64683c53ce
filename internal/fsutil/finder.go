// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FindFilesByExtension recursively searches the given root path for all files ending
// with the specified extension. If rootPath is itself a file with that
// extension, it is returned alone. The result is sorted lexically.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if strings.HasSuffix(rootPath, extension) {
			return []string{rootPath}, nil
		}
		return nil, fmt.Errorf("%s is not a %s file", rootPath, extension)
	}

	var files []string
	err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// ModTime returns the modification time of path. A missing file is reported
// with ok=false and no error; any other stat failure is returned.
func ModTime(path string) (t time.Time, ok bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

// OldestModTime returns the oldest modification time across paths together
// with the subset of paths that do not exist. When anything is missing the
// returned time is zero.
func OldestModTime(paths []string) (time.Time, []string, error) {
	var oldest time.Time
	var missing []string
	for _, p := range paths {
		t, ok, err := ModTime(p)
		if err != nil {
			return time.Time{}, nil, err
		}
		if !ok {
			missing = append(missing, p)
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	if len(missing) > 0 {
		return time.Time{}, missing, nil
	}
	return oldest, nil, nil
}

// NewestModTime returns the newest modification time across paths. Every
// path must exist.
func NewestModTime(paths []string) (time.Time, error) {
	var newest time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}

// SetModTime sets both the access and modification time of path to t.
func SetModTime(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}
