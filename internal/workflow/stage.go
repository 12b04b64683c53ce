package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/fsutil"
	"github.com/specialistvlad/stagerun/internal/remotecache"
)

// Stage is a named unit of work registered in a Workflow. Only its
// resolution changes after registration.
type Stage struct {
	name    string
	kind    Kind
	outputs []string
	deps    []string
	depSet  map[string]struct{}
	cache   bool
	config  any

	resolution Resolution
}

func (s *Stage) Name() string { return s.name }

func (s *Stage) Kind() Kind { return s.kind }

// Outputs returns the declared outputs in declaration order.
func (s *Stage) Outputs() []string { return append([]string(nil), s.outputs...) }

// Dependencies returns the names of the stages this one depends on.
func (s *Stage) Dependencies() []string { return append([]string(nil), s.deps...) }

// Cached reports whether the outputs take part in the remote cache.
func (s *Stage) Cached() bool { return s.cache }

func (s *Stage) Config() any { return s.config }

// Resolution is the outcome of the current or most recent run.
func (s *Stage) Resolution() Resolution { return s.resolution }

// blobName is the name an output is stored under in the remote cache.
func blobName(output string) string {
	return filepath.Base(output)
}

// probe is a Query that also returns the per-output cache times, zero where
// the cache has no copy.
func (s *Stage) probe(ctx context.Context, cache *remotecache.Client) (Status, []time.Time, error) {
	var st Status

	localTime, missing, err := fsutil.OldestModTime(s.outputs)
	if err != nil {
		return Status{}, nil, fmt.Errorf("stage %q: %w", s.name, err)
	}
	if len(missing) == 0 {
		st.Local = true
		st.LocalTime = localTime
	}

	var cacheTimes []time.Time
	if s.cache {
		cacheTimes = make([]time.Time, len(s.outputs))
		st.Cache = true
		for i, out := range s.outputs {
			t, ok := cache.Stat(ctx, blobName(out))
			if !ok {
				st.Cache = false
				continue
			}
			cacheTimes[i] = t
			if st.CacheTime.IsZero() || t.Before(st.CacheTime) {
				st.CacheTime = t
			}
		}
		if !st.Cache {
			st.CacheTime = time.Time{}
		}
	}

	st.StageTime, err = s.kind.definitionTime()
	if err != nil {
		return Status{}, nil, fmt.Errorf("stage %q: %w", s.name, err)
	}

	st.Newest = newestSource(st)
	return st, cacheTimes, nil
}

// Query reports where the freshest copy of the stage outputs is. It only
// touches the cache when the stage is cached.
func (s *Stage) Query(ctx context.Context, cache *remotecache.Client) (Status, error) {
	st, _, err := s.probe(ctx, cache)
	return st, err
}

// resolve brings the stage up to date and records how.
func (s *Stage) resolve(ctx context.Context, cache *remotecache.Client, dependencyChanged bool, obs observers) (StageResult, error) {
	ctx = ctxlog.WithAttrs(ctx, "stage", s.name)
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	result := StageResult{Stage: s.name}

	if dependencyChanged {
		result.Reason = ReasonDependencyChanged
	} else {
		st, cacheTimes, err := s.probe(ctx, cache)
		if err != nil {
			return result, err
		}
		logger.Debug("Stage status.", "local", st.Local, "cache", st.Cache, "newest", st.Newest.String())

		switch st.Newest {
		case SourceLocal:
			logger.Info("⏭️ Skipping stage, local outputs are current.")
			s.syncUp(ctx, cache, cacheTimes)
			s.resolution = ResolvedLocal
			result.Resolution, result.Reason = ResolvedLocal, ReasonLocalCurrent
			result.Duration = time.Since(start)
			return result, nil

		case SourceCache:
			logger.Info("⬇️ Downloading stage outputs from cache.")
			err := s.download(ctx, cache)
			if err == nil {
				s.resolution = ResolvedCache
				result.Resolution, result.Reason = ResolvedCache, ReasonCacheNewer
				result.Duration = time.Since(start)
				return result, nil
			}
			logger.Warn("Cache download failed, running stage instead.", "error", err)
			result.Reason = ReasonCacheFailed

		default:
			if st.Local {
				result.Reason = ReasonStageChanged
			} else {
				result.Reason = ReasonOutputsMissing
			}
		}
	}

	logger.Info(fmt.Sprintf("▶️ Running stage because %s.", result.Reason))
	obs.stageStart(ctx, s.name, result.Reason)
	if err := s.execute(ctx, cache); err != nil {
		return result, err
	}
	s.resolution = Ran
	result.Resolution = Ran
	result.Duration = time.Since(start)
	logger.Info("✅ Stage finished.", "duration", result.Duration)
	return result, nil
}

func (s *Stage) execute(ctx context.Context, cache *remotecache.Client) error {
	switch k := s.kind.(type) {
	case Passthrough:
		if _, missing, err := fsutil.OldestModTime(s.outputs); err != nil {
			return fmt.Errorf("stage %q: %w", s.name, err)
		} else if len(missing) > 0 {
			return &UnresolvableNoOpStageError{Stage: s.name, Missing: missing}
		}

	case Compute:
		for _, out := range s.outputs {
			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return fmt.Errorf("stage %q: creating output directory: %w", s.name, err)
			}
		}
		req := Request{Stage: s.name, Outputs: s.Outputs(), Config: s.config}
		if err := k.Fn(ctx, req); err != nil {
			return &StageError{Stage: s.name, Err: err}
		}

	default:
		return fmt.Errorf("stage %q: unsupported kind %T", s.name, s.kind)
	}

	_, missing, err := fsutil.OldestModTime(s.outputs)
	if err != nil {
		return fmt.Errorf("stage %q: %w", s.name, err)
	}
	if len(missing) > 0 {
		return &MissingOutputError{Stage: s.name, Missing: missing}
	}

	if s.cache {
		for _, out := range s.outputs {
			s.upload(ctx, cache, out)
		}
	}
	return nil
}

// syncUp uploads every output whose local copy is newer than the cached one.
func (s *Stage) syncUp(ctx context.Context, cache *remotecache.Client, cacheTimes []time.Time) {
	if !s.cache || cache.Connect(ctx) != remotecache.Connected {
		return
	}
	for i, out := range s.outputs {
		local, ok, err := fsutil.ModTime(out)
		if err != nil || !ok {
			continue
		}
		if !cacheTimes[i].IsZero() && !local.After(cacheTimes[i]) {
			continue
		}
		s.upload(ctx, cache, out)
	}
}

// upload failures are logged and otherwise ignored.
func (s *Stage) upload(ctx context.Context, cache *remotecache.Client, output string) {
	logger := ctxlog.FromContext(ctx)
	name := blobName(output)
	if _, err := cache.Upload(ctx, name, output); err != nil {
		if !errors.Is(err, remotecache.ErrNotConnected) {
			logger.Warn("Failed to upload output to cache.", "blob", name, "error", err)
		}
		return
	}
	logger.Info("⬆️ Uploaded output to cache.", "blob", name)
}

// download fetches every output; the first failure aborts.
func (s *Stage) download(ctx context.Context, cache *remotecache.Client) error {
	for _, out := range s.outputs {
		if _, err := cache.Download(ctx, blobName(out), out); err != nil {
			return err
		}
	}
	return nil
}
