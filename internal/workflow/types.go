package workflow

import (
	"fmt"
	"time"
)

// Resolution is how a stage was brought up to date during a run.
type Resolution int

const (
	Unresolved Resolution = iota
	ResolvedLocal
	ResolvedCache
	Ran
)

func (r Resolution) String() string {
	switch r {
	case Unresolved:
		return "unresolved"
	case ResolvedLocal:
		return "local"
	case ResolvedCache:
		return "cache"
	case Ran:
		return "ran"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// Source names the newest of the three places a stage can be judged by.
type Source int

const (
	SourceLocal Source = iota
	SourceCache
	SourceStage
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceCache:
		return "cache"
	case SourceStage:
		return "stage"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Status is the result of a freshness query. Zero times mean "never".
type Status struct {
	Local  bool
	Cache  bool
	Newest Source

	LocalTime time.Time
	CacheTime time.Time
	StageTime time.Time
}

// newestSource picks the argmax of local, cache and stage time, in that order,
// so ties prefer local over cache and cache over stage. With nothing local or
// cached the stage has to run.
func newestSource(st Status) Source {
	if !st.Local && !st.Cache {
		return SourceStage
	}
	src, best := SourceLocal, st.LocalTime
	if st.CacheTime.After(best) {
		src, best = SourceCache, st.CacheTime
	}
	if st.StageTime.After(best) {
		src = SourceStage
	}
	return src
}

// Reason explains a resolution in progress messages.
type Reason string

const (
	ReasonLocalCurrent      Reason = "local outputs are current"
	ReasonCacheNewer        Reason = "the cache is newer"
	ReasonOutputsMissing    Reason = "outputs are missing"
	ReasonStageChanged      Reason = "the stage changed"
	ReasonDependencyChanged Reason = "a dependency changed"
	ReasonCacheFailed       Reason = "the cache download failed"
)

// StageResult is the outcome of one stage in a run.
type StageResult struct {
	Stage      string
	Resolution Resolution
	Reason     Reason
	Duration   time.Duration
}

// Report lists stage results in execution order. A failed run reports the
// stages resolved before the failure.
type Report struct {
	Results []StageResult
}

func (r *Report) filter(res Resolution) []string {
	var names []string
	for _, sr := range r.Results {
		if sr.Resolution == res {
			names = append(names, sr.Stage)
		}
	}
	return names
}

// Ran returns the stages that executed.
func (r *Report) Ran() []string { return r.filter(Ran) }

// Skipped returns the stages whose local outputs were current.
func (r *Report) Skipped() []string { return r.filter(ResolvedLocal) }

// Downloaded returns the stages restored from the remote cache.
func (r *Report) Downloaded() []string { return r.filter(ResolvedCache) }

// Resolution returns the resolution of the named stage, or Unresolved if the
// run never reached it.
func (r *Report) Resolution(stage string) Resolution {
	for _, sr := range r.Results {
		if sr.Stage == stage {
			return sr.Resolution
		}
	}
	return Unresolved
}
