package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/stagerun/internal/fsutil"
)

// Request is what a stage function receives.
type Request struct {
	Stage   string
	Outputs []string
	Config  any
}

// Func produces every path in req.Outputs or returns an error. It knows
// nothing about caching.
type Func func(ctx context.Context, req Request) error

// Kind is the behaviour of a stage. The only implementations are Compute and
// Passthrough.
type Kind interface {
	// definitionTime is the modification time of whatever defines the
	// stage. A zero time means the stage is never stale by definition.
	definitionTime() (time.Time, error)
	isKind()
}

// Compute runs Fn to produce the stage outputs.
type Compute struct {
	Fn Func
	// Sources are the files the stage is defined by, such as its script or a
	// parameter file. The newest of them is the stage's definition time.
	Sources []string
}

func (c Compute) definitionTime() (time.Time, error) {
	if len(c.Sources) == 0 {
		return time.Time{}, nil
	}
	t, err := fsutil.NewestModTime(c.Sources)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading stage definition: %w", err)
	}
	return t, nil
}

func (Compute) isKind() {}

// Passthrough stands for artifacts produced outside the workflow. Its outputs
// must already exist locally or in the remote cache.
type Passthrough struct{}

func (Passthrough) definitionTime() (time.Time, error) { return time.Time{}, nil }

func (Passthrough) isKind() {}
