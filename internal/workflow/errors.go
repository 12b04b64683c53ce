package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateStage    = errors.New("duplicate stage name")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrNoOutputs         = errors.New("stage declares no outputs")
	ErrBlobNameConflict  = errors.New("cached output name conflict")
	ErrMissingOutput     = errors.New("stage output missing after run")
	ErrUnresolvableNoOp  = errors.New("passthrough stage has no artifact")
)

// DuplicateStageNameError is returned by AddStage when the name is taken.
type DuplicateStageNameError struct {
	Name string
}

func (e *DuplicateStageNameError) Error() string {
	return fmt.Sprintf("stage %q is already registered", e.Name)
}

func (e *DuplicateStageNameError) Unwrap() error { return ErrDuplicateStage }

// UnknownDependencyError is returned by AddStage when a dependency has not
// been registered yet.
type UnknownDependencyError struct {
	Stage      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("stage %q depends on %q, which is not registered before it", e.Stage, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }

// BlobNameConflictError is returned by AddStage when two cached outputs would
// be stored under the same blob name.
type BlobNameConflictError struct {
	Blob   string
	Stage  string
	Output string
	Other  string // stage already owning the blob name
}

func (e *BlobNameConflictError) Error() string {
	return fmt.Sprintf("cached output %s of stage %q has the same blob name %q as an output of stage %q",
		e.Output, e.Stage, e.Blob, e.Other)
}

func (e *BlobNameConflictError) Unwrap() error { return ErrBlobNameConflict }

// MissingOutputError means a stage returned successfully without producing
// all of its outputs.
type MissingOutputError struct {
	Stage   string
	Missing []string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("stage %q finished without producing %s", e.Stage, strings.Join(e.Missing, ", "))
}

func (e *MissingOutputError) Unwrap() error { return ErrMissingOutput }

// UnresolvableNoOpStageError means a passthrough stage had to run but its
// artifacts are neither local nor cached.
type UnresolvableNoOpStageError struct {
	Stage   string
	Missing []string
}

func (e *UnresolvableNoOpStageError) Error() string {
	return fmt.Sprintf("stage %q has no computation and its outputs are not available locally or in the cache: %s",
		e.Stage, strings.Join(e.Missing, ", "))
}

func (e *UnresolvableNoOpStageError) Unwrap() error { return ErrUnresolvableNoOp }

// StageError wraps a failure returned by a stage function.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
