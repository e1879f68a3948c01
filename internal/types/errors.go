package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoPairs is reported when pairing produced nothing to run.
var ErrNoPairs = errors.New("no segment pairs to process")

// SegmentationError means the external splitter failed for one asset kind.
// Segmentation is all-or-nothing per asset.
type SegmentationError struct {
	Kind   MediaKind
	Stderr string
	Err    error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segment %s: %v", e.Kind, e.Err)
}

func (e *SegmentationError) Unwrap() error { return e.Err }

// PairingWarning reports segments dropped because the other modality ran
// out. It is not an error: the run continues with the shorter count.
type PairingWarning struct {
	VideoCount int
	AudioCount int
	Side       MediaKind
	Dropped    []int
}

func (w PairingWarning) String() string {
	return fmt.Sprintf("segment count mismatch (video=%d audio=%d): dropped %s indices %v",
		w.VideoCount, w.AudioCount, w.Side, w.Dropped)
}

type JobFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Stderr string `json:"stderr,omitempty"`
	Err    error  `json:"-"`
}

// InferenceError carries every failed job of a run, sorted by index.
type InferenceError struct {
	Failures []JobFailure
}

func NewInferenceError(results []JobResult) *InferenceError {
	var fs []JobFailure
	for _, r := range results {
		if f, ok := r.Failure(); ok {
			fs = append(fs, f)
		}
	}
	if len(fs) == 0 {
		return nil
	}
	sort.Slice(fs, func(i, j int) bool { return fs[i].Index < fs[j].Index })
	return &InferenceError{Failures: fs}
}

func (e *InferenceError) Indices() []int {
	out := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Index)
	}
	return out
}

func (e *InferenceError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("segment %d: %s", f.Index, f.Reason))
	}
	return fmt.Sprintf("inference failed for %d segment(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the per-job causes so errors.Is(err, context.Canceled)
// works on a cancelled run.
func (e *InferenceError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

type ConcatenationError struct {
	Err error
}

func (e *ConcatenationError) Error() string { return fmt.Sprintf("concatenate: %v", e.Err) }

func (e *ConcatenationError) Unwrap() error { return e.Err }

// WorkspaceError covers allocation, handoff and teardown of a run workspace.
type WorkspaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *WorkspaceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("workspace %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// RunError is returned by the orchestrator for an aborted run. Stage is the
// state the run was in when it aborted.
type RunError struct {
	RunID string
	Stage string
	Err   error
}

func (e *RunError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("run %s aborted while %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
