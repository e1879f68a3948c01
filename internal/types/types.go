package types

import (
	"fmt"
	"time"
)

type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// MediaAsset is a local media file. Duration is zero until probed.
type MediaAsset struct {
	Path     string        `json:"path"`
	Kind     MediaKind     `json:"kind"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Segment is a time-bounded slice of a source asset. Index is dense and
// zero-based; it alone defines playback order.
type Segment struct {
	MediaAsset
	Index  int           `json:"index"`
	Source string        `json:"source"`
	Start  time.Duration `json:"start"`
}

func (s Segment) String() string {
	return fmt.Sprintf("%s segment %d (%s)", s.Kind, s.Index, s.Path)
}

type SegmentPair struct {
	Index int
	Video Segment
	Audio Segment
}

// JobResult is the outcome of one inference invocation. Output is set only
// when Err is nil.
type JobResult struct {
	Index    int           `json:"index"`
	Output   MediaAsset    `json:"output"`
	Err      error         `json:"-"`
	Reason   string        `json:"reason,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (r JobResult) OK() bool { return r.Err == nil }

// Failure converts a failed result into its JobFailure. ok is false when the
// job succeeded.
func (r JobResult) Failure() (JobFailure, bool) {
	if r.Err == nil {
		return JobFailure{}, false
	}
	reason := r.Reason
	if reason == "" {
		reason = r.Err.Error()
	}
	return JobFailure{Index: r.Index, Reason: reason, Stderr: r.Stderr, Err: r.Err}, true
}
