//go:build integration

package itest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forPelevin/lipseg/internal/assemble"
	"github.com/forPelevin/lipseg/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/lipseg/internal/segment"
	"github.com/forPelevin/lipseg/internal/types"
)

// Splitting on keyframe-aligned boundaries and joining the pieces back in
// index order must give the source packets back unchanged.
func TestSplitThenConcatIsLossless(t *testing.T) {
	tmp := t.TempDir()
	video, audio := makeFixtures(t, tmp, 12)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	media := ffmpeg.New("", "", nil)
	seg := segment.New(media)
	concat := assemble.New(media)

	tests := []struct {
		name   string
		src    types.MediaAsset
		stream string
		out    string
	}{
		{name: "video", src: types.MediaAsset{Path: video, Kind: types.KindVideo}, stream: "v", out: "joined.mp4"},
		{name: "audio", src: types.MediaAsset{Path: audio, Kind: types.KindAudio}, stream: "a", out: "joined.wav"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := filepath.Join(tmp, tc.name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}

			segments, err := seg.Split(ctx, tc.src, 5*time.Second, dir)
			if err != nil {
				t.Fatalf("split: %v", err)
			}
			if len(segments) != 3 {
				t.Fatalf("expected ceil(12/5)=3 segments, got %d", len(segments))
			}

			results := make([]types.JobResult, len(segments))
			for i, s := range segments {
				results[i] = types.JobResult{Index: s.Index, Output: s.MediaAsset}
			}
			out := filepath.Join(dir, tc.out)
			if err := concat.Assemble(ctx, results, true, dir, out); err != nil {
				t.Fatalf("assemble: %v", err)
			}

			want, err := streamHash(tc.src.Path, tc.stream)
			if err != nil {
				t.Fatalf("hash source: %v", err)
			}
			got, err := streamHash(out, tc.stream)
			if err != nil {
				t.Fatalf("hash output: %v", err)
			}
			if got != want {
				t.Fatalf("joined %s differs from source:\n got %s\nwant %s", tc.name, got, want)
			}
		})
	}
}
