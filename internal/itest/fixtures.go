//go:build integration

package itest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// makeFixtures renders a test pattern video with a keyframe every second
// and a sine tone of the same length.
func makeFixtures(t *testing.T, dir string, seconds int) (string, string) {
	t.Helper()
	video := filepath.Join(dir, "face.mp4")
	audio := filepath.Join(dir, "voice.wav")

	runFFmpeg(t,
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=size=320x240:rate=25:duration=%d", seconds),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-g", "25",
		"-an",
		video,
	)
	runFFmpeg(t,
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:duration=%d", seconds),
		audio,
	)
	return video, audio
}

func runFFmpeg(t *testing.T, args ...string) {
	t.Helper()
	cmd := exec.Command("ffmpeg", append([]string{"-y", "-v", "error"}, args...)...)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}
}

const fakeModelScript = `#!/bin/sh
set -e
for arg in "$@"; do
  case "$arg" in
    --face=*) face="${arg#--face=}" ;;
    --audio=*) audio="${arg#--audio=}" ;;
    --outfile=*) out="${arg#--outfile=}" ;;
  esac
done
case "$out" in
  *FAIL_MARKER*) echo "face not detected" >&2; exit 1 ;;
esac
exec ffmpeg -v error -y -i "$face" -i "$audio" -map 0:v:0 -map 1:a:0 -c:v copy -c:a aac -shortest "$out"
`

// writeFakeModel installs a stand-in for the inference script. It muxes
// the face video with the audio and fails for output paths containing
// failMarker.
func writeFakeModel(t *testing.T, dir, failMarker string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-inference.sh")
	body := strings.ReplaceAll(fakeModelScript, "FAIL_MARKER", failMarker)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake model: %v", err)
	}
	return path
}
