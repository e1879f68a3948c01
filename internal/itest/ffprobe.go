//go:build integration

package itest

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

func probeDurationSeconds(path string) (float64, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w\n%s", err, string(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return sec, nil
}

// streamHash hashes the packet payload of one stream without decoding.
// Timestamps are not part of the hash.
func streamHash(path, stream string) (string, error) {
	cmd := exec.Command("ffmpeg",
		"-v", "error",
		"-i", path,
		"-map", "0:"+stream,
		"-c", "copy",
		"-f", "streamhash",
		"-hash", "sha256",
		"-",
	)
	b, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg streamhash: %w", err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("ffmpeg streamhash: no output for %s", path)
	}
	return s, nil
}
