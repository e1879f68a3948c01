package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/lipseg/internal/procexec"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
	runner  procexec.Runner
}

func New(ffmpegPath, ffprobePath string, runner procexec.Runner) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = procexec.NewExecRunner(0, nil)
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, runner: runner}
}

// Split cuts in into segment-long pieces with the segment muxer. outPattern
// must contain a printf index placeholder such as %03d.
func (a *Adapter) Split(ctx context.Context, in string, segment time.Duration, outPattern string) error {
	if segment <= 0 {
		return errors.New("ffmpeg split: segment length must be > 0")
	}
	if !strings.Contains(outPattern, "%") {
		return fmt.Errorf("ffmpeg split: output pattern %q has no index placeholder", outPattern)
	}
	_, err := a.runner.Run(ctx, procexec.Command{
		Name: a.ffmpeg,
		Args: []string{
			"-hide_banner",
			"-nostdin",
			"-y",
			"-i", in,
			"-map", "0",
			"-c", "copy",
			"-f", "segment",
			"-segment_time", fmtSeconds(segment),
			"-reset_timestamps", "1",
			outPattern,
		},
		Output: outPattern,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg split: %w", err)
	}
	return nil
}

func (a *Adapter) Copy(ctx context.Context, in, out string) error {
	_, err := a.runner.Run(ctx, procexec.Command{
		Name: a.ffmpeg,
		Args: []string{
			"-hide_banner",
			"-nostdin",
			"-y",
			"-i", in,
			"-map", "0",
			"-c", "copy",
			out,
		},
		Output: out,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg copy: %w", err)
	}
	return nil
}

// Concat joins the files listed in a concat-demuxer manifest without
// re-encoding.
func (a *Adapter) Concat(ctx context.Context, manifest, out string) error {
	_, err := a.runner.Run(ctx, procexec.Command{
		Name: a.ffmpeg,
		Args: []string{
			"-hide_banner",
			"-nostdin",
			"-y",
			"-f", "concat",
			"-safe", "0",
			"-i", manifest,
			"-c", "copy",
			out,
		},
		Output: out,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	return nil
}

// Normalize re-encodes to H.264/AAC so the output codec does not depend on
// what the model wrote.
func (a *Adapter) Normalize(ctx context.Context, in, out string) error {
	_, err := a.runner.Run(ctx, procexec.Command{
		Name: a.ffmpeg,
		Args: []string{
			"-hide_banner",
			"-nostdin",
			"-y",
			"-i", in,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "18",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-b:a", "192k",
			"-movflags", "+faststart",
			out,
		},
		Output: out,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg normalize: %w", err)
	}
	return nil
}

func (a *Adapter) ProbeDuration(ctx context.Context, in string) (time.Duration, error) {
	res, err := a.runner.Run(ctx, procexec.Command{
		Name: a.ffprobe,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			in,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	s := strings.TrimSpace(res.Stdout)
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// Thumbnail writes the first frame scaled to 320x240.
func (a *Adapter) Thumbnail(ctx context.Context, in, out string) error {
	_, err := a.runner.Run(ctx, procexec.Command{
		Name: a.ffmpeg,
		Args: []string{
			"-hide_banner",
			"-nostdin",
			"-y",
			"-i", in,
			"-frames:v", "1",
			"-s", "320x240",
			out,
		},
		Output: out,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w", err)
	}
	return nil
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
