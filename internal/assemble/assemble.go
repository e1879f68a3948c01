// Package assemble joins per-segment model outputs into the final video.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forPelevin/lipseg/internal/ports"
	"github.com/forPelevin/lipseg/internal/types"
)

const manifestName = "concat.txt"

type Concatenator struct {
	tool ports.MediaTool
}

func New(tool ports.MediaTool) *Concatenator {
	return &Concatenator{tool: tool}
}

// Assemble writes the final video to out. It refuses to run when any job
// failed and returns the full *types.InferenceError instead. Outputs are
// joined strictly by index with a stream copy; an unsegmented run is
// re-encoded instead so the output codec is fixed. workDir holds the
// concat manifest.
func (c *Concatenator) Assemble(ctx context.Context, results []types.JobResult, segmented bool, workDir, out string) error {
	if infErr := types.NewInferenceError(results); infErr != nil {
		return infErr
	}
	if len(results) == 0 {
		return &types.ConcatenationError{Err: types.ErrNoPairs}
	}

	ordered := append([]types.JobResult(nil), results...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	for i, r := range ordered {
		if r.Index != i {
			return &types.ConcatenationError{Err: fmt.Errorf("missing output for segment %d", i)}
		}
		if r.Output.Path == "" {
			return &types.ConcatenationError{Err: fmt.Errorf("segment %d has no output path", i)}
		}
	}

	if !segmented && len(ordered) == 1 {
		if err := c.tool.Normalize(ctx, ordered[0].Output.Path, out); err != nil {
			return &types.ConcatenationError{Err: err}
		}
		return nil
	}

	manifest := filepath.Join(workDir, manifestName)
	if err := writeManifest(manifest, ordered); err != nil {
		return &types.ConcatenationError{Err: err}
	}
	if err := c.tool.Concat(ctx, manifest, out); err != nil {
		return &types.ConcatenationError{Err: err}
	}
	return nil
}

// writeManifest writes a concat-demuxer list, one absolute path per line.
func writeManifest(path string, ordered []types.JobResult) error {
	var b strings.Builder
	for _, r := range ordered {
		abs, err := filepath.Abs(r.Output.Path)
		if err != nil {
			return err
		}
		if strings.ContainsAny(abs, "\n\r") {
			return errors.New("output path contains a line break: " + abs)
		}
		fmt.Fprintf(&b, "file '%s'\n", escapeQuotes(abs))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}
	return nil
}

// escapeQuotes closes the quoted string, emits an escaped quote and reopens
// it, as the concat demuxer expects.
func escapeQuotes(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
