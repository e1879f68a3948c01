// Package segment cuts source media into index-addressed, time-bounded
// pieces and pairs video pieces with audio pieces.
package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/lipseg/internal/ports"
	"github.com/forPelevin/lipseg/internal/procexec"
	"github.com/forPelevin/lipseg/internal/types"
)

var defaultExt = map[types.MediaKind]string{
	types.KindVideo: ".mp4",
	types.KindAudio: ".wav",
}

type Segmenter struct {
	tool    ports.MediaTool
	readDir func(name string) ([]os.DirEntry, error)
}

func New(tool ports.MediaTool) *Segmenter {
	return &Segmenter{tool: tool, readDir: os.ReadDir}
}

// Split writes the segments of src into dir and returns them ordered by
// index. A length <= 0 disables segmentation: src is stream-copied into dir
// as the single segment 0.
func (s *Segmenter) Split(ctx context.Context, src types.MediaAsset, length time.Duration, dir string) ([]types.Segment, error) {
	ext := strings.ToLower(filepath.Ext(src.Path))
	if ext == "" {
		ext = defaultExt[src.Kind]
	}
	prefix := string(src.Kind) + "_"

	var err error
	if length <= 0 {
		err = s.tool.Copy(ctx, src.Path, filepath.Join(dir, fileName(prefix, 0, ext)))
	} else {
		err = s.tool.Split(ctx, src.Path, length, filepath.Join(dir, prefix+"%03d"+ext))
	}
	if err != nil {
		return nil, segErr(src.Kind, err)
	}

	idx, err := s.discover(dir, prefix, ext)
	if err != nil {
		return nil, segErr(src.Kind, err)
	}

	out := make([]types.Segment, 0, len(idx))
	for _, e := range idx {
		seg := types.Segment{
			MediaAsset: types.MediaAsset{Path: e.path, Kind: src.Kind},
			Index:      e.index,
			Source:     src.Path,
		}
		if length > 0 {
			seg.Start = time.Duration(e.index) * length
		} else {
			seg.Duration = src.Duration
		}
		out = append(out, seg)
	}
	return out, nil
}

type indexedFile struct {
	index int
	path  string
}

// discover enumerates dir for prefix<N>ext files and orders them by N.
// Directory listing order is never trusted.
func (s *Segmenter) discover(dir, prefix, ext string) ([]indexedFile, error) {
	entries, err := s.readDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	var files []indexedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), filepath.Ext(name)))
		if err != nil || n < 0 {
			continue
		}
		files = append(files, indexedFile{index: n, path: filepath.Join(dir, name)})
	}
	if len(files) == 0 {
		return nil, errors.New("splitter produced no segments")
	}

	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	for i, f := range files {
		if f.index != i {
			return nil, fmt.Errorf("segment indices are not dense: expected %d, found %d", i, f.index)
		}
	}
	return files, nil
}

func fileName(prefix string, index int, ext string) string {
	return fmt.Sprintf("%s%03d%s", prefix, index, ext)
}

func segErr(kind types.MediaKind, err error) error {
	se := &types.SegmentationError{Kind: kind, Err: err}
	var exitErr *procexec.ExitError
	if errors.As(err, &exitErr) {
		se.Stderr = exitErr.Result.StderrTail()
	}
	return se
}
