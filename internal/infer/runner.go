// Package infer runs the lip-sync model once per segment pair on a bounded
// worker pool. A failing job never stops its siblings.
package infer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/lipseg/internal/logger"
	"github.com/forPelevin/lipseg/internal/metrics"
	"github.com/forPelevin/lipseg/internal/ports"
	"github.com/forPelevin/lipseg/internal/procexec"
	"github.com/forPelevin/lipseg/internal/types"
)

var (
	ErrMissingOutput = errors.New("model exited successfully but wrote no output file")
	ErrEmptyOutput   = errors.New("model exited successfully but output file is empty")
)

// Workspace is the part of the run workspace the runner needs.
type Workspace interface {
	Dir(name string) (string, error)
	Release(path string) error
}

type Options struct {
	// Workers bounds concurrent model processes; <= 0 means runtime.NumCPU().
	Workers int
	// Timeout limits a single job; 0 disables it.
	Timeout time.Duration
	// TrustExitCode skips the output existence check and treats a zero exit
	// status as success.
	TrustExitCode bool
	Log           *slog.Logger
}

type Runner struct {
	model         ports.LipSync
	workers       int
	timeout       time.Duration
	trustExitCode bool
	log           *slog.Logger
	stat          func(name string) (os.FileInfo, error)
}

func New(model ports.LipSync, opts Options) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		model:         model,
		workers:       workers,
		timeout:       opts.Timeout,
		trustExitCode: opts.TrustExitCode,
		log:           logger.OrDiscard(opts.Log),
		stat:          os.Stat,
	}
}

func (r *Runner) Workers() int { return r.workers }

// Run executes one job per pair and returns one result per pair, in pair
// order, after every dispatched job has finished. Once ctx is cancelled no
// further job is dispatched; undispatched pairs get a failed result carrying
// the context error. The returned error is non-nil only when the output
// directory cannot be created. Job lines go to the logger carried by ctx,
// if any.
func (r *Runner) Run(ctx context.Context, ws Workspace, pairs []types.SegmentPair) ([]types.JobResult, error) {
	log := logger.FromContext(ctx, r.log)
	outDir, err := ws.Dir("out")
	if err != nil {
		return nil, err
	}

	results := make([]types.JobResult, len(pairs))
	sem := semaphore.NewWeighted(int64(r.workers))
	var wg sync.WaitGroup

	for i, p := range pairs {
		if err := sem.Acquire(ctx, 1); err != nil {
			r.skip(log, ws, results[i:], pairs[i:], err)
			break
		}
		// Acquire may win the race against a cancellation that already
		// happened.
		if err := ctx.Err(); err != nil {
			sem.Release(1)
			r.skip(log, ws, results[i:], pairs[i:], err)
			break
		}

		wg.Add(1)
		go func(i int, p types.SegmentPair) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = r.runOne(ctx, log, ws, outDir, p)
		}(i, p)
	}

	wg.Wait()
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, log *slog.Logger, ws Workspace, outDir string, p types.SegmentPair) types.JobResult {
	log = log.With(slog.Int("segment", p.Index))
	defer r.release(ws, log, p)

	jobCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out := filepath.Join(outDir, fmt.Sprintf("out_%03d.mp4", p.Index))
	log.Info("inference started", slog.String("video", p.Video.Path), slog.String("audio", p.Audio.Path))

	start := time.Now()
	err := r.model.Infer(jobCtx, p.Video.Path, p.Audio.Path, out)
	if err == nil && !r.trustExitCode {
		err = r.verify(out)
	}
	res := types.JobResult{Index: p.Index, Duration: time.Since(start)}

	if err == nil {
		res.Output = types.MediaAsset{Path: out, Kind: types.KindVideo}
		metrics.RecordJob("success")
		log.Info("inference finished", slog.Duration("duration", res.Duration))
		return res
	}

	res.Err = err
	res.Reason = firstLine(err.Error())
	var exitErr *procexec.ExitError
	if errors.As(err, &exitErr) {
		res.Stderr = exitErr.Result.StderrTail()
	}
	status := "failed"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	metrics.RecordJob(status)
	log.Warn("inference failed", slog.String("status", status), slog.String("reason", res.Reason))
	return res
}

// verify treats a missing or empty output file as failure even when the
// model exited zero.
func (r *Runner) verify(out string) error {
	info, err := r.stat(out)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrMissingOutput
		}
		return fmt.Errorf("stat model output: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}

// skip marks never-dispatched pairs as failed and releases their segments.
func (r *Runner) skip(log *slog.Logger, ws Workspace, results []types.JobResult, pairs []types.SegmentPair, cause error) {
	for i, p := range pairs {
		results[i] = types.JobResult{
			Index:  p.Index,
			Err:    cause,
			Reason: "not dispatched: " + cause.Error(),
		}
		metrics.RecordJob("cancelled")
		r.release(ws, log.With(slog.Int("segment", p.Index)), p)
	}
	if len(pairs) > 0 {
		log.Warn("job dispatch stopped", slog.Int("skipped", len(pairs)), slog.String("cause", cause.Error()))
	}
}

// release deletes the pair's input segments once the job is over.
func (r *Runner) release(ws Workspace, log *slog.Logger, p types.SegmentPair) {
	for _, s := range []types.Segment{p.Video, p.Audio} {
		if s.Path == "" {
			continue
		}
		if err := ws.Release(s.Path); err != nil {
			log.Warn("release segment", slog.String("path", s.Path), slog.String("error", err.Error()))
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
