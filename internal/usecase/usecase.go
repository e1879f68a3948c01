package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/lipseg/internal/assemble"
	"github.com/forPelevin/lipseg/internal/infer"
	"github.com/forPelevin/lipseg/internal/logger"
	"github.com/forPelevin/lipseg/internal/metrics"
	"github.com/forPelevin/lipseg/internal/ports"
	"github.com/forPelevin/lipseg/internal/segment"
	"github.com/forPelevin/lipseg/internal/types"
	"github.com/forPelevin/lipseg/internal/workspace"
)

type Deps struct {
	Media      ports.MediaTool
	Model      ports.LipSync
	Workspaces *workspace.Manager
	Jobs       infer.Options
	Log        *slog.Logger
}

type Usecase struct {
	d         Deps
	log       *slog.Logger
	segmenter *segment.Segmenter
	runner    *infer.Runner
	concat    *assemble.Concatenator
}

func New(d Deps) Usecase {
	log := logger.OrDiscard(d.Log)
	jobs := d.Jobs
	if jobs.Log == nil {
		jobs.Log = log
	}
	return Usecase{
		d:         d,
		log:       log,
		segmenter: segment.New(d.Media),
		runner:    infer.New(d.Model, jobs),
		concat:    assemble.New(d.Media),
	}
}

type Input struct {
	VideoPath string
	AudioPath string
	// SegmentLength <= 0 processes the inputs whole.
	SegmentLength time.Duration
	OutPath       string
}

type Result struct {
	RunID   string
	OutPath string
	Pairs   int
	Warning *types.PairingWarning
	Jobs    []types.JobResult
	States  []State
}

// Run drives one pipeline run. The workspace is removed after the run
// reaches Done or Aborted, on every path. On success the final video is at
// in.OutPath; on failure nothing is written there and the error is a
// *types.RunError.
func (u Usecase) Run(ctx context.Context, in Input) (res Result, err error) {
	start := time.Now()
	m := newMachine(u.log)

	if in.VideoPath == "" || in.AudioPath == "" || in.OutPath == "" {
		_ = m.to(StateAborted)
		res.States = m.History()
		return res, &types.RunError{Stage: string(StateStart), Err: errors.New("video, audio and output paths are required")}
	}

	ws, err := u.d.Workspaces.Acquire()
	if err != nil {
		_ = m.to(StateAborted)
		res.States = m.History()
		metrics.RecordRun(string(StateAborted), time.Since(start).Seconds())
		return res, &types.RunError{Stage: string(StateStart), Err: err}
	}
	res.RunID = ws.ID()
	log := u.log.With(slog.String("run_id", ws.ID()))
	m.log = log
	ctx = logger.WithContext(ctx, log)
	log.Info("run started",
		slog.String("video", in.VideoPath),
		slog.String("audio", in.AudioPath),
		slog.Duration("segment_length", in.SegmentLength),
		slog.String("workspace", ws.Root()),
	)

	defer func() {
		if cerr := ws.Close(); cerr != nil {
			log.Error("workspace teardown failed", slog.String("error", cerr.Error()))
			err = errors.Join(err, cerr)
		}
		res.States = m.History()
		metrics.RecordRun(string(m.current), time.Since(start).Seconds())
		if err != nil {
			log.Error("run aborted", slog.String("error", err.Error()), slog.Duration("duration", time.Since(start)))
			return
		}
		log.Info("run finished", slog.String("out", res.OutPath), slog.Duration("duration", time.Since(start)))
	}()

	abort := func(cause error) (Result, error) {
		stage := m.current
		_ = m.to(StateAborted)
		return res, &types.RunError{RunID: ws.ID(), Stage: string(stage), Err: cause}
	}

	if err := m.to(StateSegmenting); err != nil {
		return abort(err)
	}
	video, audio, err := u.segment(ctx, ws, in)
	if err != nil {
		return abort(err)
	}
	log.Info("segmented", slog.Int("video_segments", len(video)), slog.Int("audio_segments", len(audio)))

	if err := m.to(StatePairing); err != nil {
		return abort(err)
	}
	pairs, warn := segment.Pair(video, audio)
	res.Pairs = len(pairs)
	res.Warning = warn
	if warn != nil {
		log.Warn("segments dropped",
			slog.Int("video_segments", warn.VideoCount),
			slog.Int("audio_segments", warn.AudioCount),
			slog.String("side", string(warn.Side)),
			slog.Any("dropped", warn.Dropped),
		)
		// Dropped segments are never processed; free them now.
		for _, s := range surplus(video, audio, len(pairs)) {
			if rerr := ws.Release(s.Path); rerr != nil {
				log.Warn("release segment", slog.String("path", s.Path), slog.String("error", rerr.Error()))
			}
		}
	}

	if err := m.to(StateRunning); err != nil {
		return abort(err)
	}
	if len(pairs) == 0 {
		return abort(types.ErrNoPairs)
	}
	results, err := u.runner.Run(ctx, ws, pairs)
	if err != nil {
		return abort(err)
	}
	res.Jobs = results
	if infErr := types.NewInferenceError(results); infErr != nil {
		return abort(infErr)
	}
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	if err := m.to(StateConcatenating); err != nil {
		return abort(err)
	}
	final := ws.Path("final.mp4")
	if err := u.concat.Assemble(ctx, results, in.SegmentLength > 0, ws.Root(), final); err != nil {
		return abort(err)
	}
	if err := ws.Handoff(final, in.OutPath); err != nil {
		return abort(err)
	}

	if err := m.to(StateDone); err != nil {
		return abort(err)
	}
	res.OutPath = in.OutPath
	return res, nil
}

// segment splits both inputs concurrently; the first failure cancels the
// other split.
func (u Usecase) segment(ctx context.Context, ws *workspace.Workspace, in Input) (video, audio []types.Segment, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dir, err := ws.Dir(string(types.KindVideo))
		if err != nil {
			return &types.SegmentationError{Kind: types.KindVideo, Err: err}
		}
		video, err = u.segmenter.Split(gctx, types.MediaAsset{Path: in.VideoPath, Kind: types.KindVideo}, in.SegmentLength, dir)
		return err
	})
	g.Go(func() error {
		dir, err := ws.Dir(string(types.KindAudio))
		if err != nil {
			return &types.SegmentationError{Kind: types.KindAudio, Err: err}
		}
		audio, err = u.segmenter.Split(gctx, types.MediaAsset{Path: in.AudioPath, Kind: types.KindAudio}, in.SegmentLength, dir)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return video, audio, nil
}

func surplus(video, audio []types.Segment, n int) []types.Segment {
	if len(video) > n {
		return video[n:]
	}
	if len(audio) > n {
		return audio[n:]
	}
	return nil
}
