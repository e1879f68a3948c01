package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/forPelevin/lipseg/internal/config"
	"github.com/forPelevin/lipseg/internal/infer"
	"github.com/forPelevin/lipseg/internal/logger"
	"github.com/forPelevin/lipseg/internal/ports"
	"github.com/forPelevin/lipseg/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/lipseg/internal/ports/adapters/lipsync"
	"github.com/forPelevin/lipseg/internal/ports/adapters/s3store"
	"github.com/forPelevin/lipseg/internal/procexec"
	"github.com/forPelevin/lipseg/internal/usecase"
	"github.com/forPelevin/lipseg/internal/workspace"
)

// Request is one lip-sync job.
type Request struct {
	VideoPath string
	AudioPath string
	// OutPath defaults to a unique file under pipeline.out_dir.
	OutPath string
	// SegmentSeconds overrides pipeline.segment_seconds when set.
	SegmentSeconds *int
}

func (r Request) Validate() error {
	if r.VideoPath == "" {
		return errors.New("video is empty")
	}
	if r.AudioPath == "" {
		return errors.New("audio is empty")
	}
	if _, err := os.Stat(r.VideoPath); err != nil {
		return fmt.Errorf("stat video: %w", err)
	}
	if _, err := os.Stat(r.AudioPath); err != nil {
		return fmt.Errorf("stat audio: %w", err)
	}
	if r.SegmentSeconds != nil && *r.SegmentSeconds < 0 {
		return fmt.Errorf("segment seconds must be >= 0")
	}
	return nil
}

// Pipeline holds the adapters shared by every run of one process.
type Pipeline struct {
	cfg        config.Config
	log        *slog.Logger
	media      *ffmpeg.Adapter
	workspaces *workspace.Manager
	uc         usecase.Usecase
}

func New(cfg config.Config, log *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log = logger.OrDiscard(log)

	// adapters
	runner := procexec.NewExecRunner(cfg.Pipeline.KillGrace, log)
	media := ffmpeg.New(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, runner)
	model := lipsync.New(cfg.Model.Command, cfg.Model.Args, cfg.Model.ExtraArgs, runner)
	workspaces := workspace.NewManager(cfg.Pipeline.WorkDir)

	uc := usecase.New(usecase.Deps{
		Media:      media,
		Model:      model,
		Workspaces: workspaces,
		Jobs: infer.Options{
			Workers:       cfg.Pipeline.Workers,
			Timeout:       cfg.Model.Timeout,
			TrustExitCode: cfg.Model.TrustExitCode,
			Log:           log,
		},
		Log: log,
	})

	return &Pipeline{
		cfg:        cfg,
		log:        log,
		media:      media,
		workspaces: workspaces,
		uc:         uc,
	}, nil
}

func (p *Pipeline) Config() config.Config { return p.cfg }

func (p *Pipeline) Media() ports.MediaTool { return p.media }

func (p *Pipeline) Workspaces() *workspace.Manager { return p.workspaces }

// Run executes one request under the configured run timeout.
func (p *Pipeline) Run(ctx context.Context, req Request) (usecase.Result, error) {
	if err := req.Validate(); err != nil {
		return usecase.Result{}, err
	}
	if p.cfg.Pipeline.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Pipeline.Timeout)
		defer cancel()
	}

	video, err := filepath.Abs(req.VideoPath)
	if err != nil {
		return usecase.Result{}, err
	}
	audio, err := filepath.Abs(req.AudioPath)
	if err != nil {
		return usecase.Result{}, err
	}
	out := req.OutPath
	if out == "" {
		out = buildRunOutPath(p.cfg.Pipeline.OutDir, video, time.Now().UTC())
	}
	if out, err = filepath.Abs(out); err != nil {
		return usecase.Result{}, err
	}

	segment := p.cfg.Pipeline.SegmentLength()
	if req.SegmentSeconds != nil {
		segment = time.Duration(*req.SegmentSeconds) * time.Second
	}

	return p.uc.Run(ctx, usecase.Input{
		VideoPath:     video,
		AudioPath:     audio,
		SegmentLength: segment,
		OutPath:       out,
	})
}

// Run builds a pipeline from cfg and executes a single request.
func Run(ctx context.Context, cfg config.Config, req Request, log *slog.Logger) (usecase.Result, error) {
	p, err := New(cfg, log)
	if err != nil {
		return usecase.Result{}, err
	}
	return p.Run(ctx, req)
}

// NewStore returns nil, nil when storage is not configured.
func NewStore(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*s3store.Adapter, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return s3store.New(ctx, s3store.Config{
		Endpoint:      cfg.Endpoint,
		Region:        cfg.Region,
		Bucket:        cfg.Bucket,
		AccessKey:     cfg.AccessKey,
		SecretKey:     cfg.SecretKey,
		PublicBaseURL: cfg.PublicBaseURL,
		ACL:           cfg.ACL,
		AllowedHosts:  cfg.AllowedHosts,
		Log:           log,
	})
}

func buildRunOutPath(outRoot, videoPath string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	name = normalizePathSegment(name)
	if name == "" {
		name = "output"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", videoPath, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s.mp4", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.MediaTool = (*ffmpeg.Adapter)(nil)
var _ ports.LipSync = (*lipsync.Adapter)(nil)
var _ ports.ObjectStore = (*s3store.Adapter)(nil)
