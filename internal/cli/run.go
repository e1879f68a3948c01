package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forPelevin/lipseg/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <video> <audio>",
		Short: "Lip-sync a local video to a local audio file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], args[1])
		},
	}

	// Visible flags
	cmd.Flags().String("out", "", "Output file (default: <out_dir>/<name>-<timestamp>-<id>.mp4)")
	cmd.Flags().Int("segment", -1, "Segment length in seconds, 0 disables segmentation (default from config)")
	cmd.Flags().Int("workers", 0, "Concurrent inference jobs (default from config)")

	// Hidden tuning flag (internal)
	cmd.Flags().Bool("trust-exit-code", false, "Skip the model output check")
	_ = cmd.Flags().MarkHidden("trust-exit-code")
	return cmd
}

func run(cmd *cobra.Command, video, audio string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.Pipeline.Workers = n
	}
	if trust, _ := cmd.Flags().GetBool("trust-exit-code"); trust {
		cfg.Model.TrustExitCode = true
	}
	out, _ := cmd.Flags().GetString("out")

	req := pipeline.Request{VideoPath: video, AudioPath: audio, OutPath: out}
	if seg, _ := cmd.Flags().GetInt("segment"); seg >= 0 {
		req.SegmentSeconds = &seg
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, *cfg, req, log)
	if err != nil {
		return err
	}
	if res.Warning != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", res.Warning.String())
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.OutPath)
	return nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
