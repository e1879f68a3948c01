package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/lipseg/internal/config"
	"github.com/forPelevin/lipseg/internal/logger"
	"github.com/forPelevin/lipseg/internal/types"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := newRoot()
	if err := root.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "lipseg",
		Short:        "Lip-sync a video to an audio track, segment by segment",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level override (debug|info|warn|error)")

	root.AddCommand(newRunCmd(), newServeCmd(), newDeleteCmd())
	return root
}

// loadConfig reads --config and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	log, closer, err := logger.New(cfg.Log.Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return log, closer, nil
}

// printError lists every failed segment for inference failures.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, err)
	var infErr *types.InferenceError
	if !errors.As(err, &infErr) {
		return
	}
	for _, f := range infErr.Failures {
		fmt.Fprintf(w, "  segment %03d: %s\n", f.Index, f.Reason)
		if f.Stderr != "" {
			fmt.Fprintf(w, "    stderr: %s\n", lastLine(f.Stderr))
		}
	}
}
