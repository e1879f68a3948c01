package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/lipseg/internal/httpapi"
	"github.com/forPelevin/lipseg/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload API",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(*cfg, log)
	if err != nil {
		return err
	}
	deps := httpapi.Deps{
		Pipeline:         p,
		Media:            p.Media(),
		Workspaces:       p.Workspaces(),
		OutDir:           cfg.Pipeline.OutDir,
		MaxUploadBytes:   cfg.Server.MaxUploadMB << 20,
		MaxInputDuration: time.Duration(cfg.Server.MaxInputSeconds) * time.Second,
		Log:              log,
	}
	store, err := pipeline.NewStore(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	if store != nil {
		deps.Store = store
	}

	return httpapi.ListenAndServe(ctx, cfg.Server.Addr, httpapi.New(deps).Router(), log)
}
