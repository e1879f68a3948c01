package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/lipseg/internal/pipeline"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an object from the configured storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteObject(cmd, args[0])
		},
	}
}

func deleteObject(cmd *cobra.Command, key string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := pipeline.NewStore(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("storage is not configured (set DO_S3_SPACENAME or storage.bucket)")
	}
	if err := store.Delete(ctx, key); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "deleted", key)
	return nil
}
