package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pelican-ai/roost/internal/statesync"
)

func init() {
	rootCmd.AddCommand(newRestoreCmd())
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Pull agent state from the object store into this container",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg := buildConfig()
			engine, _ := buildEngine(cfg)

			res, err := engine.Restore(cmd.Context())
			if errors.Is(err, statesync.ErrNoBackup) {
				fmt.Printf("%s no backup found in the store; starting fresh\n", cyan("•"))
				return nil
			}
			if err != nil {
				slog.Error("restore failed", "error", err)
				return err
			}

			fmt.Printf("%s restored from %s layout at %s\n", green("✓"), cyan(string(res.Layout)), res.RestoredAt)
			return nil
		},
	}
}
