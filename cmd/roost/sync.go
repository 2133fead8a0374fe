package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push local agent state to the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg := buildConfig()
			engine, _ := buildEngine(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeoutHint)
			defer cancel()

			res, err := engine.Sync(ctx)
			if err != nil {
				slog.Error("sync failed", "error", err)
				return err
			}

			if res.Skipped {
				fmt.Printf("%s nothing changed since last backup\n", green("✓"))
			} else {
				fmt.Printf("%s backed up %d files (%s)\n", green("✓"), res.Entries, humanize.Bytes(uint64(res.TotalBytes)))
			}
			if res.LastSync != "" {
				fmt.Printf("  last sync: %s\n", cyan(res.LastSync))
			}
			return nil
		},
	}
}
