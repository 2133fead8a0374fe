package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backup configuration and last sync time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg := buildConfig()
			engine, _ := buildEngine(cfg)
			info := engine.Status()

			if info.HasCredentials {
				fmt.Printf("store:     %s\n", green("configured"))
			} else {
				fmt.Printf("store:     %s\n", red("not configured"))
			}
			if info.Restored {
				fmt.Printf("restored:  %s\n", green("yes"))
			} else {
				fmt.Printf("restored:  %s\n", red("no"))
			}
			if info.LastSync != "" {
				fmt.Printf("last sync: %s\n", cyan(info.LastSync))
			} else {
				fmt.Printf("last sync: %s\n", red("never"))
			}

			if m, err := engine.LocalManifest(); err == nil {
				fmt.Printf("manifest:  %d files, %s\n", len(m.Entries), humanize.Bytes(uint64(m.TotalSize())))
			}

			return nil
		},
	}
}
