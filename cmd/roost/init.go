package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pelican-ai/roost/internal/config"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var endpoint, bucket, accessKey, secretKey string

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg := config.Default()
			cfg.StoreEndpoint = endpoint
			cfg.StoreBucket = bucket
			cfg.StoreAccessKey = accessKey
			cfg.StoreSecretKey = secretKey

			path, _ := cmd.Flags().GetString("config")
			if err := cfg.Save(path); err != nil {
				return err
			}

			fmt.Printf("%s wrote %s\n", green("✓"), cyan(path))
			if !cfg.HasCredentials() {
				fmt.Printf("%s store credentials incomplete; backup stays disabled until all four are set\n", red("!"))
			}
			return nil
		},
	}

	initCmd.Flags().StringVar(&endpoint, "endpoint", "", "Object store endpoint URL")
	initCmd.Flags().StringVar(&bucket, "bucket", "", "Object store bucket")
	initCmd.Flags().StringVar(&accessKey, "access-key", "", "Object store access key")
	initCmd.Flags().StringVar(&secretKey, "secret-key", "", "Object store secret key")

	return initCmd
}
