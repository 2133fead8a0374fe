package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pelican-ai/roost/internal/config"
	"github.com/pelican-ai/roost/internal/mount"
	"github.com/pelican-ai/roost/internal/runner"
	"github.com/pelican-ai/roost/internal/statesync"
	"github.com/pelican-ai/roost/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "roost",
	Short:   "Roost keeps a sandboxed agent's state durable across container restarts",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Roost config file")
}

func main() {
	// Credentials usually arrive via the container env; .env is a dev nicety.
	_ = godotenv.Load()

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".roost"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("ROOST")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars may carry everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return nil
}

// buildConfig assembles the effective config from viper (file + ROOST_* env)
// over the conventional defaults.
func buildConfig() *config.Config {
	cfg := config.Default()

	if v := viper.GetString("store_endpoint"); v != "" {
		cfg.StoreEndpoint = v
	}
	if v := viper.GetString("store_bucket"); v != "" {
		cfg.StoreBucket = v
	}
	if v := viper.GetString("store_access_key"); v != "" {
		cfg.StoreAccessKey = v
	}
	if v := viper.GetString("store_secret_key"); v != "" {
		cfg.StoreSecretKey = v
	}
	if v := viper.GetString("mount_root"); v != "" {
		cfg.MountRoot = v
	}
	if v := viper.GetString("config_dir"); v != "" {
		cfg.ConfigDir = v
	}
	if v := viper.GetString("legacy_config_dir"); v != "" {
		cfg.LegacyConfigDir = v
	}
	if v := viper.GetString("skills_dir"); v != "" {
		cfg.SkillsDir = v
	}
	if v := viper.GetString("workspace_dir"); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := viper.GetString("admin_addr"); v != "" {
		cfg.AdminAddr = v
	}
	if v := viper.GetString("admin_token"); v != "" {
		cfg.AdminToken = v
	}
	if v := viper.GetDuration("sync_interval"); v > 0 {
		cfg.SyncInterval = v
	}

	return cfg
}

// buildEngine wires the production stack: shell runner, s3fs mount manager,
// rsync copier.
func buildEngine(cfg *config.Config) (*statesync.Engine, *mount.Manager) {
	run := runner.NewShellRunner()
	mounter := mount.NewManager(run)
	copier := statesync.NewRsyncCopier(run)
	return statesync.NewEngine(cfg, mounter, copier), mounter
}

// syncTimeoutHint bounds how long a one-shot CLI sync may take before the
// command gives up waiting.
const syncTimeoutHint = 10 * time.Minute
