package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pelican-ai/roost/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".roost", "config.json")
	DefaultMountRoot  = "/mnt/roost"
	DefaultAdminAddr  = "localhost:7417"
)

// Config holds everything the sync engine and its admin surface need: object
// store credentials, the mount point, and the three local state trees.
type Config struct {
	// Object store credentials. All four must be present for the store to
	// count as configured; a missing value is a steady "not configured"
	// state, not an error.
	StoreEndpoint  string `json:"store_endpoint"`
	StoreBucket    string `json:"store_bucket"`
	StoreAccessKey string `json:"store_access_key"`
	StoreSecretKey string `json:"store_secret_key"`

	// MountRoot is where the bucket gets attached locally.
	MountRoot string `json:"mount_root"`

	// Local state trees mirrored to the store.
	ConfigDir       string `json:"config_dir"`
	LegacyConfigDir string `json:"legacy_config_dir"`
	SkillsDir       string `json:"skills_dir"`
	WorkspaceDir    string `json:"workspace_dir"`

	// Admin control plane.
	AdminAddr  string `json:"admin_addr"`
	AdminToken string `json:"admin_token"`

	// SyncInterval is the cadence of the daemon's periodic sync trigger.
	SyncInterval time.Duration `json:"sync_interval"`

	Path string `json:"-"`
}

// Default returns a config populated with the conventional local paths.
func Default() *Config {
	return &Config{
		MountRoot:       DefaultMountRoot,
		ConfigDir:       filepath.Join(home, ".pelican"),
		LegacyConfigDir: filepath.Join(home, ".seagull"),
		SkillsDir:       filepath.Join(home, "skills"),
		WorkspaceDir:    filepath.Join(home, "workspace"),
		AdminAddr:       DefaultAdminAddr,
		SyncInterval:    5 * time.Minute,
	}
}

// HasCredentials reports whether the object store is fully configured.
func (c *Config) HasCredentials() bool {
	return c.StoreEndpoint != "" && c.StoreBucket != "" && c.StoreAccessKey != "" && c.StoreSecretKey != ""
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return cfg, nil
}
