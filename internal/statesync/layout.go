package statesync

import (
	"path/filepath"

	"github.com/pelican-ai/roost/internal/config"
	"github.com/pelican-ai/roost/internal/utils"
)

// On-disk naming. The agent CLI was renamed twice (gully -> seagull ->
// pelican); only the seagull generation left store layouts behind that are
// still in the wild, so reads must recognize three conventions while writes
// always use the current one.
const (
	ConfigFileName       = "pelican.json"
	LegacyConfigFileName = "seagull.json"

	remoteConfigDir          = "config"
	remoteLegacyConfigDir    = "seagull"
	remoteSkillsDir          = "skills"
	remoteWorkspaceDir       = "workspace"
	remoteLegacyWorkspaceDir = "home"

	manifestName = "manifest.json"
	lastSyncName = ".last-sync"

	// stateDirName holds roost's own artifacts inside the config tree. It is
	// excluded from manifest walks and mirror copies in both directions, so
	// the manifest never describes itself.
	stateDirName = ".roost"
	markerName   = ".restored"
)

// Root-level workspace files included in backup. Everything else at the
// workspace root stays local-only.
var workspaceRootFiles = []string{
	"IDENTITY.md",
	"USER.md",
	"SOUL.md",
	"AGENTS.md",
	"MEMORY.md",
	"HEARTBEAT.md",
}

// Workspace subtrees included wholesale.
var workspaceSubtrees = []string{"memory", "assets"}

// Config-tree file extensions never worth backing up.
var excludedConfigExts = []string{".lock", ".log", ".tmp"}

// LayoutSource identifies which remote config convention a restore reads from.
type LayoutSource string

const (
	// LayoutNone: nothing recognizable in the store.
	LayoutNone LayoutSource = "none"
	// LayoutCurrent: config/pelican.json
	LayoutCurrent LayoutSource = "current"
	// LayoutCurrentLegacyFile: config/seagull.json
	LayoutCurrentLegacyFile LayoutSource = "current-legacy-file"
	// LayoutLegacyNested: seagull/seagull.json
	LayoutLegacyNested LayoutSource = "legacy-nested"
	// LayoutLegacyFlat: seagull.json at the store root
	LayoutLegacyFlat LayoutSource = "legacy-flat"
)

// ResolveRestoreLayout probes the mounted store for each config convention,
// newest first. First match wins; LayoutNone means no backup exists yet.
func ResolveRestoreLayout(mountRoot string) LayoutSource {
	switch {
	case utils.FileExists(filepath.Join(mountRoot, remoteConfigDir, ConfigFileName)):
		return LayoutCurrent
	case utils.FileExists(filepath.Join(mountRoot, remoteConfigDir, LegacyConfigFileName)):
		return LayoutCurrentLegacyFile
	case utils.FileExists(filepath.Join(mountRoot, remoteLegacyConfigDir, LegacyConfigFileName)):
		return LayoutLegacyNested
	case utils.FileExists(filepath.Join(mountRoot, LegacyConfigFileName)):
		return LayoutLegacyFlat
	default:
		return LayoutNone
	}
}

// ResolveActiveConfigDir picks the local directory that currently holds the
// authoritative agent config, current name first. Returns "" when neither
// exists; sync must abort rather than push an empty config tree.
func ResolveActiveConfigDir(cfg *config.Config) string {
	if utils.FileExists(filepath.Join(cfg.ConfigDir, ConfigFileName)) {
		return cfg.ConfigDir
	}
	if utils.FileExists(filepath.Join(cfg.LegacyConfigDir, LegacyConfigFileName)) {
		return cfg.LegacyConfigDir
	}
	return ""
}

// resolveRemoteWorkspaceDir returns the first existing remote workspace
// prefix, current name before the legacy one. Both may exist with different
// content; we never merge, by policy.
func resolveRemoteWorkspaceDir(mountRoot string) string {
	if utils.DirExists(filepath.Join(mountRoot, remoteWorkspaceDir)) {
		return filepath.Join(mountRoot, remoteWorkspaceDir)
	}
	if utils.DirExists(filepath.Join(mountRoot, remoteLegacyWorkspaceDir)) {
		return filepath.Join(mountRoot, remoteLegacyWorkspaceDir)
	}
	return ""
}

// Engine-internal artifact paths, all under <configDir>/.roost.

func stateDir(configDir string) string {
	return filepath.Join(configDir, stateDirName)
}

func markerPath(configDir string) string {
	return filepath.Join(stateDir(configDir), markerName)
}

func localManifestPath(configDir string) string {
	return filepath.Join(stateDir(configDir), manifestName)
}

func localLastSyncPath(configDir string) string {
	return filepath.Join(stateDir(configDir), lastSyncName)
}

// Remote well-known paths.

func remoteManifestPath(mountRoot string) string {
	return filepath.Join(mountRoot, manifestName)
}

func remoteLastSyncPath(mountRoot string) string {
	return filepath.Join(mountRoot, lastSyncName)
}
