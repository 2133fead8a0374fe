package statesync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pelican-ai/roost/internal/config"
	"github.com/pelican-ai/roost/internal/mount"
	"github.com/pelican-ai/roost/internal/utils"
)

// Mounter is the slice of the mount manager the engine needs.
type Mounter interface {
	EnsureMounted(ctx context.Context, cfg *config.Config) mount.Status
}

// Engine is the manifest-based incremental sync and restore engine. One
// instance per process; callers are expected to serialize Restore/Sync
// invocations (the admin layer handles one request at a time).
type Engine struct {
	cfg     *config.Config
	mounter Mounter
	copier  Copier
	now     func() time.Time
	// writeStamp lands the durable sync timestamp on the mount. Injectable
	// because a flaky mount can accept the write and still not persist it;
	// tests model that to exercise the read-back verification.
	writeStamp func(path string, data []byte) error
}

func NewEngine(cfg *config.Config, mounter Mounter, copier Copier) *Engine {
	return &Engine{
		cfg:     cfg,
		mounter: mounter,
		copier:  copier,
		now:     time.Now,
		writeStamp: func(path string, data []byte) error {
			return os.WriteFile(path, data, 0o644)
		},
	}
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	Layout     LayoutSource `json:"layout"`
	RestoredAt string       `json:"restored_at"`
}

// Restore reconciles local state with the store: mount, resolve which layout
// generation the backup uses, pull config/skills/workspace, stamp the restore
// marker, and baseline the manifest. A failure part-way leaves earlier
// effects in place; re-running converges because every copy is a destructive
// mirror with remote-wins semantics.
func (e *Engine) Restore(ctx context.Context) (*RestoreResult, error) {
	attempt := uuid.NewString()[:8]
	log := slog.With("attempt", attempt)
	log.Info("restore starting", "mount_root", e.cfg.MountRoot)

	st := e.mounter.EnsureMounted(ctx, e.cfg)
	if !st.Mounted {
		return nil, fmt.Errorf("%w: %s", ErrMountFailed, st.Detail)
	}

	layout := ResolveRestoreLayout(e.cfg.MountRoot)
	if layout == LayoutNone {
		// An empty store still counts as reconciled: there is no backup the
		// next sync could clobber, so the marker is stamped and the caller
		// just learns there was nothing to pull.
		log.Info("restore: store has no recognizable backup")
		if err := e.writeMarker(e.now().UTC().Format(time.RFC3339)); err != nil {
			return nil, err
		}
		return nil, ErrNoBackup
	}
	log.Info("restore layout resolved", "layout", layout)

	if err := e.restoreConfig(ctx, layout); err != nil {
		return nil, err
	}
	if err := e.restoreSkills(ctx); err != nil {
		return nil, err
	}
	if err := e.restoreWorkspace(ctx); err != nil {
		return nil, err
	}

	// Best-effort: bring the last backup time along for status queries.
	remoteTS := remoteLastSyncPath(e.cfg.MountRoot)
	if utils.FileExists(remoteTS) {
		if err := utils.CopyFile(remoteTS, localLastSyncPath(e.cfg.ConfigDir)); err != nil {
			log.Warn("restore: could not copy last-sync timestamp", "error", err)
		}
	}

	restoredAt := e.now().UTC().Format(time.RFC3339)
	if err := e.writeMarker(restoredAt); err != nil {
		return nil, err
	}

	if err := e.baselineManifest(log); err != nil {
		return nil, err
	}

	log.Info("restore complete", "layout", layout)
	return &RestoreResult{Layout: layout, RestoredAt: restoredAt}, nil
}

func (e *Engine) restoreConfig(ctx context.Context, layout LayoutSource) error {
	cfgDir := e.cfg.ConfigDir

	switch layout {
	case LayoutLegacyFlat:
		src := filepath.Join(e.cfg.MountRoot, LegacyConfigFileName)
		dst := filepath.Join(cfgDir, ConfigFileName)
		if err := utils.CopyFile(src, dst); err != nil {
			return fmt.Errorf("%w: flat config: %v", ErrCopyFailed, err)
		}
		return nil

	case LayoutLegacyNested:
		src := filepath.Join(e.cfg.MountRoot, remoteLegacyConfigDir)
		if err := e.copier.Mirror(ctx, MirrorOp{
			Src:      src,
			Dst:      cfgDir,
			Delete:   true,
			Excludes: []string{"/" + stateDirName},
		}); err != nil {
			return err
		}
		return e.renameLegacyConfigFile()

	default:
		src := filepath.Join(e.cfg.MountRoot, remoteConfigDir)
		if err := e.copier.Mirror(ctx, MirrorOp{
			Src:      src,
			Dst:      cfgDir,
			Delete:   true,
			Excludes: []string{"/" + stateDirName},
		}); err != nil {
			return err
		}
		if layout == LayoutCurrentLegacyFile {
			return e.renameLegacyConfigFile()
		}
		return nil
	}
}

// renameLegacyConfigFile moves seagull.json to pelican.json after a copy from
// a legacy-named source, so local state is always current-convention.
func (e *Engine) renameLegacyConfigFile() error {
	legacy := filepath.Join(e.cfg.ConfigDir, LegacyConfigFileName)
	current := filepath.Join(e.cfg.ConfigDir, ConfigFileName)
	if !utils.FileExists(legacy) {
		return nil
	}
	if err := os.Rename(legacy, current); err != nil {
		return fmt.Errorf("rename legacy config file: %w", err)
	}
	return nil
}

func (e *Engine) restoreSkills(ctx context.Context) error {
	src := filepath.Join(e.cfg.MountRoot, remoteSkillsDir)
	if !utils.DirExists(src) {
		return nil
	}
	// Skills are small and fully owned by backup, so no filtering.
	return e.copier.Mirror(ctx, MirrorOp{
		Src:    src,
		Dst:    e.cfg.SkillsDir,
		Delete: true,
	})
}

func (e *Engine) restoreWorkspace(ctx context.Context) error {
	src := resolveRemoteWorkspaceDir(e.cfg.MountRoot)
	if src == "" {
		return nil
	}
	// Scoped mirror: only the whitelist transfers, and local files outside it
	// are never deleted even when absent remotely.
	return e.copier.Mirror(ctx, MirrorOp{
		Src:      src,
		Dst:      e.cfg.WorkspaceDir,
		Delete:   true,
		Includes: workspaceIncludeRules(),
	})
}

func (e *Engine) writeMarker(restoredAt string) error {
	path := markerPath(e.cfg.ConfigDir)
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("write restore marker: %w", err)
	}
	if err := os.WriteFile(path, []byte(restoredAt+"\n"), 0o644); err != nil {
		return fmt.Errorf("write restore marker: %w", err)
	}
	return nil
}

// baselineManifest makes the first post-restore sync see reality. The remote
// manifest, when present, overwrites the local one (the store knows what was
// last durably saved); otherwise the fresh local manifest is uploaded as the
// new remote baseline.
func (e *Engine) baselineManifest(log *slog.Logger) error {
	m, err := BuildManifest(e.cfg.ConfigDir, e.cfg.SkillsDir, e.cfg.WorkspaceDir)
	if err != nil {
		return err
	}
	localPath := localManifestPath(e.cfg.ConfigDir)
	if err := m.WriteFile(localPath); err != nil {
		return fmt.Errorf("write local manifest: %w", err)
	}

	remotePath := remoteManifestPath(e.cfg.MountRoot)
	if utils.FileExists(remotePath) {
		if err := utils.CopyFile(remotePath, localPath); err != nil {
			return fmt.Errorf("adopt remote manifest: %w", err)
		}
		log.Info("manifest baselined from store", "entries", len(m.Entries))
		return nil
	}

	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(remotePath, data, 0o644); err != nil {
		return fmt.Errorf("upload manifest baseline: %w", err)
	}
	log.Info("manifest baseline uploaded", "entries", len(m.Entries))
	return nil
}

// Restored reports whether this container has reconciled with the store at
// least once (the gate that makes backup safe).
func (e *Engine) Restored() bool {
	return utils.FileExists(markerPath(e.cfg.ConfigDir))
}
