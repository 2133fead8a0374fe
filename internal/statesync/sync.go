package statesync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelican-ai/roost/internal/utils"
)

// SyncResult reports a completed sync attempt.
type SyncResult struct {
	// Skipped is true when the manifest fast path proved nothing changed and
	// no copy operations ran.
	Skipped bool `json:"skipped"`
	// LastSync is the authoritative last-backup timestamp after this attempt.
	// Empty when the fast path hit before any timestamp was ever written.
	LastSync string `json:"last_sync,omitempty"`
	// Entries and TotalBytes describe the manifest this attempt was built on.
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

// timestampPattern is the shape a read-back sync timestamp must have for the
// attempt to count as durably committed.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// Sync pushes local state to the store. Preconditions are checked in order,
// each with its own error; the manifest fast path skips all copying when
// nothing changed since the last durable save.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	attempt := uuid.NewString()[:8]
	log := slog.With("attempt", attempt)

	if !e.cfg.HasCredentials() {
		return nil, ErrNotConfigured
	}

	st := e.mounter.EnsureMounted(ctx, e.cfg)
	if !st.Mounted {
		return nil, fmt.Errorf("%w: %s", ErrMountFailed, st.Detail)
	}

	if !e.Restored() {
		return nil, ErrRestoreRequired
	}

	activeDir := ResolveActiveConfigDir(e.cfg)
	if activeDir == "" {
		return nil, ErrConfigMissing
	}

	manifest, err := BuildManifest(activeDir, e.cfg.SkillsDir, e.cfg.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	encoded, err := manifest.Encode()
	if err != nil {
		return nil, err
	}

	// The local manifest is the record of "what is on disk now", kept fresh
	// whether or not any copying happens.
	if err := manifest.WriteFile(localManifestPath(e.cfg.ConfigDir)); err != nil {
		return nil, fmt.Errorf("write local manifest: %w", err)
	}

	result := &SyncResult{
		Entries:    len(manifest.Entries),
		TotalBytes: manifest.TotalSize(),
	}

	// Fast path: byte-identical manifests mean the expensive mirror copies
	// and the store listings they imply can be skipped entirely.
	remotePath := remoteManifestPath(e.cfg.MountRoot)
	if remote, err := os.ReadFile(remotePath); err == nil && manifestsEqual(encoded, remote) {
		result.Skipped = true
		result.LastSync = e.readRemoteTimestamp()
		log.Info("sync skipped, no changes", "entries", result.Entries)
		return result, nil
	}

	log.Info("sync starting", "entries", result.Entries, "config_dir", activeDir)

	if err := e.pushTrees(ctx, activeDir); err != nil {
		return nil, err
	}

	// Manifest before timestamp: the timestamp is the commit signal and must
	// only be written once everything else landed.
	if err := os.WriteFile(remotePath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}

	stamp := e.now().UTC().Format(time.RFC3339)
	if err := e.writeStamp(remoteLastSyncPath(e.cfg.MountRoot), []byte(stamp+"\n")); err != nil {
		return nil, fmt.Errorf("write sync timestamp: %w", err)
	}

	// The copy tool's exit status is advisory on this mount; the read-back
	// timestamp is what decides whether the attempt really committed.
	verified := e.readRemoteTimestamp()
	if !timestampPattern.MatchString(verified) {
		return nil, fmt.Errorf("%w: timestamp read back as %q", ErrVerificationFailed, verified)
	}
	if err := os.WriteFile(localLastSyncPath(e.cfg.ConfigDir), []byte(verified+"\n"), 0o644); err != nil {
		log.Warn("could not record local last-sync", "error", err)
	}

	result.LastSync = verified
	log.Info("sync complete", "last_sync", verified, "entries", result.Entries)
	return result, nil
}

// pushTrees runs the three mirror copies, local to remote, sequentially.
// Filters are the same ones restore uses so the two directions agree on scope.
func (e *Engine) pushTrees(ctx context.Context, activeDir string) error {
	if err := e.copier.Mirror(ctx, MirrorOp{
		Src:      activeDir,
		Dst:      filepath.Join(e.cfg.MountRoot, remoteConfigDir),
		Delete:   true,
		Excludes: configExcludeRules(),
	}); err != nil {
		return err
	}

	if utils.DirExists(e.cfg.SkillsDir) {
		if err := e.copier.Mirror(ctx, MirrorOp{
			Src:    e.cfg.SkillsDir,
			Dst:    filepath.Join(e.cfg.MountRoot, remoteSkillsDir),
			Delete: true,
		}); err != nil {
			return err
		}
	}

	if utils.DirExists(e.cfg.WorkspaceDir) {
		if err := e.copier.Mirror(ctx, MirrorOp{
			Src:      e.cfg.WorkspaceDir,
			Dst:      filepath.Join(e.cfg.MountRoot, remoteWorkspaceDir),
			Delete:   true,
			Includes: workspaceIncludeRules(),
		}); err != nil {
			return err
		}
	}

	return nil
}

// readRemoteTimestamp returns the store's last-sync timestamp, or "" when
// none exists yet.
func (e *Engine) readRemoteTimestamp() string {
	data, err := os.ReadFile(remoteLastSyncPath(e.cfg.MountRoot))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// StatusInfo is what the admin layer surfaces to operators.
type StatusInfo struct {
	HasCredentials bool   `json:"has_credentials"`
	Restored       bool   `json:"restored"`
	LastSync       string `json:"last_sync,omitempty"`
}

// Status answers the operator query without touching the store beyond a
// single timestamp read; it never mounts.
func (e *Engine) Status() StatusInfo {
	info := StatusInfo{
		HasCredentials: e.cfg.HasCredentials(),
		Restored:       e.Restored(),
	}
	if ts := e.readRemoteTimestamp(); ts != "" {
		info.LastSync = ts
	} else if data, err := os.ReadFile(localLastSyncPath(e.cfg.ConfigDir)); err == nil {
		info.LastSync = strings.TrimSpace(string(data))
	}
	return info
}
