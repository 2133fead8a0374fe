package statesync

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelican-ai/roost/internal/config"
	"github.com/pelican-ai/roost/internal/mount"
	"github.com/pelican-ai/roost/internal/utils"
)

// fakeMounter reports whatever it is told to, without side effects.
type fakeMounter struct {
	status mount.Status
	calls  int
}

func (f *fakeMounter) EnsureMounted(_ context.Context, _ *config.Config) mount.Status {
	f.calls++
	return f.status
}

// fakeCopier applies MirrorOps in-process with the same semantics the rsync
// rendering relies on: whitelist mode transfers only included paths and never
// deletes non-included destination files; excludes are root-anchored dirs or
// `*.ext` suffixes.
type fakeCopier struct {
	ops  []MirrorOp
	fail error
}

func (f *fakeCopier) Mirror(_ context.Context, op MirrorOp) error {
	f.ops = append(f.ops, op)
	if f.fail != nil {
		return f.fail
	}
	return applyMirror(op)
}

func applyMirror(op MirrorOp) error {
	if err := os.MkdirAll(op.Dst, 0o755); err != nil {
		return err
	}

	srcFiles := map[string]bool{}
	err := filepath.WalkDir(op.Src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		rel, err := filepath.Rel(op.Src, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !opSelects(op, rel) {
			return nil
		}
		srcFiles[rel] = true
		return utils.CopyFile(p, filepath.Join(op.Dst, filepath.FromSlash(rel)))
	})
	if err != nil {
		return err
	}

	if !op.Delete {
		return nil
	}
	return filepath.WalkDir(op.Dst, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		rel, err := filepath.Rel(op.Dst, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !opSelects(op, rel) {
			// excluded or outside the whitelist: protected from deletion
			return nil
		}
		if !srcFiles[rel] {
			return os.Remove(p)
		}
		return nil
	})
}

func opSelects(op MirrorOp, rel string) bool {
	for _, exc := range op.Excludes {
		switch {
		case strings.HasPrefix(exc, "*"):
			if strings.HasSuffix(rel, exc[1:]) {
				return false
			}
		case strings.HasPrefix(exc, "/"):
			trimmed := exc[1:]
			if rel == trimmed || strings.HasPrefix(rel, trimmed+"/") {
				return false
			}
		}
	}
	if len(op.Includes) == 0 {
		return true
	}
	for _, inc := range op.Includes {
		if dir, ok := strings.CutSuffix(inc, "/***"); ok {
			trimmed := strings.TrimPrefix(dir, "/")
			if rel == trimmed || strings.HasPrefix(rel, trimmed+"/") {
				return true
			}
			continue
		}
		if rel == strings.TrimPrefix(inc, "/") {
			return true
		}
	}
	return false
}

// testEnv wires an engine against temp dirs standing in for the container
// filesystem and the mounted store.
type testEnv struct {
	cfg     *config.Config
	engine  *Engine
	copier  *fakeCopier
	mounter *fakeMounter
	remote  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	local := t.TempDir()
	remote := t.TempDir()

	cfg := config.Default()
	cfg.StoreEndpoint = "http://store.local:9000"
	cfg.StoreBucket = "roost-test"
	cfg.StoreAccessKey = "ak"
	cfg.StoreSecretKey = "sk"
	cfg.MountRoot = remote
	cfg.ConfigDir = filepath.Join(local, ".pelican")
	cfg.LegacyConfigDir = filepath.Join(local, ".seagull")
	cfg.SkillsDir = filepath.Join(local, "skills")
	cfg.WorkspaceDir = filepath.Join(local, "workspace")

	copier := &fakeCopier{}
	mounter := &fakeMounter{status: mount.Status{Mounted: true}}
	engine := NewEngine(cfg, mounter, copier)
	engine.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}

	return &testEnv{cfg: cfg, engine: engine, copier: copier, mounter: mounter, remote: remote}
}

func (env *testEnv) seedRemoteBackup(t *testing.T) {
	t.Helper()
	writeFile(t, filepath.Join(env.remote, "config", ConfigFileName), `{"model":"remote"}`)
	writeFile(t, filepath.Join(env.remote, "skills", "search.md"), "skill")
	writeFile(t, filepath.Join(env.remote, "workspace", "IDENTITY.md"), "identity")
	writeFile(t, filepath.Join(env.remote, "workspace", "memory", "a.txt"), "memo")
}

func (env *testEnv) seedLocalState(t *testing.T) {
	t.Helper()
	writeFile(t, filepath.Join(env.cfg.ConfigDir, ConfigFileName), `{"model":"local"}`)
	writeFile(t, filepath.Join(env.cfg.SkillsDir, "search.md"), "skill")
	writeFile(t, filepath.Join(env.cfg.WorkspaceDir, "IDENTITY.md"), "identity")
	writeFile(t, filepath.Join(env.cfg.WorkspaceDir, "memory", "a.txt"), "memo")
	writeFile(t, filepath.Join(env.cfg.WorkspaceDir, "scratch", "tmp.bin"), "junk")
}

func TestRestore_EmptyStoreStampsMarkerAndReportsNoBackup(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	assert.True(t, env.engine.Restored(), "empty store still counts as reconciled")
	assert.Empty(t, env.copier.ops, "no copies against an empty store")
}

func TestRestore_MountFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mounter.status = mount.Status{Mounted: false, Detail: "transport endpoint is not connected"}

	_, err := env.engine.Restore(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMountFailed)
	assert.Contains(t, err.Error(), "transport endpoint")
	assert.False(t, env.engine.Restored())
}

func TestRestore_CurrentLayout(t *testing.T) {
	env := newTestEnv(t)
	env.seedRemoteBackup(t)

	res, err := env.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LayoutCurrent, res.Layout)

	// trees pulled down
	assert.FileExists(t, filepath.Join(env.cfg.ConfigDir, ConfigFileName))
	assert.FileExists(t, filepath.Join(env.cfg.SkillsDir, "search.md"))
	assert.FileExists(t, filepath.Join(env.cfg.WorkspaceDir, "IDENTITY.md"))
	assert.FileExists(t, filepath.Join(env.cfg.WorkspaceDir, "memory", "a.txt"))

	// marker gates future syncs
	assert.True(t, env.engine.Restored())

	// no remote manifest existed, so the fresh local one became the baseline
	assert.FileExists(t, filepath.Join(env.remote, "manifest.json"))
	local, err := env.engine.LocalManifest()
	require.NoError(t, err)
	remote, err := LoadManifest(filepath.Join(env.remote, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, remote.Entries, local.Entries)
}

func TestRestore_LegacyFileRenamedToCurrent(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.remote, "config", LegacyConfigFileName), `{"model":"old"}`)

	res, err := env.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LayoutCurrentLegacyFile, res.Layout)

	assert.FileExists(t, filepath.Join(env.cfg.ConfigDir, ConfigFileName))
	assert.NoFileExists(t, filepath.Join(env.cfg.ConfigDir, LegacyConfigFileName))
}

func TestRestore_LegacyNestedLayout(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.remote, "seagull", LegacyConfigFileName), `{"model":"ancient"}`)

	res, err := env.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LayoutLegacyNested, res.Layout)

	data, err := os.ReadFile(filepath.Join(env.cfg.ConfigDir, ConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ancient")
}

func TestRestore_LegacyFlatCopiesSingleFile(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.remote, LegacyConfigFileName), `{"model":"flat"}`)

	res, err := env.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LayoutLegacyFlat, res.Layout)

	data, err := os.ReadFile(filepath.Join(env.cfg.ConfigDir, ConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "flat")
	assert.Empty(t, env.copier.ops, "flat layout needs no directory mirror for config")
}

func TestRestore_RemoteManifestIsAuthoritativeBaseline(t *testing.T) {
	env := newTestEnv(t)
	env.seedRemoteBackup(t)
	writeFile(t, filepath.Join(env.remote, "manifest.json"), `{"entries":[{"path":"config/pelican.json","size":1,"mtime_ms":2}]}`)

	_, err := env.engine.Restore(context.Background())
	require.NoError(t, err)

	local, err := os.ReadFile(filepath.Join(env.cfg.ConfigDir, ".roost", "manifest.json"))
	require.NoError(t, err)
	remote, err := os.ReadFile(filepath.Join(env.remote, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, remote, local, "remote manifest overwrites the local baseline")
}

func TestRestore_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedRemoteBackup(t)
	// local junk the scoped workspace mirror must leave alone
	writeFile(t, filepath.Join(env.cfg.WorkspaceDir, "scratch", "tmp.bin"), "junk")

	_, err := env.engine.Restore(context.Background())
	require.NoError(t, err)
	first := snapshotTree(t, filepath.Dir(env.cfg.ConfigDir))

	_, err = env.engine.Restore(context.Background())
	require.NoError(t, err)
	second := snapshotTree(t, filepath.Dir(env.cfg.ConfigDir))

	assert.Equal(t, first, second, "restoring twice must converge to the same state")
	assert.FileExists(t, filepath.Join(env.cfg.WorkspaceDir, "scratch", "tmp.bin"))
}

// snapshotTree maps rel path -> content for every file under root, ignoring
// roost's own timestamped artifacts.
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.Contains(rel, ".roost/") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestSync_PreconditionOrder(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.StoreSecretKey = ""
		_, err := env.engine.Sync(context.Background())
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.Zero(t, env.mounter.calls, "no mount attempt without credentials")
	})

	t.Run("mount failed", func(t *testing.T) {
		env := newTestEnv(t)
		env.mounter.status = mount.Status{Mounted: false, Detail: "s3fs exited 1"}
		_, err := env.engine.Sync(context.Background())
		assert.ErrorIs(t, err, ErrMountFailed)
	})

	t.Run("restore required", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedLocalState(t)
		_, err := env.engine.Sync(context.Background())
		assert.ErrorIs(t, err, ErrRestoreRequired)
		assert.Empty(t, env.copier.ops, "no remote writes before first restore")
		assert.NoFileExists(t, filepath.Join(env.remote, ".last-sync"))
	})

	t.Run("config missing", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.engine.Restore(context.Background())
		assert.ErrorIs(t, err, ErrNoBackup)
		_, err = env.engine.Sync(context.Background())
		assert.ErrorIs(t, err, ErrConfigMissing)
	})
}

func TestSync_SlowPathPushesAndCommits(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	env.seedLocalState(t)

	res, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "2026-08-31T12:00:00Z", res.LastSync)

	// remote now mirrors the whitelisted local state
	assert.FileExists(t, filepath.Join(env.remote, "config", ConfigFileName))
	assert.FileExists(t, filepath.Join(env.remote, "skills", "search.md"))
	assert.FileExists(t, filepath.Join(env.remote, "workspace", "IDENTITY.md"))
	assert.FileExists(t, filepath.Join(env.remote, "workspace", "memory", "a.txt"))
	assert.NoFileExists(t, filepath.Join(env.remote, "workspace", "scratch", "tmp.bin"))

	// the remote manifest equals the freshly built local one
	local, err := os.ReadFile(filepath.Join(env.cfg.ConfigDir, ".roost", "manifest.json"))
	require.NoError(t, err)
	remote, err := os.ReadFile(filepath.Join(env.remote, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, local, remote)

	// timestamp is the durable commit signal
	stamp, err := os.ReadFile(filepath.Join(env.remote, ".last-sync"))
	require.NoError(t, err)
	assert.Equal(t, "2026-08-31T12:00:00Z\n", string(stamp))
}

func TestSync_FastPathSkipsAllCopies(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	env.seedLocalState(t)

	_, err = env.engine.Sync(context.Background())
	require.NoError(t, err)
	opsAfterFirst := len(env.copier.ops)
	require.Greater(t, opsAfterFirst, 0)

	// Nothing changed: second sync must not mirror anything.
	res, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Len(t, env.copier.ops, opsAfterFirst, "fast path must run zero mirror operations")
	assert.Equal(t, "2026-08-31T12:00:00Z", res.LastSync, "existing remote timestamp is reused")
}

func TestSync_ChangeInvalidatesFastPath(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	env.seedLocalState(t)

	_, err = env.engine.Sync(context.Background())
	require.NoError(t, err)
	opsAfterFirst := len(env.copier.ops)

	writeFile(t, filepath.Join(env.cfg.WorkspaceDir, "memory", "b.txt"), "new memo")

	res, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Greater(t, len(env.copier.ops), opsAfterFirst)
	assert.FileExists(t, filepath.Join(env.remote, "workspace", "memory", "b.txt"))
}

func TestSync_CopyFailureAbortsBeforeTimestamp(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	env.seedLocalState(t)
	env.copier.fail = ErrCopyFailed

	_, err = env.engine.Sync(context.Background())
	assert.ErrorIs(t, err, ErrCopyFailed)
	assert.NoFileExists(t, filepath.Join(env.remote, ".last-sync"), "timestamp only after all copies succeed")
	assert.NoFileExists(t, filepath.Join(env.remote, "manifest.json"))
}

func TestSync_GarbledTimestampFailsVerification(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	env.seedLocalState(t)

	// The mount accepts the write but what lands is not a timestamp.
	env.engine.writeStamp = func(path string, _ []byte) error {
		return os.WriteFile(path, []byte("Input/output error\n"), 0o644)
	}

	_, err = env.engine.Sync(context.Background())
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Contains(t, err.Error(), "Input/output error", "diagnostic carries what was read back")
	assert.NoFileExists(t, filepath.Join(env.cfg.ConfigDir, ".roost", ".last-sync"),
		"only verified attempts are recorded locally")
}

func TestWorkspaceWhitelist_RoundTrips(t *testing.T) {
	// sync up from one container, restore into another: whitelisted files
	// round-trip, junk stays local on both sides
	up := newTestEnv(t)
	_, err := up.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	up.seedLocalState(t)
	_, err = up.engine.Sync(context.Background())
	require.NoError(t, err)

	down := newTestEnv(t)
	down.cfg.MountRoot = up.cfg.MountRoot
	writeFile(t, filepath.Join(down.cfg.WorkspaceDir, "scratch", "other.bin"), "local junk")

	_, err = down.engine.Restore(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(down.cfg.WorkspaceDir, "IDENTITY.md"))
	assert.FileExists(t, filepath.Join(down.cfg.WorkspaceDir, "memory", "a.txt"))
	assert.NoFileExists(t, filepath.Join(down.cfg.WorkspaceDir, "scratch", "tmp.bin"))
	assert.FileExists(t, filepath.Join(down.cfg.WorkspaceDir, "scratch", "other.bin"), "restore never deletes outside the whitelist")
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	info := env.engine.Status()
	assert.True(t, info.HasCredentials)
	assert.False(t, info.Restored)
	assert.Empty(t, info.LastSync)

	_, err := env.engine.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	env.seedLocalState(t)
	_, err = env.engine.Sync(context.Background())
	require.NoError(t, err)

	info = env.engine.Status()
	assert.True(t, info.Restored)
	assert.Equal(t, "2026-08-31T12:00:00Z", info.LastSync)
}
