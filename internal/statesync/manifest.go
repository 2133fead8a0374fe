package statesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/pelican-ai/roost/internal/utils"
)

// ManifestEntry describes one regular file eligible for backup. Paths are
// store-relative with forward slashes and carry a category prefix (config/,
// skills/, workspace/).
type ManifestEntry struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	MtimeMillis int64  `json:"mtime_ms"`
}

// Manifest is the sorted inventory of everything backup would touch. Two
// manifests are equal iff their serialized forms are byte-identical; that
// equality is the cheap proxy for "nothing changed since the last sync".
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// BuildManifest walks the three state trees with their per-tree filters and
// returns a deterministic inventory. A missing tree contributes no entries.
func BuildManifest(configDir, skillsDir, workspaceDir string) (*Manifest, error) {
	m := &Manifest{Entries: []ManifestEntry{}}

	if err := m.walkConfig(configDir); err != nil {
		return nil, fmt.Errorf("manifest config walk: %w", err)
	}
	if err := m.walkSkills(skillsDir); err != nil {
		return nil, fmt.Errorf("manifest skills walk: %w", err)
	}
	if err := m.walkWorkspace(workspaceDir); err != nil {
		return nil, fmt.Errorf("manifest workspace walk: %w", err)
	}

	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Path < m.Entries[j].Path
	})

	return m, nil
}

// Encode serializes the manifest. Struct field order plus pre-sorted entries
// make the output byte-stable for an unchanged filesystem.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile persists the manifest at path, creating parents as needed.
func (m *Manifest) WriteFile(path string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadManifest reads a previously persisted manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// LocalManifest returns the engine's persisted view of what is on disk, or
// nil when no sync or restore has run yet.
func (e *Engine) LocalManifest() (*Manifest, error) {
	return LoadManifest(localManifestPath(e.cfg.ConfigDir))
}

// TotalSize sums the sizes of all entries.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Entries {
		total += e.Size
	}
	return total
}

func (m *Manifest) walkConfig(dir string) error {
	if !utils.DirExists(dir) {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			// Roost's own artifacts never appear in the manifest.
			if d.Name() == stateDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(excludedConfigExts, strings.ToLower(filepath.Ext(p))) {
			return nil
		}
		return m.addEntry(remoteConfigDir, dir, p, d)
	})
}

func (m *Manifest) walkSkills(dir string) error {
	if !utils.DirExists(dir) {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		return m.addEntry(remoteSkillsDir, dir, p, d)
	})
}

func (m *Manifest) walkWorkspace(dir string) error {
	if !utils.DirExists(dir) {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = utils.NormPath(rel)
		if rel == "." {
			return nil
		}

		first := strings.SplitN(rel, "/", 2)[0]
		if d.IsDir() {
			// Prune everything outside the whitelisted subtrees at the first
			// path segment so large scratch dirs are never even listed.
			if !slices.Contains(workspaceSubtrees, first) {
				return filepath.SkipDir
			}
			return nil
		}

		if first == rel {
			// Root-level file: only whitelisted names.
			if !slices.Contains(workspaceRootFiles, rel) {
				return nil
			}
		} else if !slices.Contains(workspaceSubtrees, first) {
			return nil
		}
		return m.addEntry(remoteWorkspaceDir, dir, p, d)
	})
}

func (m *Manifest) addEntry(category, root, p string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		slog.Warn("manifest: skipping unreadable file", "path", p, "error", err)
		return nil
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return err
	}
	m.Entries = append(m.Entries, ManifestEntry{
		Path:        category + "/" + utils.NormPath(rel),
		Size:        info.Size(),
		MtimeMillis: info.ModTime().UnixMilli(),
	})
	return nil
}

// manifestsEqual compares a freshly encoded manifest against raw bytes read
// from the store. Byte equality is deliberately strict: any drift in format
// or content forces a full sync, never a skipped one.
func manifestsEqual(local, remote []byte) bool {
	return bytes.Equal(local, remote)
}
