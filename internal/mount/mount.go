// Package mount attaches the remote object store bucket at a local mount
// point, exactly once per process, via an external FUSE helper.
package mount

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pelican-ai/roost/internal/config"
	"github.com/pelican-ai/roost/internal/runner"
	"github.com/pelican-ai/roost/internal/utils"
)

const (
	defaultMountsFile = "/proc/mounts"
	attachTimeout     = 30 * time.Second
)

// Status is the outcome of an EnsureMounted call. Not being mounted is a
// degraded-but-expected state (missing credentials, infra hiccup), so it is
// reported as data rather than as an error.
type Status struct {
	Mounted bool
	Detail  string
}

// Manager ensures the bucket is attached at the configured mount root.
// Idempotent and safe to call redundantly; the attach command runs at most
// once per call, and not at all when the mount table already shows the mount.
type Manager struct {
	mu         sync.Mutex
	run        runner.Runner
	mountsFile string
	mounted    bool
}

func NewManager(run runner.Runner) *Manager {
	return &Manager{
		run:        run,
		mountsFile: defaultMountsFile,
	}
}

// NewManagerWithMountsFile is for tests that substitute the system mount table.
func NewManagerWithMountsFile(run runner.Runner, mountsFile string) *Manager {
	return &Manager{
		run:        run,
		mountsFile: mountsFile,
	}
}

// EnsureMounted checks the mount table for the configured mount root and
// attaches the bucket when absent. A failed attach is re-checked against the
// mount table once, because the FUSE helper can report failure after the
// mount actually landed.
func (m *Manager) EnsureMounted(ctx context.Context, cfg *config.Config) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !cfg.HasCredentials() {
		return Status{Mounted: false, Detail: "object store not configured"}
	}

	if m.mounted {
		return Status{Mounted: true}
	}

	if m.isMounted(cfg.MountRoot) {
		m.mounted = true
		return Status{Mounted: true}
	}

	if err := utils.EnsureDir(cfg.MountRoot); err != nil {
		return Status{Mounted: false, Detail: fmt.Sprintf("create mount root: %v", err)}
	}

	res, err := m.run.Run(ctx, attachCommand(cfg), attachTimeout)
	if err != nil {
		return Status{Mounted: false, Detail: fmt.Sprintf("attach: %v", err)}
	}

	// Trust the mount table over the helper's exit status.
	if m.isMounted(cfg.MountRoot) {
		m.mounted = true
		return Status{Mounted: true}
	}

	detail := strings.TrimSpace(res.Output())
	if detail == "" {
		detail = fmt.Sprintf("mount helper exited with code %d", res.ExitCode)
	}
	return Status{Mounted: false, Detail: detail}
}

// isMounted scans the mount table for an entry at the given path.
func (m *Manager) isMounted(mountRoot string) bool {
	data, err := os.ReadFile(m.mountsFile)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == mountRoot {
			return true
		}
	}
	return false
}

func attachCommand(cfg *config.Config) string {
	return fmt.Sprintf(
		"AWSACCESSKEYID=%s AWSSECRETACCESSKEY=%s s3fs %s %s -o url=%s -o use_path_request_style -o nonempty",
		shellQuote(cfg.StoreAccessKey), shellQuote(cfg.StoreSecretKey),
		shellQuote(cfg.StoreBucket), shellQuote(cfg.MountRoot), shellQuote(cfg.StoreEndpoint),
	)
}

// shellQuote single-quotes a value for POSIX shells. Secrets in particular
// may carry any byte.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]<>|&;(){}~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
