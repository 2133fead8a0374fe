package statesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pelican-ai/roost/internal/runner"
	"github.com/pelican-ai/roost/internal/utils"
)

// MirrorOp is one recursive mirror-copy of a directory tree. When Includes is
// non-empty the op runs in whitelist mode: only matching paths transfer, and
// files outside the whitelist are never deleted at the destination even with
// Delete set.
type MirrorOp struct {
	Src      string
	Dst      string
	Delete   bool
	Includes []string
	Excludes []string
}

// Copier executes mirror operations. Production uses rsync over the store's
// FUSE mount; tests substitute an in-process implementation.
type Copier interface {
	Mirror(ctx context.Context, op MirrorOp) error
}

const mirrorTimeout = 120 * time.Second

// RsyncCopier renders MirrorOps as rsync invocations through the process
// runner. rsync's exit status over the FUSE mount is known to be flaky, so a
// zero exit is necessary but not sufficient; the sync orchestrator verifies
// durable effects separately.
type RsyncCopier struct {
	run     runner.Runner
	timeout time.Duration
}

func NewRsyncCopier(run runner.Runner) *RsyncCopier {
	return &RsyncCopier{run: run, timeout: mirrorTimeout}
}

func (c *RsyncCopier) Mirror(ctx context.Context, op MirrorOp) error {
	if err := utils.EnsureDir(op.Dst); err != nil {
		return fmt.Errorf("%w: create destination %s: %v", ErrCopyFailed, op.Dst, err)
	}

	cmd := renderRsync(op)
	slog.Debug("mirror", "command", cmd)

	res, err := c.run.Run(ctx, cmd, c.timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	if res.TimedOut {
		return fmt.Errorf("%w: rsync timed out after %s", ErrCopyFailed, c.timeout)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: rsync exited %d: %s", ErrCopyFailed, res.ExitCode, strings.TrimSpace(res.Output()))
	}
	return nil
}

func renderRsync(op MirrorOp) string {
	args := []string{"rsync", "-a"}
	if op.Delete {
		args = append(args, "--delete")
	}
	for _, inc := range op.Includes {
		args = append(args, fmt.Sprintf("--include=%s", shellQuote(inc)))
	}
	if len(op.Includes) > 0 {
		// Whitelist mode: everything not included is excluded from transfer,
		// and (without --delete-excluded) protected from deletion.
		args = append(args, "--exclude='*'")
	}
	for _, exc := range op.Excludes {
		args = append(args, fmt.Sprintf("--exclude=%s", shellQuote(exc)))
	}
	// Trailing slash on src mirrors contents rather than the dir itself.
	args = append(args, shellQuote(strings.TrimSuffix(op.Src, "/")+"/"), shellQuote(op.Dst))
	return strings.Join(args, " ")
}

// workspaceIncludeRules builds the shared whitelist used by both restore and
// sync, so the two directions can never disagree about scope. Subtree rules
// use rsync's `dir/***` form to match the directory and everything below it.
func workspaceIncludeRules() []string {
	rules := make([]string, 0, len(workspaceRootFiles)+len(workspaceSubtrees))
	for _, f := range workspaceRootFiles {
		rules = append(rules, "/"+f)
	}
	for _, d := range workspaceSubtrees {
		rules = append(rules, "/"+d+"/***")
	}
	return rules
}

// configExcludeRules is the shared config-tree filter for mirror ops.
func configExcludeRules() []string {
	rules := []string{"/" + stateDirName}
	for _, ext := range excludedConfigExts {
		rules = append(rules, "*"+ext)
	}
	return rules
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]<>|&;(){}~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
