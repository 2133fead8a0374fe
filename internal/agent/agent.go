// Package agent knows how to locate the sandboxed agent CLI, which has been
// renamed twice over its lifetime. Every caller that shells out to the agent
// goes through ResolveCommand so the name precedence lives in exactly one place.
package agent

import (
	"fmt"
	"strings"
)

// cliCandidates in priority order. Newest first; the last entry is invoked
// unconditionally when nothing else is on PATH, so the shell produces the
// usual "command not found" diagnostics.
var cliCandidates = []string{"pelican", "seagull", "gully"}

// Candidates returns the CLI names in probe order.
func Candidates() []string {
	out := make([]string, len(cliCandidates))
	copy(out, cliCandidates)
	return out
}

// ResolveCommand builds a shell command string that probes for each candidate
// binary in priority order and invokes the first one found with the given
// arguments. The last candidate is invoked without a probe.
func ResolveCommand(args ...string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}

	invoke := func(name string) string {
		if len(quoted) == 0 {
			return name
		}
		return name + " " + strings.Join(quoted, " ")
	}

	var b strings.Builder
	for i, name := range cliCandidates {
		switch {
		case i == 0:
			fmt.Fprintf(&b, "if command -v %s >/dev/null 2>&1; then %s; ", name, invoke(name))
		case i < len(cliCandidates)-1:
			fmt.Fprintf(&b, "elif command -v %s >/dev/null 2>&1; then %s; ", name, invoke(name))
		default:
			fmt.Fprintf(&b, "else %s; fi", invoke(name))
		}
	}
	return b.String()
}

// shellQuote single-quotes an argument for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]<>|&;(){}~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
