package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pelican-ai/roost/internal/agent"
)

func init() {
	rootCmd.AddCommand(newAgentCmdCmd())
}

// agent-cmd prints the probe-and-exec shell string for the agent CLI, so
// sandbox scripts can `eval "$(roost agent-cmd -- status)"` without knowing
// which generation of the binary is installed.
func newAgentCmdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent-cmd [-- args...]",
		Short: "Print the shell command that invokes the installed agent CLI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			fmt.Println(agent.ResolveCommand(args...))
			return nil
		},
	}
}
