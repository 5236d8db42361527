package main

import (
	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/launcher"
)

// execChildCommand is the hidden subcommand a launched job's own process
// image briefly runs as before RunChild's execve replaces it (spec.md
// §4.3). It never returns: RunChild always calls os.Exit, either after a
// successful unix.Exec (which replaces the process image outright) or on
// any setup failure (exit code 124).
func execChildCommand() *cobra.Command {
	return &cobra.Command{
		Use:    launcher.ChildExecName,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			launcher.RunChild()
			return nil
		},
	}
}
