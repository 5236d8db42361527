// Command jobd is the daemon binary: a launchd-style process supervisor
// that loads job manifests from a spool directory and supervises them.
// Structured as a cobra command tree, grounded on the teacher's
// cmd/job-worker/main.go (SilenceUsage/SilenceErrors so a re-exec'd child's
// failure doesn't print cobra usage, exitCode unwrapping of *exec.ExitError).
package main

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		if code, ok := exitCode(err); ok {
			os.Exit(code)
		}
		os.Exit(1)
	}
}

func run() error {
	root := cobra.Command{
		Use:   "jobd",
		Short: "A process supervisor that loads and runs job manifests from a spool directory",

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCommand())
	root.AddCommand(execChildCommand())

	ctx := context.Background()

	cmd, err := root.ExecuteContextC(ctx)
	if _, ok := exitCode(err); ok {
		return err
	}

	if err != nil {
		root.Println(cmd.UsageString())
		root.PrintErrln(root.ErrPrefix(), err.Error())
	}

	return err
}

func exitCode(err error) (int, bool) {
	var eerr *exec.ExitError
	if errors.As(err, &eerr) {
		return eerr.ExitCode(), true
	}
	return 0, false
}
