// Command jobctl is a thin JSON-RPC client for jobd's control socket: each
// subcommand issues exactly one request and prints the result, mirroring
// the teacher's per-command-file cobra tree (internal/commands/*.go) but
// against jobd's JSON-RPC wire protocol instead of gRPC.
package main

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
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
	cfg := &rpc.ClientConfig{}

	root := cobra.Command{
		Use:   "jobctl",
		Short: "Control jobd over its unix control socket",

		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg.Flags(&root)

	root.AddCommand(listCommand(cfg))
	root.AddCommand(loadCommand(cfg))
	root.AddCommand(unloadCommand(cfg))
	root.AddCommand(enableCommand(cfg))
	root.AddCommand(disableCommand(cfg))
	root.AddCommand(startCommand(cfg))
	root.AddCommand(stopCommand(cfg))
	root.AddCommand(restartCommand(cfg))
	root.AddCommand(clearCommand(cfg))
	root.AddCommand(runMethodCommand(cfg))
	root.AddCommand(watchCommand(cfg))

	ctx := context.Background()
	cmd, err := root.ExecuteContextC(ctx)
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
