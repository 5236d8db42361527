package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/daemon"
)

// serveCommand boots the Daemon and blocks until it shuts down, mirroring
// the teacher's `serve` command shape (internal/commands/serve.go): one
// RunE closure that constructs the long-lived object from flag-populated
// config and runs it to completion.
func serveCommand() *cobra.Command {
	cfg := &daemon.Config{}

	cmd := cobra.Command{
		Use:   "serve",
		Short: "Start jobd and supervise every job in the spool directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := daemon.New(cfg)
			if err != nil {
				return fmt.Errorf("jobd: %w", err)
			}

			code, err := d.Run()
			if err != nil {
				slog.Error("jobd: daemon exited with error", "err", err)
			}
			os.Exit(code)
			return nil
		},
	}

	cfg.Flags(&cmd)

	return &cmd
}
