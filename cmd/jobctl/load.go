package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
	"github.com/jobd/jobd/internal/rpcid"
)

type loadParams struct {
	Path string `json:"path"`
}

func loadCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "load path",
		Short: "Load a single manifest file by path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("jobctl: resolving %s: %w", args[0], err)
			}

			reqID := rpcid.New()
			if err := rpc.NewClient(cfg).Call(1, "load", loadParams{Path: path}, nil); err != nil {
				return fmt.Errorf("jobctl[%s]: load %s: %w", reqID, path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: load ok\n", path)
			return nil
		},
	}
}
