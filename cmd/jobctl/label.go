package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
	"github.com/jobd/jobd/internal/rpcid"
)

type labelParams struct {
	Label string `json:"label"`
}

// labelCommand builds the common shape shared by enable/disable/start/
// restart/clear: one positional label argument, sent as the RPC method's
// only parameter, empty result on success.
func labelCommand(cfg *rpc.ClientConfig, use, method, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " label",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqID := rpcid.New()
			cmd.SilenceUsage = true

			err := rpc.NewClient(cfg).Call(1, method, labelParams{Label: args[0]}, nil)
			if err != nil {
				return fmt.Errorf("jobctl[%s]: %s %s: %w", reqID, method, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s ok\n", args[0], method)
			return nil
		},
	}
}

func enableCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return labelCommand(cfg, "enable", "enable", "Enable a job, starting it immediately if it is Loaded and runnable")
}

func disableCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return labelCommand(cfg, "disable", "disable", "Disable a job, stopping it if it is Running")
}

func startCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return labelCommand(cfg, "start", "start", "Start a job that is not already Running")
}

func restartCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return labelCommand(cfg, "restart", "restart", "Best-effort stop then start a job")
}

func clearCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return labelCommand(cfg, "clear", "clear", "Reset a job's fault_state to None")
}
