package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
	"github.com/jobd/jobd/internal/rpcid"
)

func unloadCommand(cfg *rpc.ClientConfig) *cobra.Command {
	var skipConfirm bool

	cmd := cobra.Command{
		Use:   "unload label",
		Short: "Unload a job (a Running job is sent SIGTERM and removed once it exits)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			label := args[0]

			if !skipConfirm {
				confirmed, err := confirm(fmt.Sprintf("Unload job %q?", label))
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			reqID := rpcid.New()
			if err := rpc.NewClient(cfg).Call(1, "unload", labelParams{Label: label}, nil); err != nil {
				return fmt.Errorf("jobctl[%s]: unload %s: %w", reqID, label, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: unload ok\n", label)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "skip the confirmation prompt")
	return &cmd
}
