package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
)

// watchCommand opts into the notification stream: it blocks printing one
// line per job state change until interrupted, rather than polling `list`.
func watchCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream job state-change notifications until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return rpc.NewClient(cfg).Watch(cmd.Context(), func(n rpc.Notification) error {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", n.Label, n.State)
				return err
			})
		},
	}
}
