package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
	"github.com/jobd/jobd/internal/rpcid"
)

// stopCommand prompts for confirmation before sending SIGTERM, since Stop
// can interrupt in-flight work; unload is the only other command that
// prompts. --yes skips the prompt for scripted use.
func stopCommand(cfg *rpc.ClientConfig) *cobra.Command {
	var skipConfirm bool

	cmd := cobra.Command{
		Use:   "stop label",
		Short: "Stop a Running job (sends SIGTERM)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			label := args[0]

			if !skipConfirm {
				confirmed, err := confirm(fmt.Sprintf("Stop job %q?", label))
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			reqID := rpcid.New()
			if err := rpc.NewClient(cfg).Call(1, "stop", labelParams{Label: label}, nil); err != nil {
				return fmt.Errorf("jobctl[%s]: stop %s: %w", reqID, label, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: stop ok\n", label)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "skip the confirmation prompt")
	return &cmd
}

// confirm renders an interactive yes/no prompt.
func confirm(title string) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).Run()
	return ok, err
}
