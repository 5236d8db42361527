package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
	"github.com/jobd/jobd/internal/rpcid"
)

type runMethodParams struct {
	Label  string `json:"label"`
	Method string `json:"method"`
}

type runMethodResult struct {
	Pid int `json:"pid"`
}

func runMethodCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "run-method label method",
		Short: "Launch one of a job's named methods independently of its main process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			label, method := args[0], args[1]

			reqID := rpcid.New()
			var result runMethodResult
			if err := rpc.NewClient(cfg).Call(1, "runMethod", runMethodParams{Label: label, Method: method}, &result); err != nil {
				return fmt.Errorf("jobctl[%s]: runMethod %s/%s: %w", reqID, label, method, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: started pid %d\n", label, method, result.Pid)
			return nil
		},
	}
}
