package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jobd/jobd/internal/rpc"
	"github.com/jobd/jobd/internal/rpcid"
)

type listEntry struct {
	Pid        int    `json:"pid"`
	State      string `json:"state"`
	Enabled    bool   `json:"enabled"`
	FaultState string `json:"fault_state"`
}

var stateColor = map[string]*color.Color{
	"Running": color.New(color.FgGreen),
	"Error":   color.New(color.FgRed),
	"Killed":  color.New(color.FgRed),
	"Waiting": color.New(color.FgYellow),
}

func listCommand(cfg *rpc.ClientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every job loaded in jobd, with its pid, state, enabled, and fault_state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqID := rpcid.New()
			cmd.SilenceUsage = true

			var result map[string]listEntry
			if err := rpc.NewClient(cfg).Call(1, "list", nil, &result); err != nil {
				return fmt.Errorf("jobctl[%s]: list: %w", reqID, err)
			}

			labels := make([]string, 0, len(result))
			for label := range result {
				labels = append(labels, label)
			}
			sort.Strings(labels)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tPID\tSTATE\tENABLED\tFAULT")
			for _, label := range labels {
				e := result[label]
				state := e.State
				if c, ok := stateColor[state]; ok {
					state = c.Sprint(state)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\n", label, e.Pid, state, e.Enabled, e.FaultState)
			}
			return w.Flush()
		},
	}
}
