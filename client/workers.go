package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/hiveci/hive/api"
	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Lists the worker fleet",

	RunE: func(cmd *cobra.Command, args []string) error {
		var workers api.WorkersResponse
		if err := remote.get(cmd.Context(), "/v1/slave", &workers); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tSLOTS\tBUSY\tREACHABLE")
		for _, worker := range workers.Workers {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\n", worker.ID, worker.URL, worker.Slots, worker.BusySlots, worker.Reachable)
		}
		return w.Flush()
	},
}
