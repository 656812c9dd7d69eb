package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/hiveci/hive/api"
	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Lists builds",

	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/build"
		if queued, _ := cmd.Flags().GetBool("queue"); queued {
			path = "/v1/queue"
		}

		var builds api.BuildsResponse
		if err := remote.get(cmd.Context(), path, &builds); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tJOB\tSTATUS\tATOMS\tCREATED")
		for _, b := range builds.Builds {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%s\n", b.ID, b.JobName, b.Status, b.NumFinished, b.NumAtoms, b.CreatedAt)
		}
		return w.Flush()
	},
}

func init() {
	psCmd.Flags().Bool("queue", false, "only show queued and building builds")
}
