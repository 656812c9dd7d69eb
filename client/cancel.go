package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/fatih/color"
	"github.com/hiveci/hive/api"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel BUILD",
	Short: "Cancels a build",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id '%s'", args[0])
		}

		body := api.CancelBuildRequest{Status: "canceled"}
		if err := remote.send(cmd.Context(), http.MethodPut, fmt.Sprintf("/v1/build/%d", id), body, nil); err != nil {
			return fmt.Errorf("failed to cancel build %d: %w", id, err)
		}
		cmd.Println(color.HiGreenString("Canceled build %d", id))
		return nil
	},
}
