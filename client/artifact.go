package main

import (
	"fmt"
	"strconv"

	"github.com/hiveci/hive/client/ui"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact BUILD",
	Short: "Downloads the artifact bundle of a terminal build",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id '%s'", args[0])
		}

		target := lo.Must(cmd.Flags().GetString("output"))
		if target == "" {
			target = fmt.Sprintf("build-%d-artifacts.tar.gz", id)
		}

		spinner := ui.NewSpinner(fmt.Sprintf("Downloading artifacts of build %d", id))
		if err := remote.download(cmd.Context(), fmt.Sprintf("/v1/build/%d/artifacts.tar.gz", id), target); err != nil {
			spinner.Fail()
			return err
		}
		spinner.Success(fmt.Sprintf("Saved artifacts to %s", target))
		return nil
	},
}

func init() {
	artifactCmd.Flags().StringP("output", "o", "", "target file (default build-ID-artifacts.tar.gz)")
}
