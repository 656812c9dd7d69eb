package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hiveci/hive/api"
	"github.com/hiveci/hive/client/jobfile"
	"github.com/hiveci/hive/client/ui"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var runCmd = &cobra.Command{
	Use:   "run JOBFILE",
	Short: "Submits a build for a jobfile",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := jobfile.Read(args[0], jobfile.ReadOptions{
			Params: lo.SliceToMap(lo.Must(cmd.Flags().GetStringArray("param")), func(item string) (key, value string) { key, value, _ = strings.Cut(item, "="); return }),
		})
		if err != nil {
			if e, ok := err.(jobfile.UnmarshalError); ok && verbose {
				cmd.PrintErrln(e.Source)
			}
			return fmt.Errorf("failed to read job from '%s': %w", args[0], err)
		}

		if lo.Must(cmd.Flags().GetBool("dry-run")) {
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(j)
		}

		var submitted api.SubmitBuildResponse
		if err := remote.send(cmd.Context(), http.MethodPost, "/v1/build", api.SubmitBuildRequest{Job: j.Spec()}, &submitted); err != nil {
			return fmt.Errorf("failed to submit build: %w", err)
		}

		if lo.Must(cmd.Flags().GetBool("async")) {
			cmd.Printf(color.HiGreenString("Submitted build %d\n"), submitted.BuildID)
			return nil
		}
		return waitForBuild(cmd, submitted.BuildID)
	},
}

func init() {
	runCmd.Flags().Bool("async", false, "submit the build without waiting for its verdict")
	runCmd.Flags().BoolP("dry-run", "n", false, "render then show the jobfile without submitting it")
	runCmd.Flags().StringArrayP("param", "p", nil, "jobfile template parameters to set")
}

// waitForBuild polls the build detail until it reaches a terminal state,
// then renders the verdict. A FAILURE or ERROR verdict is returned as an
// error so the process exits non-zero.
func waitForBuild(cmd *cobra.Command, id uint64) error {
	spinner := ui.NewSpinner(fmt.Sprintf("Build %d", id))

	for {
		detail, err := fetchDetail(cmd.Context(), id)
		if err != nil {
			spinner.Fail()
			return err
		}
		spinner.UpdateMessage(fmt.Sprintf("Build %d: %s %s", id, detail.Status, detail.Completion))

		switch detail.Status {
		case "success":
			spinner.Success(fmt.Sprintf("Build %d succeeded (%s)", id, detail.Completion))
			return nil
		case "failure", "error", "canceled":
			spinner.Fail(fmt.Sprintf("Build %d: %s", id, detail.Status))
			return renderFailure(cmd, detail)
		}

		select {
		case <-cmd.Context().Done():
			spinner.Fail()
			return cmd.Context().Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func fetchDetail(ctx context.Context, id uint64) (api.BuildDetail, error) {
	var detail api.BuildDetail
	err := remote.get(ctx, fmt.Sprintf("/v1/build/%d", id), &detail)
	return detail, err
}

func renderFailure(cmd *cobra.Command, detail api.BuildDetail) error {
	if len(detail.FailedAtoms) > 0 {
		cmd.PrintErrln(color.HiRedString("Failed atoms: %v", detail.FailedAtoms))
	}
	if detail.ErrorMessage != nil {
		return fmt.Errorf("build %d: %s", detail.ID, *detail.ErrorMessage)
	}
	return fmt.Errorf("build %d finished with status %s", detail.ID, detail.Status)
}
