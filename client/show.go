package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show BUILD",
	Short: "Shows the detail of one build",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id '%s'", args[0])
		}

		detail, err := fetchDetail(cmd.Context(), id)
		if err != nil {
			return err
		}

		statusColor := color.New(color.FgHiYellow)
		switch detail.Status {
		case "success":
			statusColor = color.New(color.FgHiGreen)
		case "failure", "error":
			statusColor = color.New(color.FgHiRed)
		}

		cmd.Printf("Build:      %d (%s)\n", detail.ID, detail.JobName)
		cmd.Printf("Status:     %s\n", statusColor.Sprint(detail.Status))
		cmd.Printf("Completion: %s\n", detail.Completion)
		cmd.Printf("Created:    %s\n", detail.CreatedAt)
		if detail.CompletedAt != "" {
			cmd.Printf("Completed:  %s\n", detail.CompletedAt)
		}
		if len(detail.FailedAtoms) > 0 {
			cmd.Printf("Failed:     %v\n", detail.FailedAtoms)
		}
		if detail.ErrorMessage != nil {
			cmd.Printf("Error:      %s\n", *detail.ErrorMessage)
		}
		if detail.ArtifactsURL != nil {
			cmd.Printf("Artifacts:  %s\n", *detail.ArtifactsURL)
		}
		return nil
	},
}
