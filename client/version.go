package main

import (
	"github.com/hiveci/hive/api"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Shows client and server versions",

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("client: %s (%s)\n", version, commit)

		var server api.VersionResponse
		if err := remote.get(cmd.Context(), "/v1/version", &server); err != nil {
			return err
		}
		cmd.Printf("server: %s (%s)\n", server.Version, server.Commit)
		return nil
	},
}
