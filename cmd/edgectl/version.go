package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"edgepolicy/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the edgectl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get("edgectl", "")
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "edgectl %s (%s)\n", info.Version, info.GoVersion)
			return err
		},
	}
}
