// Package versioncmder provides the version command.
package versioncmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/attend/pkg/utils"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the attend version",
		Long:  "Print the version, commit and build time of this attend binary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "attend %s\ncommit: %s\nbuilt:  %s\n", utils.Version, utils.Sha, utils.Buildtime)
			return nil
		},
	}
}
