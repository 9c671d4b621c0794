package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/wheelcast/internal/version"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective settings",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the settings after defaults, file, environment and flags are merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			out, err := s.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addLoopFlags(show.Flags())
	cmd.AddCommand(show)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeLines(cmd.OutOrStdout(), fmt.Sprintf("wheelcast %s", version.String()))
		},
	}
}
