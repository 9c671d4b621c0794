package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/wheelcast/internal/db"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema of the run database",
	}
	cmd.PersistentFlags().String("db", "", "run database")

	open := func(cmd *cobra.Command) (*db.DB, error) {
		s, err := opts.loadSettings(cmd)
		if err != nil {
			return nil, err
		}
		if s.DB.Path == "" {
			return nil, errors.New("no run database: pass --db or set db.path")
		}
		return db.Open(s.DB.Path)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := open(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				if err := d.MigrateUp(); err != nil {
					return err
				}
				return printMigrationStatus(cmd, d)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := open(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				if err := d.MigrateDown(); err != nil {
					return err
				}
				return printMigrationStatus(cmd, d)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current and latest schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := open(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				return printMigrationStatus(cmd, d)
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Record a schema version without running migrations (recovers a dirty database)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				d, err := open(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				if err := d.MigrateForce(version); err != nil {
					return err
				}
				return printMigrationStatus(cmd, d)
			},
		},
	)
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, d *db.DB) error {
	st, err := d.MigrationStatus()
	if err != nil {
		return err
	}
	state := "up to date"
	switch {
	case st.Dirty:
		state = "DIRTY, fix the schema and run migrate force"
	case st.Pending():
		state = fmt.Sprintf("%d pending", st.Latest-st.Current)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d of %d (%s)\n", d.Path(), st.Current, st.Latest, state)
	return err
}
