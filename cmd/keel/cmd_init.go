package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/repo"
)

func newInitCmd() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			logger, closeLog, err := newLogger(cmd, "", nil)
			if err != nil {
				return err
			}
			defer closeLog()

			r, err := repo.Init(path, repo.WithLogger(logger), repo.WithDefaultBranch(branch))
			if err != nil {
				return err
			}
			defer r.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty keel repository in %s\n", r.Dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "name of the initial branch")
	return cmd
}
