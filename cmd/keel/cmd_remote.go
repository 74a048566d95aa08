package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoteCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage named remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRemotes(cmd, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show remote URLs")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()
			return r.AddRemote(args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a remote and its tracking refs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()
			return r.RemoveRemote(args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List remotes with their URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRemotes(cmd, true)
		},
	})
	return cmd
}

func listRemotes(cmd *cobra.Command, verbose bool) error {
	r, done, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer done()

	remotes, err := r.Remotes()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, rm := range remotes {
		if verbose {
			fmt.Fprintf(out, "%s\t%s\n", rm.Name, rm.URL)
		} else {
			fmt.Fprintln(out, rm.Name)
		}
	}
	return nil
}
