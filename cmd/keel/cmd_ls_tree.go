package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLsTreeCmd() *cobra.Command {
	var nameOnly bool

	cmd := &cobra.Command{
		Use:   "ls-tree [revision]",
		Short: "List the files in a revision's tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := "HEAD"
			if len(args) == 1 {
				rev = args[0]
			}

			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			tree, err := r.CommitTree(rev)
			if err != nil {
				return err
			}
			files, err := r.TreeEntries(tree)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range files {
				if nameOnly {
					fmt.Fprintln(out, f.Path)
				} else {
					fmt.Fprintf(out, "%s %s\t%s\n", f.Mode, f.Hash, f.Path)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nameOnly, "name-only", false, "list paths only")
	return cmd
}
