package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReflogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reflog [ref]",
		Short: "Show the movements of a ref (default HEAD)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "HEAD"
			if len(args) == 1 {
				name = args[0]
			}

			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			entries, err := r.Reflog(name, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, e := range entries {
				fmt.Fprintf(out, "%s %s@{%d}: %s\n", e.NewHash.Short(), name, i, e.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "limit the number of entries (0 means all)")
	return cmd
}
