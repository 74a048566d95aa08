package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckoutCmd() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "checkout <branch|revision>",
		Short: "Point HEAD at a branch, or detach it at a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			if create {
				head, err := r.ResolveRef("HEAD")
				if err != nil {
					return fmt.Errorf("cannot resolve HEAD: %w", err)
				}
				if err := r.CreateBranch(target, head); err != nil {
					return err
				}
			}
			if err := r.Checkout(target); err != nil {
				return err
			}

			head, err := r.Head()
			if err != nil {
				return err
			}
			if head.Detached() {
				fmt.Fprintf(out, "HEAD is now at %s\n", head.Hash.Short())
			} else {
				fmt.Fprintf(out, "switched to branch '%s'\n", head.Branch())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&create, "branch", "b", false, "create the branch at HEAD first")
	return cmd
}
