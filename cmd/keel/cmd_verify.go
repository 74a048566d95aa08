package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [revision]",
		Short: "Check a commit's SSH signature",
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

			h, err := r.ResolveRef(rev)
			if err != nil {
				return err
			}
			info, err := r.VerifyCommit(h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "good %s signature on %s, key %s\n", info.Format, h.Short(), info.Fingerprint)
			return nil
		},
	}
}
