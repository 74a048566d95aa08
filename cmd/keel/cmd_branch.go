package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBranchCmd() *cobra.Command {
	var (
		deleteBranch string
		verbose      bool
		remotes      bool
		track        bool
		setUpstream  string
	)

	cmd := &cobra.Command{
		Use:   "branch [name [start]]",
		Short: "List, create, or delete branches",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			switch {
			case deleteBranch != "":
				if err := r.DeleteBranch(deleteBranch); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted branch '%s'\n", deleteBranch)
				return nil

			case remotes:
				list, err := r.ListRemoteBranches()
				if err != nil {
					return err
				}
				for _, ref := range list {
					if verbose {
						fmt.Fprintf(out, "  %s %s\n", ref.Name, ref.Hash.Short())
					} else {
						fmt.Fprintf(out, "  %s\n", ref.Name)
					}
				}
				return nil

			case track:
				if len(args) != 2 {
					return fmt.Errorf("usage: keel branch --track <name> <remote>/<branch>")
				}
				if err := r.CreateTrackingBranch(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(out, "created branch '%s' tracking '%s'\n", args[0], args[1])
				return nil

			case setUpstream != "":
				if len(args) > 1 {
					return fmt.Errorf("usage: keel branch --set-upstream-to <remote>/<branch> [name]")
				}
				var name string
				if len(args) == 1 {
					name = args[0]
				} else {
					name, err = r.CurrentBranch()
					if err != nil {
						return err
					}
					if name == "" {
						return fmt.Errorf("HEAD is detached; name the branch")
					}
				}
				if err := r.SetUpstream(name, setUpstream); err != nil {
					return err
				}
				fmt.Fprintf(out, "branch '%s' now tracks '%s'\n", name, setUpstream)
				return nil

			case len(args) > 0:
				start := "HEAD"
				if len(args) == 2 {
					start = args[1]
				}
				h, err := r.ResolveRef(start)
				if err != nil {
					return fmt.Errorf("cannot resolve %s: %w", start, err)
				}
				if err := r.CreateBranch(args[0], h); err != nil {
					return err
				}
				fmt.Fprintf(out, "created branch '%s' at %s\n", args[0], h.Short())
				return nil
			}

			branches, err := r.ListBranches()
			if err != nil {
				return err
			}
			for _, b := range branches {
				marker := " "
				if b.Current {
					marker = "*"
				}
				if !verbose {
					fmt.Fprintf(out, "%s %s\n", marker, b.Name)
					continue
				}
				if b.Upstream != "" {
					fmt.Fprintf(out, "%s %s %s [%s]\n", marker, b.Name, b.Hash.Short(), b.Upstream)
				} else {
					fmt.Fprintf(out, "%s %s %s\n", marker, b.Name, b.Hash.Short())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&deleteBranch, "delete", "d", "", "delete the named branch")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the tip and upstream of each branch")
	cmd.Flags().BoolVarP(&remotes, "remotes", "r", false, "list remote-tracking branches")
	cmd.Flags().BoolVarP(&track, "track", "t", false, "create <name> from <remote>/<branch> and track it")
	cmd.Flags().StringVarP(&setUpstream, "set-upstream-to", "u", "", "set the upstream of a branch to <remote>/<branch>")
	return cmd
}
