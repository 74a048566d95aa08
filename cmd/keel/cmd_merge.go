package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/merge"
	"github.com/odvcencio/keel/pkg/refs"
	"github.com/odvcencio/keel/pkg/repo"
)

func newMergeCmd() *cobra.Command {
	var (
		into    string
		message string
		author  string
		abort   bool
		sign    bool
		signKey string
	)

	cmd := &cobra.Command{
		Use:   "merge [revision]",
		Short: "Merge a revision, or the branch's upstream, into the current branch",
		Args: func(cmd *cobra.Command, args []string) error {
			if abort {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MaximumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := signingOptions(sign, signKey)
			if err != nil {
				return err
			}
			r, done, err := openRepo(cmd, opts...)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			if abort {
				if err := r.AbortMerge(); err != nil {
					return err
				}
				fmt.Fprintln(out, "merge aborted")
				return nil
			}

			var mopts []repo.MergeOption
			if message != "" {
				mopts = append(mopts, repo.WithMergeMessage(message))
			}
			if author != "" {
				mopts = append(mopts, repo.WithMergeAuthor(author))
			}
			if len(args) == 0 {
				up, err := r.Upstream(into)
				if err != nil {
					return err
				}
				res, err := r.MergeUpstream(into, mopts...)
				if err != nil {
					return err
				}
				printMergeResult(out, up.String(), res)
				return nil
			}
			res, err := r.Merge(into, args[0], mopts...)
			if err != nil {
				return err
			}
			printMergeResult(out, args[0], res)
			return nil
		},
	}

	cmd.Flags().StringVar(&into, "into", "", "branch to merge into (default: current branch)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	cmd.Flags().StringVar(&author, "author", "", "merge commit author")
	cmd.Flags().BoolVar(&abort, "abort", false, "abandon a conflicted merge")
	cmd.Flags().BoolVarP(&sign, "sign", "S", false, "sign the merge commit with the default SSH key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "SSH private key used to sign the merge commit")
	return cmd
}

func printMergeResult(out io.Writer, from string, res *repo.MergeResult) {
	branch := strings.TrimPrefix(res.Branch, refs.HeadsPrefix)
	switch res.Status {
	case merge.StatusUpToDate:
		fmt.Fprintln(out, "already up to date")
	case merge.StatusFastForward:
		fmt.Fprintf(out, "fast-forward %s to %s\n", branch, res.Commit.Short())
	case merge.StatusClean:
		fmt.Fprintf(out, "merged %s into %s at %s (base %s)\n", from, branch, res.Commit.Short(), res.Base.Short())
	case merge.StatusConflicted:
		printConflicts(out, res.Conflicts)
		fmt.Fprintf(out, "merge of %s into %s stopped with %d conflict", from, branch, len(res.Conflicts))
		if len(res.Conflicts) != 1 {
			fmt.Fprint(out, "s")
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "resolve with keel resolve, or abandon with keel merge --abort")
	}
}

func printConflicts(out io.Writer, conflicts []merge.Conflict) {
	for _, c := range conflicts {
		fmt.Fprintf(out, "  CONFLICT (%s): %s\n", c.Kind(), c.Path)
	}
}
