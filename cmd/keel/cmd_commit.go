package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
	"github.com/odvcencio/keel/pkg/repo"
)

func newCommitCmd() *cobra.Command {
	var (
		branch  string
		message string
		author  string
		puts    []string
		removes []string
		sign    bool
		signKey string
	)

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record a snapshot built from the branch tip plus edits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("commit message is required (-m)")
			}
			opts, err := signingOptions(sign, signKey)
			if err != nil {
				return err
			}
			r, done, err := openRepo(cmd, opts...)
			if err != nil {
				return err
			}
			defer done()

			files, err := parsePuts(puts)
			if err != nil {
				return err
			}
			base, err := tipTree(r, branch)
			if err != nil {
				return err
			}
			tree, err := r.UpdateTree(base, files, normalizePaths(removes))
			if err != nil {
				return err
			}
			h, err := r.Commit(branch, tree, message, author)
			if err != nil {
				return err
			}

			label := branch
			if label == "" {
				label, _ = r.CurrentBranch()
			}
			if label == "" {
				label = "detached HEAD"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", label, h.Short(), firstLine(message))
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "branch to commit on (default: HEAD)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "commit author (default: $"+repo.AuthorEnv+" or [user] config)")
	cmd.Flags().StringArrayVar(&puts, "put", nil, "add or replace a file: path=file")
	cmd.Flags().StringArrayVar(&removes, "rm", nil, "remove a path")
	cmd.Flags().BoolVarP(&sign, "sign", "S", false, "sign the commit with the default SSH key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "SSH private key used to sign the commit")
	return cmd
}

// tipTree returns the tree at the tip of branch (HEAD when empty), or ""
// when the branch has no commits yet.
func tipTree(r *repo.Repo, branch string) (object.Hash, error) {
	rev := "HEAD"
	if branch != "" {
		rev = refs.HeadsPrefix + branch
	}
	tree, err := r.CommitTree(rev)
	if errors.Is(err, repo.ErrRefNotFound) {
		return "", nil
	}
	return tree, err
}
