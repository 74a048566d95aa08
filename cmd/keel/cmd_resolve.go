package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/refs"
)

func newResolveCmd() *cobra.Command {
	var (
		puts    []string
		removes []string
		message string
		author  string
		sign    bool
		signKey string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a conflicted merge and record the merge commit",
		Long: "Without --put or --rm, lists the conflicts of the pending merge.\n" +
			"Otherwise every conflicted path must be given new content with --put\n" +
			"or removed with --rm; the merge commit is then recorded.",
		Args: cobra.NoArgs,
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
			if len(puts) == 0 && len(removes) == 0 {
				st, err := r.PendingMerge()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "merging %s into %s\n", st.From, strings.TrimPrefix(st.Branch, refs.HeadsPrefix))
				printConflicts(out, st.MergeConflicts())
				return nil
			}

			files, err := parsePuts(puts)
			if err != nil {
				return err
			}
			resolutions := make(map[string][]byte, len(files))
			for _, f := range files {
				resolutions[f.Path] = f.Data
			}
			h, err := r.ResolveAndCommit(resolutions, normalizePaths(removes), message, author)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "merge committed at %s\n", h.Short())
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&puts, "put", nil, "resolved content for a path: path=file")
	cmd.Flags().StringArrayVar(&removes, "rm", nil, "resolve a path by deleting it")
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message (default: the recorded one)")
	cmd.Flags().StringVar(&author, "author", "", "merge commit author")
	cmd.Flags().BoolVarP(&sign, "sign", "S", false, "sign the merge commit with the default SSH key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "SSH private key used to sign the merge commit")
	return cmd
}
