package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <revision>[:<path>]",
		Short: "Show a commit, or a file's content at a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, path, hasPath := strings.Cut(args[0], ":")
			if rev == "" {
				rev = "HEAD"
			}

			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			if hasPath {
				tree, err := r.CommitTree(rev)
				if err != nil {
					return err
				}
				data, err := r.ReadFileAt(tree, path)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			h, err := r.ResolveRef(rev)
			if err != nil {
				return err
			}
			c, err := r.Store.ReadCommit(h)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "commit %s\n", h)
			fmt.Fprintf(out, "tree %s\n", c.TreeHash)
			for _, p := range c.Parents {
				fmt.Fprintf(out, "parent %s\n", p)
			}
			fmt.Fprintf(out, "Author: %s\n", c.Author)
			fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).UTC().Format("2006-01-02 15:04:05 -0700"))
			if c.Signature != "" {
				fmt.Fprintln(out, "Signed: yes")
			}
			fmt.Fprintln(out)
			for _, line := range strings.Split(strings.TrimRight(c.Message, "\n"), "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
			return nil
		},
	}
}
