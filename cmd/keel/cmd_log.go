package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/graph"
	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/repo"
)

func newLogCmd() *cobra.Command {
	var (
		oneline     bool
		limit       int
		firstParent bool
	)

	cmd := &cobra.Command{
		Use:   "log [revision]",
		Short: "Show commit history",
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

			entries, err := r.Log(rev, limit, firstParent)
			if err != nil {
				return err
			}
			decorations, err := decorationsFor(r)
			if err != nil {
				return err
			}
			printLog(cmd.OutOrStdout(), entries, decorations, oneline)
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "one line per commit")
	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "limit the number of commits (0 means all)")
	cmd.Flags().BoolVar(&firstParent, "first-parent", false, "follow only the first parent of merges")
	return cmd
}

func printLog(out io.Writer, entries []graph.LogEntry, decorations map[object.Hash]string, oneline bool) {
	for _, entry := range entries {
		h, c := entry.Hash, entry.Commit
		decoration := decorations[h]
		if oneline {
			if decoration != "" {
				fmt.Fprintf(out, "%s %s %s\n", h.Short(), decoration, firstLine(c.Message))
			} else {
				fmt.Fprintf(out, "%s %s\n", h.Short(), firstLine(c.Message))
			}
			continue
		}

		if decoration != "" {
			fmt.Fprintf(out, "commit %s %s\n", h, decoration)
		} else {
			fmt.Fprintf(out, "commit %s\n", h)
		}
		if len(c.Parents) > 1 {
			shorts := make([]string, len(c.Parents))
			for i, p := range c.Parents {
				shorts[i] = p.Short()
			}
			fmt.Fprintf(out, "Merge: %s\n", strings.Join(shorts, " "))
		}
		fmt.Fprintf(out, "Author: %s\n", c.Author)
		fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).UTC().Format("2006-01-02 15:04:05 -0700"))
		fmt.Fprintln(out)
		for _, line := range strings.Split(strings.TrimRight(c.Message, "\n"), "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
		fmt.Fprintln(out)
	}
}

// decorationsFor renders "(HEAD -> main, tag: v1)" labels keyed by commit.
func decorationsFor(r *repo.Repo) (map[object.Hash]string, error) {
	labels := make(map[object.Hash][]string)

	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	branches, err := r.ListBranches()
	if err != nil {
		return nil, err
	}
	if head.Detached() && head.Hash != "" {
		labels[head.Hash] = append(labels[head.Hash], "HEAD")
	}
	for _, b := range branches {
		name := b.Name
		if b.Current {
			name = "HEAD -> " + name
		}
		labels[b.Hash] = append(labels[b.Hash], name)
	}
	tags, err := r.ListTags()
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		labels[t.Hash] = append(labels[t.Hash], "tag: "+t.Name)
	}

	out := make(map[object.Hash]string, len(labels))
	for h, names := range labels {
		out[h] = "(" + strings.Join(names, ", ") + ")"
	}
	return out, nil
}
