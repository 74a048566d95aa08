package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/repo"
)

const diffContextLines = 3

func newDiffCmd() *cobra.Command {
	var nameStatus bool

	cmd := &cobra.Command{
		Use:   "diff [<from>] [<to>]",
		Short: "Show changes between two revisions",
		Long: "With two revisions, diffs from against to. With one, diffs that\n" +
			"commit against its first parent. With none, diffs HEAD against its\n" +
			"first parent.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			from, to, err := diffTrees(r, args)
			if err != nil {
				return err
			}
			changes, err := r.DiffTrees(from, to)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ch := range changes {
				if nameStatus {
					fmt.Fprintf(out, "%s\t%s\n", changeLetter(ch.Kind), ch.Path)
					continue
				}
				if err := writeFileDiff(out, r, ch); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nameStatus, "name-status", false, "show only changed paths with A/M/D")
	return cmd
}

func diffTrees(r *repo.Repo, args []string) (object.Hash, object.Hash, error) {
	if len(args) == 2 {
		from, err := r.CommitTree(args[0])
		if err != nil {
			return "", "", err
		}
		to, err := r.CommitTree(args[1])
		if err != nil {
			return "", "", err
		}
		return from, to, nil
	}

	rev := "HEAD"
	if len(args) == 1 {
		rev = args[0]
	}
	h, err := r.ResolveRef(rev)
	if err != nil {
		return "", "", err
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", "", err
	}
	if len(c.Parents) == 0 {
		return "", c.TreeHash, nil
	}
	parent, err := r.Store.ReadCommit(c.Parents[0])
	if err != nil {
		return "", "", err
	}
	return parent.TreeHash, c.TreeHash, nil
}

func changeLetter(k repo.ChangeKind) string {
	switch k {
	case repo.ChangeAdded:
		return "A"
	case repo.ChangeDeleted:
		return "D"
	default:
		return "M"
	}
}

func writeFileDiff(out io.Writer, r *repo.Repo, ch repo.TreeChange) error {
	fromName, toName := "a/"+ch.Path, "b/"+ch.Path
	var oldData, newData []byte
	if ch.Old != nil {
		b, err := r.Store.ReadBlob(ch.Old.Hash)
		if err != nil {
			return err
		}
		oldData = b.Data
	} else {
		fromName = "/dev/null"
	}
	if ch.New != nil {
		b, err := r.Store.ReadBlob(ch.New.Hash)
		if err != nil {
			return err
		}
		newData = b.Data
	} else {
		toName = "/dev/null"
	}

	fmt.Fprintf(out, "diff --keel a/%s b/%s\n", ch.Path, ch.Path)
	if ch.Old != nil && ch.New != nil && ch.Old.Mode != ch.New.Mode {
		fmt.Fprintf(out, "old mode %s\nnew mode %s\n", ch.Old.Mode, ch.New.Mode)
	}
	if isBinary(oldData) || isBinary(newData) {
		fmt.Fprintf(out, "Binary files %s and %s differ\n", fromName, toName)
		return nil
	}
	if bytes.Equal(oldData, newData) {
		return nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(oldData),
		B:        splitLines(newData),
		FromFile: fromName,
		ToFile:   toName,
		Context:  diffContextLines,
	})
	if err != nil {
		return fmt.Errorf("diff %s: %w", ch.Path, err)
	}
	_, err = io.WriteString(out, text)
	return err
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	lines[len(lines)-1] += "\n"
	return lines
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}
