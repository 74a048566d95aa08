package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/object"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Move history between repositories as a single file",
	}
	cmd.AddCommand(newBundleCreateCmd())
	cmd.AddCommand(newBundleFetchCmd())
	return cmd
}

func newBundleCreateCmd() *cobra.Command {
	var haves []string

	cmd := &cobra.Command{
		Use:   "create <file> [ref...]",
		Short: "Write refs (default: all branches) and their history to a bundle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			exclude := make([]object.Hash, 0, len(haves))
			for _, rev := range haves {
				h, err := r.ResolveRef(rev)
				if err != nil {
					return fmt.Errorf("--have %s: %w", rev, err)
				}
				exclude = append(exclude, h)
			}

			path := args[0]
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create bundle: %w", err)
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					_ = os.Remove(path)
				}
			}()

			m, err := r.ExportBundle(f, args[1:], exclude)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d ref(s), %d object(s)\n", path, len(m.Refs), m.Objects)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&haves, "have", nil, "leave out history reachable from this revision")
	return cmd
}

func newBundleFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <remote> [file]",
		Short: "Import a bundle as refs/remotes/<remote>/*",
		Long:  "Without a file, reads the bundle at the remote's configured URL.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			remote := args[0]
			path := ""
			if len(args) == 2 {
				path = args[1]
			} else {
				path, err = r.RemoteURL(remote)
				if err != nil {
					return err
				}
				path = strings.TrimPrefix(path, "file://")
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", remote, err)
			}
			defer f.Close()

			updated, err := r.FetchBundle(remote, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ref := range updated {
				fmt.Fprintf(out, "  %s -> %s\n", ref.Hash.Short(), ref.Name)
			}
			return nil
		},
	}
}
