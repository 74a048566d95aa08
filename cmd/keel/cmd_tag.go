package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTagCmd() *cobra.Command {
	var deleteTag string
	var force bool

	cmd := &cobra.Command{
		Use:   "tag [name [revision]]",
		Short: "List, create, or delete tags",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			if deleteTag != "" {
				if err := r.DeleteTag(deleteTag); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted tag '%s'\n", deleteTag)
				return nil
			}

			if len(args) > 0 {
				rev := "HEAD"
				if len(args) == 2 {
					rev = args[1]
				}
				h, err := r.ResolveRef(rev)
				if err != nil {
					return fmt.Errorf("cannot resolve %s: %w", rev, err)
				}
				return r.CreateTag(args[0], h, force)
			}

			tags, err := r.ListTags()
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Fprintln(out, t.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&deleteTag, "delete", "d", "", "delete the named tag")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing tag")
	return cmd
}
