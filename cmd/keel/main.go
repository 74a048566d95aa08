package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "keel",
		Short:         "Content-addressed version control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (env "+logLevelEnv+")")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newCommitCmd())
	root.AddCommand(newBranchCmd())
	root.AddCommand(newCheckoutCmd())
	root.AddCommand(newMergeCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newLogCmd())
	root.AddCommand(newLsTreeCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newTagCmd())
	root.AddCommand(newReflogCmd())
	root.AddCommand(newRemoteCmd())
	root.AddCommand(newBundleCmd())
	root.AddCommand(newVerifyCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keel %s\n", version)
		},
	}
}
