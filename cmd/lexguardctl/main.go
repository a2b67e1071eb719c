// Command lexguardctl inspects lexguard policy and state from the shell:
// which roles reach a path, what a bundle grants, how full a rate window
// is, and seeding accounts in the Postgres user store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lexguardctl",
		Short:         "Inspect lexguard access policy and rate-limit state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("policy", os.Getenv("LEXGUARD_POLICY_FILE"), "policy YAML file (default: built-in portal policy)")

	root.AddCommand(
		newCanCmd(),
		newRouteCmd(),
		newBundlesCmd(),
		newWindowCmd(),
		newHashCmd(),
		newUserCmd(),
	)
	return root
}
