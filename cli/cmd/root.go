package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	contextName    string
	debugOutput    bool
	noStatusOutput bool
)

var rootCmd = newRootCommand()

const (
	groupUtility    = "utility"
	groupUserFacing = "user"
)

func Execute() error {
	return rootCmd.Execute()
}

func NewRootCommand() *cobra.Command {
	return newRootCommand()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gcdr-sync",
		Short: "Sync customer hierarchies from the source platform into GCDR",
		Long: `gcdr-sync reconciles one customer tree (customer, assets, devices) from the
source IoT platform into the GCDR registry.

Use the CLI to:
  - preview what a sync would do before touching the registry
  - run a sync and write resolved GCDR IDs back to the source platform
  - review past runs and switch between environment contexts`,
		Example: `  # Preview the plan for one customer without writing anything
  gcdr-sync sync plan --customer 3f2a...

  # Reconcile the customer tree into GCDR
  gcdr-sync sync run --customer 3f2a...

  # Inspect and switch contexts first
  gcdr-sync config list
  gcdr-sync config use staging`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetHelpCommandGroupID(groupUtility)
	cmd.SetCompletionCommandGroupID(groupUtility)

	configureUsage(cmd)

	cmd.PersistentFlags().StringVar(&contextName, "context", "", "Context to use instead of the catalog's current-ctx")
	cmd.PersistentFlags().BoolVar(&debugOutput, "debug", false, "Print HTTP request traces to stderr")
	cmd.PersistentFlags().BoolVar(&noStatusOutput, "no-status", false, "Suppress status messages and print only command output")

	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		if err == nil {
			return nil
		}
		return usageError(cmd, err.Error())
	})

	cmd.AddGroup(&cobra.Group{ID: groupUserFacing, Title: "Commands:"})
	cmd.AddGroup(&cobra.Group{ID: groupUtility, Title: "Utility Commands:"})

	cmd.AddCommand(newSyncCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}
