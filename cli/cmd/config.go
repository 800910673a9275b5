package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gh-myio/gcdr-sync/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: groupUserFacing,
		Short:   "Manage sync contexts",
		Long: `Inspect and switch between the contexts defined in the contexts file. A
context pairs one source platform with one GCDR registry, so you can move
between environments (dev, staging, production) without editing flags.`,
		Example: `  # List all contexts and mark the current one
  gcdr-sync config list

  # Switch the current context
  gcdr-sync config use staging

  # Show which file the contexts are read from
  gcdr-sync config path`,
	}

	cmd.AddCommand(newConfigListCommand())
	cmd.AddCommand(newConfigUseCommand())
	cmd.AddCommand(newConfigPathCommand())

	return cmd
}

func newConfigListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the defined contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CatalogPath()
			if err != nil {
				return err
			}
			catalog, err := config.Load(path)
			if err != nil {
				return err
			}
			if len(catalog.Contexts) == 0 {
				infof(cmd, "no contexts defined in %s", path)
				return nil
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "CURRENT\tNAME\tSOURCE\tGCDR")
			for _, context := range catalog.Contexts {
				marker := ""
				if context.Name == catalog.CurrentCtx {
					marker = "*"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", marker, context.Name, context.Source.BaseURL, context.GCDR.BaseURL)
			}
			return writer.Flush()
		},
	}
}

func newConfigUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CatalogPath()
			if err != nil {
				return err
			}
			catalog, err := config.Load(path)
			if err != nil {
				return err
			}
			if _, err := catalog.Resolve(args[0]); err != nil {
				return err
			}

			catalog.CurrentCtx = args[0]
			if err := config.Save(path, catalog); err != nil {
				return err
			}
			successf(cmd, "switched to context %q", args[0])
			return nil
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the location of the contexts file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CatalogPath()
			if err != nil {
				return err
			}
			infof(cmd, "%s", path)
			return nil
		},
	}
}
