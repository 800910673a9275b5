package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

// Root commands are grouped (sync/config vs. utility); leaf parents like
// `sync` list their subcommands flat. Examples render last so the closing
// lines of --help are copy-pasteable.
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .LocalNonPersistentFlags.HasAvailableFlags}}

Flags:
{{.LocalNonPersistentFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if persistentFlagUsages .}}

Global Flags:
{{persistentFlagUsages . | trimTrailingWhitespaces}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

func configureUsage(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	cobra.AddTemplateFunc("persistentFlagUsages", persistentFlagUsages)

	cmd.SetUsageTemplate(usageTemplate)
	if cmd.PersistentFlags().Lookup("help") == nil {
		cmd.PersistentFlags().BoolP("help", "h", false, "help for this command")
		_ = cmd.PersistentFlags().SetAnnotation("help", cobra.FlagSetByCobraAnnotation, []string{"true"})
	}
}

// persistentFlagUsages renders the command's own persistent flags followed by
// the ones inherited from its ancestors (--context, --debug, --no-status on
// every subcommand). Empty when the command has neither.
func persistentFlagUsages(cmd *cobra.Command) string {
	if cmd == nil {
		return ""
	}
	var sections []string
	for _, flags := range []interface{ FlagUsages() string }{cmd.PersistentFlags(), cmd.InheritedFlags()} {
		if usage := strings.TrimRight(flags.FlagUsages(), "\n"); usage != "" {
			sections = append(sections, usage)
		}
	}
	return strings.Join(sections, "\n")
}
