package cmd

import (
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func confirm(cmd *cobra.Command, message string) (bool, error) {
	value := false
	field := huh.NewConfirm().
		Title(message).
		Value(&value)
	form := huh.NewForm(huh.NewGroup(field)).
		WithShowHelp(false).
		WithInput(cmd.InOrStdin()).
		WithOutput(cmd.OutOrStdout())
	if err := form.Run(); err != nil {
		return false, err
	}
	return value, nil
}
