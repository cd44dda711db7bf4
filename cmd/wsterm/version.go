package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wsterm/wsterm/cmd"
	"github.com/wsterm/wsterm/pkg/wsterm"
)

func versionMain(command *cobra.Command, arguments []string) error {
	fmt.Println(wsterm.Version)
	return nil
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(versionMain),
}

func init() {
	versionCommand.Flags().SortFlags = false
}
