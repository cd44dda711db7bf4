package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wsterm/wsterm/cmd"
	"github.com/wsterm/wsterm/pkg/wsterm"
)

func legalMain(command *cobra.Command, arguments []string) error {
	fmt.Println(wsterm.LegalNotice)
	return nil
}

var legalCommand = &cobra.Command{
	Use:   "legal",
	Short: "Show legal information",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(legalMain),
}

func init() {
	legalCommand.Flags().SortFlags = false
}
