package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wsterm/wsterm/cmd"
	"github.com/wsterm/wsterm/pkg/wsterm"
)

func rootMain(command *cobra.Command, arguments []string) {
	// Print version information, if requested.
	if rootConfiguration.version {
		fmt.Println(wsterm.Version)
		return
	}

	// Print legal information, if requested.
	if rootConfiguration.legal {
		fmt.Print(wsterm.LegalNotice)
		return
	}

	// Generate bash completion script, if requested.
	if rootConfiguration.bashCompletionScript != "" {
		if err := command.GenBashCompletionFile(rootConfiguration.bashCompletionScript); err != nil {
			cmd.Fatal(errors.Wrap(err, "unable to generate bash completion script"))
		}
		return
	}

	// No flags and no subcommand: show help.
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "wsterm",
	Short: "wsterm provides a remote interactive shell with live workspace synchronization over a single WebSocket connection.",
	Run:   rootMain,
}

var rootConfiguration struct {
	help                 bool
	version              bool
	legal                bool
	bashCompletionScript string
}

func init() {
	// Relaunching under winpty would corrupt the output Cobra's shell
	// completion machinery expects on its own stdout.
	if !cmd.PerformingShellCompletion {
		cmd.HandleTerminalCompatibility()
	}

	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")
	flags.BoolVarP(&rootConfiguration.legal, "legal", "l", false, "Show legal information")
	flags.StringVar(&rootConfiguration.bashCompletionScript, "generate-bash-completion", "", "Generate bash completion script")
	flags.MarkHidden("generate-bash-completion")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(
		serveCommand,
		connectCommand,
		versionCommand,
		legalCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
