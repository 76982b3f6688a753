package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the Clinicore admin CLI. Subcommands
// (tenant lifecycle, bootstrap helpers) are attached here.
var rootCmd = &cobra.Command{
	Use:           "clinicore",
	Short:         "Clinicore admin CLI",
	Long:          "Administrative utilities for Clinicore (tenant registration, provisioning, integrity checks and repair).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
