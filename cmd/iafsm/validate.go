package main

import (
	"fmt"
	"os"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check the configuration for consistency",
	Long: `Loads states and API definitions and reports broken references, unreachable
states and duplicated producers. With --strict, warnings fail the check too.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := settings.Dir
		if !cmd.Flags().Changed("dir") && len(args) > 0 {
			dir = args[0]
		}
		if err := cli.RunValidate(dir, settings.Engine.Strict, logger, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
