package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/spf13/cobra"
)

var (
	settings cli.Settings
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "iafsm",
	Short: "iafsm orchestrates the actions of conversational state machines",
	Long: `iafsm drives conversation sessions through a state machine: each turn resolves
the next state, runs its API calls and scripts in dependency order, correlates
asynchronous responses and renders the state's payload.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := cli.NewViper(cmd)
		if err != nil {
			return err
		}
		if settings, err = cli.LoadSettings(v); err != nil {
			return err
		}
		logger, err = cli.NewLogger(settings.Log)
		return err
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cli.AddPersistentFlags(rootCmd)
}

// exitOnError prints err and exits, the way every command reports failures.
func exitOnError(action string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", action, err)
	os.Exit(1)
}
