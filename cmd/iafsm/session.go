package main

import (
	"context"
	"os"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent sessions",
	Long:  `Create, list, inspect, and remove sessions held by the configured file or redis store.`,
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <session-id>",
	Short: "Create a session at the initial state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, "starting session", func(rt *cli.Runtime) error {
			return cli.StartSession(cmd.Context(), rt, args[0], os.Stdout)
		})
	},
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all active sessions",
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, "listing sessions", func(rt *cli.Runtime) error {
			return cli.ListSessions(cmd.Context(), rt, os.Stdout)
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state of a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, "inspecting session", func(rt *cli.Runtime) error {
			return cli.InspectSession(cmd.Context(), rt, args[0], os.Stdout)
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, "removing sessions", func(rt *cli.Runtime) error {
			return cli.RemoveSessions(cmd.Context(), rt, args, os.Stdout)
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}

func withRuntime(cmd *cobra.Command, action string, fn func(rt *cli.Runtime) error) {
	rt, err := cli.NewRuntime(cmd.Context(), settings, logger)
	exitOnError("initializing engine", err)
	err = fn(rt)
	_ = rt.Close(context.Background())
	exitOnError(action, err)
}
