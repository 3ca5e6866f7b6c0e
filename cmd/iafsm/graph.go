package main

import (
	"context"
	"os"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph [key=value]...",
	Short: "Export the flow as a Mermaid diagram",
	Long: `Prints the state machine as a Mermaid flowchart. With --session the visited
and current states of a stored session are highlighted. With --plan the action
dependency graph of entering that state is printed instead; key=value arguments
name the parameters assumed present.`,
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, _ := cmd.Flags().GetString("session")
		planState, _ := cmd.Flags().GetString("plan")

		params, err := cli.ParseParams(args)
		exitOnError("parsing parameters", err)

		ctx := cmd.Context()
		rt, err := cli.NewRuntime(ctx, settings, logger)
		exitOnError("initializing engine", err)
		defer rt.Close(context.Background())

		err = cli.RunGraph(ctx, rt, cli.GraphOptions{SessionID: sessionID, PlanState: planState, Params: params}, logger, os.Stdout)
		exitOnError("generating graph", err)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Highlight the path of a stored session")
	graphCmd.Flags().String("plan", "", "Draw the action plan of entering this state")
}
