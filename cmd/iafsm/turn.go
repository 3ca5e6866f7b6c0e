package main

import (
	"context"
	"os"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/spf13/cobra"
)

var turnCmd = &cobra.Command{
	Use:   "turn [key=value]...",
	Short: "Process a single turn and print the result as JSON",
	Long: `Processes one turn for a session and prints the TurnResult. Parameters are
given as key=value arguments; values that are valid JSON keep their type.
Use a file or redis session store to carry the session across invocations.`,
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, _ := cmd.Flags().GetString("session")
		intent, _ := cmd.Flags().GetString("intent")
		initial, _ := cmd.Flags().GetBool("initial")

		params, err := cli.ParseParams(args)
		exitOnError("parsing parameters", err)

		ctx := cmd.Context()
		rt, err := cli.NewRuntime(ctx, settings, logger)
		exitOnError("initializing engine", err)
		defer rt.Close(context.Background())

		err = cli.RunTurn(ctx, rt, domain.TurnRequest{
			SessionID:     sessionID,
			Intent:        intent,
			Parameters:    params,
			IsInitialCall: initial,
		}, os.Stdout)
		exitOnError("processing turn", err)
	},
}

func init() {
	rootCmd.AddCommand(turnCmd)
	turnCmd.Flags().StringP("session", "s", "cli", "Session identifier")
	turnCmd.Flags().StringP("intent", "i", "", "Intent recognised this turn")
	turnCmd.Flags().Bool("initial", false, "Mark this as the first turn of the conversation")
}
