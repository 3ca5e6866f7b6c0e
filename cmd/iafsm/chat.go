package main

import (
	"context"
	"os"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/egorky/iafsm/internal/presentation/tui"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to a flow interactively",
	Long: `Starts an interactive conversation. Each line is "[intent] [key=value ...]"
or a JSON TurnRequest; "quit" ends the chat. Output is rendered as markdown
when stdout is a terminal.`,
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, _ := cmd.Flags().GetString("session")
		resume, _ := cmd.Flags().GetBool("resume")
		jsonMode, _ := cmd.Flags().GetBool("json")
		if sessionID == "" {
			sessionID = "chat-" + xid.New().String()
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		rt, err := cli.NewRuntime(ctx, settings, logger)
		exitOnError("initializing engine", err)
		defer rt.Close(context.Background())

		opts := cli.ChatOptions{SessionID: sessionID, Resume: resume, JSON: jsonMode}
		if !jsonMode && term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(os.Stdout)
			opts.Render = tui.NewRenderer()
		}

		err = cli.RunChat(ctx, rt.Engine, os.Stdin, os.Stdout, opts)
		exitOnError("running chat", cli.HandleExecutionError(err))
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("session", "s", "", "Session identifier (a new one by default)")
	chatCmd.Flags().Bool("resume", false, "Continue an existing session without the initial call")
	chatCmd.Flags().Bool("json", false, "Print one TurnResult per line instead of the chat view")
}
