package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/spf13/cobra"
)

var respondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Publish an async API result on a response channel",
	Long: `Publishes a response message on a Redis stream, as the worker serving an async
call would. Useful to answer pending calls by hand while developing a flow.`,
	Run: func(cmd *cobra.Command, args []string) {
		f := cmd.Flags()
		opts := cli.RespondOptions{}
		opts.Channel, _ = f.GetString("channel")
		opts.CorrelationID, _ = f.GetString("correlation-id")
		opts.SessionID, _ = f.GetString("session")
		opts.APIID, _ = f.GetString("api")
		opts.MaxLen, _ = f.GetInt64("max-len")
		status, _ := f.GetString("status")
		opts.Result.Status = domain.CallStatus(status)
		opts.Result.HTTPCode, _ = f.GetInt("http-code")
		opts.Result.ErrorMessage, _ = f.GetString("error")

		if data, _ := f.GetString("data"); data != "" {
			exitOnError("parsing --data", json.Unmarshal([]byte(data), &opts.Result.Data))
		}

		ctx := cmd.Context()
		rt, err := cli.NewRuntime(ctx, settings, logger)
		exitOnError("initializing engine", err)
		defer rt.Close(context.Background())

		exitOnError("publishing response", cli.RunRespond(ctx, rt, opts, os.Stdout))
	},
}

func init() {
	rootCmd.AddCommand(respondCmd)
	f := respondCmd.Flags()
	f.String("channel", "", "Response channel (stream key)")
	f.String("correlation-id", "", "Correlation id of the pending call")
	f.String("session", "", "Session the call belongs to")
	f.String("api", "", "API definition id")
	f.String("status", string(domain.CallSuccess), "Result status")
	f.Int("http-code", 200, "HTTP status code of the call")
	f.String("data", "", "Result data as JSON")
	f.String("error", "", "Error message")
	f.Int64("max-len", 0, "Approximate stream length cap (0 keeps everything)")
	_ = respondCmd.MarkFlagRequired("channel")
	_ = respondCmd.MarkFlagRequired("correlation-id")
}
