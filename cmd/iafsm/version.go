package main

import (
	"fmt"
	"strings"

	"github.com/egorky/iafsm"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of iafsm",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("iafsm version %s\n", strings.TrimSpace(iafsm.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
