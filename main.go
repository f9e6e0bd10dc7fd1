package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "grant-intake"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "grantintake",
	Short: "Grant application intake service",
	Long: `grantintake validates grant applications per round and submits them,
with an optional attachment, to the CRM.

Run "grantintake serve" to start the HTTP API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file (default ./.env if present)")
	rootCmd.AddCommand(serveCmd, roundsCmd, attemptsCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
