package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cxoneflow",
	Short: "cxoneflow bridges SCM webhooks to scan orchestration",
	Long: `cxoneflow receives SCM webhooks (GitHub, GitLab, Bitbucket Data
Center, Azure DevOps Enterprise), dispatches static-analysis scans, polls
for completion, and delivers PR decoration and SARIF feedback.

Subcommands:
  serve               run the HTTP webhook listener and poll loop
  bootstrap-topology  declare the AMQP exchanges/queues/bindings once
  resolver-agent      run a tagged delegated-scan resolver agent
  kickoff             trigger an on-demand scan against a running server`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "required environment variable %s is not set\n", key)
		os.Exit(1)
	}
	return v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
