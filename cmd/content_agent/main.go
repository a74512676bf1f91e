// Package main provides the entry point for the Content Factory server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "content_agent",
	Short: "Content Factory run orchestration server",
	Long:  "Content Factory drives agent-backed content production runs through a fixed six-stage pipeline (discovery, synthesis, draft, adapt, style, audit) via REST API or CLI.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
