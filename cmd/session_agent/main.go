// Package main provides the entry point for the CV Session Engine CLI and server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "session_agent",
	Short: "CV Session Engine",
	Long:  "CV Session Engine tracks resume-builder sessions: step progress, feature state, background processing, and cross-device sync, served over a REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
