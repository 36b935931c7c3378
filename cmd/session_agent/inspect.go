package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/cv-session-engine/internal/observability"
	"github.com/jonathan/cv-session-engine/internal/store"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the persisted state of a session",
	Long:  "Loads a session document from the database and prints its status, progress, and per-step detail.",
	RunE:  runInspect,
}

var (
	inspectSessionID   string
	inspectDatabaseURL string
)

func init() {
	inspectCmd.Flags().StringVarP(&inspectSessionID, "session-id", "s", "", "Session ID (required)")
	inspectCmd.Flags().StringVar(&inspectDatabaseURL, "db-url", "", "Database URL")

	if err := inspectCmd.MarkFlagRequired("session-id"); err != nil {
		panic(fmt.Sprintf("failed to mark session-id flag as required: %v", err))
	}

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(_ *cobra.Command, _ []string) error {
	sessionID, err := uuid.Parse(inspectSessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", inspectSessionID, err)
	}

	ctx := context.Background()

	if inspectDatabaseURL == "" {
		inspectDatabaseURL = os.Getenv("DATABASE_URL")
	}
	if inspectDatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set (set DATABASE_URL environment variable or use --db-url flag)")
	}

	pg, err := store.ConnectPostgres(ctx, inspectDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	state, err := pg.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintSessionSummary(state)
	printer.PrintStepProgress(state)
	return nil
}
