package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/cv-session-engine/internal/navigation"
	"github.com/jonathan/cv-session-engine/internal/observability"
	"github.com/jonathan/cv-session-engine/internal/store"
)

var resumeAdviceCmd = &cobra.Command{
	Use:   "resume-advice",
	Short: "Recommend where a returning user should pick up",
	Long:  "Loads a session document from the database and prints the recommended resume point with its rationale.",
	RunE:  runResumeAdvice,
}

var (
	adviceSessionID   string
	adviceDatabaseURL string
)

func init() {
	resumeAdviceCmd.Flags().StringVarP(&adviceSessionID, "session-id", "s", "", "Session ID (required)")
	resumeAdviceCmd.Flags().StringVar(&adviceDatabaseURL, "db-url", "", "Database URL")

	if err := resumeAdviceCmd.MarkFlagRequired("session-id"); err != nil {
		panic(fmt.Sprintf("failed to mark session-id flag as required: %v", err))
	}

	rootCmd.AddCommand(resumeAdviceCmd)
}

func runResumeAdvice(_ *cobra.Command, _ []string) error {
	sessionID, err := uuid.Parse(adviceSessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", adviceSessionID, err)
	}

	ctx := context.Background()

	if adviceDatabaseURL == "" {
		adviceDatabaseURL = os.Getenv("DATABASE_URL")
	}
	if adviceDatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set (set DATABASE_URL environment variable or use --db-url flag)")
	}

	pg, err := store.ConnectPostgres(ctx, adviceDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	state, err := pg.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	rec := navigation.RecommendResume(state)
	printer := observability.NewPrinter(os.Stdout)
	printer.PrintResumeRecommendation(&rec)
	return nil
}
