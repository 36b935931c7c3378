package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/analysis"
	"github.com/jonathan/cv-session-engine/internal/config"
	"github.com/jonathan/cv-session-engine/internal/observability"
	"github.com/jonathan/cv-session-engine/internal/presence"
	"github.com/jonathan/cv-session-engine/internal/queue"
	"github.com/jonathan/cv-session-engine/internal/schemas"
	"github.com/jonathan/cv-session-engine/internal/server"
	"github.com/jonathan/cv-session-engine/internal/session"
	"github.com/jonathan/cv-session-engine/internal/store"
	"github.com/jonathan/cv-session-engine/internal/syncengine"
	"github.com/jonathan/cv-session-engine/internal/types"
)

var (
	serveConfigPath string
	servePort       int
	serveDBURL      string
	serveRedisAddr  string
	serveStrategy   string
	serveWorkers    int
	serveVerbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for session state, step progress, sync, presence, and background processing.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a JSON config file")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDBURL, "db-url", "", "PostgreSQL URL (falls back to in-memory persistence)")
	serveCmd.Flags().StringVar(&serveRedisAddr, "redis-addr", "", "Redis host:port (falls back to in-memory presence)")
	serveCmd.Flags().StringVar(&serveStrategy, "strategy", "", "Conflict resolution strategy (local_wins, remote_wins, merge, user_choice)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Processing queue worker count")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

// resolveConfig layers flags over a config file over environment variables
// over built-in defaults.
func resolveConfig() (config.Config, error) {
	cfg := config.FromEnv()

	if serveConfigPath != "" {
		fileCfg, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = fileCfg.MergeWithDefaults(cfg)
	}

	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveDBURL != "" {
		cfg.DatabaseURL = serveDBURL
	}
	if serveRedisAddr != "" {
		cfg.RedisAddr = serveRedisAddr
	}
	if serveStrategy != "" {
		cfg.ConflictStrategy = serveStrategy
	}
	if serveWorkers != 0 {
		cfg.Workers = serveWorkers
	}
	cfg.Verbose = cfg.Verbose || serveVerbose

	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: PostgreSQL when configured, in-memory otherwise.
	var persist store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		persist = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory persistence")
		persist = store.NewMemoryStore()
	}

	ttl := time.Duration(cfg.PresenceTTLSec) * time.Second
	var tracker presence.Tracker
	if cfg.RedisAddr != "" {
		rt, err := presence.NewRedisTracker(ctx, cfg.RedisAddr, ttl)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = rt.Close() }()
		tracker = rt
	} else {
		tracker = presence.NewMemoryTracker(ttl)
	}

	validator, err := schemas.NewStateValidator(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("failed to load session schema: %w", err)
	}

	engine := syncengine.New(persist, tracker, types.ResolutionStrategy(cfg.ConflictStrategy), logger)

	// The queue's terminal callback routes through the manager, which does not
	// exist yet when the queue is built.
	var manager *session.Manager
	jobs := queue.New(queue.Options{
		BackoffBase: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		OnTerminal: func(job types.ProcessingJob, cause error) {
			manager.HandleJobTerminal(job, cause)
		},
		Logger: logger,
	})

	manager = session.NewManager(session.Options{
		Persistence:      persist,
		SyncEngine:       engine,
		Jobs:             jobs,
		ValidateDocument: validator.Validate,
		Logger:           logger,
	})
	defer manager.Close()

	if cfg.APIKey != "" {
		gen, err := analysis.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return fmt.Errorf("failed to create model client: %w", err)
		}
		defer func() { _ = gen.Close() }()

		runner := queue.NewRunner(jobs, analysis.NewExecutor(gen, logger), cfg.Workers, logger)
		go func() {
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("queue runner stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("GEMINI_API_KEY not set, analysis jobs will stay queued")
	}

	srv, err := server.New(server.Config{
		Port:     cfg.Port,
		Manager:  manager,
		Jobs:     jobs,
		Presence: tracker,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
