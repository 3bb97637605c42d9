/*
main.go - Application entry point

PURPOSE:
  Command line for the incentive engine: the HTTP server with its batch
  scheduler, plus one-shot commands for operators.

COMMANDS:
  serve    Start the HTTP API and the batch scheduler
  run      Run the due-profile batch once and print the summary
  report   Print the live ranked report
  seed     Reset the database and load a demo scenario

CONFIGURATION:
  Read from the environment and an optional .env file (see config/env.go).
  --env-file  Alternate .env path
  --db        Overrides DB_PATH. Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight run finishes)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  incentive-engine serve
  incentive-engine run --as-of 2026-03-08T00:00:00Z
  incentive-engine report --sort-by achieved_percentage --per-page 50
  DB_PATH=demo.db incentive-engine seed agency

SEE ALSO:
  - api/server.go: Router configuration
  - incentive/batch.go: Batch processor
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/internal/logging"
	"github.com/warp/incentive-engine/internal/metrics"
	"github.com/warp/incentive-engine/store/sqlite"
)

const (
	envFileFlagName = "env-file"
	dbFlagName      = "db"
)

var rootCmd = &cobra.Command{
	Use:           "incentive-engine",
	Short:         "Sales incentive period and bonus calculator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(envFileFlagName, "", "Path of a .env file to load (default .env)")
	rootCmd.PersistentFlags().String(dbFlagName, "", "SQLite database path, overrides DB_PATH")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the dependencies every command shares.
type app struct {
	cfg       config.Config
	log       *logging.Logger
	store     *sqlite.Store
	metrics   *metrics.Recorder
	processor *incentive.Processor
}

func newApp(cmd *cobra.Command) (*app, error) {
	envFile, err := cmd.Flags().GetString(envFileFlagName)
	if err != nil {
		return nil, err
	}
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if db, _ := cmd.Flags().GetString(dbFlagName); db != "" {
		cfg.DB.Path = db
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Info("database opened", zap.String("path", cfg.DB.Path))

	recorder := metrics.New()
	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		metrics: recorder,
		processor: &incentive.Processor{
			Store: store,
			Writer: &incentive.Writer{
				WalletCategory: cfg.Engine.BonusWalletCategory,
				NewID:          uuid.NewString,
			},
			Log:      log.Named("batch"),
			Observer: recorder,
			Clock:    incentive.SystemClock,
			Location: loc,
		},
	}, nil
}

func (a *app) location() *time.Location { return a.processor.Location }

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("failed to close database", zap.Error(err))
	}
	a.log.AtExit()
}
