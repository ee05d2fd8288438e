// Command finctl is the operator CLI for the metrics engine. It shares the
// server's configuration and database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/finmetrics/grounding/internal/app"
	"github.com/finmetrics/grounding/internal/config"
	"github.com/finmetrics/grounding/internal/logging"
)

var (
	version = "dev"

	envFile  string
	logLevel string
	dbPath   string

	cfg    *config.Config
	logger *log.Logger

	rootCmd = &cobra.Command{
		Use:   "finctl",
		Short: "Operate the grounded financial metrics engine",
		Long: `finctl loads filings and fixtures into the fact store, evaluates
expressions with their citations and verifies batches of claims
without going through the HTTP API.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides DB_PATH)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(claimsCmd())
	rootCmd.AddCommand(conceptsCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger = logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return nil
}

// openEngine builds the engine for one command. Callers close it.
func openEngine() (*app.App, error) {
	engine, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "finctl", version)
		},
	}
}
