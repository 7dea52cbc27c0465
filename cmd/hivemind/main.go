package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "hivemind - self-maintaining knowledge base for autonomous agents",
	Long: `hivemind accumulates, reconciles, and promotes facts learned by agent
sessions, and watches its own operational metrics to trigger structural
adaptation when performance degrades.

Facts carry a confidence score and a lifecycle status (proposed, verified,
disputed, deprecated). Maintenance passes merge near-duplicates, discover
relationships, mine the action log for failing tools, and promote
high-confidence session facts into the shared global scope.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.Store.DatabasePath = dbPath
		}

		if err := logging.Initialize(config.FindWorkspaceRoot()); err != nil {
			logger.Warn("category logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// openStore opens the configured SQLite store.
func openStore() (*store.LocalStore, error) {
	s, err := store.NewLocalStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Store.DatabasePath, err)
	}
	return s, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default .hivemind/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(challengeCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(evolveCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
