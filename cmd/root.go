package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rentwatch/config"
	"rentwatch/storage"
	"rentwatch/utils"
)

var (
	cfg    *config.Config
	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "rentwatch",
	Short: "Rental floor-plan price monitor",
	Long: "Scrapes configured listing sites with a headless browser, keeps the lowest " +
		"observed price per floor plan per day, and raises price-drop and new-low alerts.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg = config.Load()
		logger = utils.NewLogger(cfg.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initStore() (*storage.SQLStore, error) {
	return storage.NewSQLStore(cfg.DBDriver, cfg.DSN(), logger)
}
