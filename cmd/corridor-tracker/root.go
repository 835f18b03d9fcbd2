package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"corridor-tracker/internal/config"
	"corridor-tracker/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "corridor-tracker",
	Short: "Corridor-relative vehicle tracking",
	Long: `corridor-tracker follows vehicles along fixed intercity corridors. Drivers
report positions, the service projects them onto the corridor to derive
progress and ETA, and subscribers receive live updates.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, ingestCmd, watchCmd, tokenCmd)
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
