package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/config"
	"github.com/opensource-finance/claimguard/internal/domain"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "claimguard",
	Short:         "Insurance claim fraud scoring service",
	Long:          "Scores insurance claims with a pre-fitted probability model and additive adjustment rules, and keeps an append-only audit trail of every decision.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (env overrides use the CLAIMGUARD_ prefix)")
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (*domain.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	return cfg, nil
}
