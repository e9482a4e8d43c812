package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "governor",
	Short: "Governance decision engine for generated site content",
	Long:  "Validates content plans against site structure, drives generation jobs through a budgeted state machine, and gates publish and decommission decisions behind an auditable rule set.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
