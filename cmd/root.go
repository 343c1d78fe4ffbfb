package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vigia-labs/scamwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "scamwatch",
	Short: "PIX scam report collection and scoring pipeline",
	Long:  "Collects scam reports from Twitter and Reddit, scores them in batches with an LLM, and persists likely PIX fraud reports.",
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
