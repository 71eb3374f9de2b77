package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mealcart/pricewatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pricewatch",
	Short: "Grocery price collection engine",
	Long:  "Scrapes retailer store sites and APIs for ingredient prices across store locations, with rate limiting, retries, caching, and LLM-assisted extraction, and bulk-writes the results to Postgres.",
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
