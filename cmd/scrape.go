package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mealcart/pricewatch/internal/model"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <source> <keyword>",
	Short: "Run one query against one source",
	Long: `Scrape a single source for a keyword and print the ranked results as JSON.

Useful for checking a retailer integration without a full batch run.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		source, keyword := args[0], args[1]
		zip, _ := cmd.Flags().GetString("zip")
		zip = model.NormalizeZip(zip)
		if !model.ValidZip(zip) {
			return eris.Errorf("scrape: invalid zip %q", zip)
		}

		reg, cache := buildScraperStack(cfg)
		defer cache.Close()

		s, err := reg.Get(source)
		if err != nil {
			return err
		}

		log := zap.L().With(
			zap.String("command", "scrape"),
			zap.String("source", source),
			zap.String("keyword", keyword),
		)
		log.Info("scraping")

		records, err := s.Scrape(ctx, keyword, zip)
		if err != nil {
			return eris.Wrapf(err, "scrape: %s %q", source, keyword)
		}
		log.Info("scrape complete", zap.Int("results", len(records)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func init() {
	scrapeCmd.Flags().String("zip", "", "5-digit zip code for the store location")
	_ = scrapeCmd.MarkFlagRequired("zip")
	rootCmd.AddCommand(scrapeCmd)
}
