package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mealcart/pricewatch/internal/db"
	"github.com/mealcart/pricewatch/internal/model"
	"github.com/mealcart/pricewatch/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily price collection batch",
	Long: `Iterate store locations and collect the best price for every ingredient.

Stores come from the grocery_stores table, optionally filtered by --brand and
--zip. Ingredients are read from the --ingredients file, one per line.
With --dry-run, collected rows are logged instead of written.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "run"))

		brandArgs, _ := cmd.Flags().GetStringSlice("brand")
		zips, _ := cmd.Flags().GetStringSlice("zip")
		ingredientsPath, _ := cmd.Flags().GetString("ingredients")
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		brands, err := parseBrands(brandArgs)
		if err != nil {
			return err
		}

		ingredients, err := readIngredients(ingredientsPath, limit)
		if err != nil {
			return err
		}
		if len(ingredients) == 0 {
			return eris.Errorf("run: no ingredients in %s", ingredientsPath)
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		stores, err := db.ListStoreLocations(ctx, pool, brands, zips)
		if err != nil {
			return err
		}
		if len(stores) == 0 {
			log.Warn("no store locations match the filters")
			return nil
		}

		reg, cache := buildScraperStack(cfg)
		defer cache.Close()

		var sink orchestrator.Sink = db.NewPriceSink(pool)
		if dryRun {
			sink = dryRunSink{}
		}

		o := orchestrator.New(reg, sink, orchestrator.Config{
			ChunkSize:       cfg.Batch.ChunkSize,
			Concurrency:     cfg.Batch.Concurrency,
			ErrorThreshold:  cfg.Batch.ErrorThreshold,
			FlushBatchSize:  cfg.Batch.FlushBatchSize,
			MinSuccessRatio: cfg.Batch.MinSuccessRatio,
		})

		summary, err := o.Run(ctx, stores, ingredients)
		if summary != nil {
			log.Info("run summary",
				zap.String("run_id", summary.RunID),
				zap.Int("stores", len(summary.Stores)),
				zap.Int("queries", summary.Queries),
				zap.Int("scraped", summary.Scraped),
				zap.Int64("inserted", summary.Inserted),
				zap.Int("skipped_on_errors", summary.SkippedOnErrors),
				zap.Int("skipped_on_not_found", summary.SkippedOnNotFound),
			)
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}
		return nil
	},
}

// dryRunSink logs rows instead of writing them.
type dryRunSink struct{}

func (dryRunSink) InsertBatch(_ context.Context, rows []model.PersistedRow) (int64, error) {
	for _, r := range rows {
		zap.L().Info("dry-run row",
			zap.String("store", string(r.StoreEnum)),
			zap.String("product", r.ProductName),
			zap.Float64("price", r.Price),
			zap.String("zip", r.ZipCode),
		)
	}
	return int64(len(rows)), nil
}

// parseBrands validates brand filters against the known store enums.
func parseBrands(args []string) ([]model.StoreEnum, error) {
	known := make(map[model.StoreEnum]bool)
	for _, e := range model.AllStoreEnums() {
		known[e] = true
	}

	var brands []model.StoreEnum
	for _, a := range args {
		b := model.StoreEnum(strings.ToLower(strings.TrimSpace(a)))
		if !known[b] {
			return nil, eris.Errorf("run: unknown brand %q", a)
		}
		brands = append(brands, b)
	}
	return brands, nil
}

// readIngredients loads one ingredient per line, skipping blanks and
// #-comments. limit > 0 truncates the list.
func readIngredients(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "run: open ingredients file %s", path)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "run: read ingredients file %s", path)
	}
	return out, nil
}

func init() {
	runCmd.Flags().StringSlice("brand", nil, "restrict to store brands (e.g., kroger,walmart)")
	runCmd.Flags().StringSlice("zip", nil, "restrict to 5-digit zip codes")
	runCmd.Flags().String("ingredients", "ingredients.txt", "path to ingredient list, one per line")
	runCmd.Flags().Int("limit", 0, "cap the number of ingredients (0 = all)")
	runCmd.Flags().Bool("dry-run", false, "log rows instead of writing to the database")
	rootCmd.AddCommand(runCmd)
}
