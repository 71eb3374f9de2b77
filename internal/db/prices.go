package db

import (
	"context"

	"go.uber.org/zap"

	"github.com/mealcart/pricewatch/internal/model"
)

const pricesTable = "grocery_prices"

var priceColumns = []string{"store_enum", "product_name", "price", "external_id", "zip_code", "unit"}

// priceConflictKeys matches the table's unique constraint: one price row per
// product per store brand per zip.
var priceConflictKeys = []string{"store_enum", "product_name", "zip_code"}

// PriceSink writes collected price rows. A batch either lands fully or not
// at all; re-running a collection for the same day overwrites prior prices.
type PriceSink struct {
	pool Pool
}

func NewPriceSink(pool Pool) *PriceSink {
	return &PriceSink{pool: pool}
}

// InsertBatch upserts the rows and returns how many were written.
func (s *PriceSink) InsertBatch(ctx context.Context, rows []model.PersistedRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, []any{
			string(r.StoreEnum), r.ProductName, r.Price, r.ExternalID, r.ZipCode, r.Unit,
		})
	}

	n, err := BulkUpsert(ctx, s.pool, UpsertConfig{
		Table:        pricesTable,
		Columns:      priceColumns,
		ConflictKeys: priceConflictKeys,
	}, values)
	if err != nil {
		return 0, err
	}

	zap.L().Debug("price batch flushed",
		zap.Int("rows", len(rows)),
		zap.Int64("written", n),
	)
	return n, nil
}
