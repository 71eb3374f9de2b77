package db

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/mealcart/pricewatch/internal/model"
)

// ListStoreLocations returns known store locations, optionally filtered by
// brand and by five-digit zip. Empty filters mean "all". Results come back
// grouped by brand so a run walks one retailer at a time.
func ListStoreLocations(ctx context.Context, pool Pool, brands []model.StoreEnum, zips []string) ([]model.StoreLocation, error) {
	query := `SELECT id, store_enum, name, zip_code, city, state
		FROM grocery_stores
		WHERE ($1::text[] IS NULL OR store_enum = ANY($1))
		  AND ($2::text[] IS NULL OR zip_code = ANY($2))
		ORDER BY store_enum, zip_code, id`

	var brandArg []string
	for _, b := range brands {
		brandArg = append(brandArg, string(b))
	}
	var zipArg []string
	for _, z := range zips {
		if norm := model.NormalizeZip(z); norm != "" {
			zipArg = append(zipArg, norm)
		}
	}

	rows, err := pool.Query(ctx, query, brandArg, zipArg)
	if err != nil {
		return nil, eris.Wrap(err, "db: list store locations")
	}
	defer rows.Close()

	var locations []model.StoreLocation
	for rows.Next() {
		var loc model.StoreLocation
		var enum string
		if err := rows.Scan(&loc.ID, &enum, &loc.Name, &loc.ZipCode, &loc.City, &loc.State); err != nil {
			return nil, eris.Wrap(err, "db: scan store location")
		}
		loc.StoreEnum = model.StoreEnum(enum)
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "db: iterate store locations")
	}

	return locations, nil
}
