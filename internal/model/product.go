// Package model holds the value types shared across the price-collection pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// StoreEnum identifies a retailer brand.
type StoreEnum string

const (
	StoreAldi        StoreEnum = "aldi"
	StoreKroger      StoreEnum = "kroger"
	StoreSafeway     StoreEnum = "safeway"
	StoreMeijer      StoreEnum = "meijer"
	StoreTarget      StoreEnum = "target"
	StoreTraderJoes  StoreEnum = "traderjoes"
	StoreNinetyNine  StoreEnum = "99ranch"
	StoreWalmart     StoreEnum = "walmart"
	StoreWholeFoods  StoreEnum = "wholefoods"
)

// AllStoreEnums lists every known brand in a stable order.
func AllStoreEnums() []StoreEnum {
	return []StoreEnum{
		StoreAldi, StoreKroger, StoreSafeway, StoreMeijer, StoreTarget,
		StoreTraderJoes, StoreNinetyNine, StoreWalmart, StoreWholeFoods,
	}
}

// StoreLocation is a single physical store pulled from the grocery_stores table.
type StoreLocation struct {
	ID        string    `json:"id"`
	StoreEnum StoreEnum `json:"store_enum"`
	Name      string    `json:"name"`
	ZipCode   string    `json:"zip_code"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
}

// ScrapeQuery identifies one price lookup against one source.
type ScrapeQuery struct {
	Keyword     string `json:"keyword"`
	LocationKey string `json:"location_key"` // zip code or "lat,lng" composite
	SourceID    string `json:"source_id"`
}

// Key returns the cache/dedup identity for the query:
// sourceId + normalized keyword + location.
func (q ScrapeQuery) Key() string {
	return q.SourceID + "|" + NormalizeKeyword(q.Keyword) + "|" + q.LocationKey
}

// NormalizeKeyword lowercases and collapses internal whitespace so that
// "Whole  Milk" and "whole milk" share a cache entry.
func NormalizeKeyword(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// PriceText is a price held in raw string form until normalization. It
// unmarshals from either a JSON string ("4.99") or a JSON number (4.99)
// because sources and LLM responses use both encodings.
type PriceText string

func (p *PriceText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = PriceText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("price is neither string nor number: %s", data)
	}
	*p = PriceText(n.String())
	return nil
}

// RawCandidate is the loosely-typed product shape emitted by fetch and parse
// stages before validation. Price stays raw because sources variously return
// "4.99", "$4.99", or a JSON number.
type RawCandidate struct {
	ExternalID   string    `json:"external_id,omitempty"`
	Name         string    `json:"name"`
	Price        PriceText `json:"price"`
	Unit         string    `json:"unit,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	PricePerUnit string    `json:"price_per_unit,omitempty"` // e.g. "$0.24/oz"
	ProductURL   string    `json:"product_url,omitempty"`
}

// ProductRecord is a validated, normalized product result. Name is non-empty
// and Price is finite and positive; anything else never becomes a
// ProductRecord.
type ProductRecord struct {
	ExternalID    *string `json:"external_id,omitempty"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	UnitHint      *string `json:"unit_hint,omitempty"`
	ImageURL      *string `json:"image_url,omitempty"`
	SourceLabel   string  `json:"source_label"`
	LocationLabel string  `json:"location_label"`
}

// Valid reports whether the record satisfies the persistence invariant.
func (r ProductRecord) Valid() bool {
	return strings.TrimSpace(r.Name) != "" &&
		r.Price > 0 &&
		!math.IsInf(r.Price, 0) &&
		!math.IsNaN(r.Price)
}

// PersistedRow is the row shape accepted by the price sink.
type PersistedRow struct {
	StoreEnum   StoreEnum `json:"store_enum"`
	Price       float64   `json:"price"`
	ProductName string    `json:"product_name"`
	ExternalID  *string   `json:"external_id,omitempty"`
	ZipCode     string    `json:"zip_code"`
	Unit        *string   `json:"unit,omitempty"`
}

// NormalizeZip keeps the five-digit prefix of a ZIP+4 and trims whitespace.
func NormalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.Index(zip, "-"); i >= 0 {
		zip = zip[:i]
	}
	return strings.TrimSpace(zip)
}

// ValidZip reports whether zip looks like a 5-digit US ZIP code.
func ValidZip(zip string) bool {
	if len(zip) != 5 {
		return false
	}
	for _, c := range zip {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// RowFromRecord converts a validated ProductRecord into a PersistedRow.
// Returns an error when the record or zip fails the persistence invariant,
// so callers can count dropped rows.
func RowFromRecord(rec ProductRecord, store StoreEnum, zip string) (PersistedRow, error) {
	zip = NormalizeZip(zip)
	if !rec.Valid() {
		return PersistedRow{}, fmt.Errorf("model: invalid record %q (price %v)", rec.Name, rec.Price)
	}
	if !ValidZip(zip) {
		return PersistedRow{}, fmt.Errorf("model: invalid zip %q", zip)
	}
	return PersistedRow{
		StoreEnum:   store,
		Price:       rec.Price,
		ProductName: strings.TrimSpace(rec.Name),
		ExternalID:  rec.ExternalID,
		ZipCode:     zip,
		Unit:        rec.UnitHint,
	}, nil
}
