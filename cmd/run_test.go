package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mealcart/pricewatch/internal/model"
)

func TestParseBrands(t *testing.T) {
	brands, err := parseBrands([]string{"kroger", " Walmart "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(brands) != 2 || brands[0] != model.StoreKroger || brands[1] != model.StoreWalmart {
		t.Errorf("unexpected brands: %v", brands)
	}

	if _, err := parseBrands([]string{"costco"}); err == nil {
		t.Error("unknown brand must be rejected")
	}

	brands, err = parseBrands(nil)
	if err != nil || brands != nil {
		t.Errorf("empty filter should pass through: %v %v", brands, err)
	}
}

func TestReadIngredients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingredients.txt")
	content := "whole milk\n\n# dairy below\neggs\nbutter\ncheddar cheese\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := readIngredients(path, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"whole milk", "eggs", "butter", "cheddar cheese"}
	if strings.Join(all, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, all)
	}

	limited, err := readIngredients(path, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 2 || limited[1] != "eggs" {
		t.Errorf("limit not applied: %v", limited)
	}

	if _, err := readIngredients(filepath.Join(t.TempDir(), "missing.txt"), 0); err == nil {
		t.Error("missing file must error")
	}
}

func TestDryRunSink(t *testing.T) {
	n, err := dryRunSink{}.InsertBatch(context.Background(), []model.PersistedRow{
		{StoreEnum: model.StoreKroger, Price: 2.99, ProductName: "Whole Milk", ZipCode: "47906"},
		{StoreEnum: model.StoreTarget, Price: 3.39, ProductName: "Whole Milk", ZipCode: "47906"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows accepted, got %d", n)
	}
}
