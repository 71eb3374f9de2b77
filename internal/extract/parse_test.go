package extract

import "testing"

const wellFormedBlock = `[Great Value Whole Milk, 1 Gallon](https://www.walmart.com/ip/10450114)
![](https://i5.walmartimages.com/asr/milk.jpg)
$3.48
128 fl oz
$0.03/fl oz`

func TestParseBlocks_WellFormed(t *testing.T) {
	res := ParseBlocks(wellFormedBlock)
	if len(res.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d (unresolved %d)", len(res.Candidates), len(res.Unresolved))
	}

	c := res.Candidates[0]
	if c.Name != "Great Value Whole Milk, 1 Gallon" {
		t.Errorf("Name = %q", c.Name)
	}
	if c.Price != "3.48" {
		t.Errorf("Price = %q", c.Price)
	}
	if c.ExternalID != "10450114" {
		t.Errorf("ExternalID = %q", c.ExternalID)
	}
	if c.ImageURL != "https://i5.walmartimages.com/asr/milk.jpg" {
		t.Errorf("ImageURL = %q", c.ImageURL)
	}
	if c.Unit != "1 Gallon" && c.Unit != "128 fl oz" {
		t.Errorf("Unit = %q", c.Unit)
	}
}

func TestParseBlocks_MixedContent(t *testing.T) {
	content := `[Whole Milk](https://www.kroger.com/p/milk/0001111041700)
$2.99

Some navigation text with no product signal at all.

$4.19 — price visible but the name markup is broken

[Organic Milk](https://www.kroger.com/p/organic/0001111085000)
$5.49`

	res := ParseBlocks(content)
	if len(res.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(res.Candidates))
	}
	if len(res.Unresolved) != 1 {
		t.Errorf("expected 1 unresolved block, got %d", len(res.Unresolved))
	}
}

func TestParseBlocks_EmptyContent(t *testing.T) {
	res := ParseBlocks("   \n\n  ")
	if len(res.Candidates) != 0 || len(res.Unresolved) != 0 {
		t.Errorf("expected nothing from empty content, got %+v", res)
	}
}

func TestParseBlocks_PricePerUnitNotShelfPrice(t *testing.T) {
	content := `[Shredded Cheese](https://www.meijer.com/shopping/product/12345678.html)
$0.31/oz
$4.99`

	res := ParseBlocks(content)
	if len(res.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(res.Candidates))
	}
	if got := res.Candidates[0].Price; got != "4.99" {
		t.Errorf("Price = %q, unit price must not win", got)
	}
	if got := res.Candidates[0].PricePerUnit; got != "$0.31/oz" {
		t.Errorf("PricePerUnit = %q", got)
	}
}

func TestLooksLikeProduct(t *testing.T) {
	if looksLikeProduct("Free delivery on orders over threshold") {
		t.Error("plain prose should not look like a product")
	}
	if !looksLikeProduct("broken markup but a price: $3.29") {
		t.Error("price fragment should look like a product")
	}
}
