package extract

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mealcart/pricewatch/internal/model"
)

// NormalizeCandidate validates and converts a RawCandidate into a
// ProductRecord. Returns false when the candidate fails the record invariant
// (empty name, non-positive or unparseable price).
func NormalizeCandidate(cand model.RawCandidate, sourceLabel, locationLabel string) (model.ProductRecord, bool) {
	name := strings.TrimSpace(cand.Name)
	if name == "" {
		return model.ProductRecord{}, false
	}

	price, ok := parsePrice(string(cand.Price))
	if !ok {
		return model.ProductRecord{}, false
	}

	rec := model.ProductRecord{
		Name:          name,
		Price:         price,
		SourceLabel:   sourceLabel,
		LocationLabel: locationLabel,
	}

	if id := strings.TrimSpace(cand.ExternalID); id != "" {
		rec.ExternalID = &id
	}
	if img := strings.TrimSpace(cand.ImageURL); img != "" {
		rec.ImageURL = &img
	}
	if unit := inferUnit(cand, name); unit != "" {
		rec.UnitHint = &unit
	}

	return rec, rec.Valid()
}

// parsePrice accepts "4.99", "$4.99", "1,299.00" and plain numbers rendered
// as strings. Zero, negative, and non-finite prices are rejected.
func parsePrice(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p <= 0 || math.IsInf(p, 0) || math.IsNaN(p) {
		return 0, false
	}
	return p, true
}

// inferUnit picks the unit hint: the explicit package-size fragment wins,
// then the denominator of a price-per-unit string, unless the name already
// embeds a size (e.g. "Milk, 1 Gallon").
func inferUnit(cand model.RawCandidate, name string) string {
	if u := strings.TrimSpace(cand.Unit); u != "" {
		return u
	}
	if packageSizeRe.MatchString(name) {
		// Size already embedded in the product name; no separate hint needed.
		return ""
	}
	if m := pricePerUnitRe.FindStringSubmatch(cand.PricePerUnit); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// Dedupe removes duplicate records, preferring external-id identity and
// falling back to a (lowercased name, price) composite. First occurrence wins.
func Dedupe(records []model.ProductRecord) []model.ProductRecord {
	seenID := make(map[string]bool)
	seenNamePrice := make(map[string]bool)

	out := records[:0:0]
	for _, r := range records {
		if r.ExternalID != nil && *r.ExternalID != "" {
			if seenID[*r.ExternalID] {
				continue
			}
			seenID[*r.ExternalID] = true
			out = append(out, r)
			continue
		}

		key := strings.ToLower(strings.TrimSpace(r.Name)) + "|" + strconv.FormatFloat(r.Price, 'f', 2, 64)
		if seenNamePrice[key] {
			continue
		}
		seenNamePrice[key] = true
		out = append(out, r)
	}
	return out
}

// relevanceScore scores a product name against the search keyword: exact
// substring match of the whole keyword scores highest, then one point per
// matching keyword token. Zero means no token overlap.
func relevanceScore(name, keyword string) int {
	n := strings.ToLower(name)
	kw := model.NormalizeKeyword(keyword)
	if kw == "" {
		return 0
	}

	score := 0
	if strings.Contains(n, kw) {
		score += 10
	}
	for _, tok := range strings.Fields(kw) {
		if strings.Contains(n, tok) {
			score++
		}
	}
	return score
}

// Rank orders records by descending keyword relevance, breaking ties by
// ascending price, and truncates to limit (0 = no truncation).
//
// Irrelevant records (score zero) are filtered out first, unless doing so
// would keep fewer than minKeepRatio of the set, in which case the
// unfiltered set is ranked instead. Sparse retailer results are often worth
// more than an empty list.
func Rank(records []model.ProductRecord, keyword string, limit int, minKeepRatio float64) []model.ProductRecord {
	if len(records) == 0 {
		return records
	}

	var relevant []model.ProductRecord
	for _, r := range records {
		if relevanceScore(r.Name, keyword) > 0 {
			relevant = append(relevant, r)
		}
	}

	ranked := relevant
	if float64(len(relevant)) < float64(len(records))*minKeepRatio {
		ranked = records
	}

	sorted := make([]model.ProductRecord, len(ranked))
	copy(sorted, ranked)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := relevanceScore(sorted[i].Name, keyword), relevanceScore(sorted[j].Name, keyword)
		if si != sj {
			return si > sj
		}
		return sorted[i].Price < sorted[j].Price
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
