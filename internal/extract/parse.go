package extract

import (
	"regexp"
	"strings"

	"github.com/mealcart/pricewatch/internal/model"
)

// The structural parser targets the markdown-ish text the crawl collaborator
// returns for retailer result pages: each product renders as a block of
// consecutive lines holding a linked name, an optional image, a price, and
// optional package-size / price-per-unit fragments. Blocks are separated by
// blank lines.
var (
	// [Great Value Whole Milk](https://www.walmart.com/ip/10450114)
	nameLinkRe = regexp.MustCompile(`\[([^\[\]]+)\]\((https?://[^\s)]+)\)`)

	// ![](https://i5.walmartimages.com/asr/abc.jpg)
	imageRe = regexp.MustCompile(`!\[[^\[\]]*\]\((https?://[^\s)]+)\)`)

	// $3.48 or 3.48 on its own line, or "current price $3.48"
	priceRe = regexp.MustCompile(`\$\s*(\d+(?:,\d{3})*(?:\.\d{1,2})?)`)

	// $0.27/oz, $2.7 / lb price-per-unit fragments
	pricePerUnitRe = regexp.MustCompile(`\$\s*\d+(?:\.\d+)?\s*/\s*([A-Za-z ]{1,12})`)

	// 128 fl oz, 1 gal, 12 ct, 500 g
	packageSizeRe = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(fl oz|oz|lb|lbs|gal|ct|count|pk|pack|g|kg|ml|l|qt|pt|each|ea|dozen)\b`)

	// trailing numeric id in product URLs: /ip/10450114, /p/-/A-13276135
	externalIDRe = regexp.MustCompile(`(?:/|A-)(\d{5,})(?:[/?#]|$)`)
)

// ParseResult carries the structural parse outcome: fully matched candidates
// plus the fragments that looked like products but did not match completely.
type ParseResult struct {
	Candidates []model.RawCandidate
	Unresolved []string
}

// ParseBlocks splits page content into product blocks and pattern-matches
// each. Blocks yielding both a name and a price become RawCandidates;
// blocks with partial product signal are kept as unresolved for LLM repair
// rather than discarded.
func ParseBlocks(content string) ParseResult {
	var res ParseResult

	for _, block := range splitBlocks(content) {
		cand, ok := parseBlock(block)
		if ok {
			res.Candidates = append(res.Candidates, cand)
			continue
		}
		if looksLikeProduct(block) {
			res.Unresolved = append(res.Unresolved, block)
		}
	}

	return res
}

func splitBlocks(content string) []string {
	var blocks []string
	for _, raw := range strings.Split(content, "\n\n") {
		b := strings.TrimSpace(raw)
		if b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func parseBlock(block string) (model.RawCandidate, bool) {
	var cand model.RawCandidate

	if m := imageRe.FindStringSubmatch(block); m != nil {
		cand.ImageURL = m[1]
	}

	// Image markdown embeds a [alt](url) pair that would shadow the real
	// name link, so match names and prices on the stripped text.
	stripped := imageRe.ReplaceAllString(block, "")

	if m := nameLinkRe.FindStringSubmatch(stripped); m != nil {
		cand.Name = strings.TrimSpace(m[1])
		cand.ProductURL = m[2]
		if id := externalIDRe.FindStringSubmatch(m[2]); id != nil {
			cand.ExternalID = id[1]
		}
	}

	if m := pricePerUnitRe.FindStringSubmatch(stripped); m != nil {
		cand.PricePerUnit = strings.TrimSpace(m[0])
		// Remove so the unit price isn't mistaken for the shelf price when
		// it appears first in the block.
		stripped = strings.Replace(stripped, m[0], "", 1)
	}

	if m := priceRe.FindStringSubmatch(stripped); m != nil {
		cand.Price = model.PriceText(m[1])
	}

	if m := packageSizeRe.FindString(block); m != "" {
		cand.Unit = strings.TrimSpace(m)
	}

	if cand.Name == "" || cand.Price == "" {
		return model.RawCandidate{}, false
	}
	return cand, true
}

// looksLikeProduct reports whether a block that failed the full match still
// carries product signal worth an LLM repair call: a price, a product link,
// or a package-size fragment.
func looksLikeProduct(block string) bool {
	return priceRe.MatchString(block) ||
		nameLinkRe.MatchString(block) ||
		packageSizeRe.MatchString(block)
}
