// Package extract turns raw crawled page text into ranked product records.
// It tries a structural parse first, repairs stragglers with scoped LLM
// calls, and falls back to a full-page LLM parse only when structural
// parsing finds nothing.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mealcart/pricewatch/internal/llm"
	"github.com/mealcart/pricewatch/internal/model"
)

// Options tunes the pipeline.
type Options struct {
	// MaxRepairBlocks bounds per-block LLM repair calls per page. Default: 4.
	MaxRepairBlocks int

	// MaxResults truncates the ranked output. Default: 10.
	MaxResults int

	// MinKeepRatio is the relevance-filter retention floor: if keyword
	// filtering would keep fewer than this fraction of candidates, the
	// unfiltered set is ranked instead. Default: 0.34.
	MinKeepRatio float64

	// LLMTimeout bounds each repair/fallback call. Default: 20s.
	LLMTimeout time.Duration

	// FullPageMaxProducts caps the full-page fallback ask. Default: 5.
	FullPageMaxProducts int
}

func (o Options) withDefaults() Options {
	if o.MaxRepairBlocks <= 0 {
		o.MaxRepairBlocks = 4
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 10
	}
	if o.MinKeepRatio <= 0 {
		o.MinKeepRatio = 0.34
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = 20 * time.Second
	}
	if o.FullPageMaxProducts <= 0 {
		o.FullPageMaxProducts = 5
	}
	return o
}

// Pipeline is the multi-stage content extractor. A nil LLM client disables
// the repair and fallback stages, leaving structural parsing only.
type Pipeline struct {
	llm  llm.Client
	opts Options
}

// New creates a Pipeline.
func New(client llm.Client, opts Options) *Pipeline {
	return &Pipeline{llm: client, opts: opts.withDefaults()}
}

const repairSystem = "You extract grocery product data from messy page fragments. Respond with JSON only."

const repairPrompt = `The following text fragment comes from a grocery store search results page for the query %q. It may describe one product, or none.

Fragment:
%s

If the fragment describes a product with a visible price, return exactly one JSON object:
{"name": "<product name>", "price": "<price, digits only>", "external_id": "<id or empty>", "image_url": "<url or empty>", "unit": "<package size or empty>"}

If it does not describe a purchasable product, return null.`

const fullPageSystem = "You extract grocery product listings from scraped page text. Respond with JSON only."

const fullPagePrompt = `The following is the text of a grocery store search results page for the query %q. Extract up to %d products most relevant to the query, best matches first.

Page:
%s

Return a JSON array (possibly empty) of objects:
[{"name": "<product name>", "price": "<price, digits only>", "external_id": "<id or empty>", "image_url": "<url or empty>", "unit": "<package size or empty>"}]`

// maxFullPageChars bounds how much page text goes into the fallback prompt.
const maxFullPageChars = 24000

// Extract runs the full chain for one page of crawled content. Empty content
// short-circuits to an empty result with no LLM calls. LLM failures degrade
// to fewer products, never to an error.
func (p *Pipeline) Extract(ctx context.Context, keyword, content, sourceLabel, locationLabel string) []model.ProductRecord {
	log := zap.L().With(
		zap.String("component", "extract"),
		zap.String("source", sourceLabel),
		zap.String("keyword", keyword),
	)

	if strings.TrimSpace(content) == "" {
		return nil
	}

	parsed := ParseBlocks(content)

	var records []model.ProductRecord
	for _, cand := range parsed.Candidates {
		if rec, ok := NormalizeCandidate(cand, sourceLabel, locationLabel); ok {
			records = append(records, rec)
		}
	}

	log.Debug("structural parse",
		zap.Int("candidates", len(parsed.Candidates)),
		zap.Int("normalized", len(records)),
		zap.Int("unresolved", len(parsed.Unresolved)),
	)

	if len(parsed.Candidates) > 0 {
		// Structural parsing produced something: repair the stragglers but
		// never pay for a full-page reparse.
		records = append(records, p.repairBlocks(ctx, keyword, parsed.Unresolved, sourceLabel, locationLabel)...)
	} else {
		records = p.fullPage(ctx, keyword, content, sourceLabel, locationLabel)
	}

	records = Dedupe(records)
	return Rank(records, keyword, p.opts.MaxResults, p.opts.MinKeepRatio)
}

// repairBlocks issues one scoped LLM call per unresolved block, bounded by
// MaxRepairBlocks. Each call yields at most one product; failures and null
// responses are skipped.
func (p *Pipeline) repairBlocks(ctx context.Context, keyword string, blocks []string, sourceLabel, locationLabel string) []model.ProductRecord {
	if p.llm == nil || len(blocks) == 0 {
		return nil
	}

	if len(blocks) > p.opts.MaxRepairBlocks {
		blocks = blocks[:p.opts.MaxRepairBlocks]
	}

	var out []model.ProductRecord
	for _, block := range blocks {
		text, err := p.llm.Complete(ctx, llm.Request{
			System:    repairSystem,
			Prompt:    fmt.Sprintf(repairPrompt, keyword, block),
			MaxTokens: 256,
			Timeout:   p.opts.LLMTimeout,
		})
		if err != nil {
			zap.L().Debug("extract: block repair failed", zap.Error(err))
			continue
		}

		cand, ok := parseCandidateJSON(text)
		if !ok {
			continue
		}
		if rec, valid := NormalizeCandidate(cand, sourceLabel, locationLabel); valid {
			out = append(out, rec)
		}
	}
	return out
}

// fullPage is the costliest path: one LLM call over the entire page, asking
// for up to FullPageMaxProducts ranked products.
func (p *Pipeline) fullPage(ctx context.Context, keyword, content, sourceLabel, locationLabel string) []model.ProductRecord {
	if p.llm == nil {
		return nil
	}

	if len(content) > maxFullPageChars {
		content = content[:maxFullPageChars]
	}

	text, err := p.llm.Complete(ctx, llm.Request{
		System:    fullPageSystem,
		Prompt:    fmt.Sprintf(fullPagePrompt, keyword, p.opts.FullPageMaxProducts, content),
		MaxTokens: 1024,
		Timeout:   p.opts.LLMTimeout,
	})
	if err != nil {
		zap.L().Warn("extract: full-page fallback failed", zap.Error(err))
		return nil
	}

	cands, ok := parseCandidateListJSON(text)
	if !ok {
		return nil
	}

	var out []model.ProductRecord
	for _, cand := range cands {
		if rec, valid := NormalizeCandidate(cand, sourceLabel, locationLabel); valid {
			out = append(out, rec)
		}
	}
	if len(out) > p.opts.FullPageMaxProducts {
		out = out[:p.opts.FullPageMaxProducts]
	}
	return out
}

// parseCandidateJSON parses a single-object repair response. A "null"
// response, malformed JSON, or an array all count as "no product".
func parseCandidateJSON(text string) (model.RawCandidate, bool) {
	cleaned := cleanJSON(text)
	if cleaned == "" || cleaned == "null" {
		return model.RawCandidate{}, false
	}

	var cand model.RawCandidate
	if err := json.Unmarshal([]byte(cleaned), &cand); err != nil {
		zap.L().Debug("extract: unparseable repair response", zap.Error(err))
		return model.RawCandidate{}, false
	}
	return cand, true
}

// parseCandidateListJSON parses the full-page fallback response array.
// Elements are decoded one at a time so a single malformed object costs
// only itself, not the well-formed siblings around it.
func parseCandidateListJSON(text string) ([]model.RawCandidate, bool) {
	cleaned := cleanJSONArray(text)
	if cleaned == "" || cleaned == "null" {
		return nil, false
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		zap.L().Debug("extract: unparseable full-page response", zap.Error(err))
		return nil, false
	}

	var cands []model.RawCandidate
	for _, msg := range raw {
		var cand model.RawCandidate
		if err := json.Unmarshal(msg, &cand); err != nil {
			zap.L().Debug("extract: skipping malformed full-page element", zap.Error(err))
			continue
		}
		cands = append(cands, cand)
	}
	return cands, true
}

// cleanJSON strips markdown code fences and surrounding prose from an LLM
// response, returning the first {...} object (or "null" when the model
// declined).
func cleanJSON(text string) string {
	text = stripFences(text)

	if strings.EqualFold(text, "null") {
		return "null"
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// cleanJSONArray is cleanJSON for array-shaped responses.
func cleanJSONArray(text string) string {
	text = stripFences(text)

	if strings.EqualFold(text, "null") {
		return "null"
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	return strings.TrimSpace(text)
}
