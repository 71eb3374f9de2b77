// Package orchestrator drives a full price-collection run: store by store,
// ingredient chunk by chunk, with bounded workers, per-store circuit
// breaking, and buffered flushes to the persistence sink.
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mealcart/pricewatch/internal/model"
	"github.com/mealcart/pricewatch/internal/resilience"
	"github.com/mealcart/pricewatch/internal/scraper"
)

// Sink receives buffered rows. db.PriceSink satisfies it.
type Sink interface {
	InsertBatch(ctx context.Context, rows []model.PersistedRow) (int64, error)
}

// Config tunes a batch run.
type Config struct {
	// ChunkSize is how many ingredients one worker pool covers at a time.
	ChunkSize int

	// Concurrency bounds in-flight scrapes within a chunk.
	Concurrency int

	// ErrorThreshold is the consecutive-error count past which a store's
	// remaining ingredients are abandoned.
	ErrorThreshold int

	// FlushBatchSize is the buffered row count that triggers a flush.
	FlushBatchSize int

	// MinSuccessRatio is the floor for inserted rows per scheduled query;
	// a run below it returns an error to flag systemic breakage.
	MinSuccessRatio float64
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 3
	}
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = 50
	}
	if c.MinSuccessRatio <= 0 {
		c.MinSuccessRatio = 0.2
	}
	return c
}

// StoreStatus is the terminal state of one store's processing.
type StoreStatus string

const (
	StoreCompleted         StoreStatus = "completed"
	StoreSkippedOnErrors   StoreStatus = "skipped_on_errors"
	StoreSkippedOnNotFound StoreStatus = "skipped_on_not_found"
	StoreNoSource          StoreStatus = "no_source"
)

// StoreResult reports what happened at one location.
type StoreResult struct {
	Location model.StoreLocation
	Status   StoreStatus
	Queries  int // scrape calls attempted
	Rows     int // rows buffered for this store
}

// Summary is the run-level report.
type Summary struct {
	RunID             string
	Stores            []StoreResult
	Queries           int   // scrape calls attempted across all stores
	Scraped           int   // scrape calls that succeeded (empty results included)
	Buffered          int   // rows handed to the sink
	Inserted          int64 // rows the sink reports written
	SkippedOnErrors   int
	SkippedOnNotFound int
}

// Orchestrator owns one run's mutable state and must not be reused.
type Orchestrator struct {
	reg  *scraper.Registry
	sink Sink
	cfg  Config

	buffer   []model.PersistedRow
	inserted int64
	buffered int
}

func New(reg *scraper.Registry, sink Sink, cfg Config) *Orchestrator {
	return &Orchestrator{reg: reg, sink: sink, cfg: cfg.withDefaults()}
}

// storeState is the per-store circuit breaker shared by a chunk's workers.
type storeState struct {
	mu          sync.Mutex
	consecutive int
	abandoned   bool
	reason      StoreStatus
}

func (st *storeState) isAbandoned() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.abandoned
}

func (st *storeState) recordSuccess() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.consecutive = 0
}

// recordError trips the abandon flag on a 404 or once the consecutive-error
// count passes the threshold. In-flight scrapes are never interrupted;
// workers simply stop claiming ingredients.
func (st *storeState) recordError(err error, threshold int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if resilience.IsNotFound(err) {
		st.abandoned = true
		st.reason = StoreSkippedOnNotFound
		return
	}

	st.consecutive++
	if st.consecutive > threshold && !st.abandoned {
		st.abandoned = true
		st.reason = StoreSkippedOnErrors
	}
}

// Run processes every store location sequentially against the full
// ingredient list. A flush failure aborts the run; everything else degrades
// per store or per ingredient.
func (o *Orchestrator) Run(ctx context.Context, stores []model.StoreLocation, ingredients []string) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("run_id", summary.RunID))

	log.Info("starting batch run",
		zap.Int("stores", len(stores)),
		zap.Int("ingredients", len(ingredients)),
	)

	for _, store := range stores {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "orchestrator: run cancelled")
		}

		result, err := o.runStore(ctx, log, store, ingredients, summary)
		summary.Stores = append(summary.Stores, result)
		summary.Queries += result.Queries
		switch result.Status {
		case StoreSkippedOnErrors:
			summary.SkippedOnErrors++
		case StoreSkippedOnNotFound:
			summary.SkippedOnNotFound++
		}
		summary.Buffered = o.buffered
		summary.Inserted = o.inserted
		if err != nil {
			return summary, err
		}
	}

	if err := o.flush(ctx); err != nil {
		return summary, err
	}
	summary.Buffered = o.buffered
	summary.Inserted = o.inserted

	log.Info("batch run complete",
		zap.Int("queries", summary.Queries),
		zap.Int("scraped", summary.Scraped),
		zap.Int64("inserted", summary.Inserted),
		zap.Int("skipped_on_errors", summary.SkippedOnErrors),
		zap.Int("skipped_on_not_found", summary.SkippedOnNotFound),
	)

	if summary.Queries > 0 {
		ratio := float64(summary.Inserted) / float64(summary.Queries)
		if ratio < o.cfg.MinSuccessRatio {
			return summary, eris.Errorf(
				"orchestrator: insertion ratio %.2f below floor %.2f (%d inserted / %d queries)",
				ratio, o.cfg.MinSuccessRatio, summary.Inserted, summary.Queries)
		}
	}

	return summary, nil
}

type scrapeOutcome struct {
	records []model.ProductRecord
	err     error
	claimed bool
}

func (o *Orchestrator) runStore(ctx context.Context, log *zap.Logger, store model.StoreLocation, ingredients []string, summary *Summary) (StoreResult, error) {
	result := StoreResult{Location: store, Status: StoreCompleted}
	sLog := log.With(
		zap.String("store", string(store.StoreEnum)),
		zap.String("zip", store.ZipCode),
	)

	src, err := o.reg.Get(string(store.StoreEnum))
	if err != nil {
		sLog.Warn("no source for store brand, skipping")
		result.Status = StoreNoSource
		return result, nil
	}

	state := &storeState{}

	for _, chunk := range chunkStrings(ingredients, o.cfg.ChunkSize) {
		if state.isAbandoned() {
			break
		}

		outcomes := make([]scrapeOutcome, len(chunk))

		var g errgroup.Group
		g.SetLimit(o.cfg.Concurrency)
		for i, ingredient := range chunk {
			g.Go(func() error {
				if state.isAbandoned() {
					return nil
				}
				outcomes[i].claimed = true
				records, err := src.Scrape(ctx, ingredient, store.ZipCode)
				outcomes[i].records = records
				outcomes[i].err = err
				if err != nil {
					state.recordError(err, o.cfg.ErrorThreshold)
				} else {
					state.recordSuccess()
				}
				return nil
			})
		}
		_ = g.Wait()

		for i, out := range outcomes {
			if !out.claimed {
				continue
			}
			result.Queries++
			if out.err != nil {
				sLog.Warn("scrape failed",
					zap.String("ingredient", chunk[i]),
					zap.Error(out.err),
				)
				continue
			}
			summary.Scraped++
			best, ok := cheapest(out.records)
			if !ok {
				continue
			}
			row, err := model.RowFromRecord(best, store.StoreEnum, store.ZipCode)
			if err != nil {
				sLog.Warn("dropping unnormalizable record",
					zap.String("ingredient", chunk[i]),
					zap.Error(err),
				)
				continue
			}
			o.buffer = append(o.buffer, row)
			result.Rows++
			if len(o.buffer) >= o.cfg.FlushBatchSize {
				if err := o.flush(ctx); err != nil {
					return result, err
				}
			}
		}
	}

	if state.isAbandoned() {
		result.Status = state.reason
		sLog.Warn("store abandoned", zap.String("reason", string(result.Status)))
	}

	if err := o.flush(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// flush hands the buffer to the sink. A sink failure is fatal to the run.
func (o *Orchestrator) flush(ctx context.Context) error {
	if len(o.buffer) == 0 {
		return nil
	}

	rows := o.buffer
	o.buffer = nil

	n, err := o.sink.InsertBatch(ctx, rows)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: flush %d rows", len(rows))
	}
	o.buffered += len(rows)
	o.inserted += n
	return nil
}

// cheapest picks the lowest-price record; the scraper already filtered for
// relevance.
func cheapest(records []model.ProductRecord) (model.ProductRecord, bool) {
	if len(records) == 0 {
		return model.ProductRecord{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Price < best.Price {
			best = r
		}
	}
	return best, true
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
