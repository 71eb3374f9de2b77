package resultcache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mealcart/pricewatch/internal/model"
)

func records(names ...string) []model.ProductRecord {
	out := make([]model.ProductRecord, len(names))
	for i, n := range names {
		out[i] = model.ProductRecord{Name: n, Price: 1.99, SourceLabel: "test"}
	}
	return out
}

func TestGetOrFetch_CachesWithinTTL(t *testing.T) {
	c := New()
	defer c.Close()

	var fetches atomic.Int64
	fetch := func(_ context.Context) ([]model.ProductRecord, error) {
		fetches.Add(1)
		return records("Whole Milk"), nil
	}

	ctx := context.Background()
	first, err := c.GetOrFetch(ctx, "kroger|milk|47906", time.Minute, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.GetOrFetch(ctx, "kroger|milk|47906", time.Minute, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fetches.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", fetches.Load())
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached result differs from the original fetch")
	}
}

func TestGetOrFetch_ExpiredEntryRefetches(t *testing.T) {
	c := New()
	defer c.Close()

	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c.nowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	var fetches atomic.Int64
	fetch := func(_ context.Context) ([]model.ProductRecord, error) {
		fetches.Add(1)
		return records("Eggs"), nil
	}

	ctx := context.Background()
	if _, err := c.GetOrFetch(ctx, "aldi|eggs|47906", time.Minute, fetch); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if _, err := c.GetOrFetch(ctx, "aldi|eggs|47906", time.Minute, fetch); err != nil {
		t.Fatal(err)
	}
	if fetches.Load() != 2 {
		t.Errorf("expected refetch after TTL, got %d fetches", fetches.Load())
	}
	if c.Len() != 1 {
		t.Errorf("expired entry should be replaced, len = %d", c.Len())
	}
}

func TestGetOrFetch_SingleFlight(t *testing.T) {
	c := New()
	defer c.Close()

	var fetches atomic.Int64
	release := make(chan struct{})
	fetch := func(_ context.Context) ([]model.ProductRecord, error) {
		fetches.Add(1)
		<-release
		return records("Almond Milk"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]model.ProductRecord, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "target|almond milk|47906", time.Minute, fetch)
		}()
	}

	// Give every caller time to join the flight before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if fetches.Load() != 1 {
		t.Errorf("expected exactly 1 underlying fetch, got %d", fetches.Load())
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if !reflect.DeepEqual(results[i], results[0]) {
			t.Errorf("caller %d received a different result", i)
		}
	}
}

func TestGetOrFetch_FailureNotCached(t *testing.T) {
	c := New()
	defer c.Close()

	var fetches atomic.Int64
	fetch := func(_ context.Context) ([]model.ProductRecord, error) {
		if fetches.Add(1) == 1 {
			return nil, errors.New("upstream down")
		}
		return records("Butter"), nil
	}

	ctx := context.Background()
	if _, err := c.GetOrFetch(ctx, "meijer|butter|47906", time.Minute, fetch); err == nil {
		t.Fatal("expected first fetch to fail")
	}
	if c.Len() != 0 {
		t.Errorf("failure must not be cached, len = %d", c.Len())
	}

	got, err := c.GetOrFetch(ctx, "meijer|butter|47906", time.Minute, fetch)
	if err != nil {
		t.Fatalf("second fetch should succeed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Butter" {
		t.Errorf("unexpected result %v", got)
	}
	if fetches.Load() != 2 {
		t.Errorf("expected 2 fetches, got %d", fetches.Load())
	}
}

func TestGetOrFetch_DistinctKeysDoNotShare(t *testing.T) {
	c := New()
	defer c.Close()

	var fetches atomic.Int64
	fetch := func(_ context.Context) ([]model.ProductRecord, error) {
		fetches.Add(1)
		return records("Bread"), nil
	}

	ctx := context.Background()
	if _, err := c.GetOrFetch(ctx, "kroger|bread|47906", time.Minute, fetch); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrFetch(ctx, "kroger|bread|46202", time.Minute, fetch); err != nil {
		t.Fatal(err)
	}
	if fetches.Load() != 2 {
		t.Errorf("different location keys must fetch separately, got %d", fetches.Load())
	}
}
