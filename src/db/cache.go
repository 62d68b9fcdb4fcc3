package db

import (
	"context"
	"strconv"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"fundflow-server/src/models"
)

// SummaryCache keeps budget read models keyed by budget id. Each budget has a
// generation that Invalidate bumps; a load that started before an
// invalidation never stores its result, so a stale summary cannot outlive
// the mutation that made it stale.
type SummaryCache struct {
	cache *ristretto.Cache[int64, *models.BudgetSummary]
	group singleflight.Group

	mu   sync.Mutex
	gens map[int64]uint64
}

func NewSummaryCache(maxEntries int64) (*SummaryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[int64, *models.BudgetSummary]{
		NumCounters:        maxEntries * 10, // number of keys to track frequency of
		MaxCost:            maxEntries,
		BufferItems:        64, // number of keys per Get buffer
		// Costs count entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &SummaryCache{cache: cache, gens: make(map[int64]uint64)}, nil
}

func (c *SummaryCache) generation(id int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id]
}

// Get returns the cached summary or loads it. Concurrent misses for the same
// budget share one load.
func (c *SummaryCache) Get(ctx context.Context, id int64, load func(ctx context.Context) (*models.BudgetSummary, error)) (*models.BudgetSummary, error) {
	if s, ok := c.cache.Get(id); ok {
		return s, nil
	}
	gen := c.generation(id)
	key := strconv.FormatInt(id, 10) + ":" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		s, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[id] == gen {
			c.cache.Set(id, s, 1)
		}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.BudgetSummary), nil
}

func (c *SummaryCache) Invalidate(id int64) {
	c.mu.Lock()
	c.gens[id]++
	c.cache.Del(id)
	c.mu.Unlock()
}

// Clear drops every cached summary.
func (c *SummaryCache) Clear() {
	c.mu.Lock()
	for id := range c.gens {
		c.gens[id]++
	}
	c.cache.Clear()
	c.mu.Unlock()
}

func (c *SummaryCache) Wait() {
	c.cache.Wait()
}

func (c *SummaryCache) Close() {
	c.cache.Close()
}
