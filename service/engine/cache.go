package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heronlabs/heron/service/ledger"
	"github.com/heronlabs/heron/service/metrics"
)

// BalanceCache holds the believed-spendable unspent outputs per wallet
// address. It is a performance and coordination aid, not a correctness
// mechanism: the per-wallet worker serialization guarantees one address is
// only ever read and mutated by one build at a time, so the mutex here only
// protects the map itself for concurrent different addresses.
type BalanceCache struct {
	client  ledger.ChainClient
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	outputs   []ledger.UnspentOutput
	fetchedAt time.Time
	valid     bool
}

// NewBalanceCache creates a cache backed by the given ledger data provider.
// Entries older than ttl are treated as misses.
func NewBalanceCache(client ledger.ChainClient, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *BalanceCache {
	return &BalanceCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With("component", "balance_cache"),
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the cached unspent outputs for an address, refreshing from
// the ledger when the entry is missing, invalidated or stale.
func (c *BalanceCache) Get(ctx context.Context, address string) ([]ledger.UnspentOutput, error) {
	c.mu.Lock()
	entry, ok := c.entries[address]
	if ok && entry.valid && time.Since(entry.fetchedAt) < c.ttl {
		outputs := entry.outputs
		c.mu.Unlock()
		return outputs, nil
	}
	c.mu.Unlock()

	return c.Refresh(ctx, address, "miss")
}

// Refresh fetches the complete unspent-output set from the ledger and
// replaces the cached entry atomically. The trigger labels the refresh for
// metrics (miss, retry, startup).
func (c *BalanceCache) Refresh(ctx context.Context, address string, trigger string) ([]ledger.UnspentOutput, error) {
	outputs, err := c.client.ListUnspentOutputs(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("refresh unspent outputs for %s: %w", address, err)
	}

	c.mu.Lock()
	c.entries[address] = &cacheEntry{outputs: outputs, fetchedAt: time.Now(), valid: true}
	c.mu.Unlock()

	c.metrics.RecordCacheRefresh(trigger)
	c.logger.DebugContext(ctx, "balance cache refreshed",
		"address", address,
		"outputs", len(outputs),
		"trigger", trigger,
	)
	return outputs, nil
}

// Put replaces the cached set for an address. Used after a successful
// submission to drop consumed inputs and append produced change.
func (c *BalanceCache) Put(address string, outputs []ledger.UnspentOutput) {
	c.mu.Lock()
	c.entries[address] = &cacheEntry{outputs: outputs, fetchedAt: time.Now(), valid: true}
	c.mu.Unlock()
}

// Invalidate marks an address's entry as stale; the next Get refreshes.
func (c *BalanceCache) Invalidate(address string) {
	c.mu.Lock()
	if entry, ok := c.entries[address]; ok {
		entry.valid = false
	}
	c.mu.Unlock()
}
