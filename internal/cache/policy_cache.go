// Package cache implements the three-tier read-through site policy cache:
// an in-process LRU in front of a distributed KV in front of the source of
// truth, with cross-instance invalidation over a pub/sub bus.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/metrics"
	"github.com/japperJ/geogate/internal/models"
)

// InvalidationChannel is the well-known bus channel carrying invalidated
// hostnames.
const InvalidationChannel = "geogate:policy:invalidate"

const kvKeyPrefix = "geogate:policy:"

// Loader reads a policy from the source of truth. A nil policy with nil error
// means the hostname has no policy configured.
type Loader func(ctx context.Context, hostname string) (*models.SitePolicy, error)

// Stats is a snapshot of per-tier hit counters.
type Stats struct {
	MemoryHits      uint64  `json:"memory_hits"`
	DistributedHits uint64  `json:"distributed_hits"`
	SourceHits      uint64  `json:"source_hits"`
	HitRate         float64 `json:"hit_rate"`
}

type memoryEntry struct {
	policy  *models.SitePolicy
	expires time.Time
}

// Options tunes the cache tiers.
type Options struct {
	MemorySize     int
	MemoryTTL      time.Duration
	DistributedTTL time.Duration
}

// PolicyCache resolves hostnames to site policies. Cached policies are
// treated as immutable snapshots: readers always see one consistent policy,
// never a mix of stale and fresh fields.
type PolicyCache struct {
	memory *lru.Cache[string, memoryEntry]
	kv     KV
	bus    Bus
	loader Loader

	memoryTTL      time.Duration
	distributedTTL time.Duration

	memoryHits      atomic.Uint64
	distributedHits atomic.Uint64
	sourceHits      atomic.Uint64
}

// New builds a policy cache over the given distributed KV, invalidation bus
// and source-of-truth loader.
func New(kv KV, bus Bus, loader Loader, opts Options) (*PolicyCache, error) {
	if opts.MemorySize <= 0 {
		opts.MemorySize = 1000
	}
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = 60 * time.Second
	}
	if opts.DistributedTTL <= 0 {
		opts.DistributedTTL = 300 * time.Second
	}

	memory, err := lru.New[string, memoryEntry](opts.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("create memory tier: %w", err)
	}

	return &PolicyCache{
		memory:         memory,
		kv:             kv,
		bus:            bus,
		loader:         loader,
		memoryTTL:      opts.MemoryTTL,
		distributedTTL: opts.DistributedTTL,
	}, nil
}

// Start subscribes to the invalidation channel. Any instance may publish; all
// instances evict the named hostname from their local memory tier.
func (c *PolicyCache) Start(ctx context.Context) error {
	return c.bus.Subscribe(ctx, InvalidationChannel, func(hostname string) {
		c.memory.Remove(hostname)
		logger.WithFields(map[string]interface{}{"hostname": hostname}).
			Debug("evicted policy from memory tier on broadcast")
	})
}

// Get resolves the policy for a hostname, reading through the tiers. A miss
// at the memory tier that hits the distributed tier repopulates the memory
// tier; a full miss populates both after reading the source of truth. A nil
// policy with nil error means the hostname is unknown.
func (c *PolicyCache) Get(ctx context.Context, hostname string) (*models.SitePolicy, error) {
	if entry, ok := c.memory.Get(hostname); ok && time.Now().Before(entry.expires) {
		// Access refreshes age.
		c.memory.Add(hostname, memoryEntry{policy: entry.policy, expires: time.Now().Add(c.memoryTTL)})
		c.memoryHits.Add(1)
		metrics.IncCacheHit("memory")
		return entry.policy, nil
	}

	if raw, ok, err := c.kv.Get(ctx, kvKeyPrefix+hostname); err != nil {
		logger.WithFields(map[string]interface{}{"hostname": hostname, "error": err.Error()}).
			Warn("distributed cache read failed, falling through to source")
	} else if ok {
		var policy models.SitePolicy
		if err := json.Unmarshal([]byte(raw), &policy); err != nil {
			logger.WithFields(map[string]interface{}{"hostname": hostname, "error": err.Error()}).
				Warn("corrupt distributed cache entry, falling through to source")
		} else {
			c.memory.Add(hostname, memoryEntry{policy: &policy, expires: time.Now().Add(c.memoryTTL)})
			c.distributedHits.Add(1)
			metrics.IncCacheHit("distributed")
			return &policy, nil
		}
	}

	policy, err := c.loader(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("load policy for %q: %w", hostname, err)
	}
	c.sourceHits.Add(1)
	metrics.IncCacheHit("source")

	if policy != nil {
		c.memory.Add(hostname, memoryEntry{policy: policy, expires: time.Now().Add(c.memoryTTL)})
		if raw, err := json.Marshal(policy); err == nil {
			if err := c.kv.Set(ctx, kvKeyPrefix+hostname, string(raw), c.distributedTTL); err != nil {
				logger.WithFields(map[string]interface{}{"hostname": hostname, "error": err.Error()}).
					Warn("distributed cache write failed")
			}
		}
	}

	return policy, nil
}

// Invalidate evicts the hostname from both tiers and broadcasts so every
// other instance drops its process-local copy. Required after any policy
// mutation: the memory tier would otherwise serve stale rules until its TTL.
func (c *PolicyCache) Invalidate(ctx context.Context, hostname string) error {
	c.memory.Remove(hostname)
	if err := c.kv.Del(ctx, kvKeyPrefix+hostname); err != nil {
		return fmt.Errorf("evict distributed tier: %w", err)
	}
	if err := c.bus.Publish(ctx, InvalidationChannel, hostname); err != nil {
		return fmt.Errorf("broadcast invalidation: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the per-tier hit counters. Used for capacity
// planning, not correctness.
func (c *PolicyCache) Stats() Stats {
	mem := c.memoryHits.Load()
	dist := c.distributedHits.Load()
	src := c.sourceHits.Load()

	stats := Stats{MemoryHits: mem, DistributedHits: dist, SourceHits: src}
	if total := mem + dist + src; total > 0 {
		stats.HitRate = float64(mem+dist) / float64(total)
	}
	return stats
}
