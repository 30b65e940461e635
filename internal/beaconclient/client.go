package beaconclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rocket-pool/beacon-watcher/internal/beacon"
	"github.com/rocket-pool/beacon-watcher/internal/cache"
	"github.com/rocket-pool/beacon-watcher/log"
)

// Options configures a Client.
type Options struct {
	BeaconURL             string
	MaxConcurrentRequests int
	BlockCache            cache.Options
	CommitteeCache        cache.Options
	Provider              *ProviderOpts
	Logger                *log.Logger
}

// Client is the single entry point the reconciler and scheduler use to
// reach the beacon node. It layers a bounded cache and single-flight
// deduplication over the raw provider; concurrency across a batch is capped
// by an errgroup.Group with SetLimit.
type Client struct {
	provider *provider

	blockCache     *cache.Cache[*beacon.Block]
	committeeCache *cache.Cache[[]beacon.Committee]

	blockFlight     singleflight.Group
	committeeFlight singleflight.Group

	maxConcurrentRequests int
	logger                *log.Logger
}

// New constructs a Client against the given beacon node base URL.
func New(opts Options) (*Client, error) {
	p, err := newProvider(opts.BeaconURL, opts.Provider)
	if err != nil {
		return nil, err
	}

	maxConcurrent := opts.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Client{
		provider:              p,
		blockCache:            cache.New[*beacon.Block](opts.BlockCache),
		committeeCache:        cache.New[[]beacon.Committee](opts.CommitteeCache),
		maxConcurrentRequests: maxConcurrent,
		logger:                opts.Logger,
	}, nil
}

// Close releases the background sweep goroutines owned by the caches.
func (c *Client) Close() {
	c.blockCache.Close()
	c.committeeCache.Close()
}

// HeadSlot returns the beacon node's current head slot. Never cached: the
// head moves every slot.
func (c *Client) HeadSlot(ctx context.Context) (uint64, error) {
	return c.provider.headSlot(ctx)
}

// Block returns the block at slot, or nil if the slot was missed. Results
// are cached indefinitely (within the cache's TTL/size bounds) since a
// given slot's outcome never changes once finalized.
func (c *Client) Block(ctx context.Context, slot uint64) (*beacon.Block, error) {
	if cached, ok := c.blockCache.Get(slot); ok {
		return cached, nil
	}

	key := fmt.Sprintf("block:%d", slot)
	result, err, _ := c.blockFlight.Do(key, func() (any, error) {
		resp, ok, err := c.provider.block(ctx, slot)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.blockCache.Set(slot, nil)
			return (*beacon.Block)(nil), nil
		}

		blk, err := toDomainBlock(resp)
		if err != nil {
			return nil, fmt.Errorf("error converting block for slot %d: %w", slot, err)
		}
		c.blockCache.Set(slot, &blk)
		return &blk, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*beacon.Block), nil
}

// Committees returns the ordered committee list for slot, or (nil, false)
// if the slot was not found (404, logged, skipped). Any other fetch failure
// is returned as an error rather than treated as a skip. A negative result
// is not cached, so it is retried on every call.
func (c *Client) Committees(ctx context.Context, slot uint64) ([]beacon.Committee, bool, error) {
	if cached, ok := c.committeeCache.Get(slot); ok {
		return cached, true, nil
	}

	key := fmt.Sprintf("committees:%d", slot)
	result, err, _ := c.committeeFlight.Do(key, func() (any, error) {
		resp, ok, err := c.provider.committees(ctx, slot)
		if err != nil {
			return nil, err
		}
		if !ok {
			if c.logger != nil {
				c.logger.Warn("skipping slot, committees not found", slog.Uint64("slot", slot))
			}
			return ([]beacon.Committee)(nil), nil
		}

		committees, err := toDomainCommittees(resp)
		if err != nil {
			return nil, fmt.Errorf("error converting committees for slot %d: %w", slot, err)
		}
		c.committeeCache.Set(slot, committees)
		return committees, nil
	})
	if err != nil {
		return nil, false, err
	}
	committees, ok := result.([]beacon.Committee)
	return committees, ok && committees != nil, nil
}

// ProposerDuties returns the proposer duty schedule for epoch, or (nil,
// false) if the epoch was not found (404, logged, skipped). Any other fetch
// failure is returned as an error rather than treated as a skip.
func (c *Client) ProposerDuties(ctx context.Context, epoch uint64) ([]beacon.ProposerDuty, bool, error) {
	resp, ok, err := c.provider.proposerDuties(ctx, epoch)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if c.logger != nil {
			c.logger.Warn("skipping epoch, proposer duties not found", slog.Uint64("epoch", epoch))
		}
		return nil, false, nil
	}

	duties, err := toDomainProposerDuties(resp)
	if err != nil {
		return nil, false, fmt.Errorf("error converting proposer duties for epoch %d: %w", epoch, err)
	}
	return duties, true, nil
}

// FetchBlocks fetches every slot in slots concurrently, bounded by the
// client's configured max concurrent requests. A missed slot is present in
// the returned map with a nil block.
func (c *Client) FetchBlocks(ctx context.Context, slots []uint64) (map[uint64]*beacon.Block, error) {
	results := make(map[uint64]*beacon.Block, len(slots))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrentRequests)

	for _, slot := range slots {
		slot := slot
		g.Go(func() error {
			blk, err := c.Block(ctx, slot)
			if err != nil {
				return fmt.Errorf("error fetching block for slot %d: %w", slot, err)
			}
			mu.Lock()
			results[slot] = blk
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchCommittees fetches committees for every slot in slots concurrently,
// bounded the same way as FetchBlocks. Slots whose committees the beacon
// node answered with a 404 are omitted from the result; any other fetch
// failure aborts the call with an error.
func (c *Client) FetchCommittees(ctx context.Context, slots []uint64) (map[uint64][]beacon.Committee, error) {
	results := make(map[uint64][]beacon.Committee, len(slots))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrentRequests)

	for _, slot := range slots {
		slot := slot
		g.Go(func() error {
			committees, ok, err := c.Committees(ctx, slot)
			if err != nil {
				return fmt.Errorf("error fetching committees for slot %d: %w", slot, err)
			}
			if !ok {
				return nil
			}
			mu.Lock()
			results[slot] = committees
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
