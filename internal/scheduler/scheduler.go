// Package scheduler implements the outer polling loop: safe-slot
// computation, stale-node detection, batch partitioning, pre-fetch,
// reconciliation, and cursor persistence. Run cancels via ctx.Done().
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocket-pool/beacon-watcher/internal/beacon"
	"github.com/rocket-pool/beacon-watcher/internal/beaconclient"
	"github.com/rocket-pool/beacon-watcher/internal/cursorstore"
	"github.com/rocket-pool/beacon-watcher/internal/emitter"
	"github.com/rocket-pool/beacon-watcher/internal/events"
	"github.com/rocket-pool/beacon-watcher/internal/mevlookup"
	"github.com/rocket-pool/beacon-watcher/internal/reconciler"
	"github.com/rocket-pool/beacon-watcher/log"
)

const slotsPerEpoch = 32
const slotDurationSec = 12

// Params carries the outer loop's tunables.
type Params struct {
	BatchSize             uint64
	PollingInterval       time.Duration
	EpochsBeforeFinal     uint64
	StaleThresholdSlots   uint64
	NotificationRateLimit time.Duration
	GenesisTime           uint64
}

// Scheduler owns every collaborator the outer loop drives.
type Scheduler struct {
	params       Params
	client       *beaconclient.Client
	cursor       *cursorstore.Store
	emitter      *emitter.Emitter
	rewardLookup mevlookup.RewardLookup
	monitoredSet map[uint64]struct{}
	labelFor     func(uint64) (string, bool)
	logger       *log.Logger

	now func() time.Time

	lastStaleEmitAt time.Time
}

// New constructs a Scheduler.
func New(params Params, client *beaconclient.Client, cursor *cursorstore.Store, em *emitter.Emitter, rewardLookup mevlookup.RewardLookup, monitoredSet map[uint64]struct{}, labelFor func(uint64) (string, bool), logger *log.Logger) *Scheduler {
	return &Scheduler{
		params:       params,
		client:       client,
		cursor:       cursor,
		emitter:      em,
		rewardLookup: rewardLookup,
		monitoredSet: monitoredSet,
		labelFor:     labelFor,
		logger:       logger,
		now:          time.Now,
	}
}

// Run polls until ctx is cancelled or a tick fails (the head-slot fetch or
// a cursor write), in which case it returns that error.
func (s *Scheduler) Run(ctx context.Context, cursorInitial uint64) error {
	cursor, err := s.cursor.Load(cursorInitial)
	if err != nil {
		return fmt.Errorf("error loading cursor: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next, err := s.tick(ctx, cursor)
		if err != nil {
			return err
		}
		cursor = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.params.PollingInterval):
		}
	}
}

// tick runs one iteration of the polling loop and returns the cursor value
// to resume from.
func (s *Scheduler) tick(ctx context.Context, cursor uint64) (uint64, error) {
	headSlot, err := s.client.HeadSlot(ctx)
	if err != nil {
		return cursor, fmt.Errorf("error fetching head slot: %w", err)
	}

	s.checkStale(headSlot)

	headEpoch := headSlot / slotsPerEpoch
	safeEpoch := uint64(0)
	if headEpoch > s.params.EpochsBeforeFinal {
		safeEpoch = headEpoch - s.params.EpochsBeforeFinal
	}
	safeSlot := safeEpoch * slotsPerEpoch

	if safeSlot <= cursor {
		return cursor, nil
	}

	target := safeSlot
	for begin := cursor; begin < target; {
		end := begin + s.params.BatchSize
		if end > target {
			end = target
		}

		if err := s.runBatch(ctx, begin, end); err != nil {
			if s.logger != nil {
				s.logger.Error("batch failed, advancing cursor anyway",
					slog.Uint64("batch_begin", begin),
					slog.Uint64("batch_end", end),
					log.Err(err),
				)
			}
			batchBegin, batchEnd := begin, end
			s.emitter.Emit(events.InternalError{
				Message:    err.Error(),
				BatchBegin: &batchBegin,
				BatchEnd:   &batchEnd,
			})
		}

		// At-most-once: the cursor advances past a failing batch so the
		// system stays live rather than retrying it forever.
		if err := s.cursor.Save(end); err != nil {
			return begin, fmt.Errorf("error persisting cursor at %d: %w", end, err)
		}
		begin = end
	}

	return target, nil
}

// checkStale compares the current wall-clock slot against the beacon
// node's reported head and emits a NodeStale event if it has fallen too far
// behind.
func (s *Scheduler) checkStale(headSlot uint64) {
	now := s.now()
	expectedSlot := uint64(now.Unix()-int64(s.params.GenesisTime)) / slotDurationSec
	if expectedSlot <= headSlot {
		return
	}
	slotsBehind := expectedSlot - headSlot
	if slotsBehind <= s.params.StaleThresholdSlots {
		return
	}
	if !s.lastStaleEmitAt.IsZero() && now.Sub(s.lastStaleEmitAt) < s.params.NotificationRateLimit {
		return
	}
	s.lastStaleEmitAt = now
	s.emitter.Emit(events.NodeStale{SlotsBehind: slotsBehind})
}

// runBatch pre-fetches committees, proposer duties, and blocks for the
// batch range, reconciles them, and emits the resulting events.
func (s *Scheduler) runBatch(ctx context.Context, begin, end uint64) error {
	committeeSlots := slotRange(begin+1, end+slotsPerEpoch)
	committees, err := s.client.FetchCommittees(ctx, committeeSlots)
	if err != nil {
		return fmt.Errorf("error pre-fetching committees: %w", err)
	}

	duties, err := s.fetchProposerDuties(ctx, begin, end)
	if err != nil {
		return fmt.Errorf("error fetching proposer duties: %w", err)
	}

	blockSlots := slotRange(begin+1, end+slotsPerEpoch)
	blocks, err := s.client.FetchBlocks(ctx, blockSlots)
	if err != nil {
		return fmt.Errorf("error fetching blocks: %w", err)
	}

	result := reconciler.Reconcile(reconciler.BatchInput{
		Begin:          begin,
		End:            end,
		ProposerDuties: duties,
		Committees:     committees,
		Blocks:         blocks,
		MonitoredSet:   s.monitoredSet,
		LabelFor:       s.labelFor,
	})

	for _, decodeErr := range result.DecodeErrors {
		if s.logger != nil {
			s.logger.Warn("discarding malformed attestation", log.Err(decodeErr))
		}
	}

	s.emitter.EmitAll(result.Events)

	for _, ev := range result.Events {
		if proposed, ok := ev.(events.BlockProposed); ok {
			mevlookup.Enrich(ctx, s.rewardLookup, s.logger, proposed)
		}
	}

	return nil
}

func (s *Scheduler) fetchProposerDuties(ctx context.Context, begin, end uint64) ([]beacon.ProposerDuty, error) {
	beginEpoch := begin / slotsPerEpoch
	endEpoch := end / slotsPerEpoch

	var duties []beacon.ProposerDuty
	for epoch := beginEpoch; epoch <= endEpoch; epoch++ {
		epochDuties, ok, err := s.client.ProposerDuties(ctx, epoch)
		if err != nil {
			return nil, fmt.Errorf("error fetching proposer duties for epoch %d: %w", epoch, err)
		}
		if !ok {
			continue
		}
		duties = append(duties, epochDuties...)
	}
	return duties, nil
}

func slotRange(begin, end uint64) []uint64 {
	if end < begin {
		return nil
	}
	slots := make([]uint64, 0, end-begin+1)
	for s := begin; s <= end; s++ {
		slots = append(slots, s)
	}
	return slots
}
