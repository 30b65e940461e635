// Package reconciler implements the pure batch-reconciliation computation:
// given a window of fetched beacon data, produce the typed events a single
// batch should emit. Reconcile never suspends and never fails; per-item
// problems are folded into the result as skips plus a decode error for the
// caller to log.
package reconciler

import (
	"sort"

	"github.com/rocket-pool/beacon-watcher/internal/beacon"
	"github.com/rocket-pool/beacon-watcher/internal/events"
	"github.com/rocket-pool/beacon-watcher/internal/sszbits"
)

// inclusionWindowSlots is the number of slots after s in which an
// attestation for data.slot == s may still be included: i ranges over
// [s+1, s+32].
const inclusionWindowSlots = 32

// BatchInput carries every piece of beacon data the reconciler needs for
// one batch (Begin, End].
type BatchInput struct {
	Begin uint64 // S_begin, exclusive
	End   uint64 // S_end, inclusive

	// ProposerDuties covers the epoch range for the batch and may be
	// unfiltered; Reconcile skips duties for unmonitored validators and for
	// slots outside (Begin, End].
	ProposerDuties []beacon.ProposerDuty

	// Committees maps slot -> that slot's full committee list, for every
	// slot in (Begin, End].
	Committees map[uint64][]beacon.Committee

	// Blocks maps slot -> block, for every slot in (Begin, End+32]. A slot
	// absent from the map (or explicitly nil) is treated as a missed slot.
	Blocks map[uint64]*beacon.Block

	// MonitoredSet is the full set of monitored validator indices.
	MonitoredSet map[uint64]struct{}

	// LabelFor resolves a validator index to its configured label.
	LabelFor func(validatorIndex uint64) (string, bool)
}

// InclusionRecord is an internal record of one committee's attesting set at
// a data slot, keyed by (slot, committee_index).
type InclusionRecord struct {
	Slot           uint64
	CommitteeIndex uint64
	Attesting      map[uint64]struct{}
}

// BatchResult is everything a batch of reconciliation produces: events
// ready for the Emitter, plus the decode errors encountered along the way.
// Decode errors are never fatal; the caller logs them and moves on.
type BatchResult struct {
	Events       []events.Event
	DecodeErrors []error
}

// Reconcile runs the full reconciliation algorithm over in: proposer duties,
// then attestations, then withdrawals.
func Reconcile(in BatchInput) BatchResult {
	r := &run{in: in}
	r.reconcileProposers()
	r.reconcileAttestations()
	r.reconcileWithdrawals()
	return BatchResult{Events: r.out, DecodeErrors: r.decodeErrors}
}

type run struct {
	in           BatchInput
	out          []events.Event
	decodeErrors []error
}

// reconcileProposers compares each monitored validator's proposer duties
// against the fetched blocks, emitting BlockProposed or BlockMissed.
func (r *run) reconcileProposers() {
	type proposerEvent struct {
		slot uint64
		ev   events.Event
	}
	var pending []proposerEvent

	for _, duty := range r.in.ProposerDuties {
		if duty.Slot <= r.in.Begin || duty.Slot > r.in.End {
			continue
		}
		if _, monitored := r.in.MonitoredSet[duty.ValidatorIndex]; !monitored {
			continue
		}
		label, _ := r.in.LabelFor(duty.ValidatorIndex)

		blk := r.in.Blocks[duty.Slot]
		if blk != nil && blk.ProposerIndex == duty.ValidatorIndex {
			pending = append(pending, proposerEvent{duty.Slot, events.BlockProposed{
				Validator:       duty.ValidatorIndex,
				Label:           label,
				Slot:            duty.Slot,
				ExecBlockNumber: blk.ExecBlockNumber,
			}})
		} else {
			pending = append(pending, proposerEvent{duty.Slot, events.BlockMissed{
				Validator: duty.ValidatorIndex,
				Label:     label,
				Slot:      duty.Slot,
			}})
		}
	}

	// Proposer events are emitted in ascending slot order.
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].slot < pending[j].slot })
	for _, p := range pending {
		r.out = append(r.out, p.ev)
	}
}

// reconcileAttestations finds, for each slot in the batch, the monitored
// validators whose attestation was never included within the inclusion
// window, merging duplicate/re-aggregated attestations while building the
// attested set.
func (r *run) reconcileAttestations() {
	missedByLabel := map[string]*events.AttestationMissed{}
	var missedOrder []string

	for s := r.in.Begin + 1; s <= r.in.End; s++ {
		monitoredInS := r.monitoredValidatorsAt(s)
		if len(monitoredInS) == 0 {
			continue
		}
		attestedInS := r.attestedValidatorsAt(s)

		ascending := make([]uint64, 0, len(monitoredInS))
		for v := range monitoredInS {
			ascending = append(ascending, v)
		}
		sort.Slice(ascending, func(i, j int) bool { return ascending[i] < ascending[j] })

		for _, v := range ascending {
			if _, ok := attestedInS[v]; ok {
				// Successful inclusion produces no event; only misses do.
				continue
			}
			label, _ := r.in.LabelFor(v)
			m, exists := missedByLabel[label]
			if !exists {
				m = &events.AttestationMissed{Label: label}
				missedByLabel[label] = m
				missedOrder = append(missedOrder, label)
			}
			m.Validators = append(m.Validators, v)
			m.Slots = append(m.Slots, s)
		}
	}

	// Attestation events follow proposer events, ordered ascending
	// (slot, validator_index); since the outer loop already walks slots
	// ascending and the inner loop walks validators ascending, appending in
	// per-label arrival order preserves that within each label's group.
	for _, label := range missedOrder {
		r.out = append(r.out, *missedByLabel[label])
	}
}

// reconcileWithdrawals accumulates every monitored validator's withdrawals
// across the batch, grouped and totaled by label.
func (r *run) reconcileWithdrawals() {
	type accum struct {
		entries   []events.WithdrawalEntry
		totalGwei uint64
	}
	byLabel := map[string]*accum{}
	var order []string

	for s := r.in.Begin + 1; s <= r.in.End; s++ {
		blk := r.in.Blocks[s]
		if blk == nil {
			continue
		}
		for _, w := range blk.Withdrawals {
			if _, monitored := r.in.MonitoredSet[w.ValidatorIndex]; !monitored {
				continue
			}
			label, _ := r.in.LabelFor(w.ValidatorIndex)
			a, exists := byLabel[label]
			if !exists {
				a = &accum{}
				byLabel[label] = a
				order = append(order, label)
			}
			a.entries = append(a.entries, events.WithdrawalEntry{
				Validator:  w.ValidatorIndex,
				AmountGwei: w.AmountGwei,
				Slot:       s,
			})
			a.totalGwei += w.AmountGwei
		}
	}

	for _, label := range order {
		a := byLabel[label]
		r.out = append(r.out, events.WithdrawalsBatched{
			Label:     label,
			Entries:   a.entries,
			TotalGwei: a.totalGwei,
		})
	}
}

// monitoredValidatorsAt computes the union, across every committee at s, of
// that committee's members intersected with the monitored set.
func (r *run) monitoredValidatorsAt(s uint64) map[uint64]struct{} {
	result := map[uint64]struct{}{}
	for _, committee := range r.in.Committees[s] {
		for _, v := range committee.Validators {
			if _, monitored := r.in.MonitoredSet[v]; monitored {
				result[v] = struct{}{}
			}
		}
	}
	return result
}

// attestedValidatorsAt scans the inclusion window [s+1, s+32] and returns
// the union of attesting validator indices for data slot s, merging
// InclusionRecords that share a (slot, committee_index) join key.
func (r *run) attestedValidatorsAt(s uint64) map[uint64]struct{} {
	records := map[uint64]*InclusionRecord{} // keyed by committee index
	committeeByIndex := map[uint64][]uint64{}
	for _, c := range r.in.Committees[s] {
		committeeByIndex[c.Index] = c.Validators
	}

	for i := s + 1; i <= s+inclusionWindowSlots; i++ {
		blk := r.in.Blocks[i]
		if blk == nil {
			continue
		}
		for _, a := range blk.Attestations {
			if a.DataSlot != s {
				continue
			}
			r.mergeAttestation(a, s, committeeByIndex, records)
		}
	}

	attested := map[uint64]struct{}{}
	for _, rec := range records {
		for v := range rec.Attesting {
			attested[v] = struct{}{}
		}
	}
	return attested
}

func (r *run) mergeAttestation(a beacon.Attestation, s uint64, committeeByIndex map[uint64][]uint64, records map[uint64]*InclusionRecord) {
	if a.CommitteeBits == nil {
		// Legacy, single-committee attestation.
		committee := committeeByIndex[a.DataIndex]
		bits, err := sszbits.DecodeBitlist(a.AggregationBits, len(committee))
		if err != nil {
			r.decodeErrors = append(r.decodeErrors, err)
			return
		}
		r.mergeInto(records, s, a.DataIndex, bits, committee)
		return
	}

	// Electra multi-committee aggregate.
	sizes := make(map[int]int, len(committeeByIndex))
	for idx, members := range committeeByIndex {
		sizes[int(idx)] = len(members)
	}
	parts, err := sszbits.DecodeElectraAggregate(*a.CommitteeBits, len(committeeByIndex), a.AggregationBits, sizes)
	if err != nil {
		r.decodeErrors = append(r.decodeErrors, err)
		return
	}
	for _, part := range parts {
		committee := committeeByIndex[uint64(part.CommitteeIndex)]
		set := make([]int, 0, len(committee))
		for i := range committee {
			if part.Bits.BitAt(uint64(i)) {
				set = append(set, i)
			}
		}
		r.mergeInto(records, s, uint64(part.CommitteeIndex), set, committee)
	}
}

func (r *run) mergeInto(records map[uint64]*InclusionRecord, s uint64, committeeIndex uint64, setBits []int, committee []uint64) {
	rec, ok := records[committeeIndex]
	if !ok {
		rec = &InclusionRecord{Slot: s, CommitteeIndex: committeeIndex, Attesting: map[uint64]struct{}{}}
		records[committeeIndex] = rec
	}
	for _, i := range setBits {
		if i < 0 || i >= len(committee) {
			continue
		}
		rec.Attesting[committee[i]] = struct{}{}
	}
}
