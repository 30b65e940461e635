package reconciler

import (
	"testing"

	"github.com/rocket-pool/beacon-watcher/internal/beacon"
	"github.com/rocket-pool/beacon-watcher/internal/events"
)

func labelFor(set map[uint64]string) func(uint64) (string, bool) {
	return func(v uint64) (string, bool) {
		l, ok := set[v]
		return l, ok
	}
}

func monitoredSet(indices ...uint64) map[uint64]struct{} {
	s := make(map[uint64]struct{}, len(indices))
	for _, v := range indices {
		s[v] = struct{}{}
	}
	return s
}

func TestReconcileProposalSuccess(t *testing.T) {
	execBlock := uint64(500)
	in := BatchInput{
		Begin:          199,
		End:            200,
		ProposerDuties: []beacon.ProposerDuty{{Slot: 200, ValidatorIndex: 100}},
		Committees:     map[uint64][]beacon.Committee{},
		Blocks: map[uint64]*beacon.Block{
			200: {Slot: 200, ProposerIndex: 100, ExecBlockNumber: &execBlock},
		},
		MonitoredSet: monitoredSet(100),
		LabelFor:     labelFor(map[uint64]string{100: "node-a"}),
	}

	result := Reconcile(in)
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(result.Events), result.Events)
	}
	proposed, ok := result.Events[0].(events.BlockProposed)
	if !ok {
		t.Fatalf("event = %T, want events.BlockProposed", result.Events[0])
	}
	if proposed.Validator != 100 || proposed.Slot != 200 || proposed.ExecBlockNumber == nil || *proposed.ExecBlockNumber != 500 {
		t.Errorf("BlockProposed = %+v, want validator 100 slot 200 exec_block 500", proposed)
	}
}

func TestReconcileProposalMiss(t *testing.T) {
	in := BatchInput{
		Begin:          199,
		End:            200,
		ProposerDuties: []beacon.ProposerDuty{{Slot: 200, ValidatorIndex: 100}},
		Committees:     map[uint64][]beacon.Committee{},
		Blocks:         map[uint64]*beacon.Block{}, // tombstone: absent
		MonitoredSet:   monitoredSet(100),
		LabelFor:       labelFor(map[uint64]string{100: "node-a"}),
	}

	result := Reconcile(in)
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(result.Events), result.Events)
	}
	missed, ok := result.Events[0].(events.BlockMissed)
	if !ok {
		t.Fatalf("event = %T, want events.BlockMissed", result.Events[0])
	}
	if missed.Validator != 100 || missed.Slot != 200 {
		t.Errorf("BlockMissed = %+v, want validator 100 slot 200", missed)
	}
}

func TestReconcileLegacyAttestationHit(t *testing.T) {
	in := BatchInput{
		Begin: 299,
		End:   300,
		Committees: map[uint64][]beacon.Committee{
			300: {{Slot: 300, Index: 2, Validators: []uint64{100, 200, 300, 400}}},
		},
		Blocks: map[uint64]*beacon.Block{
			305: {
				Slot: 305,
				Attestations: []beacon.Attestation{
					{DataSlot: 300, DataIndex: 2, AggregationBits: "0x1b"},
				},
			},
		},
		MonitoredSet: monitoredSet(100, 300, 400),
		LabelFor:     labelFor(map[uint64]string{100: "a", 300: "a", 400: "a"}),
	}

	result := Reconcile(in)
	if len(result.DecodeErrors) != 0 {
		t.Fatalf("unexpected decode errors: %v", result.DecodeErrors)
	}
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1 (batched AttestationMissed): %+v", len(result.Events), result.Events)
	}
	missed, ok := result.Events[0].(events.AttestationMissed)
	if !ok {
		t.Fatalf("event = %T, want events.AttestationMissed", result.Events[0])
	}
	if len(missed.Validators) != 1 || missed.Validators[0] != 300 {
		t.Errorf("AttestationMissed.Validators = %v, want [300]", missed.Validators)
	}
}

func TestReconcileElectraMultiCommittee(t *testing.T) {
	committeeBits := "0x0A"
	in := BatchInput{
		Begin: 399,
		End:   400,
		Committees: map[uint64][]beacon.Committee{
			400: {
				{Slot: 400, Index: 0, Validators: []uint64{1, 2}},
				{Slot: 400, Index: 1, Validators: []uint64{11, 12}},
				{Slot: 400, Index: 2, Validators: []uint64{21, 22, 23}},
				{Slot: 400, Index: 3, Validators: []uint64{31, 32}},
			},
		},
		Blocks: map[uint64]*beacon.Block{
			405: {
				Slot: 405,
				Attestations: []beacon.Attestation{
					{DataSlot: 400, AggregationBits: "0x17", CommitteeBits: &committeeBits},
				},
			},
		},
		MonitoredSet: monitoredSet(11, 12, 31, 32),
		LabelFor:     labelFor(map[uint64]string{11: "a", 12: "a", 31: "a", 32: "a"}),
	}

	result := Reconcile(in)
	if len(result.DecodeErrors) != 0 {
		t.Fatalf("unexpected decode errors: %v", result.DecodeErrors)
	}
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1 (batched AttestationMissed): %+v", len(result.Events), result.Events)
	}
	missed, ok := result.Events[0].(events.AttestationMissed)
	if !ok {
		t.Fatalf("event = %T, want events.AttestationMissed", result.Events[0])
	}
	if len(missed.Validators) != 1 || missed.Validators[0] != 32 {
		t.Errorf("AttestationMissed.Validators = %v, want [32]", missed.Validators)
	}
}

func TestReconcileInclusionWindowEdge(t *testing.T) {
	// Attestation for slot s included at s+32 counts; at s+33 it does not.
	const s = uint64(1000)

	withinWindow := BatchInput{
		Begin: s - 1,
		End:   s,
		Committees: map[uint64][]beacon.Committee{
			s: {{Slot: s, Index: 0, Validators: []uint64{7}}},
		},
		Blocks: map[uint64]*beacon.Block{
			s + 32: {Slot: s + 32, Attestations: []beacon.Attestation{
				{DataSlot: s, DataIndex: 0, AggregationBits: "0x03"},
			}},
		},
		MonitoredSet: monitoredSet(7),
		LabelFor:     labelFor(map[uint64]string{7: "a"}),
	}
	result := Reconcile(withinWindow)
	if len(result.Events) != 0 {
		t.Fatalf("window-edge inclusion produced events, want none (fully included): %+v", result.Events)
	}

	outsideWindow := withinWindow
	outsideWindow.Blocks = map[uint64]*beacon.Block{
		s + 33: {Slot: s + 33, Attestations: []beacon.Attestation{
			{DataSlot: s, DataIndex: 0, AggregationBits: "0x03"},
		}},
	}
	result = Reconcile(outsideWindow)
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1 (AttestationMissed): %+v", len(result.Events), result.Events)
	}
	if _, ok := result.Events[0].(events.AttestationMissed); !ok {
		t.Fatalf("event = %T, want events.AttestationMissed", result.Events[0])
	}
}

func TestReconcileWithdrawalsBatchedByLabel(t *testing.T) {
	in := BatchInput{
		Begin:      499,
		End:        500,
		Committees: map[uint64][]beacon.Committee{},
		Blocks: map[uint64]*beacon.Block{
			500: {Slot: 500, Withdrawals: []beacon.Withdrawal{
				{ValidatorIndex: 100, AmountGwei: 1000},
				{ValidatorIndex: 200, AmountGwei: 2000},
			}},
		},
		MonitoredSet: monitoredSet(100, 200),
		LabelFor:     labelFor(map[uint64]string{100: "node-a", 200: "node-b"}),
	}

	result := Reconcile(in)
	if len(result.Events) != 2 {
		t.Fatalf("got %d events, want 2 withdrawal batches: %+v", len(result.Events), result.Events)
	}
	for _, ev := range result.Events {
		w, ok := ev.(events.WithdrawalsBatched)
		if !ok {
			t.Fatalf("event = %T, want events.WithdrawalsBatched", ev)
		}
		if len(w.Entries) != 1 {
			t.Errorf("WithdrawalsBatched(%s).Entries = %+v, want 1 entry", w.Label, w.Entries)
		}
	}
}

func TestReconcileOrderingProposersBeforeAttestationsBeforeWithdrawals(t *testing.T) {
	in := BatchInput{
		Begin:          599,
		End:            600,
		ProposerDuties: []beacon.ProposerDuty{{Slot: 600, ValidatorIndex: 1}},
		Committees: map[uint64][]beacon.Committee{
			600: {{Slot: 600, Index: 0, Validators: []uint64{2}}},
		},
		Blocks: map[uint64]*beacon.Block{
			600: {Slot: 600, ProposerIndex: 1, Withdrawals: []beacon.Withdrawal{
				{ValidatorIndex: 3, AmountGwei: 10},
			}},
		},
		MonitoredSet: monitoredSet(1, 2, 3),
		LabelFor:     labelFor(map[uint64]string{1: "a", 2: "a", 3: "a"}),
	}

	result := Reconcile(in)
	if len(result.Events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(result.Events), result.Events)
	}
	if _, ok := result.Events[0].(events.BlockProposed); !ok {
		t.Errorf("Events[0] = %T, want BlockProposed", result.Events[0])
	}
	if _, ok := result.Events[1].(events.AttestationMissed); !ok {
		t.Errorf("Events[1] = %T, want AttestationMissed", result.Events[1])
	}
	if _, ok := result.Events[2].(events.WithdrawalsBatched); !ok {
		t.Errorf("Events[2] = %T, want WithdrawalsBatched", result.Events[2])
	}
}

func TestReconcileDedupAcrossReaggregation(t *testing.T) {
	// Two inclusion blocks both carry an attestation for (slot=700, index=0);
	// their attesting sets must be unioned, not double-counted.
	in := BatchInput{
		Begin: 699,
		End:   700,
		Committees: map[uint64][]beacon.Committee{
			700: {{Slot: 700, Index: 0, Validators: []uint64{1, 2, 3, 4}}},
		},
		Blocks: map[uint64]*beacon.Block{
			701: {Slot: 701, Attestations: []beacon.Attestation{
				{DataSlot: 700, DataIndex: 0, AggregationBits: "0x03"}, // delimiter bit1, data bit0=1 -> validator 1
			}},
			702: {Slot: 702, Attestations: []beacon.Attestation{
				{DataSlot: 700, DataIndex: 0, AggregationBits: "0x05"}, // delimiter bit2, data bits [1,0] -> validator 1 (idx0)
			}},
		},
		MonitoredSet: monitoredSet(1, 2, 3, 4),
		LabelFor:     labelFor(map[uint64]string{1: "a", 2: "a", 3: "a", 4: "a"}),
	}

	result := Reconcile(in)
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1 batched AttestationMissed", len(result.Events))
	}
	missed := result.Events[0].(events.AttestationMissed)
	want := map[uint64]bool{2: true, 3: true, 4: true}
	if len(missed.Validators) != len(want) {
		t.Fatalf("AttestationMissed.Validators = %v, want members of %v", missed.Validators, want)
	}
	for _, v := range missed.Validators {
		if !want[v] {
			t.Errorf("unexpected missed validator %d", v)
		}
	}
}
