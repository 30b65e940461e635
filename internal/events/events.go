// Package events defines the typed events the ingester emits to the
// external notification sink.
package events

// Category groups events for rate limiting; only NodeStale and
// InternalError carry a process-wide rate limit, but every event carries a
// Category so the Emitter can dispatch on it uniformly.
type Category string

const (
	CategoryBlockProposed     Category = "block_proposed"
	CategoryBlockMissed       Category = "block_missed"
	CategoryAttestationMissed Category = "attestation_missed"
	CategoryWithdrawals       Category = "withdrawals_batched"
	CategoryNodeStale         Category = "node_stale"
	CategoryInternalError     Category = "internal_error"
)

// Event is the common interface implemented by every emitted event.
type Event interface {
	Category() Category
}

// BlockProposed fires when a monitored validator's proposer duty was
// fulfilled.
type BlockProposed struct {
	Validator         uint64
	Label             string
	Slot              uint64
	ExecBlockNumber   *uint64
}

func (BlockProposed) Category() Category { return CategoryBlockProposed }

// BlockMissed fires when a monitored validator's proposer duty was not
// fulfilled.
type BlockMissed struct {
	Validator uint64
	Label     string
	Slot      uint64
}

func (BlockMissed) Category() Category { return CategoryBlockMissed }

// AttestationMissed is emitted grouped by label, per batch. There is no
// corresponding "attestation included" event: successful inclusion is
// tracked internally by the reconciler and never crosses the notifier
// boundary.
type AttestationMissed struct {
	Label      string
	Validators []uint64
	Slots      []uint64
}

func (AttestationMissed) Category() Category { return CategoryAttestationMissed }

// WithdrawalEntry is one accumulated withdrawal within a WithdrawalsBatched
// event.
type WithdrawalEntry struct {
	Validator  uint64
	AmountGwei uint64
	Slot       uint64
}

// WithdrawalsBatched is emitted grouped by label, per batch.
type WithdrawalsBatched struct {
	Label      string
	Entries    []WithdrawalEntry
	TotalGwei  uint64
}

func (WithdrawalsBatched) Category() Category { return CategoryWithdrawals }

// NodeStale fires when the beacon node's head is lagging wall-clock beyond
// the configured threshold.
type NodeStale struct {
	SlotsBehind uint64
}

func (NodeStale) Category() Category { return CategoryNodeStale }

// InternalError fires when a batch-level failure occurs.
type InternalError struct {
	Message    string
	BatchBegin *uint64
	BatchEnd   *uint64
}

func (InternalError) Category() Category { return CategoryInternalError }
