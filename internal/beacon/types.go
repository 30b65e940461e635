// Package beacon holds the plain domain types shared by the beacon client,
// the cache, and the reconciler. Kept as flat structs rather than
// interfaces, the way response shapes are modeled elsewhere in this
// module.
package beacon

import "github.com/ethereum/go-ethereum/common"

// Block is a retrieved beacon block. A missed slot is represented by the
// cache as a tombstone, not by this type's zero value — see
// internal/cache and internal/beaconclient.
type Block struct {
	Slot            uint64
	ProposerIndex   uint64
	ExecBlockNumber *uint64
	Attestations    []Attestation
	Withdrawals     []Withdrawal
}

// Attestation is one attestation as included in a block.
type Attestation struct {
	DataSlot        uint64
	DataIndex       uint64
	AggregationBits string
	CommitteeBits   *string // present iff post-Electra
}

// Withdrawal is a beacon-chain withdrawal payout. The execution-layer
// withdrawal address is an Ethereum address proper, not an opaque string,
// so downstream consumers get checksum formatting and equality for free.
type Withdrawal struct {
	ValidatorIndex uint64
	Address        common.Address
	AmountGwei     uint64
}

// Committee is one committee assignment for a slot.
type Committee struct {
	Slot       uint64
	Index      uint64
	Validators []uint64
}

// ProposerDuty assigns a validator to propose at a slot.
type ProposerDuty struct {
	Slot           uint64
	ValidatorIndex uint64
}
