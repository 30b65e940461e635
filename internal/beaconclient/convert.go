package beaconclient

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rocket-pool/beacon-watcher/internal/beacon"
)

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing uint64 from %q: %w", s, err)
	}
	return v, nil
}

func toDomainBlock(resp blockMessageResponse) (beacon.Block, error) {
	msg := resp.Data.Message

	slot, err := parseUint(msg.Slot)
	if err != nil {
		return beacon.Block{}, err
	}
	proposerIndex, err := parseUint(msg.ProposerIndex)
	if err != nil {
		return beacon.Block{}, err
	}

	blk := beacon.Block{
		Slot:          slot,
		ProposerIndex: proposerIndex,
	}

	for _, a := range msg.Body.Attestations {
		dataSlot, err := parseUint(a.Data.Slot)
		if err != nil {
			return beacon.Block{}, err
		}
		dataIndex, err := parseUint(a.Data.Index)
		if err != nil {
			return beacon.Block{}, err
		}
		blk.Attestations = append(blk.Attestations, beacon.Attestation{
			DataSlot:        dataSlot,
			DataIndex:       dataIndex,
			AggregationBits: a.AggregationBits,
			CommitteeBits:   a.CommitteeBits,
		})
	}

	if payload := msg.Body.ExecutionPayload; payload != nil {
		blockNumber, err := parseUint(payload.BlockNumber)
		if err != nil {
			return beacon.Block{}, err
		}
		blk.ExecBlockNumber = &blockNumber

		for _, w := range payload.Withdrawals {
			validatorIndex, err := parseUint(w.ValidatorIndex)
			if err != nil {
				return beacon.Block{}, err
			}
			amountGwei, err := parseUint(w.AmountGwei)
			if err != nil {
				return beacon.Block{}, err
			}
			blk.Withdrawals = append(blk.Withdrawals, beacon.Withdrawal{
				ValidatorIndex: validatorIndex,
				Address:        common.HexToAddress(w.Address),
				AmountGwei:     amountGwei,
			})
		}
	}

	return blk, nil
}

func toDomainCommittees(resp committeesResponse) ([]beacon.Committee, error) {
	committees := make([]beacon.Committee, 0, len(resp.Data))
	for _, entry := range resp.Data {
		slot, err := parseUint(entry.Slot)
		if err != nil {
			return nil, err
		}
		index, err := parseUint(entry.Index)
		if err != nil {
			return nil, err
		}
		validators := make([]uint64, 0, len(entry.Validators))
		for _, v := range entry.Validators {
			parsed, err := parseUint(v)
			if err != nil {
				return nil, err
			}
			validators = append(validators, parsed)
		}
		committees = append(committees, beacon.Committee{
			Slot:       slot,
			Index:      index,
			Validators: validators,
		})
	}
	return committees, nil
}

func toDomainProposerDuties(resp proposerDutiesResponse) ([]beacon.ProposerDuty, error) {
	duties := make([]beacon.ProposerDuty, 0, len(resp.Data))
	for _, entry := range resp.Data {
		slot, err := parseUint(entry.Slot)
		if err != nil {
			return nil, err
		}
		validatorIndex, err := parseUint(entry.ValidatorIndex)
		if err != nil {
			return nil, err
		}
		duties = append(duties, beacon.ProposerDuty{
			Slot:           slot,
			ValidatorIndex: validatorIndex,
		})
	}
	return duties, nil
}
