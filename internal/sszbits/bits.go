// Package sszbits decodes the SSZ bitlist/bitvector encodings used by
// consensus-layer attestations. It is pure and side-effect free: given a
// hex string and a declared size, it returns the set of positions that are
// set, with no I/O and no mutable state.
package sszbits

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/prysmaticlabs/go-bitfield"
)

// DecodeError reports a malformed SSZ bit structure. The offending
// attestation should be discarded; it must never abort the surrounding
// batch.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ssz decode error: %s", e.Reason)
}

var errNoSetBit = errors.New("ssz decode error: no set bit found (missing delimiter)")

// decodeHex strips an optional "0x" prefix and parses the remainder as hex.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid hex string: %v", err)}
	}
	return b, nil
}

// bitAt reports whether bit i is set, using the SSZ LSB-first-per-byte rule:
// bit i of byte j is at position 8*j + i.
func bitAt(data []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(data) {
		return false
	}
	return data[byteIdx]&(1<<(uint(i)%8)) != 0
}

// highestSetBit returns the index of the highest set bit in data, or -1 if
// no bit is set.
func highestSetBit(data []byte) int {
	for byteIdx := len(data) - 1; byteIdx >= 0; byteIdx-- {
		b := data[byteIdx]
		if b == 0 {
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return -1
}

// DecodeBitlist decodes an SSZ bitlist: hexStr is the encoded buffer (with
// optional 0x prefix), committeeSize is the declared committee size N. It
// returns the ascending list of positions in [0, min(D, committeeSize))
// whose bit is set, where D is the delimiter position (the highest set bit
// in the buffer). An all-zero buffer yields the empty set.
func DecodeBitlist(hexStr string, committeeSize int) ([]int, error) {
	data, err := decodeHex(hexStr)
	if err != nil {
		return nil, err
	}

	d := highestSetBit(data)
	if d < 0 {
		return nil, nil
	}

	limit := d
	if committeeSize < limit {
		limit = committeeSize
	}

	var out []int
	for i := 0; i < limit; i++ {
		if bitAt(data, i) {
			out = append(out, i)
		}
	}
	return out, nil
}

// DecodeCommitteeBits decodes an SSZ bitvector: a fixed-length field of
// totalCommittees bits, with no delimiter. Returns the ascending list of
// committee indices whose bit is set; indices >= totalCommittees are
// discarded (they can't occur for a well-formed bitvector of the declared
// length, but a malformed input with extra trailing bytes must not produce
// them).
func DecodeCommitteeBits(hexStr string, totalCommittees int) ([]int, error) {
	data, err := decodeHex(hexStr)
	if err != nil {
		return nil, err
	}

	var out []int
	for i := 0; i < totalCommittees; i++ {
		if bitAt(data, i) {
			out = append(out, i)
		}
	}
	return out, nil
}

// CommitteeParticipation is one committee's decoded attestation result from
// an Electra (or legacy) aggregate: the committee index and the set of
// validator-list offsets (0-based positions within that committee, not raw
// validator indices) whose bit was set.
type CommitteeParticipation struct {
	CommitteeIndex int
	Bits           bitfield.Bitlist
}

// DecodeElectraAggregate decodes a post-Electra multi-committee aggregate
// attestation:
//  1. committeeBitsHex decodes to the ordered list of participating
//     committees Cs (via DecodeCommitteeBits).
//  2. aggregationBitsHex's data bits (up to, excluding, the delimiter) are
//     consumed in order, committeeSizes[c] bits per committee c in Cs.
//
// committeeSizes maps committee index -> committee size, and must contain
// an entry for every index appearing in Cs. The total bits consumed must
// equal the sum of consumed committee sizes exactly; any mismatch against
// the delimiter position is a malformed attestation (DecodeError), never
// silently truncated.
func DecodeElectraAggregate(committeeBitsHex string, totalCommittees int, aggregationBitsHex string, committeeSizes map[int]int) ([]CommitteeParticipation, error) {
	committeeIndices, err := DecodeCommitteeBits(committeeBitsHex, totalCommittees)
	if err != nil {
		return nil, err
	}

	aggData, err := decodeHex(aggregationBitsHex)
	if err != nil {
		return nil, err
	}

	delimiter := highestSetBit(aggData)
	if delimiter < 0 {
		return nil, errNoSetBit
	}

	var results []CommitteeParticipation
	cursor := 0
	for _, c := range committeeIndices {
		size, ok := committeeSizes[c]
		if !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("no committee size known for committee index %d", c)}
		}

		part := CommitteeParticipation{CommitteeIndex: c}
		bl := bitfield.NewBitlist(uint64(size))
		for i := 0; i < size; i++ {
			pos := cursor + i
			if pos >= delimiter {
				break
			}
			if bitAt(aggData, pos) {
				bl.SetBitAt(uint64(i), true)
			}
		}
		part.Bits = bl
		results = append(results, part)
		cursor += size
	}

	if cursor != delimiter {
		return nil, &DecodeError{Reason: fmt.Sprintf("aggregation bits boundary mismatch: consumed %d bits across committees, delimiter at %d", cursor, delimiter)}
	}

	return results, nil
}
