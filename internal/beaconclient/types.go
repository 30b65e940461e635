package beaconclient

// Attestation is one attestation as included in a block body, as the
// beacon node's HTTP API represents it.
type Attestation struct {
	Data struct {
		Slot  string `json:"slot"`
		Index string `json:"index"`
	} `json:"data"`
	AggregationBits string  `json:"aggregation_bits"`
	CommitteeBits   *string `json:"committee_bits,omitempty"`
}

// Withdrawal is one beacon-chain withdrawal as it appears in a block's
// execution payload.
type Withdrawal struct {
	ValidatorIndex string `json:"validator_index"`
	Address        string `json:"address"`
	AmountGwei     string `json:"amount"`
}

// blockMessageResponse mirrors the beacon node's block-by-slot response
// shape, trimmed to the fields this client needs.
type blockMessageResponse struct {
	Data struct {
		Message struct {
			Slot          string `json:"slot"`
			ProposerIndex string `json:"proposer_index"`
			Body          struct {
				Attestations     []Attestation `json:"attestations"`
				ExecutionPayload *struct {
					BlockNumber string       `json:"block_number"`
					Withdrawals []Withdrawal `json:"withdrawals"`
				} `json:"execution_payload"`
			} `json:"body"`
		} `json:"message"`
	} `json:"data"`
}

type headerResponse struct {
	Data struct {
		Header struct {
			Message struct {
				Slot string `json:"slot"`
			} `json:"message"`
		} `json:"header"`
	} `json:"data"`
}

type committeeResponseEntry struct {
	Slot       string   `json:"slot"`
	Index      string   `json:"index"`
	Validators []string `json:"validators"`
}

type committeesResponse struct {
	Data []committeeResponseEntry `json:"data"`
}

type proposerDutyResponseEntry struct {
	Slot           string `json:"slot"`
	ValidatorIndex string `json:"validator_index"`
}

type proposerDutiesResponse struct {
	Data []proposerDutyResponseEntry `json:"data"`
}
