// Package mevlookup performs fire-and-forget MEV-reward enrichment for
// proposed blocks: a plain HTTP GET, a goccy/go-json decode into a typed
// response struct, no retries. A lookup failure is logged and discarded; it
// never propagates back to the caller.
package mevlookup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/rocket-pool/beacon-watcher/internal/events"
	"github.com/rocket-pool/beacon-watcher/log"
)

// Reward is the enrichment result for one proposed block.
type Reward struct {
	ExecBlockNumber uint64
	RewardWei       string
}

// RewardLookup resolves the MEV reward for a proposed block. Implementations
// must not block the caller for long, and must never panic: a lookup is
// always best-effort.
type RewardLookup interface {
	Lookup(ctx context.Context, execBlockNumber uint64) (Reward, error)
}

// NoopRewardLookup always fails fast; used when no reward API is configured.
type NoopRewardLookup struct{}

func (NoopRewardLookup) Lookup(context.Context, uint64) (Reward, error) {
	return Reward{}, fmt.Errorf("no reward lookup configured")
}

// HTTPRewardLookup queries a configurable external reward API over HTTP.
type HTTPRewardLookup struct {
	BaseURL    string
	httpClient http.Client
}

// NewHTTPRewardLookup constructs a lookup against baseURL, which must
// accept a trailing block number path segment.
func NewHTTPRewardLookup(baseURL string) *HTTPRewardLookup {
	return &HTTPRewardLookup{BaseURL: baseURL}
}

type rewardResponse struct {
	Data struct {
		BlockNumber uint64 `json:"block_number"`
		RewardWei   string `json:"reward_wei"`
	} `json:"data"`
}

func (l *HTTPRewardLookup) Lookup(ctx context.Context, execBlockNumber uint64) (Reward, error) {
	url := fmt.Sprintf("%s/%d", l.BaseURL, execBlockNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Reward{}, err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return Reward{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reward{}, fmt.Errorf("reward lookup for block %d failed with status %d", execBlockNumber, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reward{}, err
	}

	var parsed rewardResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Reward{}, fmt.Errorf("error deserializing reward response for block %d: %w", execBlockNumber, err)
	}

	return Reward{ExecBlockNumber: parsed.Data.BlockNumber, RewardWei: parsed.Data.RewardWei}, nil
}

// Enrich spawns an unsupervised goroutine that looks up the MEV reward for
// a BlockProposed event and logs the outcome. It never blocks the caller
// and never propagates an error.
func Enrich(ctx context.Context, lookup RewardLookup, logger *log.Logger, proposed events.BlockProposed) {
	if proposed.ExecBlockNumber == nil {
		return
	}
	execBlockNumber := *proposed.ExecBlockNumber

	go func() {
		reward, err := lookup.Lookup(ctx, execBlockNumber)
		if err != nil {
			if logger != nil {
				logger.Debug("MEV reward lookup failed",
					slog.Uint64("exec_block_number", execBlockNumber),
					log.Err(err),
				)
			}
			return
		}
		if logger != nil {
			logger.Info("MEV reward lookup succeeded",
				slog.Uint64("exec_block_number", execBlockNumber),
				slog.String("reward_wei", reward.RewardWei),
			)
		}
	}()
}
