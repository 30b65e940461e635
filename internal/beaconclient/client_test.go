package beaconclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rocket-pool/beacon-watcher/internal/cache"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Options{
		BeaconURL:             server.URL,
		MaxConcurrentRequests: 4,
		BlockCache:            cache.Options{MaxSize: 100},
		CommitteeCache:        cache.Options{MaxSize: 100},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestHeadSlot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"header":{"message":{"slot":"12345"}}}}`))
	})

	slot, err := c.HeadSlot(context.Background())
	if err != nil {
		t.Fatalf("HeadSlot returned error: %v", err)
	}
	if slot != 12345 {
		t.Errorf("HeadSlot = %d, want 12345", slot)
	}
}

func TestBlockMissedSlotReturnsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	blk, err := c.Block(context.Background(), 100)
	if err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if blk != nil {
		t.Errorf("Block for missed slot = %+v, want nil", blk)
	}
}

func TestBlockFoundIsCachedAndDeduplicated(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data":{"message":{"slot":"10","proposer_index":"5","body":{"attestations":[]}}}}`))
	})

	for i := 0; i < 3; i++ {
		blk, err := c.Block(context.Background(), 10)
		if err != nil {
			t.Fatalf("Block returned error: %v", err)
		}
		if blk == nil || blk.Slot != 10 || blk.ProposerIndex != 5 {
			t.Fatalf("Block(10) = %+v, want slot 10 proposer 5", blk)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("provider called %d times, want 1 (cache should short-circuit repeat calls)", got)
	}
}

func TestBlockWithWithdrawals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"message":{"slot":"20","proposer_index":"7","body":{
			"attestations":[],
			"execution_payload":{"block_number":"999","withdrawals":[
				{"validator_index":"42","address":"0xabc","amount":"1000000000"}
			]}
		}}}}`))
	})

	blk, err := c.Block(context.Background(), 20)
	if err != nil {
		t.Fatalf("Block returned error: %v", err)
	}
	if blk.ExecBlockNumber == nil || *blk.ExecBlockNumber != 999 {
		t.Fatalf("ExecBlockNumber = %v, want 999", blk.ExecBlockNumber)
	}
	if len(blk.Withdrawals) != 1 || blk.Withdrawals[0].ValidatorIndex != 42 || blk.Withdrawals[0].AmountGwei != 1000000000 {
		t.Errorf("Withdrawals = %+v, want one entry for validator 42 amount 1e9", blk.Withdrawals)
	}
}

func TestCommitteesNotFoundIsNotCached(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	committees, ok, err := c.Committees(context.Background(), 5)
	if err != nil {
		t.Fatalf("Committees returned error: %v", err)
	}
	if ok || committees != nil {
		t.Errorf("Committees(5) = %v, %v, want nil, false", committees, ok)
	}

	// A second call should hit the provider again, since negative results
	// are not cached.
	if _, _, err := c.Committees(context.Background(), 5); err != nil {
		t.Fatalf("second Committees returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

func TestCommitteesServerErrorIsSurfacedAsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	committees, ok, err := c.Committees(context.Background(), 5)
	if err == nil {
		t.Fatal("Committees returned nil error for a 500 response, want a fetch error")
	}
	if ok || committees != nil {
		t.Errorf("Committees(5) = %v, %v, want nil, false alongside the error", committees, ok)
	}
}

func TestFetchCommitteesAbortsBatchOnServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := c.FetchCommittees(context.Background(), []uint64{1, 2, 3}); err == nil {
		t.Fatal("FetchCommittees returned nil error when every slot's fetch failed with a 500")
	}
}

func TestCommitteesFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"slot":"5","index":"0","validators":["1","2","3"]}]}`))
	})

	committees, ok, err := c.Committees(context.Background(), 5)
	if err != nil {
		t.Fatalf("Committees returned error: %v", err)
	}
	if !ok || len(committees) != 1 || len(committees[0].Validators) != 3 {
		t.Fatalf("Committees(5) = %+v, %v, want one committee with 3 validators", committees, ok)
	}
}

func TestProposerDutiesNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	duties, ok, err := c.ProposerDuties(context.Background(), 3)
	if err != nil {
		t.Fatalf("ProposerDuties returned error: %v", err)
	}
	if ok || duties != nil {
		t.Errorf("ProposerDuties(3) = %v, %v, want nil, false", duties, ok)
	}
}

func TestProposerDutiesFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"slot":"96","validator_index":"77"}]}`))
	})

	duties, ok, err := c.ProposerDuties(context.Background(), 3)
	if err != nil {
		t.Fatalf("ProposerDuties returned error: %v", err)
	}
	if !ok || len(duties) != 1 || duties[0].Slot != 96 || duties[0].ValidatorIndex != 77 {
		t.Fatalf("ProposerDuties(3) = %+v, %v, want one duty slot 96 validator 77", duties, ok)
	}
}

func TestFetchBlocksConcurrent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"message":{"slot":"1","proposer_index":"1","body":{"attestations":[]}}}}`))
	})

	results, err := c.FetchBlocks(context.Background(), []uint64{1, 2, 3})
	if err != nil {
		t.Fatalf("FetchBlocks returned error: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("FetchBlocks returned %d entries, want 3", len(results))
	}
}
