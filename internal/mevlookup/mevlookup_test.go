package mevlookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rocket-pool/beacon-watcher/internal/events"
)

func TestHTTPRewardLookupSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"block_number":500,"reward_wei":"123456789"}}`))
	}))
	defer server.Close()

	lookup := NewHTTPRewardLookup(server.URL)
	reward, err := lookup.Lookup(context.Background(), 500)
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if reward.ExecBlockNumber != 500 || reward.RewardWei != "123456789" {
		t.Errorf("Lookup = %+v, want block 500 reward 123456789", reward)
	}
}

func TestHTTPRewardLookupNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	lookup := NewHTTPRewardLookup(server.URL)
	if _, err := lookup.Lookup(context.Background(), 500); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestNoopRewardLookupAlwaysFails(t *testing.T) {
	if _, err := (NoopRewardLookup{}).Lookup(context.Background(), 1); err == nil {
		t.Fatal("expected NoopRewardLookup.Lookup to return an error")
	}
}

func TestEnrichDoesNotBlockAndSkipsWithoutExecBlockNumber(t *testing.T) {
	done := make(chan struct{})
	blocking := blockingLookup{done: done}

	Enrich(context.Background(), blocking, nil, events.BlockProposed{Validator: 1, Slot: 1, ExecBlockNumber: nil})
	select {
	case <-done:
		t.Fatal("Enrich should not invoke the lookup when ExecBlockNumber is nil")
	case <-time.After(20 * time.Millisecond):
	}
}

type blockingLookup struct {
	done chan struct{}
}

func (b blockingLookup) Lookup(ctx context.Context, execBlockNumber uint64) (Reward, error) {
	close(b.done)
	return Reward{}, nil
}
