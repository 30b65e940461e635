// Package beaconclient performs the idempotent HTTP GETs against the beacon
// node, layered over a cache with single-flight deduplication. The
// request/response plumbing (getRequest/getRequestReader, context-deadline
// handling, HTTP tracing via log.FromContext) keeps requests traceable and
// bounded by timeout even when the caller supplies none.
package beaconclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rocket-pool/beacon-watcher/log"
)

const (
	requestContentType = "application/json"

	pathHead           = "/eth/v1/beacon/headers/head"
	pathBlock          = "/eth/v2/beacon/blocks/%s"
	pathCommittees     = "/eth/v1/beacon/states/%s/committees"
	pathProposerDuties = "/eth/v1/validator/duties/proposer/%d"

	defaultFastTimeout time.Duration = 5 * time.Second
	defaultSlowTimeout time.Duration = 30 * time.Second
)

// ProviderOpts configures a provider's default timeouts.
type ProviderOpts struct {
	DefaultFastTimeout time.Duration
	DefaultSlowTimeout time.Duration
}

// provider is the raw HTTP transport to the beacon node, with no caching or
// single-flight logic of its own; those are layered on top by Client.
type provider struct {
	baseURL            *url.URL
	httpClient         http.Client
	defaultFastTimeout time.Duration
	defaultSlowTimeout time.Duration
}

func newProvider(baseURLStr string, opts *ProviderOpts) (*provider, error) {
	baseURL, err := url.Parse(baseURLStr)
	if err != nil {
		return nil, fmt.Errorf("error parsing beacon URL [%s]: %w", baseURLStr, err)
	}

	p := &provider{
		baseURL:    baseURL,
		httpClient: http.Client{},
	}
	if opts != nil {
		p.defaultFastTimeout = opts.DefaultFastTimeout
		p.defaultSlowTimeout = opts.DefaultSlowTimeout
	} else {
		p.defaultFastTimeout = defaultFastTimeout
		p.defaultSlowTimeout = defaultSlowTimeout
	}
	return p, nil
}

// headSlot fetches the current head slot. A failure here aborts the polling
// iteration; the head endpoint has no degraded "skip and continue" path.
func (p *provider) headSlot(ctx context.Context) (uint64, error) {
	ctx, cancel := p.prepareContext(ctx, p.defaultFastTimeout)
	defer cancel()

	u := p.baseURL.JoinPath(pathHead)
	body, status, err := p.getRequest(ctx, u)
	if err != nil {
		return 0, fmt.Errorf("error getting head slot: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("error getting head slot: HTTP status %d; response body: '%s'", status, string(body))
	}

	var resp headerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("error decoding head slot response: %w", err)
	}
	slot, err := strconv.ParseUint(resp.Data.Header.Message.Slot, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing head slot: %w", err)
	}
	return slot, nil
}

// block fetches the block at slot. ok is false for a missed slot (HTTP 404)
// — not an error.
func (p *provider) block(ctx context.Context, slot uint64) (blk blockMessageResponse, ok bool, err error) {
	ctx, cancel := p.prepareContext(ctx, p.defaultFastTimeout)
	defer cancel()

	u := p.baseURL.JoinPath(fmt.Sprintf(pathBlock, strconv.FormatUint(slot, 10)))
	body, status, err := p.getRequest(ctx, u)
	if err != nil {
		return blockMessageResponse{}, false, fmt.Errorf("error getting block for slot %d: %w", slot, err)
	}
	if status == http.StatusNotFound {
		return blockMessageResponse{}, false, nil
	}
	if status != http.StatusOK {
		return blockMessageResponse{}, false, fmt.Errorf("error getting block for slot %d: HTTP status %d; response body: '%s'", slot, status, string(body))
	}

	var resp blockMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return blockMessageResponse{}, false, fmt.Errorf("error decoding block for slot %d: %w", slot, err)
	}
	return resp, true, nil
}

// committees fetches the ordered committee list for slot. ok is false only
// for a 404 (the caller skips the slot); any other non-2xx status or
// transport error is surfaced to the caller as a fetch error.
func (p *provider) committees(ctx context.Context, slot uint64) (resp committeesResponse, ok bool, err error) {
	ctx, cancel := p.prepareContext(ctx, p.defaultSlowTimeout)
	defer cancel()

	stateID := strconv.FormatUint(slot, 10)
	u := p.baseURL.JoinPath(fmt.Sprintf(pathCommittees, stateID))
	query := u.Query()
	query.Add("slot", stateID)
	u.RawQuery = query.Encode()

	body, status, err := p.getRequest(ctx, u)
	if err != nil {
		return committeesResponse{}, false, fmt.Errorf("error getting committees for slot %d: %w", slot, err)
	}
	if status == http.StatusNotFound {
		return committeesResponse{}, false, nil
	}
	if status != http.StatusOK {
		return committeesResponse{}, false, fmt.Errorf("error getting committees for slot %d: HTTP status %d; response body: '%s'", slot, status, string(body))
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return committeesResponse{}, false, fmt.Errorf("error decoding committees for slot %d: %w", slot, err)
	}
	return resp, true, nil
}

// proposerDuties fetches proposer duties for an epoch. ok is false only for
// a 404 (the caller skips the epoch); any other non-2xx status or transport
// error is surfaced to the caller as a fetch error.
func (p *provider) proposerDuties(ctx context.Context, epoch uint64) (resp proposerDutiesResponse, ok bool, err error) {
	ctx, cancel := p.prepareContext(ctx, p.defaultFastTimeout)
	defer cancel()

	u := p.baseURL.JoinPath(fmt.Sprintf(pathProposerDuties, epoch))
	body, status, err := p.getRequest(ctx, u)
	if err != nil {
		return proposerDutiesResponse{}, false, fmt.Errorf("error getting proposer duties for epoch %d: %w", epoch, err)
	}
	if status == http.StatusNotFound {
		return proposerDutiesResponse{}, false, nil
	}
	if status != http.StatusOK {
		return proposerDutiesResponse{}, false, fmt.Errorf("error getting proposer duties for epoch %d: HTTP status %d; response body: '%s'", epoch, status, string(body))
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return proposerDutiesResponse{}, false, fmt.Errorf("error decoding proposer duties for epoch %d: %w", epoch, err)
	}
	return resp, true, nil
}

// ==========================
// === Internal Functions ===
// ==========================

func (p *provider) getRequest(ctx context.Context, u *url.URL) ([]byte, int, error) {
	reader, status, err := p.getRequestReader(ctx, u)
	if err != nil {
		return nil, 0, err
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, err
	}
	return body, status, nil
}

func (p *provider) getRequestReader(ctx context.Context, u *url.URL) (io.ReadCloser, int, error) {
	ctx = p.logRequest(ctx, http.MethodGet, u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating GET request to [%s]: %w", u.String(), err)
	}
	req.Header.Set("Content-Type", requestContentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error running GET request to [%s]: %w", u.String(), err)
	}
	return resp.Body, resp.StatusCode, nil
}

func (p *provider) prepareContext(ctx context.Context, defaultTimeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

func (p *provider) logRequest(ctx context.Context, method string, u *url.URL) context.Context {
	logger, ok := log.FromContext(ctx)
	if !ok || logger == nil {
		return ctx
	}

	logger.Debug("Running beacon node request",
		slog.String(log.MethodKey, method),
		slog.String("host", u.Host),
		slog.String("path", u.Path),
	)
	if tracer := logger.GetHttpTracer(); tracer != nil {
		ctx = httptrace.WithClientTrace(ctx, tracer)
	}
	return ctx
}
