package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/bundler"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
)

// ErrNoLeader is the transient relay condition: no upcoming leader slot
// to schedule the bundle into. Distinct from other submission failures
// so callers can decide to retry with a fresh blockhash.
var ErrNoLeader = errors.New("relay has no upcoming leader slot")

// VerifyPolicy names how per-unit results reduce to a bundle verdict.
type VerifyPolicy int

const (
	// VerifyAny treats the bundle as verified when at least one unit
	// finalized without an execution error. Relay-level atomicity does
	// not guarantee all-or-nothing on-chain outcomes, so partial success
	// counts as success under this (default) policy.
	VerifyAny VerifyPolicy = iota
	// VerifyAll requires every unit to finalize without error.
	VerifyAll
)

func (p VerifyPolicy) String() string {
	if p == VerifyAll {
		return "all"
	}
	return "any"
}

// StatusQuerier polls signature finality. rpc.Client satisfies it.
type StatusQuerier interface {
	GetSignatureStatuses(ctx context.Context, signatures []string, searchHistory bool) ([]*rpc.SignatureStatus, error)
}

// ClientConfig holds configuration for the relay client
type ClientConfig struct {
	RelayURL      string
	Timeout       time.Duration
	SettleDelay   time.Duration // wait between submission and the single status poll
	SearchHistory bool          // extend the status poll to transaction history
	Policy        VerifyPolicy
	Statuses      StatusQuerier
	Logger        *logrus.Logger
}

// Client submits bundles to the relay and verifies their outcome
type Client struct {
	httpClient    *http.Client
	relayURL      string
	settleDelay   time.Duration
	searchHistory bool
	policy        VerifyPolicy
	statuses      StatusQuerier
	logger        *logrus.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 10 * time.Second
	}
	return &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		relayURL:      cfg.RelayURL,
		settleDelay:   cfg.SettleDelay,
		searchHistory: cfg.SearchHistory,
		policy:        cfg.Policy,
		statuses:      cfg.Statuses,
		logger:        cfg.Logger,
	}
}

// Submit sends the bundle's units to the relay as one atomic group and
// returns the relay's bundle id. Unit order is preserved on the wire.
// The relay offers no durable delivery guarantee; acceptance here means
// only that the bundle was queued for an upcoming leader slot.
func (c *Client) Submit(ctx context.Context, bundle *bundler.Bundle) (string, error) {
	if bundle == nil || len(bundle.Units) == 0 {
		return "", fmt.Errorf("empty bundle")
	}

	encoded := make([]string, 0, len(bundle.Units))
	for _, u := range bundle.Units {
		raw, err := u.Tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("serialize unit: %w", err)
		}
		encoded = append(encoded, base58.Encode(raw))
	}

	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "sendBundle",
		"params":  []interface{}{encoded},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.relayURL, bytes.NewBuffer(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read relay response: %w", err)
	}

	var resp struct {
		Result string        `json:"result"`
		Error  *rpc.RPCError `json:"error"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("invalid relay response (status %d): %w", httpResp.StatusCode, err)
	}
	if resp.Error != nil {
		if isNoLeader(resp.Error.Message) {
			return "", fmt.Errorf("%w: %s", ErrNoLeader, resp.Error.Message)
		}
		return "", fmt.Errorf("sendBundle error: code=%d, message=%s", resp.Error.Code, resp.Error.Message)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected relay status code: %d", httpResp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"bundle_id": resp.Result,
		"units":     len(bundle.Units),
	}).Info("bundle accepted by relay")

	return resp.Result, nil
}

// Verify waits the settle delay, then polls each unit's signature status
// exactly once and reduces the results under the configured policy. A
// signature still unknown after the poll stays pending and can only pull
// the verdict towards unverified, never to an error.
func (c *Client) Verify(ctx context.Context, bundle *bundler.Bundle) (bool, int, error) {
	select {
	case <-ctx.Done():
		return false, 0, ctx.Err()
	case <-time.After(c.settleDelay):
	}

	sigs := bundle.Signatures()
	statuses, err := c.statuses.GetSignatureStatuses(ctx, sigs, c.searchHistory)
	if err != nil {
		return false, 0, fmt.Errorf("status poll failed: %w", err)
	}

	verified := 0
	for i := range sigs {
		if i < len(statuses) && statuses[i].Finalized() && !statuses[i].Failed() {
			verified++
		}
	}

	switch c.policy {
	case VerifyAll:
		return verified == len(sigs), verified, nil
	default:
		return verified > 0, verified, nil
	}
}

// SubmitAndVerify runs the full submit-settle-poll sequence for one
// bundle and reports a structured outcome. There is no cancellation
// inside the sequence beyond ctx; callers needing an early exit wrap
// this with a timeout and treat expiry as unverified, not as unsent.
func (c *Client) SubmitAndVerify(ctx context.Context, bundle *bundler.Bundle) *models.BundleOutcome {
	outcome := &models.BundleOutcome{
		Timestamp:   time.Now(),
		Units:       len(bundle.Units),
		Signatures:  bundle.Signatures(),
		TipLamports: bundle.TipLamports,
		Collector:   bundle.Collector.String(),
	}

	id, err := c.Submit(ctx, bundle)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.BundleID = id
	outcome.Sent = true

	verified, count, err := c.Verify(ctx, bundle)
	if err != nil {
		// Sent but unverifiable stays unverified; never promoted.
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Verified = verified
	outcome.VerifiedUnits = count

	return outcome
}

// SubmitAll dispatches each bundle as an independent concurrent task and
// verifies each independently. Returns the per-bundle outcomes in input
// order plus the number of verified bundles. No ordering exists between
// bundles, and nothing is resubmitted; retries are a caller decision.
func (c *Client) SubmitAll(ctx context.Context, bundles []*bundler.Bundle) ([]*models.BundleOutcome, int) {
	outcomes := make([]*models.BundleOutcome, len(bundles))

	var wg sync.WaitGroup
	for i, b := range bundles {
		wg.Add(1)
		go func(i int, b *bundler.Bundle) {
			defer wg.Done()
			outcomes[i] = c.SubmitAndVerify(ctx, b)
		}(i, b)
	}
	wg.Wait()

	verified := 0
	for _, o := range outcomes {
		if o.Verified {
			verified++
		}
	}
	return outcomes, verified
}

func isNoLeader(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "no leader")
}
