package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrAccountNotFound is returned when an account does not exist on-chain.
var ErrAccountNotFound = errors.New("account not found")

// Client is an HTTP client with retry and rate limiting for Solana RPC
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxRetries   int
	retryBackoff time.Duration
	limiter      *rate.Limiter
	logger       *logrus.Logger
}

// ClientConfig holds configuration for the RPC client
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64 // requests per second, 0 = unlimited
	Logger       *logrus.Logger
}

// NewClient creates a new RPC client with retry support
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:      cfg.BaseURL,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		limiter:      limiter,
		logger:       cfg.Logger,
	}
}

// Call makes a JSON-RPC call with retry logic
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
				"method":  method,
			}).Debug("retrying RPC call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2 // exponential backoff
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		resp, err := c.doRequest(ctx, data)
		if err != nil {
			lastErr = err
			continue
		}

		if err := json.Unmarshal(resp, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429)")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}

// GetAccountInfo fetches raw account data. Returns ErrAccountNotFound for
// accounts that do not exist.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	var resp struct {
		Result struct {
			Value *struct {
				Data  []string `json:"data"` // [payload, encoding]
				Owner string   `json:"owner"`
			} `json:"value"`
		} `json:"result"`
		Error *RPCError `json:"error"`
	}

	params := []any{
		pubkey.String(),
		map[string]any{"encoding": "base64", "commitment": "confirmed"},
	}

	if err := c.Call(ctx, "getAccountInfo", params, &resp); err != nil {
		return nil, fmt.Errorf("getAccountInfo RPC failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getAccountInfo error: %s", resp.Error.Message)
	}
	if resp.Result.Value == nil {
		return nil, ErrAccountNotFound
	}
	if len(resp.Result.Value.Data) < 1 {
		return nil, fmt.Errorf("getAccountInfo: empty data field")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("invalid account data encoding: %w", err)
	}
	return raw, nil
}

// GetLatestBlockhash fetches the most recent blockhash with commitment level
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment ...string) (solana.Hash, error) {
	commitmentLevel := "processed"
	if len(commitment) > 0 {
		commitmentLevel = commitment[0]
	}

	var resp struct {
		Result struct {
			Value struct {
				Blockhash            string `json:"blockhash"`
				LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
			} `json:"value"`
		} `json:"result"`
		Error *RPCError `json:"error"`
	}

	params := []any{
		map[string]any{"commitment": commitmentLevel},
	}

	if err := c.Call(ctx, "getLatestBlockhash", params, &resp); err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash failed: %w", err)
	}
	if resp.Error != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash error: %s", resp.Error.Message)
	}

	hash, err := solana.HashFromBase58(resp.Result.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("invalid blockhash format: %w", err)
	}

	return hash, nil
}

// GetSignatureStatuses queries finality status for a batch of signatures.
// Result entries are nil for signatures the node does not know about.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []string, searchHistory bool) ([]*SignatureStatus, error) {
	var resp struct {
		Result struct {
			Value []*SignatureStatus `json:"value"`
		} `json:"result"`
		Error *RPCError `json:"error"`
	}

	params := []any{
		signatures,
		map[string]any{"searchTransactionHistory": searchHistory},
	}

	if err := c.Call(ctx, "getSignatureStatuses", params, &resp); err != nil {
		return nil, fmt.Errorf("getSignatureStatuses failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getSignatureStatuses error: %s", resp.Error.Message)
	}

	return resp.Result.Value, nil
}

// GetTokenAccountBalance fetches the raw amount held by a token account
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var resp struct {
		Result struct {
			Value struct {
				Amount   string `json:"amount"`
				Decimals uint8  `json:"decimals"`
			} `json:"value"`
		} `json:"result"`
		Error *RPCError `json:"error"`
	}

	params := []any{account.String()}

	if err := c.Call(ctx, "getTokenAccountBalance", params, &resp); err != nil {
		return 0, fmt.Errorf("getTokenAccountBalance failed: %w", err)
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("getTokenAccountBalance error: %s", resp.Error.Message)
	}

	var amount uint64
	if _, err := fmt.Sscanf(resp.Result.Value.Amount, "%d", &amount); err != nil {
		return 0, fmt.Errorf("invalid amount format: %w", err)
	}

	return amount, nil
}

// GetBalance fetches an account's lamport balance
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var resp struct {
		Result struct {
			Value uint64 `json:"value"` // lamports
		} `json:"result"`
		Error *RPCError `json:"error"`
	}

	params := []any{
		pubkey.String(),
		map[string]any{"commitment": "confirmed"},
	}

	if err := c.Call(ctx, "getBalance", params, &resp); err != nil {
		return 0, fmt.Errorf("getBalance RPC failed: %w", err)
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("getBalance error: %s", resp.Error.Message)
	}

	return resp.Result.Value, nil
}
