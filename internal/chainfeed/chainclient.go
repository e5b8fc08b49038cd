// Package chainfeed is the External Collaborators boundary (§6): the
// chain client (JSON-RPC getTransaction/getSlot), the log subscriber
// (websocket program-log subscription), and the market-data oracle.
// Nothing upstream of this package touches an RPC URL directly.
package chainfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ChainClient performs the JSON-RPC calls the Normalizer (A) needs to
// backfill a transaction it only saw referenced by signature, and the
// slot lookups the Replay Driver validates against. Retains the
// teacher's primary/fallback circuit breaker (internal/blockchain/rpc.go)
// verbatim in shape; the RPC method surface is narrowed to what §6's
// ingestion contract actually calls.
type ChainClient struct {
	primaryURL  string
	fallbackURL string
	apiKey      string
	httpClient  *http.Client

	mu                 sync.RWMutex
	failures           int
	lastFailure        time.Time
	circuitOpen        bool
	rateLimitIntervalMs float64 // adaptive inter-request spacing, §6 backoff factor 0.5/1.1
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message) }

// NewChainClient wires keep-alive transport the same way the teacher's
// RPCClient does, since ingestion makes far more RPC calls per second
// than the trading bot's transaction submission ever did.
func NewChainClient(primaryURL, fallbackURL, apiKey string) *ChainClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &ChainClient{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		apiKey:      apiKey,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		rateLimitIntervalMs: 0,
	}
}

// RawTransaction is the minimal parsed shape the Normalizer needs:
// enough to reconstruct instruction logs, account balance deltas, and
// the slot/txIndex ordering key. The Normalizer owns turning this into
// zero or more domain.SwapEvent.
type RawTransaction struct {
	Slot        uint64          `json:"slot"`
	BlockTime   *int64          `json:"blockTime"`
	Meta        json.RawMessage `json:"meta"`
	Transaction json.RawMessage `json:"transaction"`
}

// GetTransaction fetches a finalized transaction by signature, used
// when the log subscriber sees a signature referencing a program log
// outside a full transaction payload.
func (c *ChainClient) GetTransaction(ctx context.Context, signature string) (*RawTransaction, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"encoding":                       "jsonParsed",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	var result RawTransaction
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSlot returns the current slot height, used by the Replay Driver's
// -validate-only mode to sanity-check a dataset's declared slot range
// against a live chain (best-effort, not required for replay to run).
func (c *ChainClient) GetSlot(ctx context.Context) (uint64, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSlot",
		Params:  []interface{}{map[string]string{"commitment": "confirmed"}},
	}

	var result uint64
	if err := c.call(ctx, req, &result); err != nil {
		return 0, err
	}
	return result, nil
}

func (c *ChainClient) call(ctx context.Context, req rpcRequest, result interface{}) error {
	if c.isCircuitOpen() {
		return c.callURL(ctx, c.fallbackURL, req, result)
	}

	err := c.callURL(ctx, c.primaryURL, req, result)
	if err != nil {
		c.recordFailure()
		log.Warn().Err(err).Msg("primary chain RPC failed, trying fallback")
		return c.callURL(ctx, c.fallbackURL, req, result)
	}

	c.recordSuccess()
	return nil
}

func (c *ChainClient) callURL(ctx context.Context, url string, rpcReq rpcRequest, result interface{}) error {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.onRateLimited()
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rate limited: %s", string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}
	c.onRequestOK()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}

	return nil
}

// onRateLimited widens the adaptive inter-request interval by factor
// 1.1 per §6's transient-error backoff; onRequestOK narrows it back by
// factor 0.5 once requests succeed again.
func (c *ChainClient) onRateLimited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateLimitIntervalMs <= 0 {
		c.rateLimitIntervalMs = 50
	} else {
		c.rateLimitIntervalMs *= 1.1
	}
}

func (c *ChainClient) onRequestOK() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateLimitIntervalMs > 0 {
		c.rateLimitIntervalMs *= 0.5
		if c.rateLimitIntervalMs < 1 {
			c.rateLimitIntervalMs = 0
		}
	}
}

// RateLimitInterval reports the current adaptive spacing a caller
// should wait between requests.
func (c *ChainClient) RateLimitInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.rateLimitIntervalMs) * time.Millisecond
}

func (c *ChainClient) isCircuitOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.circuitOpen {
		return false
	}
	if time.Since(c.lastFailure) > 30*time.Second {
		return false
	}
	return true
}

func (c *ChainClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.lastFailure = time.Now()

	if c.failures >= 5 {
		c.circuitOpen = true
		log.Warn().Msg("chain client circuit breaker opened")
	}
}

func (c *ChainClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.circuitOpen = false
}

// LatencyMs estimates round-trip latency for telemetry/health display.
func (c *ChainClient) LatencyMs() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := c.GetSlot(ctx)
	if err != nil {
		return -1
	}
	return time.Since(start).Milliseconds()
}
