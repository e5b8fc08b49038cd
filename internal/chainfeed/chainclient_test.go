package chainfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func rpcHandler(t *testing.T, result string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}
}

func TestGetSlotSuccess(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "12345"))
	defer srv.Close()

	c := NewChainClient(srv.URL, "", "")
	slot, err := c.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot failed: %v", err)
	}
	if slot != 12345 {
		t.Errorf("slot = %d, want 12345", slot)
	}
}

func TestGetSlotFallsBackToSecondaryOnPrimaryFailure(t *testing.T) {
	fallback := httptest.NewServer(rpcHandler(t, "999"))
	defer fallback.Close()

	c := NewChainClient("http://127.0.0.1:1", fallback.URL, "")
	slot, err := c.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot failed: %v", err)
	}
	if slot != 999 {
		t.Errorf("slot = %d, want 999 (fallback response)", slot)
	}
}

func TestGetSlotPropagatesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}`))
	}))
	defer srv.Close()
	// both primary and fallback point at the same failing server
	c := NewChainClient(srv.URL, srv.URL, "")

	if _, err := c.GetSlot(context.Background()); err == nil {
		t.Fatal("expected an error to propagate from the RPC error field")
	}
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var fallbackCalls atomic.Int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":1}`))
	}))
	defer fallback.Close()

	c := NewChainClient("http://127.0.0.1:1", fallback.URL, "")

	for i := 0; i < 5; i++ {
		_, _ = c.GetSlot(context.Background())
	}
	if !c.isCircuitOpen() {
		t.Fatal("expected the circuit breaker to open after 5 consecutive primary failures")
	}

	callsBefore := fallbackCalls.Load()
	_, _ = c.GetSlot(context.Background())
	if fallbackCalls.Load() != callsBefore+1 {
		t.Error("expected a request with the circuit open to go straight to the fallback without retrying the primary")
	}
}

func TestOnRateLimitedAndOnRequestOKAdjustInterval(t *testing.T) {
	c := NewChainClient("http://unused", "", "")
	if c.RateLimitInterval() != 0 {
		t.Fatalf("initial RateLimitInterval = %v, want 0", c.RateLimitInterval())
	}
	c.onRateLimited()
	if c.RateLimitInterval() != 50*time.Millisecond {
		t.Errorf("RateLimitInterval after first rate limit = %v, want 50ms", c.RateLimitInterval())
	}
	c.onRateLimited()
	if c.RateLimitInterval() <= 50*time.Millisecond {
		t.Errorf("RateLimitInterval after second rate limit = %v, want > 50ms", c.RateLimitInterval())
	}
	c.onRequestOK()
	if c.RateLimitInterval() == 0 {
		t.Error("RateLimitInterval should narrow, not zero out, after a single success from a nonzero interval")
	}
}

func TestGetTransactionParsesResult(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, `{"slot":42,"blockTime":100,"meta":{},"transaction":{}}`))
	defer srv.Close()

	c := NewChainClient(srv.URL, "", "")
	tx, err := c.GetTransaction(context.Background(), "sig1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if tx.Slot != 42 {
		t.Errorf("Slot = %d, want 42", tx.Slot)
	}
}
