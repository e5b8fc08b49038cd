package chainfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// OracleQuote is the external market-data oracle's view of a token's
// USD-denominated liquidity, used only to populate
// domain.PoolStateSnapshot.LiquidityUsd when available (§3 notes this
// field is optional/degraded). Grounded on the teacher's Jupiter quote
// client (internal/jupiter/client.go) for the HTTP-GET-a-quote shape;
// the swap-execution half of that client has no home in this pipeline
// and was retired (see DESIGN.md).
type OracleQuote struct {
	TokenMint    string
	LiquidityUsd float64
	FetchedAt    time.Time
}

// Oracle fetches liquidity quotes, coalescing concurrent requests for
// the same mint with singleflight the way stadam23-Eve-flipper's ESI
// order cache coalesces concurrent market-data refreshes
// (internal/esi/order_cache.go).
type Oracle struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

// NewOracle creates an oracle client against baseURL (e.g. a Jupiter- or
// DexScreener-compatible price API).
func NewOracle(baseURL string) *Oracle {
	return &Oracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Quote fetches (or returns an in-flight fetch of) the liquidity quote
// for mint. A failed fetch returns an error; callers treat this as the
// §3 "oracle has no data" degraded case and leave LiquidityUsd nil.
func (o *Oracle) Quote(ctx context.Context, mint string) (*OracleQuote, error) {
	v, err, _ := o.group.Do(mint, func() (interface{}, error) {
		return o.fetch(ctx, mint)
	})
	if err != nil {
		return nil, err
	}
	return v.(*OracleQuote), nil
}

func (o *Oracle) fetch(ctx context.Context, mint string) (*OracleQuote, error) {
	url := fmt.Sprintf("%s/quote?mint=%s", o.baseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	var body struct {
		LiquidityUsd float64 `json:"liquidityUsd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}

	return &OracleQuote{TokenMint: mint, LiquidityUsd: body.LiquidityUsd, FetchedAt: time.Now()}, nil
}
