package absorption

import (
	"testing"

	"dexabsorption/internal/config"
	"dexabsorption/internal/domain"
)

func testConfig() config.AbsorptionConfig {
	return config.AbsorptionConfig{MinAbsorption: 0.1, MaxAbsorption: 1.0}
}

// testDetectionConfig carries a deliberately generous latency bound so
// tests not specifically targeting that gate aren't affected by it.
func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{MaxResponseLatencySlots: 1_000_000}
}

func testSellEvent() domain.SellEvent {
	return domain.SellEvent{
		ID:             "evt-1",
		PoolAddress:    "poolA",
		TokenMint:      "tokenA",
		Slot:           100,
		SellAmountBase: 100,
		PreEventPrice:  1.0,
		PostEventPrice: 0.9,
		WindowEndSlot:  250,
	}
}

func buy(pool, wallet string, slot uint64, amountInBase, price float64) domain.SwapEvent {
	return domain.SwapEvent{
		Key:               domain.OrderKey{Slot: slot},
		PoolAddress:       pool,
		TokenMint:         "tokenA",
		Trader:            wallet,
		Side:              domain.SideBuy,
		AmountInBase:      amountInBase,
		PriceBasePerToken: price,
	}
}

func TestObserveBuyAccumulatesAndFinalizeFilters(t *testing.T) {
	a := New(testConfig(), testDetectionConfig())
	se := testSellEvent()
	a.OpenEvent(se)

	a.ObserveBuy(buy("poolA", "buyer1", 110, 40, 0.85))
	a.ObserveBuy(buy("poolA", "buyer1", 120, 20, 0.92))
	a.ObserveBuy(buy("poolA", "buyer2", 115, 1, 0.85)) // below MinAbsorption after Finalize

	out := a.Finalize(se.ID)
	if len(out) != 1 {
		t.Fatalf("expected 1 candidate to pass the absorption-fraction bound, got %d", len(out))
	}
	c := out[0]
	if c.Wallet != "buyer1" {
		t.Errorf("Wallet = %q, want buyer1", c.Wallet)
	}
	if c.TotalBuyBase != 60 {
		t.Errorf("TotalBuyBase = %v, want 60", c.TotalBuyBase)
	}
	if c.BuyCount != 2 {
		t.Errorf("BuyCount = %d, want 2", c.BuyCount)
	}
	if c.AbsorptionFraction != 0.6 {
		t.Errorf("AbsorptionFraction = %v, want 0.6", c.AbsorptionFraction)
	}
	if c.FirstBuySlot != 110 {
		t.Errorf("FirstBuySlot = %d, want 110", c.FirstBuySlot)
	}
	if c.ResponseLatencySlots != 10 {
		t.Errorf("ResponseLatencySlots = %d, want 10", c.ResponseLatencySlots)
	}

	// Finalize must clear bookkeeping so a repeat call returns nothing.
	if out2 := a.Finalize(se.ID); len(out2) != 0 {
		t.Errorf("second Finalize returned %d candidates, want 0", len(out2))
	}
	if a.OpenEventCount() != 0 {
		t.Errorf("OpenEventCount after Finalize = %d, want 0", a.OpenEventCount())
	}
}

func TestObserveBuyIgnoresSells(t *testing.T) {
	a := New(testConfig(), testDetectionConfig())
	se := testSellEvent()
	a.OpenEvent(se)

	sell := buy("poolA", "buyer1", 110, 40, 0.85)
	sell.Side = domain.SideSell
	a.ObserveBuy(sell)

	out := a.Finalize(se.ID)
	if len(out) != 0 {
		t.Errorf("expected sells to never be attributed as absorption, got %d candidates", len(out))
	}
}

func TestObserveBuyIgnoresDifferentPool(t *testing.T) {
	a := New(testConfig(), testDetectionConfig())
	se := testSellEvent()
	a.OpenEvent(se)

	a.ObserveBuy(buy("poolB", "buyer1", 110, 40, 0.85))

	out := a.Finalize(se.ID)
	if len(out) != 0 {
		t.Errorf("expected buys on a different pool to be ignored, got %d candidates", len(out))
	}
}

func TestObserveBuyDropsOutOfWindow(t *testing.T) {
	a := New(testConfig(), testDetectionConfig())
	se := testSellEvent()
	a.OpenEvent(se)

	a.ObserveBuy(buy("poolA", "buyer1", se.WindowEndSlot+1, 40, 0.85)) // after window
	a.ObserveBuy(buy("poolA", "buyer1", se.Slot-1, 40, 0.85))          // before the sell

	out := a.Finalize(se.ID)
	if len(out) != 0 {
		t.Errorf("expected out-of-window buys to be dropped, got %d candidates", len(out))
	}
}

func TestObserveBuyAttributesToMultipleOpenEvents(t *testing.T) {
	a := New(testConfig(), testDetectionConfig())
	se1 := testSellEvent()
	se2 := testSellEvent()
	se2.ID = "evt-2"
	se2.SellAmountBase = 50
	a.OpenEvent(se1)
	a.OpenEvent(se2)

	a.ObserveBuy(buy("poolA", "buyer1", 110, 30, 0.9))

	out1 := a.Finalize(se1.ID)
	out2 := a.Finalize(se2.ID)
	if len(out1) != 1 || len(out2) != 1 {
		t.Fatalf("expected the same buy to be attributed to both open events, got %d and %d candidates", len(out1), len(out2))
	}
}

func TestFinalizeExcludesAboveMaxAbsorption(t *testing.T) {
	cfg := config.AbsorptionConfig{MinAbsorption: 0.0, MaxAbsorption: 0.5}
	a := New(cfg, testDetectionConfig())
	se := testSellEvent() // SellAmountBase = 100
	a.OpenEvent(se)

	a.ObserveBuy(buy("poolA", "buyer1", 110, 80, 0.9)) // fraction 0.8 > max 0.5

	out := a.Finalize(se.ID)
	if len(out) != 0 {
		t.Errorf("expected candidate above MaxAbsorption to be excluded, got %d", len(out))
	}
}

func TestFinalizeExcludesCandidateNotBoughtDuringDip(t *testing.T) {
	a := New(testConfig(), testDetectionConfig())
	se := testSellEvent() // PreEventPrice = 1.0
	a.OpenEvent(se)

	a.ObserveBuy(buy("poolA", "buyer1", 110, 60, 1.1)) // bought above preEventPrice, not a dip buy

	out := a.Finalize(se.ID)
	if len(out) != 0 {
		t.Errorf("expected a candidate that never bought below preEventPrice to be excluded, got %d", len(out))
	}
}

func TestFinalizeExcludesCandidateBeyondResponseLatencyBound(t *testing.T) {
	detCfg := config.DetectionConfig{MaxResponseLatencySlots: 5}
	a := New(testConfig(), detCfg)
	se := testSellEvent() // Slot = 100
	a.OpenEvent(se)

	a.ObserveBuy(buy("poolA", "buyer1", 110, 60, 0.85)) // latency 10 > bound 5

	out := a.Finalize(se.ID)
	if len(out) != 0 {
		t.Errorf("expected a candidate beyond the response-latency bound to be excluded, got %d", len(out))
	}
}
