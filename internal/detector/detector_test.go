package detector

import (
	"testing"
	"time"

	"dexabsorption/internal/clock"
	"dexabsorption/internal/config"
	"dexabsorption/internal/domain"
)

func testConfig() config.DetectionConfig {
	return config.DetectionConfig{
		MinSellFraction:         0.01,
		MaxSellFraction:         0.15,
		AbsorptionWindowSlots:   150,
		MaxResponseLatencySlots: 100,
	}
}

func sellEvent(amountInBase, reserveBase float64, slot uint64) domain.SwapEvent {
	return domain.SwapEvent{
		Key:         domain.OrderKey{Slot: slot},
		BlockTime:   time.Unix(int64(slot), 0).UTC(),
		TokenMint:   "tokenA",
		PoolAddress: "poolA",
		Trader:      "sellerA",
		Side:        domain.SideSell,
		AmountInBase: amountInBase,
		PoolState: domain.PoolStateSnapshot{
			Slot:              slot,
			ReserveBase:       reserveBase,
			ReserveToken:      reserveBase * 10,
			PriceBasePerToken: 0.1,
		},
	}
}

func TestObserveOpensQualifyingSell(t *testing.T) {
	c := clock.NewReplayClock(100, time.Unix(100, 0), 400*time.Millisecond)
	d := New(c, testConfig())

	ev := sellEvent(10, 1000, 100) // fraction = 0.01, at the boundary
	se, ok := d.Observe(ev)
	if !ok {
		t.Fatal("expected sell to qualify")
	}
	if se.FractionOfPool != 0.01 {
		t.Errorf("FractionOfPool = %v, want 0.01", se.FractionOfPool)
	}
	if se.WindowEndSlot != 100+150 {
		t.Errorf("WindowEndSlot = %v, want %v", se.WindowEndSlot, 250)
	}
	if se.State != domain.SellEventObserving {
		t.Errorf("State = %v, want observing", se.State)
	}
	if d.OpenCount() != 1 {
		t.Errorf("OpenCount = %d, want 1", d.OpenCount())
	}
	if d.TotalDetected() != 1 {
		t.Errorf("TotalDetected = %d, want 1", d.TotalDetected())
	}
}

func TestObserveIgnoresBuys(t *testing.T) {
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, testConfig())

	ev := sellEvent(50, 1000, 1)
	ev.Side = domain.SideBuy
	if _, ok := d.Observe(ev); ok {
		t.Fatal("buy should never qualify as a sell event")
	}
	if d.TotalDetected() != 0 {
		t.Errorf("TotalDetected = %d, want 0", d.TotalDetected())
	}
}

func TestObserveRejectsFractionOutOfRange(t *testing.T) {
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, testConfig())

	tooSmall := sellEvent(1, 1000, 1) // fraction 0.001 < 0.01
	if _, ok := d.Observe(tooSmall); ok {
		t.Fatal("fraction below min should be rejected")
	}

	tooLarge := sellEvent(200, 1000, 1) // fraction 0.2 > 0.15
	if _, ok := d.Observe(tooLarge); ok {
		t.Fatal("fraction above max should be rejected")
	}
}

func TestObserveRejectsZeroReserve(t *testing.T) {
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, testConfig())

	ev := sellEvent(10, 0, 1)
	if _, ok := d.Observe(ev); ok {
		t.Fatal("zero reserve should never qualify")
	}
}

func TestAdvanceClosesExpiredWindows(t *testing.T) {
	c := clock.NewReplayClock(100, time.Unix(100, 0), 400*time.Millisecond)
	d := New(c, testConfig())

	se, ok := d.Observe(sellEvent(10, 1000, 100))
	if !ok {
		t.Fatal("expected sell to qualify")
	}

	if closed := d.Advance(se.WindowEndSlot - 1); len(closed) != 0 {
		t.Errorf("Advance before window end returned %d events, want 0", len(closed))
	}
	if d.OpenCount() != 1 {
		t.Fatal("event should still be open before window end")
	}

	closed := d.Advance(se.WindowEndSlot)
	if len(closed) != 1 {
		t.Fatalf("Advance at window end returned %d events, want 1", len(closed))
	}
	if closed[0].State != domain.SellEventAnalyzing {
		t.Errorf("closed event state = %v, want analyzing", closed[0].State)
	}
	if d.OpenCount() != 0 {
		t.Errorf("OpenCount after close = %d, want 0", d.OpenCount())
	}
	if _, ok := d.Snapshot(se.ID); ok {
		t.Error("Snapshot should no longer find a closed event")
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, testConfig())

	se, _ := d.Observe(sellEvent(10, 1000, 1))
	snap, ok := d.Snapshot(se.ID)
	if !ok {
		t.Fatal("expected snapshot to find open event")
	}
	if snap.ID != se.ID {
		t.Errorf("snapshot ID = %q, want %q", snap.ID, se.ID)
	}

	if _, ok := d.Snapshot("missing-id"); ok {
		t.Error("Snapshot should fail for an unknown ID")
	}
}

func swapAt(slot uint64, side domain.Side, price float64) domain.SwapEvent {
	return domain.SwapEvent{
		Key:          domain.OrderKey{Slot: slot},
		BlockTime:    time.Unix(int64(slot), 0).UTC(),
		TokenMint:    "tokenA",
		PoolAddress:  "poolA",
		Trader:       "someone",
		Side:         side,
		AmountInBase: 1,
		PoolState: domain.PoolStateSnapshot{
			Slot:              slot,
			ReserveBase:       1000,
			ReserveToken:      10000,
			PriceBasePerToken: price,
		},
	}
}

func TestPreEventPriceFallsBackToInstantaneousWhenLookbackDisabled(t *testing.T) {
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, testConfig()) // PreEventPriceLookbackSec left at zero value

	d.Observe(swapAt(1, domain.SideBuy, 0.5))
	se, ok := d.Observe(sellEvent(50, 1000, 2))
	if !ok {
		t.Fatal("expected sell to qualify")
	}
	if se.PreEventPrice != 0.1 {
		t.Errorf("PreEventPrice = %v, want 0.1 (instantaneous, lookback disabled)", se.PreEventPrice)
	}
}

func TestPreEventPriceAveragesPriorSwapsWithinLookback(t *testing.T) {
	cfg := testConfig()
	cfg.PreEventPriceLookbackSec = 30
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, cfg)

	d.Observe(swapAt(1, domain.SideBuy, 1.0))
	d.Observe(swapAt(10, domain.SideSell, 2.0))
	d.Observe(swapAt(20, domain.SideBuy, 3.0))

	se, ok := d.Observe(sellEvent(50, 1000, 25))
	if !ok {
		t.Fatal("expected sell to qualify")
	}
	// All three prior swaps (slots 1, 10, 20) fall within 30s of slot 25.
	want := (1.0 + 2.0 + 3.0) / 3
	if se.PreEventPrice != want {
		t.Errorf("PreEventPrice = %v, want %v (rolling average of prior swaps)", se.PreEventPrice, want)
	}
}

func TestPreEventPriceExcludesSamplesOutsideLookback(t *testing.T) {
	cfg := testConfig()
	cfg.PreEventPriceLookbackSec = 10
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, cfg)

	d.Observe(swapAt(1, domain.SideBuy, 1.0))   // 24s before the event, outside the 10s window
	d.Observe(swapAt(20, domain.SideBuy, 5.0))  // 5s before the event, inside the window

	se, ok := d.Observe(sellEvent(50, 1000, 25))
	if !ok {
		t.Fatal("expected sell to qualify")
	}
	if se.PreEventPrice != 5.0 {
		t.Errorf("PreEventPrice = %v, want 5.0 (only the in-window sample)", se.PreEventPrice)
	}
}

func TestPreEventPriceFallsBackWhenNoPriorSwapRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.PreEventPriceLookbackSec = 30
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, cfg)

	se, ok := d.Observe(sellEvent(10, 1000, 1)) // first swap the detector ever sees for tokenA
	if !ok {
		t.Fatal("expected sell to qualify")
	}
	if se.PreEventPrice != 0.1 {
		t.Errorf("PreEventPrice = %v, want 0.1 (instantaneous fallback, no history yet)", se.PreEventPrice)
	}
}

func TestTotalDetectedAccumulatesAcrossEvents(t *testing.T) {
	c := clock.NewReplayClock(1, time.Unix(1, 0), 400*time.Millisecond)
	d := New(c, testConfig())

	for i := uint64(1); i <= 3; i++ {
		if _, ok := d.Observe(sellEvent(10, 1000, i)); !ok {
			t.Fatalf("event %d should have qualified", i)
		}
	}
	if d.TotalDetected() != 3 {
		t.Errorf("TotalDetected = %d, want 3", d.TotalDetected())
	}
	// Advance closes all three, but the lifetime counter must not reset.
	d.Advance(1000)
	if d.TotalDetected() != 3 {
		t.Errorf("TotalDetected after Advance = %d, want 3 (lifetime, not current)", d.TotalDetected())
	}
	if d.OpenCount() != 0 {
		t.Errorf("OpenCount after Advance = %d, want 0", d.OpenCount())
	}
}
