package ingestion

import (
	"context"
	"testing"
	"time"

	"dexabsorption/internal/bus"
	"dexabsorption/internal/domain"
)

// testPubkey returns a distinct, valid-base58 (no 0/O/I/l) 40-char
// string so identifyTrader's domain.LooksLikePubkey shape check accepts
// it, keyed off a short human-readable label for test readability.
func testPubkey(label string) string {
	const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	seed := 0
	for _, c := range label {
		seed += int(c)
	}
	b := make([]byte, 40)
	for i := range b {
		b[i] = alphabet[(seed+i)%len(alphabet)]
	}
	return string(b)
}

func buySwap(slot uint64, txIndex int64, signature, trader string) RawEvent {
	return RawEvent{
		Slot:        slot,
		TxIndex:     txIndex,
		BlockTime:   time.Unix(int64(slot), 0).UTC(),
		Signature:   signature,
		PoolAddress: "poolA",
		TokenMint:   "tokenA",
		BaseMint:    "baseA",
		BalanceDeltas: map[string]map[string]float64{
			// both legs on the same owner, as a real trader's two
			// token accounts are: spent base, received token.
			trader: {"baseA": -10, "tokenA": 20},
		},
	}
}

func sellSwap(slot uint64, txIndex int64, signature, trader string) RawEvent {
	return RawEvent{
		Slot:        slot,
		TxIndex:     txIndex,
		BlockTime:   time.Unix(int64(slot), 0).UTC(),
		Signature:   signature,
		PoolAddress: "poolA",
		TokenMint:   "tokenA",
		BaseMint:    "baseA",
		BalanceDeltas: map[string]map[string]float64{
			// received base, spent token.
			trader: {"baseA": 10, "tokenA": -20},
		},
	}
}

func drainAll(ctx context.Context, t *testing.T, out *bus.Queue[domain.SwapEvent], want int) []domain.SwapEvent {
	t.Helper()
	var got []domain.SwapEvent
	timeout := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case ev := <-out.C():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", want, len(got))
		}
	}
	return got
}

func TestIdentifyTraderBuyAndSell(t *testing.T) {
	_, side, base, token, err := identifyTrader(buySwap(1, 0, "sig1", testPubkey("traderA")))
	if err != nil {
		t.Fatalf("identifyTrader (buy) failed: %v", err)
	}
	if side != domain.SideBuy || base != 10 {
		t.Errorf("buy: side=%v base=%v, want SideBuy/10", side, base)
	}
	_ = token

	_, side, base, _, err = identifyTrader(sellSwap(1, 0, "sig2", testPubkey("traderA")))
	if err != nil {
		t.Fatalf("identifyTrader (sell) failed: %v", err)
	}
	if side != domain.SideSell || base != 10 {
		t.Errorf("sell: side=%v base=%v, want SideSell/10", side, base)
	}
}

func TestIdentifyTraderRejectsAmbiguousShape(t *testing.T) {
	raw := RawEvent{BaseMint: "baseA", TokenMint: "tokenA"} // no balance deltas at all
	if _, _, _, _, err := identifyTrader(raw); err == nil {
		t.Fatal("expected an error for a swap with no identifiable trader")
	}
}

func TestNormalizerOrdersWithinSlotAndDeduplicates(t *testing.T) {
	in := bus.NewQueue[RawEvent]("in", 10)
	out := bus.NewQueue[domain.SwapEvent]("out", 10)
	n := NewNormalizer(in, out, nil, 1, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	// Out-of-order tx indices within the same slot, plus a duplicate signature.
	in.TrySend(sellSwap(10, 2, "sig-late", testPubkey("seller")))
	in.TrySend(sellSwap(10, 0, "sig-early", testPubkey("seller")))
	in.TrySend(sellSwap(10, 0, "sig-early", testPubkey("seller"))) // duplicate, same key
	// Advance highestSlot past the lag window so slot 10 finalizes.
	in.TrySend(buySwap(12, 0, "sig-advance", testPubkey("buyer")))

	events := drainAll(ctx, t, out, 2)
	if events[0].Signature != "sig-early" || events[1].Signature != "sig-late" {
		t.Errorf("events out of order: got %q then %q, want sig-early then sig-late", events[0].Signature, events[1].Signature)
	}

	invalid, dup := n.Stats()
	if dup != 1 {
		t.Errorf("duplicateCount = %d, want 1", dup)
	}
	_ = invalid
}

func TestNormalizerDropsUnidentifiableSwaps(t *testing.T) {
	in := bus.NewQueue[RawEvent]("in", 10)
	out := bus.NewQueue[domain.SwapEvent]("out", 10)
	n := NewNormalizer(in, out, nil, 1, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	in.TrySend(RawEvent{Slot: 10, Signature: "bad", BaseMint: "baseA", TokenMint: "tokenA"})
	in.TrySend(buySwap(12, 0, "sig-advance", testPubkey("buyer")))   // push highestSlot to 12, finalizing slot 10
	in.TrySend(buySwap(13, 0, "sig-advance2", testPubkey("buyer2"))) // push highestSlot to 13, finalizing slot 12

	// The bad event is dropped (never reaches out); sig-advance is the only
	// event expected once slot 12 finalizes.
	select {
	case ev := <-out.C():
		if ev.Signature != "sig-advance" {
			t.Fatalf("unexpected event signature %q, want sig-advance", ev.Signature)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for normalizer output")
	}

	invalid, _ := n.Stats()
	if invalid != 1 {
		t.Errorf("invalidCount = %d, want 1", invalid)
	}
}

func TestNormalizerFlushesRemainingOnContextCancel(t *testing.T) {
	in := bus.NewQueue[RawEvent]("in", 10)
	out := bus.NewQueue[domain.SwapEvent]("out", 10)
	n := NewNormalizer(in, out, nil, 100, time.Hour) // huge lag window + flush interval: only shutdown flush will emit

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	in.TrySend(sellSwap(10, 0, "sig1", testPubkey("seller")))
	time.Sleep(20 * time.Millisecond) // let it buffer
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	select {
	case ev := <-out.C():
		if ev.Signature != "sig1" {
			t.Errorf("flushed event signature = %q, want sig1", ev.Signature)
		}
	default:
		t.Fatal("expected the buffered event to be flushed on shutdown")
	}
}
