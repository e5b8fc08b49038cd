// Package ingestion implements the Normalizer (component A, §4.A): it
// turns raw per-transaction chain data into canonically-ordered
// domain.SwapEvent values, deduplicated by signature, buffered long
// enough to tolerate out-of-order delivery from the log subscriber.
//
// Grounded on the slot-buffer + lag-window + periodic-flush pattern of
// VladislavFirsov-solana-token-lab's ingestion runner
// (other_examples/1f537761_..._ingestion-runner.go.go): buffer events by
// slot, only process a slot once `highestSlot - slotLagWindow` has
// passed it, sort within the slot before dispatch, delete once
// processed.
package ingestion

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"dexabsorption/internal/bus"
	"dexabsorption/internal/domain"

	"github.com/rs/zerolog/log"
)

// RawEvent is what the chain-feed layer hands the Normalizer: enough to
// derive a SwapEvent, still in arrival (not canonical) order.
type RawEvent struct {
	Slot        uint64
	TxIndex     int64
	InnerIndex  int64
	LogIndex    int64
	BlockTime   time.Time
	Signature   string
	PoolAddress string
	ProgramID   string
	Instruction domain.InstructionKind
	RawPoolData json.RawMessage

	TokenMint string
	BaseMint  string

	// BalanceDeltas maps account -> mint -> signed delta (positive =
	// received), used to identify the trader and the swap
	// direction/amounts. Exactly one account should carry both a
	// nonzero base-mint and a nonzero token-mint delta for a valid
	// swap; a real trader's token accounts for each mint share the same
	// owner, so both legs must be looked up under that one account, not
	// merged across accounts.
	BalanceDeltas map[string]map[string]float64
}

// PoolStateDecoder decodes a pool account's raw data into a snapshot,
// dispatched by the instruction's recognized program. Per the
// determinism-mode decision (SPEC_FULL.md §13.2), replay mode never
// calls this — replayed datasets carry PoolStateSnapshot directly: it
// exists for live mode, and no concrete implementation is wired yet
// because none of the example repos decode Raydium/Pump account layouts
// byte-for-byte (the teacher's price_feed.go left this same TODO:
// "simplified version - actual implementation needs proper decoding").
type PoolStateDecoder interface {
	Decode(kind domain.InstructionKind, raw json.RawMessage) (domain.PoolStateSnapshot, error)
}

// Normalizer buffers RawEvent by slot and emits canonically-ordered,
// deduplicated domain.SwapEvent.
type Normalizer struct {
	in  *bus.Queue[RawEvent]
	out *bus.Queue[domain.SwapEvent]

	decoder PoolStateDecoder

	slotLagWindow uint64
	flushInterval time.Duration

	mu          sync.Mutex
	buffer      map[uint64][]RawEvent
	highestSlot uint64

	seenMu sync.Mutex
	seen   map[string]struct{}
	seenOrder []string // bounded ring so `seen` doesn't grow forever
	maxSeen   int

	invalidCount  int64
	duplicateCount int64
}

// NewNormalizer wires a Normalizer between in and out. decoder may be
// nil when running against a replay dataset, which carries pool state
// directly and never calls Decode.
func NewNormalizer(in *bus.Queue[RawEvent], out *bus.Queue[domain.SwapEvent], decoder PoolStateDecoder, slotLagWindow uint64, flushInterval time.Duration) *Normalizer {
	if slotLagWindow == 0 {
		slotLagWindow = 5
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Normalizer{
		in:            in,
		out:           out,
		decoder:       decoder,
		slotLagWindow: slotLagWindow,
		flushInterval: flushInterval,
		buffer:        make(map[uint64][]RawEvent),
		seen:          make(map[string]struct{}),
		maxSeen:       200_000,
	}
}

// Run buffers and flushes until ctx is cancelled, then flushes whatever
// remains so no buffered event is silently dropped on shutdown.
func (n *Normalizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-n.in.C():
			if !ok {
				n.flushAll(ctx)
				return nil
			}
			n.bufferEvent(ev)
		case <-ticker.C:
			n.processFinalizedSlots(ctx)
		case <-ctx.Done():
			n.flushAll(ctx)
			return ctx.Err()
		}
	}
}

func (n *Normalizer) bufferEvent(ev RawEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.buffer[ev.Slot] = append(n.buffer[ev.Slot], ev)
	if ev.Slot > n.highestSlot {
		n.highestSlot = ev.Slot
	}
}

func (n *Normalizer) processFinalizedSlots(ctx context.Context) {
	n.mu.Lock()
	if n.highestSlot < n.slotLagWindow {
		n.mu.Unlock()
		return
	}
	finalizedSlot := n.highestSlot - n.slotLagWindow

	var slots []uint64
	for slot := range n.buffer {
		if slot <= finalizedSlot {
			slots = append(slots, slot)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	batches := make([][]RawEvent, len(slots))
	for i, slot := range slots {
		batches[i] = n.buffer[slot]
		delete(n.buffer, slot)
	}
	n.mu.Unlock()

	for _, batch := range batches {
		n.processSlot(ctx, batch)
	}
}

func (n *Normalizer) flushAll(ctx context.Context) {
	n.mu.Lock()
	var slots []uint64
	for slot := range n.buffer {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	batches := make([][]RawEvent, len(slots))
	for i, slot := range slots {
		batches[i] = n.buffer[slot]
		delete(n.buffer, slot)
	}
	n.mu.Unlock()

	for _, batch := range batches {
		n.processSlot(ctx, batch)
	}
}

func (n *Normalizer) processSlot(ctx context.Context, batch []RawEvent) {
	sort.Slice(batch, func(i, j int) bool {
		ki := domain.OrderKey{Slot: batch[i].Slot, TxIndex: batch[i].TxIndex, InnerIndex: batch[i].InnerIndex, LogIndex: batch[i].LogIndex}
		kj := domain.OrderKey{Slot: batch[j].Slot, TxIndex: batch[j].TxIndex, InnerIndex: batch[j].InnerIndex, LogIndex: batch[j].LogIndex}
		return ki.Less(kj)
	})

	for _, raw := range batch {
		ev, err := n.toSwapEvent(raw)
		if err != nil {
			n.invalidCount++
			log.Warn().Err(err).Str("signature", raw.Signature).Msg("dropping unnormalizable event")
			continue
		}
		if n.isDuplicate(ev.Signature) {
			n.duplicateCount++
			continue
		}
		_ = n.out.Send(ctx, ev)
	}
}

func (n *Normalizer) isDuplicate(signature string) bool {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()

	if _, ok := n.seen[signature]; ok {
		return true
	}
	n.seen[signature] = struct{}{}
	n.seenOrder = append(n.seenOrder, signature)
	if len(n.seenOrder) > n.maxSeen {
		oldest := n.seenOrder[0]
		n.seenOrder = n.seenOrder[1:]
		delete(n.seen, oldest)
	}
	return false
}

// toSwapEvent identifies the trader via balance deltas (exactly one
// account must show nonzero base and token deltas; the sign of the base
// delta picks the side) and builds the
// canonical SwapEvent. Returns domain.ErrInvalidSwap-wrapping errors for
// any shape the pipeline cannot interpret — these are dropped, never
// fatal, per §7's input-shape error handling.
func (n *Normalizer) toSwapEvent(raw RawEvent) (domain.SwapEvent, error) {
	trader, side, amountBase, amountToken, err := identifyTrader(raw)
	if err != nil {
		return domain.SwapEvent{}, &domain.InvalidSwapError{Signature: raw.Signature, Reason: err.Error()}
	}

	var price float64
	if amountToken != 0 {
		price = amountBase / amountToken
	}

	var poolState domain.PoolStateSnapshot
	if n.decoder != nil && raw.RawPoolData != nil {
		poolState, err = n.decoder.Decode(raw.Instruction, raw.RawPoolData)
		if err != nil {
			return domain.SwapEvent{}, &domain.InvalidSwapError{Signature: raw.Signature, Reason: "pool decode: " + err.Error()}
		}
	}

	return domain.SwapEvent{
		Key: domain.OrderKey{
			Slot:       raw.Slot,
			TxIndex:    raw.TxIndex,
			InnerIndex: raw.InnerIndex,
			LogIndex:   raw.LogIndex,
		},
		BlockTime:         raw.BlockTime,
		Signature:         raw.Signature,
		PoolAddress:       raw.PoolAddress,
		ProgramID:         raw.ProgramID,
		Instruction:       raw.Instruction,
		TokenMint:         raw.TokenMint,
		BaseMint:          raw.BaseMint,
		Trader:            trader,
		Side:              side,
		AmountInBase:      amountBase,
		AmountOutToken:    amountToken,
		PriceBasePerToken: price,
		PoolState:         poolState,
	}, nil
}

// identifyTrader finds the unique account whose balances change on both
// legs of the swap (a base-mint delta and a token-mint delta, both
// nonzero, on the *same* account — a real trader's base-mint and
// token-mint accounts share one owner). Requiring exactly one such
// candidate, rather than picking whichever account last matched each
// mint, keeps this deterministic across runs regardless of Go's
// randomized map iteration order (§5/§8).
func identifyTrader(raw RawEvent) (trader string, side domain.Side, amountBase, amountToken float64, err error) {
	var candidates []string
	for account, mintDeltas := range raw.BalanceDeltas {
		if !domain.LooksLikePubkey(account) {
			continue
		}
		base, hasBase := mintDeltas[raw.BaseMint]
		token, hasToken := mintDeltas[raw.TokenMint]
		if hasBase && hasToken && base != 0 && token != 0 {
			candidates = append(candidates, account)
		}
	}
	if len(candidates) != 1 {
		return "", "", 0, 0, domain.ErrInvalidSwap
	}
	trader = candidates[0]
	amountBase = raw.BalanceDeltas[trader][raw.BaseMint]
	amountToken = raw.BalanceDeltas[trader][raw.TokenMint]
	if amountBase < 0 {
		side = domain.SideBuy // spent base, received token
		amountBase = -amountBase
	} else {
		side = domain.SideSell // received base, spent token
		amountToken = -amountToken
	}
	return trader, side, amountBase, amountToken, nil
}

// Stats reports counters for telemetry (§7's input-shape/duplicate
// error counters).
func (n *Normalizer) Stats() (invalid, duplicate int64) {
	return n.invalidCount, n.duplicateCount
}
