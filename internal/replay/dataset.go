// Package replay implements the Replay Driver (component J, §4.J) and
// its dataset loader: a deterministic, offline run of the full pipeline
// (A-I) against a captured dataset, at a configurable pace, writing
// reports (component K) instead of live signals. Grounded on
// VladislavFirsov-solana-token-lab's ingestion runner slot-sort helper
// (other_examples/1f537761_..._ingestion-runner.go.go) for the
// sort-by-(slot,txIndex) discipline, generalized from a live buffer to a
// whole-dataset upfront sort since replay has the entire file available
// before it starts.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"dexabsorption/internal/domain"
)

// datasetRecord is the on-disk JSONL shape for one captured swap, one
// line per event. Pool reserves are captured per-event since replay
// never calls the live Pool State Store's rebuild path (§13.2).
type datasetRecord struct {
	Slot        uint64 `json:"slot"`
	TxIndex     *int64 `json:"tx_index"`
	InnerIndex  int64  `json:"inner_index"`
	LogIndex    int64  `json:"log_index"`
	BlockTime   int64  `json:"block_time"` // unix seconds
	Signature   string `json:"signature"`
	PoolAddress string `json:"pool_address"`
	ProgramID   string `json:"program_id"`
	Instruction string `json:"instruction"`
	TokenMint   string `json:"token_mint"`
	BaseMint    string `json:"base_mint"`
	Trader      string `json:"trader"`
	Side        string `json:"side"`

	AmountInBase   float64 `json:"amount_in_base"`
	AmountOutToken float64 `json:"amount_out_token"`

	ReserveBase       float64  `json:"reserve_base"`
	ReserveToken      float64  `json:"reserve_token"`
	PriceBasePerToken float64  `json:"price_base_per_token"`
	LiquidityUsd      *float64 `json:"liquidity_usd,omitempty"`
}

// LoadDataset reads a JSONL dataset file, validates it, and returns
// events in canonical order. A record missing tx_index that shares a
// slot with another record is a determinism violation (§13.1's Open
// Question resolution) and aborts the load — replay must never guess an
// order.
func LoadDataset(path string) ([]domain.SwapEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var records []datasetRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec datasetRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	if err := checkTxIndexCollisions(records); err != nil {
		return nil, err
	}

	events := make([]domain.SwapEvent, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if _, dup := seen[rec.Signature]; dup {
			return nil, fmt.Errorf("%w: duplicate signature %s at line %d", domain.ErrDuplicateSignature, rec.Signature, i+1)
		}
		seen[rec.Signature] = struct{}{}

		txIdx := int64(0)
		if rec.TxIndex != nil {
			txIdx = *rec.TxIndex
		}

		events = append(events, domain.SwapEvent{
			Key: domain.OrderKey{
				Slot:       rec.Slot,
				TxIndex:    txIdx,
				InnerIndex: rec.InnerIndex,
				LogIndex:   rec.LogIndex,
			},
			BlockTime:         time.Unix(rec.BlockTime, 0).UTC(),
			Signature:         rec.Signature,
			PoolAddress:       rec.PoolAddress,
			ProgramID:         rec.ProgramID,
			Instruction:       domain.InstructionKind(rec.Instruction),
			TokenMint:         rec.TokenMint,
			BaseMint:          rec.BaseMint,
			Trader:            rec.Trader,
			Side:              domain.Side(rec.Side),
			AmountInBase:      rec.AmountInBase,
			AmountOutToken:    rec.AmountOutToken,
			PriceBasePerToken: rec.PriceBasePerToken,
			PoolState: domain.PoolStateSnapshot{
				Slot:              rec.Slot,
				PoolAddress:       rec.PoolAddress,
				ReserveBase:       rec.ReserveBase,
				ReserveToken:      rec.ReserveToken,
				PriceBasePerToken: rec.PriceBasePerToken,
				LiquidityUsd:      rec.LiquidityUsd,
			},
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Key.Less(events[j].Key) })
	return events, nil
}

// checkTxIndexCollisions rejects a dataset where two+ records share a
// slot and at least one has no tx_index — total order cannot be
// reconstructed, a fatal determinism violation in replay mode (§7, §13.1).
func checkTxIndexCollisions(records []datasetRecord) error {
	bySlot := make(map[uint64][]int)
	for i, r := range records {
		bySlot[r.Slot] = append(bySlot[r.Slot], i)
	}
	for slot, idxs := range bySlot {
		if len(idxs) < 2 {
			continue
		}
		for _, i := range idxs {
			if records[i].TxIndex == nil {
				return fmt.Errorf("%w: slot %d has %d events and at least one missing tx_index",
					domain.ErrMissingTxIndex, slot, len(idxs))
			}
		}
	}
	return nil
}

// Validate loads and checks a dataset without running the pipeline,
// backing cmd/replay's -validate-only flag (SPEC_FULL.md §12.5).
func Validate(path string) (eventCount int, slotRange [2]uint64, err error) {
	events, err := LoadDataset(path)
	if err != nil {
		return 0, [2]uint64{}, err
	}
	if len(events) == 0 {
		return 0, [2]uint64{}, nil
	}
	return len(events), [2]uint64{events[0].Slot(), events[len(events)-1].Slot()}, nil
}
