package ingestion

import (
	"encoding/json"
	"testing"

	"dexabsorption/internal/chainfeed"
	"dexabsorption/internal/domain"
)

func rawTx(t *testing.T, slot uint64, blockTime int64) *chainfeed.RawTransaction {
	t.Helper()
	meta := `{
		"err": null,
		"preTokenBalances": [
			{"accountIndex": 1, "mint": "So11111111111111111111111111111111111111112", "owner": "traderA", "uiTokenAmount": {"uiAmount": 100}},
			{"accountIndex": 2, "mint": "unknownTokenMint", "owner": "traderA", "uiTokenAmount": {"uiAmount": 50}}
		],
		"postTokenBalances": [
			{"accountIndex": 1, "mint": "So11111111111111111111111111111111111111112", "owner": "traderA", "uiTokenAmount": {"uiAmount": 90}},
			{"accountIndex": 2, "mint": "unknownTokenMint", "owner": "traderA", "uiTokenAmount": {"uiAmount": 60}}
		]
	}`
	body := `{
		"signatures": ["sig1"],
		"message": {"accountKeys": [{"pubkey": "signer"}, {"pubkey": "poolAccount"}, {"pubkey": "traderA"}]}
	}`
	return &chainfeed.RawTransaction{
		Slot:        slot,
		BlockTime:   &blockTime,
		Meta:        json.RawMessage(meta),
		Transaction: json.RawMessage(body),
	}
}

func TestParseTransactionBuildsRawEvent(t *testing.T) {
	tx := rawTx(t, 500, 1234)
	counter := &slotTxCounter{}

	ev, err := ParseTransaction(tx, "sig1", "progA", domain.InstructionRaydiumSwap, counter)
	if err != nil {
		t.Fatalf("ParseTransaction failed: %v", err)
	}
	if ev.Slot != 500 || ev.Signature != "sig1" || ev.ProgramID != "progA" {
		t.Errorf("ev = %+v, missing expected slot/signature/program", ev)
	}
	if ev.BaseMint != "So11111111111111111111111111111111111111112" {
		t.Errorf("BaseMint = %q, want wrapped SOL recognized as base", ev.BaseMint)
	}
	if ev.TokenMint != "unknownTokenMint" {
		t.Errorf("TokenMint = %q, want unknownTokenMint", ev.TokenMint)
	}
	if len(ev.BalanceDeltas) != 1 {
		t.Fatalf("len(BalanceDeltas) = %d, want 1 (single owner with both deltas)", len(ev.BalanceDeltas))
	}
	delta, ok := ev.BalanceDeltas["traderA"]
	if !ok {
		t.Fatal("expected a delta entry for traderA")
	}
	if delta[ev.BaseMint] != -10 {
		t.Errorf("base delta = %v, want -10 (traderA spent base)", delta[ev.BaseMint])
	}
	if delta[ev.TokenMint] != 10 {
		t.Errorf("token delta = %v, want 10 (traderA received token)", delta[ev.TokenMint])
	}
}

func TestParseTransactionRejectsFailedTx(t *testing.T) {
	tx := rawTx(t, 500, 1234)
	tx.Meta = json.RawMessage(`{"err": {"InstructionError": [0, "Custom"]}}`)
	counter := &slotTxCounter{}

	if _, err := ParseTransaction(tx, "sig1", "progA", domain.InstructionRaydiumSwap, counter); err == nil {
		t.Fatal("expected an error for a transaction with a non-null err field")
	}
}

func TestParseTransactionRejectsAmbiguousMintCount(t *testing.T) {
	tx := rawTx(t, 500, 1234)
	tx.Meta = json.RawMessage(`{
		"err": null,
		"preTokenBalances": [],
		"postTokenBalances": [
			{"accountIndex": 1, "mint": "mintA", "owner": "x", "uiTokenAmount": {"uiAmount": 10}},
			{"accountIndex": 2, "mint": "mintB", "owner": "y", "uiTokenAmount": {"uiAmount": 10}},
			{"accountIndex": 3, "mint": "mintC", "owner": "z", "uiTokenAmount": {"uiAmount": 10}}
		]
	}`)
	counter := &slotTxCounter{}

	if _, err := ParseTransaction(tx, "sig1", "progA", domain.InstructionRaydiumSwap, counter); err == nil {
		t.Fatal("expected an error when more than 2 mints moved")
	}
}

func TestSlotTxCounterResetsAcrossSlots(t *testing.T) {
	c := &slotTxCounter{}
	if idx := c.next(100); idx != 0 {
		t.Errorf("first index in slot 100 = %d, want 0", idx)
	}
	if idx := c.next(100); idx != 1 {
		t.Errorf("second index in slot 100 = %d, want 1", idx)
	}
	if idx := c.next(101); idx != 0 {
		t.Errorf("first index in new slot 101 = %d, want 0 (counter resets)", idx)
	}
}

func TestPoolAddressGuessPicksSecondAccount(t *testing.T) {
	keys := []accountKey{{Pubkey: "signer"}, {Pubkey: "pool"}, {Pubkey: "trader"}}
	if got := poolAddressGuess(keys); got != "pool" {
		t.Errorf("poolAddressGuess = %q, want pool (second account)", got)
	}
}

func TestPoolAddressGuessSingleAccount(t *testing.T) {
	keys := []accountKey{{Pubkey: "only"}}
	if got := poolAddressGuess(keys); got != "only" {
		t.Errorf("poolAddressGuess = %q, want only", got)
	}
}

func TestPoolAddressGuessEmpty(t *testing.T) {
	if got := poolAddressGuess(nil); got != "" {
		t.Errorf("poolAddressGuess = %q, want empty string for no accounts", got)
	}
}
