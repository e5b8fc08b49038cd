package domain

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Sentinel errors for the §7 error taxonomy. Input-shape and logical
// violations are returned, never panicked; callers decide whether to
// drop-and-log (live mode) or abort (replay determinism violations).
var (
	// ErrInvalidSwap: no (trader, token) pair has balance changes on
	// both sides of a transaction.
	ErrInvalidSwap = errors.New("domain: no trader identifiable from balance deltas")

	// ErrDuplicateSignature: a SwapEvent with this signature was
	// already emitted in this stream.
	ErrDuplicateSignature = errors.New("domain: duplicate signature")

	// ErrZeroReserves: a PoolStateSnapshot violates the constant-product
	// invariant (reserve <= 0).
	ErrZeroReserves = errors.New("domain: pool reserves must be positive")

	// ErrOutOfWindow: a buy arrived after its SellEvent's window closed;
	// dropped, never retroactively attributed.
	ErrOutOfWindow = errors.New("domain: swap arrived after window closed")

	// ErrOverAbsorption: a candidate's absorption fraction exceeds 100%,
	// which is a data-shape impossibility (bad amounts, duplicate count).
	ErrOverAbsorption = errors.New("domain: absorption fraction exceeds 1.0")

	// ErrDeterminismViolation: fatal in replay mode only — out-of-order
	// event, unknown pool, or missing txIndex with a slot collision.
	ErrDeterminismViolation = errors.New("domain: determinism violation")

	// ErrMissingTxIndex: the Open Question resolution from SPEC_FULL.md
	// §13.1 — multiple events share a slot but txIndex was never
	// populated, so total order cannot be reconstructed.
	ErrMissingTxIndex = errors.New("domain: txIndex absent with slot collision")
)

// InvalidSwapError wraps ErrInvalidSwap with the offending signature so
// callers can log without re-parsing the raw transaction.
type InvalidSwapError struct {
	Signature string
	Reason    string
}

func (e *InvalidSwapError) Error() string {
	return fmt.Sprintf("invalid swap %s: %s", e.Signature, e.Reason)
}

func (e *InvalidSwapError) Unwrap() error { return ErrInvalidSwap }

// LooksLikePubkey reports whether s is 32-64 characters long and decodes
// as base58 to 16-64 bytes, a shape that covers Solana-style 32-byte
// pubkeys. It is a cheap shape check, not a cryptographic validation —
// used by the Normalizer to reject obviously-malformed addresses before
// they reach the rest of the pipeline.
func LooksLikePubkey(s string) bool {
	if len(s) < 32 || len(s) > 64 {
		return false
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) >= 16 && len(decoded) <= 64
}
