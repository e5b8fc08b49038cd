// Package stabilize implements the Stabilization Validator (component E,
// §4.E): after a SellEvent's absorption window closes, watches the same
// token for `stabilizationWindowSlots` more slots to judge whether the
// price actually held — recovered, didn't make a new low, and saw
// reduced sell volume. Per the Open-Question resolution
// (SPEC_FULL.md §13.3), this window is strictly
// [windowEnd, windowEnd+stabilizationWindowSlots] and considers only
// that token's swaps — no separate price cache: each tracked event keeps
// running aggregates fed from the same normalized swap stream everything
// else reads.
package stabilize

import (
	"sync"

	"dexabsorption/internal/config"
	"dexabsorption/internal/domain"
)

type tracked struct {
	eventID        string
	tokenMint      string
	windowStart    uint64
	windowEnd      uint64
	preEventPrice  float64
	postEventPrice float64
	sellAmountBase float64 // from the originating SellEvent; additionalLargeSells threshold is 0.5x this

	lowestPrice float64
	priceSum    float64
	priceCount  int

	sellVolumeBase      float64
	priorSellVolumeBase float64 // baseline sell volume for the contraction comparison (as passed to OpenWindow)
	largeSellCount      int     // post-window sells >= 0.5*sellAmountBase

	defenseLevel     float64
	defenseHoldCount int  // post-window swaps observed with price >= 0.95*defenseLevel
	defenseBroken    bool // true once any post-window price fell below the 5% band
}

// Validator tracks stabilization windows for open SellEvents.
type Validator struct {
	mu      sync.Mutex
	tracked map[string]*tracked // eventID -> window state
	config  config.StabilizationConfig
}

// New creates a Validator bound to a stabilization config snapshot.
func New(cfg config.StabilizationConfig) *Validator {
	return &Validator{
		tracked: make(map[string]*tracked),
		config:  cfg,
	}
}

// OpenWindow starts tracking stabilization for a SellEvent whose
// absorption window just closed. priorSellVolumeBase is the baseline
// the window's sell volume is compared against for volume contraction;
// the replay driver and the live pipeline pass the originating sell's
// SellAmountBase.
func (v *Validator) OpenWindow(se domain.SellEvent, priorSellVolumeBase float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.tracked[se.ID] = &tracked{
		eventID:             se.ID,
		tokenMint:           se.TokenMint,
		windowStart:         se.WindowEndSlot,
		windowEnd:           se.WindowEndSlot + v.config.StabilizationWindowSlots,
		preEventPrice:       se.PreEventPrice,
		postEventPrice:      se.PostEventPrice,
		sellAmountBase:      se.SellAmountBase,
		lowestPrice:         se.PostEventPrice,
		priorSellVolumeBase: priorSellVolumeBase,
		defenseLevel:        se.PostEventPrice,
	}
}

// ObserveSwap feeds a normalized swap into every still-open
// stabilization window for the same token, updating the running price
// average/low, sell volume, and the defense-band hold count.
func (v *Validator) ObserveSwap(ev domain.SwapEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, t := range v.tracked {
		if t.tokenMint != ev.TokenMint {
			continue
		}
		if ev.Slot() < t.windowStart || ev.Slot() > t.windowEnd {
			continue
		}

		price := ev.PoolState.Price()
		if price > 0 {
			if t.lowestPrice == 0 || price < t.lowestPrice {
				t.lowestPrice = price
			}
			t.priceSum += price
			t.priceCount++
			if price >= 0.95*t.defenseLevel {
				t.defenseHoldCount++
			} else {
				t.defenseBroken = true
			}
		}

		if ev.Side == domain.SideSell {
			t.sellVolumeBase += ev.AmountInBase
			if ev.AmountInBase >= 0.5*t.sellAmountBase {
				t.largeSellCount++
			}
		}
	}
}

// Finalize closes a stabilization window once currentSlot passes its
// end, computing the §4.E result. Returns (zero, false) if the window
// is not yet closed or was never opened.
func (v *Validator) Finalize(eventID string, currentSlot uint64) (domain.StabilizationResult, bool) {
	v.mu.Lock()
	t, ok := v.tracked[eventID]
	if !ok || currentSlot < t.windowEnd {
		v.mu.Unlock()
		return domain.StabilizationResult{}, false
	}
	delete(v.tracked, eventID)
	v.mu.Unlock()

	madeNewLow := t.lowestPrice < t.postEventPrice*(1-v.config.NewLowTolerance)

	avgPrice := 0.0
	if t.priceCount > 0 {
		avgPrice = t.priceSum / float64(t.priceCount)
	}
	recoveryPct := 0.0
	if t.preEventPrice > 0 {
		recoveryPct = (avgPrice - t.postEventPrice) / t.preEventPrice * 100
	}

	contractionPct := 0.0
	if t.priorSellVolumeBase > 0 {
		contractionPct = (t.priorSellVolumeBase - t.sellVolumeBase) / t.priorSellVolumeBase * 100
	}
	if contractionPct < 0 {
		contractionPct = 0
	}

	defenseHeld := !t.defenseBroken

	confidence := 50.0
	if recoveryPct > 0 {
		confidence += min(20, 2*recoveryPct)
	} else {
		confidence += max(-20, recoveryPct)
	}
	if !madeNewLow {
		confidence += 15
	}
	confidence += min(15, contractionPct/4)
	if defenseHeld {
		confidence += 20
	}
	confidence -= 10 * float64(t.largeSellCount)
	confidence = clamp(confidence, 0, 100)

	stabilized := !madeNewLow &&
		contractionPct >= v.config.MinContractionPct &&
		recoveryPct >= -v.config.MaxPriceDropPct &&
		defenseHeld &&
		t.largeSellCount == 0 &&
		confidence >= 60

	return domain.StabilizationResult{
		EventID:              eventID,
		Stabilized:           stabilized,
		PriceRecoveryPct:     recoveryPct,
		MadeNewLow:           madeNewLow,
		VolumeContractionPct: contractionPct,
		DefenseLevel:         t.defenseLevel,
		DefenseHoldSlots:     t.defenseHoldCount,
		AdditionalLargeSells: t.largeSellCount,
		ConfidenceScore:      confidence,
	}, true
}

// ReadyToFinalize returns the IDs of tracked windows whose end has
// passed as of currentSlot, for the driver/pipeline to call Finalize on.
func (v *Validator) ReadyToFinalize(currentSlot uint64) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var ids []string
	for id, t := range v.tracked {
		if currentSlot >= t.windowEnd {
			ids = append(ids, id)
		}
	}
	return ids
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
