// Package absorption implements the Absorption Analyzer (component D,
// §4.D): for each open SellEvent, tracks every buy from the same pool
// within the absorption window and accumulates per-wallet
// AbsorptionCandidate records. Ownership is exclusive: a SellEvent's
// candidates live only here until Finalize, at which point a snapshot
// is handed to the scorer and no reverse pointer is kept (§9's
// circular-reference-breaking rule).
package absorption

import (
	"sync"

	"dexabsorption/internal/config"
	"dexabsorption/internal/domain"
)

// Analyzer accumulates AbsorptionCandidate per open SellEvent.
type Analyzer struct {
	mu         sync.Mutex
	candidates map[string]map[string]*domain.AbsorptionCandidate // eventID -> wallet -> candidate
	events     map[string]domain.SellEvent
	config     config.AbsorptionConfig
	// maxResponseLatencySlots is the Detector's §4.C latency bound: a
	// candidate beyond it is not "meaningful" (§4.D) regardless of
	// absorption fraction.
	maxResponseLatencySlots uint64
}

// New creates an Analyzer bound to an absorption config snapshot and the
// Detector's response-latency bound (§4.D's third meaningfulness
// conjunct).
func New(cfg config.AbsorptionConfig, detCfg config.DetectionConfig) *Analyzer {
	return &Analyzer{
		candidates:              make(map[string]map[string]*domain.AbsorptionCandidate),
		events:                  make(map[string]domain.SellEvent),
		config:                  cfg,
		maxResponseLatencySlots: detCfg.MaxResponseLatencySlots,
	}
}

// OpenEvent registers a newly detected SellEvent so subsequent buys in
// its pool can be attributed to it.
func (a *Analyzer) OpenEvent(se domain.SellEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events[se.ID] = se
	a.candidates[se.ID] = make(map[string]*domain.AbsorptionCandidate)
}

// ObserveBuy attributes a buy swap to every still-open SellEvent on the
// same pool whose window has not yet closed, per §4.D: a single buy may
// count toward multiple concurrently open SellEvents on the same pool.
// Buys arriving after a window's WindowEndSlot are dropped
// (domain.ErrOutOfWindow), never retroactively attributed.
func (a *Analyzer) ObserveBuy(ev domain.SwapEvent) {
	if ev.Side != domain.SideBuy {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for id, se := range a.events {
		if se.PoolAddress != ev.PoolAddress {
			continue
		}
		if ev.Slot() < se.Slot || ev.Slot() > se.WindowEndSlot {
			continue
		}
		wallet := ev.Trader
		bucket := a.candidates[id]
		c, ok := bucket[wallet]
		if !ok {
			c = &domain.AbsorptionCandidate{
				EventID:      id,
				Wallet:       wallet,
				TokenMint:    ev.TokenMint,
				FirstBuySlot: ev.Slot(),
			}
			bucket[wallet] = c
		}

		c.TotalBuyBase += ev.AmountInBase
		c.BuyCount++
		c.LastBuySlot = ev.Slot()
		if se.SellAmountBase > 0 {
			c.AbsorptionFraction = c.TotalBuyBase / se.SellAmountBase
		}
		c.ResponseLatencySlots = c.FirstBuySlot - se.Slot
		if se.PreEventPrice > 0 {
			impact := (ev.PriceBasePerToken - se.PostEventPrice) / se.PreEventPrice
			c.AvgPriceImpact = ((c.AvgPriceImpact * float64(c.BuyCount-1)) + impact) / float64(c.BuyCount)
		}
		if ev.PriceBasePerToken <= se.PreEventPrice {
			c.BoughtDuringDip = true
		}
	}
}

// Finalize closes out a SellEvent's tracking window, returning the
// candidates that are "meaningful" per §4.D: absorptionFraction in
// [minAbsorption, maxAbsorption], bought during the dip (below
// preEventPrice), and within the response-latency bound — and removing
// all bookkeeping for this event, since nothing downstream can mutate it
// further.
func (a *Analyzer) Finalize(eventID string) []domain.AbsorptionCandidate {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket := a.candidates[eventID]
	delete(a.candidates, eventID)
	delete(a.events, eventID)

	var out []domain.AbsorptionCandidate
	for _, c := range bucket {
		if c.AbsorptionFraction < a.config.MinAbsorption {
			continue
		}
		if c.AbsorptionFraction > a.config.MaxAbsorption {
			continue // data-shape impossibility, §7 logical violation
		}
		if !c.BoughtDuringDip {
			continue
		}
		if c.ResponseLatencySlots > a.maxResponseLatencySlots {
			continue
		}
		out = append(out, *c)
	}
	return out
}

// OpenEventCount reports how many SellEvents are currently accumulating
// candidates, for telemetry.
func (a *Analyzer) OpenEventCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}
