// Package detector implements the Large-Sell Detector (component C,
// §4.C): watches normalized swaps for sells large enough, relative to
// pool reserves, to plausibly move price, and opens a SellEvent tracking
// window for each one. Grounded on the teacher's Position/PositionTracker
// discipline (internal/trading/position.go): a mutex-guarded struct with
// a Snapshot() copy-out method, never handing out the live pointer to
// callers outside the owning component.
package detector

import (
	"sync"
	"sync/atomic"
	"time"

	"dexabsorption/internal/clock"
	"dexabsorption/internal/config"
	"dexabsorption/internal/domain"

	"github.com/google/uuid"
)

// Detector tracks every open SellEvent by ID; a new qualifying sell for
// a seller already being tracked extends nothing — it is evaluated as
// its own independent SellEvent, since §4.C does not merge sequential
// sells.
type Detector struct {
	mu     sync.Mutex
	open   map[string]*trackedEvent // keyed by SellEvent.ID
	clock  clock.Clock
	config config.DetectionConfig
	total  atomic.Int64

	priceMu      sync.Mutex
	priceHistory map[string][]pricePoint // tokenMint -> recent swap prices, newest last
}

// pricePoint is one sample in a token's rolling PreEventPrice window.
type pricePoint struct {
	at    time.Time
	price float64
}

type trackedEvent struct {
	mu    sync.Mutex
	event domain.SellEvent
}

// New creates a Detector bound to a clock (for WindowEndSlot bookkeeping
// consistency across live/replay) and a detection config snapshot.
func New(c clock.Clock, cfg config.DetectionConfig) *Detector {
	return &Detector{
		open:         make(map[string]*trackedEvent),
		clock:        c,
		config:       cfg,
		priceHistory: make(map[string][]pricePoint),
	}
}

// Observe inspects a swap and, if it qualifies as a large sell (§4.C:
// fraction of pool reserves in [minSellFraction, maxSellFraction]),
// opens a new SellEvent and returns it. Returns (zero, false) otherwise.
// Every swap, not just qualifying sells, feeds the per-token price
// history used to compute PreEventPrice.
func (d *Detector) Observe(ev domain.SwapEvent) (domain.SellEvent, bool) {
	d.recordPrice(ev)

	if ev.Side != domain.SideSell {
		return domain.SellEvent{}, false
	}
	if ev.PoolState.ReserveBase <= 0 {
		return domain.SellEvent{}, false
	}

	fraction := ev.AmountInBase / ev.PoolState.ReserveBase
	if fraction < d.config.MinSellFraction || fraction > d.config.MaxSellFraction {
		return domain.SellEvent{}, false
	}

	se := domain.SellEvent{
		ID:             uuid.NewString(),
		TokenMint:      ev.TokenMint,
		PoolAddress:    ev.PoolAddress,
		Slot:           ev.Slot(),
		BlockTime:      ev.BlockTime,
		SellerWallet:   ev.Trader,
		SellAmountBase: ev.AmountInBase,
		FractionOfPool: fraction,
		PreEventPrice:  d.preEventPrice(ev.TokenMint, ev.BlockTime, ev.PoolState.PriceBasePerToken),
		PostEventPrice: ev.PoolState.Price(),
		WindowEndSlot:  ev.Slot() + d.config.AbsorptionWindowSlots,
		State:          domain.SellEventObserving,
	}

	d.mu.Lock()
	d.open[se.ID] = &trackedEvent{event: se}
	d.mu.Unlock()
	d.total.Add(1)

	return se, true
}

// recordPrice appends ev's pool price to its token's rolling window and
// drops samples older than PreEventPriceLookbackSec. A non-positive
// lookback disables the history entirely (PreEventPrice then falls back
// to the instantaneous pool price, preserving pre-rolling-average
// behavior for configs that never set it).
func (d *Detector) recordPrice(ev domain.SwapEvent) {
	lookback := time.Duration(d.config.PreEventPriceLookbackSec) * time.Second
	if lookback <= 0 {
		return
	}

	d.priceMu.Lock()
	defer d.priceMu.Unlock()

	hist := append(d.priceHistory[ev.TokenMint], pricePoint{at: ev.BlockTime, price: ev.PoolState.PriceBasePerToken})
	cutoff := ev.BlockTime.Add(-lookback)
	i := 0
	for i < len(hist) && hist[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		hist = append([]pricePoint(nil), hist[i:]...)
	}
	d.priceHistory[ev.TokenMint] = hist
}

// preEventPrice averages every recorded sample for tokenMint strictly
// before asOf and within the lookback window (§4.C). Falls back to the
// swap's own instantaneous price when the history is empty (first swap
// ever seen for the token) or the lookback is disabled.
func (d *Detector) preEventPrice(tokenMint string, asOf time.Time, fallback float64) float64 {
	lookback := time.Duration(d.config.PreEventPriceLookbackSec) * time.Second
	if lookback <= 0 {
		return fallback
	}

	d.priceMu.Lock()
	defer d.priceMu.Unlock()

	cutoff := asOf.Add(-lookback)
	var sum float64
	var n int
	for _, p := range d.priceHistory[tokenMint] {
		if p.at.Before(asOf) && !p.at.Before(cutoff) {
			sum += p.price
			n++
		}
	}
	if n == 0 {
		return fallback
	}
	return sum / float64(n)
}

// TotalDetected reports how many SellEvents have been opened over the
// life of this Detector, for the replay summary and live telemetry.
func (d *Detector) TotalDetected() int64 {
	return d.total.Load()
}

// Advance transitions all SellEvents whose window has closed as of
// currentSlot from observing/analyzing to analyzing (ready for the
// Absorption Analyzer's final scoring pass), returning them for
// downstream processing and removing them from the open set.
func (d *Detector) Advance(currentSlot uint64) []domain.SellEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var closed []domain.SellEvent
	for id, t := range d.open {
		t.mu.Lock()
		windowEnd := t.event.WindowEndSlot
		if currentSlot >= windowEnd {
			t.event.State = domain.SellEventAnalyzing
			closed = append(closed, t.event)
			delete(d.open, id)
		}
		t.mu.Unlock()
	}
	return closed
}

// Snapshot returns a copy of the SellEvent for id if it is still open,
// for components (Absorption Analyzer) that need to read live state
// without risking a concurrent write.
func (d *Detector) Snapshot(id string) (domain.SellEvent, bool) {
	d.mu.Lock()
	t, ok := d.open[id]
	d.mu.Unlock()
	if !ok {
		return domain.SellEvent{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.event, true
}

// OpenCount reports how many SellEvents are currently being tracked,
// for telemetry.
func (d *Detector) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}
