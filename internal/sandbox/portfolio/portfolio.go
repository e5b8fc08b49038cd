// Package portfolio implements the Virtual Portfolio (component I,
// §4.I): opens a sandbox position when a Signal Emitter signal is acted
// on, tracks its price walk, excursion, and drawdown, and closes it
// against the Fill Simulator's exit fill. Grounded directly on the
// teacher's Position/PositionTracker
// (internal/trading/position.go): per-position RWMutex with a
// Snapshot() copy-out method, and a tracker keyed map behind its own
// RWMutex — generalized from real SOL P&L to sandbox base-currency P&L
// with MAE/MFE/drawdown fields the teacher's bot never needed because it
// never ran a deterministic backtest.
package portfolio

import (
	"fmt"
	"sync"
	"time"
)

// ExitReason records why a sandbox position closed.
type ExitReason string

const (
	ExitTakeProfit    ExitReason = "take_profit"
	ExitStopLoss      ExitReason = "stop_loss"
	ExitSignalExpired ExitReason = "signal_expired"
	ExitSignalInvalid ExitReason = "signal_invalidated"
	ExitEndOfReplay   ExitReason = "end_of_replay"
)

// Position is one open or closed sandbox trade against a detected
// Signal.
type Position struct {
	SignalID    string
	TokenMint   string
	PoolAddress string

	SizeBase   float64
	EntryPrice float64
	EntrySlot  uint64
	EntryTime  time.Time

	CurrentPrice     float64
	CurrentValueBase float64
	PnLBase          float64
	PnLPercent       float64

	MaxFavorableExcursion float64 // best unrealized PnLPercent seen
	MaxAdverseExcursion   float64 // worst unrealized PnLPercent seen
	Drawdown              float64 // peak-to-trough pct from MFE

	Closed     bool
	ExitPrice  float64
	ExitSlot   uint64
	ExitTime   time.Time
	ExitReason ExitReason

	mu sync.RWMutex
}

// Snapshot returns a thread-safe copy.
func (p *Position) Snapshot() *Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := *p
	cp.mu = sync.RWMutex{}
	return &cp
}

// MarkToPrice updates unrealized P&L and excursion tracking as new
// prices arrive for this position's token.
func (p *Position) MarkToPrice(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed || p.EntryPrice == 0 {
		return
	}

	p.CurrentPrice = price
	multiple := price / p.EntryPrice
	p.PnLPercent = price*100/p.EntryPrice - 100
	p.CurrentValueBase = multiple * p.SizeBase
	p.PnLBase = p.CurrentValueBase - p.SizeBase

	if p.PnLPercent > p.MaxFavorableExcursion {
		p.MaxFavorableExcursion = p.PnLPercent
	}
	if p.PnLPercent < p.MaxAdverseExcursion {
		p.MaxAdverseExcursion = p.PnLPercent
	}
	if drawdown := p.MaxFavorableExcursion - p.PnLPercent; drawdown > p.Drawdown {
		p.Drawdown = drawdown
	}
}

// Close marks the position closed at the given fill.
func (p *Position) Close(exitPrice float64, exitSlot uint64, exitTime time.Time, reason ExitReason) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Closed = true
	p.ExitPrice = exitPrice
	p.ExitSlot = exitSlot
	p.ExitTime = exitTime
	p.ExitReason = reason

	if p.EntryPrice > 0 {
		multiple := exitPrice / p.EntryPrice
		p.PnLPercent = (multiple - 1.0) * 100
		p.CurrentValueBase = multiple * p.SizeBase
		p.PnLBase = p.CurrentValueBase - p.SizeBase
	}
}

// Portfolio tracks every sandbox position against a fixed starting
// capital pool (§6 Capital config).
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]*Position // keyed by SignalID

	startingCapital float64
	availableBase   float64
	maxPositionSize float64
	maxConcurrent   int
	riskPerTradePct float64
}

// New creates a Portfolio seeded with the configured starting capital.
func New(startingCapitalBase, maxPositionSizeBase float64, maxConcurrentPositions int, riskPerTradePct float64) *Portfolio {
	return &Portfolio{
		positions:       make(map[string]*Position),
		startingCapital: startingCapitalBase,
		availableBase:   startingCapitalBase,
		maxPositionSize: maxPositionSizeBase,
		maxConcurrent:   maxConcurrentPositions,
		riskPerTradePct: riskPerTradePct,
	}
}

// CanOpen reports whether capacity (slot count and capital) allows a
// new position.
func (pf *Portfolio) CanOpen() bool {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.openCountLocked() < pf.maxConcurrent && pf.availableBase > 0
}

func (pf *Portfolio) openCountLocked() int {
	n := 0
	for _, p := range pf.positions {
		if !p.Closed {
			n++
		}
	}
	return n
}

// SizeForTrade returns the position size in base units per the
// risk-per-trade cap, never exceeding MaxPositionSizeBase or available
// capital.
func (pf *Portfolio) SizeForTrade() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	riskSize := pf.startingCapital * pf.riskPerTradePct / 100
	size := riskSize
	if size > pf.maxPositionSize {
		size = pf.maxPositionSize
	}
	if size > pf.availableBase {
		size = pf.availableBase
	}
	return size
}

// Open allocates capital and creates a new position against signalID.
// Returns an error if capacity/capital is insufficient (caller should
// have checked CanOpen first; this re-checks atomically).
func (pf *Portfolio) Open(signalID, tokenMint, poolAddress string, sizeBase, entryPrice float64, entrySlot uint64, entryTime time.Time) (*Position, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.openCountLocked() >= pf.maxConcurrent {
		return nil, fmt.Errorf("portfolio: max concurrent positions reached")
	}
	if sizeBase > pf.availableBase {
		return nil, fmt.Errorf("portfolio: insufficient capital for size %.4f (available %.4f)", sizeBase, pf.availableBase)
	}

	pos := &Position{
		SignalID:         signalID,
		TokenMint:        tokenMint,
		PoolAddress:      poolAddress,
		SizeBase:         sizeBase,
		EntryPrice:       entryPrice,
		EntrySlot:        entrySlot,
		EntryTime:        entryTime,
		CurrentPrice:     entryPrice,
		CurrentValueBase: sizeBase,
	}
	pf.positions[signalID] = pos
	pf.availableBase -= sizeBase
	return pos, nil
}

// Close settles a position's P&L back into available capital.
func (pf *Portfolio) Close(signalID string, exitPrice float64, exitSlot uint64, exitTime time.Time, reason ExitReason) (*Position, error) {
	pf.mu.Lock()
	pos, ok := pf.positions[signalID]
	pf.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("portfolio: no position for signal %s", signalID)
	}

	pos.Close(exitPrice, exitSlot, exitTime, reason)

	pf.mu.Lock()
	pf.availableBase += pos.Snapshot().CurrentValueBase
	pf.mu.Unlock()

	return pos, nil
}

// Get returns a live pointer to one position, for MarkToPrice.
func (pf *Portfolio) Get(signalID string) (*Position, bool) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	p, ok := pf.positions[signalID]
	return p, ok
}

// OpenPositions returns live pointers to every still-open position, for
// the per-tick mark-to-price loop.
func (pf *Portfolio) OpenPositions() []*Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	out := make([]*Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		if !p.Closed {
			out = append(out, p)
		}
	}
	return out
}

// AllSnapshots returns thread-safe copies of every position (open and
// closed), for the replay report writer.
func (pf *Portfolio) AllSnapshots() []*Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	out := make([]*Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		out = append(out, p.Snapshot())
	}
	return out
}

// AvailableCapital reports remaining uncommitted capital.
func (pf *Portfolio) AvailableCapital() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.availableBase
}

// Equity reports available capital plus the current mark of every open
// position, the headline number for the replay summary.
func (pf *Portfolio) Equity() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	equity := pf.availableBase
	for _, p := range pf.positions {
		if !p.Closed {
			equity += p.Snapshot().CurrentValueBase
		}
	}
	return equity
}
