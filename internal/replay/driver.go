package replay

import (
	"context"
	"time"

	"dexabsorption/internal/absorption"
	"dexabsorption/internal/clock"
	"dexabsorption/internal/config"
	"dexabsorption/internal/detector"
	"dexabsorption/internal/domain"
	"dexabsorption/internal/sandbox/fill"
	"dexabsorption/internal/sandbox/portfolio"
	"dexabsorption/internal/scorer"
	"dexabsorption/internal/signalengine"
	"dexabsorption/internal/stabilize"

	"github.com/rs/zerolog/log"
)

// pacer converts a ReplaySpeed into a per-event sleep, simulating wall
// clock passage for "1x"/"10x"/"100x" runs; "max" never sleeps.
func pacer(speed config.ReplaySpeed) time.Duration {
	switch speed {
	case config.Speed1x:
		return 400 * time.Millisecond
	case config.Speed10x:
		return 40 * time.Millisecond
	case config.Speed100x:
		return 4 * time.Millisecond
	default:
		return 0
	}
}

// Driver wires the full pipeline (A-I) against a loaded dataset and
// produces the inputs the report writer (K) needs.
type Driver struct {
	events []domain.SwapEvent

	replayClock *clock.ReplayClock
	detector    *detector.Detector
	analyzer    *absorption.Analyzer
	validator   *stabilize.Validator
	scorer      *scorer.Scorer
	emitter     *signalengine.Emitter
	simulator   *fill.Simulator
	portfolio   *portfolio.Portfolio

	speed config.ReplaySpeed

	pendingStabilization []pendingWindow             // SellEvents whose absorption window closed, awaiting stabilization finalize
	resolvedEvents       map[string]domain.SellEvent // eventID -> SellEvent, kept until every signal it triggered leaves active
	openedForSignal      map[string]bool             // signal IDs a sandbox position has already been attempted for
}

// NewDriver constructs a Driver from already-built component instances
// (cmd/replay wires concrete config into each one so the driver itself
// stays config-agnostic).
func NewDriver(
	events []domain.SwapEvent,
	replayClock *clock.ReplayClock,
	det *detector.Detector,
	an *absorption.Analyzer,
	val *stabilize.Validator,
	sc *scorer.Scorer,
	em *signalengine.Emitter,
	sim *fill.Simulator,
	pf *portfolio.Portfolio,
	speed config.ReplaySpeed,
) *Driver {
	return &Driver{
		events:          events,
		replayClock:     replayClock,
		detector:        det,
		analyzer:        an,
		validator:       val,
		scorer:          sc,
		emitter:         em,
		simulator:       sim,
		portfolio:       pf,
		speed:           speed,
		resolvedEvents:  make(map[string]domain.SellEvent),
		openedForSignal: make(map[string]bool),
	}
}

// Run drives every event through the pipeline in canonical order, then
// finalizes any windows still open at end-of-dataset so no SellEvent is
// silently dropped (§5: a run must account for every opened window).
func (d *Driver) Run(ctx context.Context) error {
	delay := pacer(d.speed)

	for i, ev := range d.events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.replayClock.Advance(ev.Slot(), ev.BlockTime)
		d.emitter.Tick(ev.BlockTime)
		d.processEvent(ev)
		d.drainClosedWindows(ev.Slot())
		d.openConfirmedPositions()
		d.markPortfolioPositions(ev)

		if delay > 0 {
			time.Sleep(delay)
		}
		if i%5000 == 0 && i > 0 {
			log.Info().Int("processed", i).Int("total", len(d.events)).Msg("replay progress")
		}
	}

	if len(d.events) > 0 {
		const forceCloseHorizon = 10_000_000 // slots; far beyond any realistic stabilization window
		lastTime := d.events[len(d.events)-1].BlockTime
		d.finalizeRemaining(d.events[len(d.events)-1].Slot()+forceCloseHorizon, lastTime)
	}
	return nil
}

func (d *Driver) processEvent(ev domain.SwapEvent) {
	if se, opened := d.detector.Observe(ev); opened {
		d.analyzer.OpenEvent(se)
		log.Debug().Str("event_id", se.ID).Str("token", se.TokenMint).Float64("fraction", se.FractionOfPool).Msg("large sell detected")
	}
	d.analyzer.ObserveBuy(ev)
	d.validator.ObserveSwap(ev)
}

func (d *Driver) drainClosedWindows(currentSlot uint64) {
	for _, se := range d.detector.Advance(currentSlot) {
		candidates := d.analyzer.Finalize(se.ID)
		// se.SellAmountBase anchors the pre-window sell-volume baseline;
		// the validator compares post-window sell volume against it to
		// judge contraction (§4.E).
		d.validator.OpenWindow(se, se.SellAmountBase)
		d.pendingStabilization = append(d.pendingStabilization, pendingWindow{event: se, candidates: candidates})
	}

	var remaining []pendingWindow
	for _, pw := range d.pendingStabilization {
		result, ready := d.validator.Finalize(pw.event.ID, currentSlot)
		if !ready {
			remaining = append(remaining, pw)
			continue
		}
		d.resolveOutcome(pw.event, pw.candidates, result)
	}
	d.pendingStabilization = remaining
}

type pendingWindow struct {
	event      domain.SellEvent
	candidates []domain.AbsorptionCandidate
}

func (d *Driver) resolveOutcome(se domain.SellEvent, candidates []domain.AbsorptionCandidate, result domain.StabilizationResult) {
	now := se.BlockTime
	d.resolvedEvents[se.ID] = se
	for _, c := range candidates {
		d.scorer.RecordOutcome(c, result, now)

		wb, ok := d.scorer.Get(c.Wallet)
		if !ok {
			continue
		}
		d.emitter.Emit(c, result, wb, se, now)
	}
}

// openConfirmedPositions opens a sandbox position for every signal that
// has reached confirmed status and hasn't already had one attempted.
// Confirmation (Tick, driven by the replay clock) is the only thing
// that can trigger an entry — a merely active signal's stabilization
// outcome hasn't finished its confirmation dwell yet.
func (d *Driver) openConfirmedPositions() {
	for _, sig := range d.emitter.Snapshot() {
		if sig.Status != domain.SignalConfirmed || d.openedForSignal[sig.ID] {
			continue
		}
		se, ok := d.resolvedEvents[sig.TriggerSellEventID]
		if !ok {
			continue
		}
		d.openedForSignal[sig.ID] = true
		d.tryOpenPosition(sig, se)
	}
}

func (d *Driver) tryOpenPosition(sig domain.Signal, se domain.SellEvent) {
	if !d.portfolio.CanOpen() {
		return
	}
	size := d.portfolio.SizeForTrade()
	if size <= 0 {
		return
	}

	res := d.simulator.Attempt("buy", se.PostEventPrice, size, 0, 0)
	if res.Kind == fill.FillRouteFailed || res.Kind == fill.FillQuoteStale {
		return
	}

	filledSize := size * res.FilledFraction
	if _, err := d.portfolio.Open(sig.ID, sig.TokenMint, sig.PoolAddress, filledSize, res.ExecutionPrice, se.WindowEndSlot, se.BlockTime); err != nil {
		log.Warn().Err(err).Str("signal_id", sig.ID).Msg("failed to open sandbox position")
	}
}

func (d *Driver) markPortfolioPositions(ev domain.SwapEvent) {
	for _, pos := range d.portfolio.OpenPositions() {
		if pos.TokenMint == ev.TokenMint {
			pos.MarkToPrice(ev.PoolState.Price())
		}
	}
}

// finalizeRemaining force-closes every window still open at end-of-dataset,
// then forces every still-active signal that resulted to its final
// confirmed/expired state (so reporting never sees a signal dangling in
// "active" forever) and opens a sandbox position for any that confirm,
// before closing out every open position as end-of-replay.
func (d *Driver) finalizeRemaining(finalSlot uint64, lastEventTime time.Time) {
	d.drainClosedWindows(finalSlot)

	d.emitter.Tick(lastEventTime.Add(365 * 24 * time.Hour))
	d.openConfirmedPositions()

	for _, pos := range d.portfolio.OpenPositions() {
		if _, err := d.portfolio.Close(pos.SignalID, pos.CurrentPrice, finalSlot, pos.EntryTime, portfolio.ExitEndOfReplay); err != nil {
			log.Warn().Err(err).Str("signal_id", pos.SignalID).Msg("failed to close position at end of replay")
		}
	}
}
