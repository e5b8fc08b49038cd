// Package signalengine implements the Signal Emitter (component G,
// §4.G): fuses a live SellEvent's resolved AbsorptionCandidate and
// StabilizationResult into a domain.Signal, tracks each signal's
// active/confirmed/expired/invalidated lifecycle, and publishes them
// over HTTP. Grounded on the teacher's signal handler
// (internal/signal/server.go) for the non-blocking channel-send/drop
// pattern; the teacher's Parser/ParsedSignal types (Telegram-text
// parsing) have no role here since signals are derived entirely from
// pipeline state, never from inbound text.
package signalengine

import (
	"sync"
	"time"

	"dexabsorption/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Emitter turns (AbsorptionCandidate, StabilizationResult) pairs into
// domain.Signal and tracks their lifecycle.
type Emitter struct {
	mu      sync.Mutex
	signals map[string]*domain.Signal

	out chan domain.Signal

	confirmAfter time.Duration
	expireAfter  time.Duration
}

// NewEmitter creates an Emitter whose output channel has the given
// buffer size — a full channel means the publish server isn't draining
// fast enough, so sends are non-blocking with drop-and-log, never a
// cause of backpressure into the scoring pipeline.
func NewEmitter(bufferSize int, confirmAfter, expireAfter time.Duration) *Emitter {
	return &Emitter{
		signals:      make(map[string]*domain.Signal),
		out:          make(chan domain.Signal, bufferSize),
		confirmAfter: confirmAfter,
		expireAfter:  expireAfter,
	}
}

// Emit fuses one resolved absorption+stabilization outcome into a new
// active Signal when the absorber wallet is classified as
// infrastructure, per §4.G — weak or unclassified wallets never produce
// a signal. now is supplied by the caller (the live or replay clock) —
// no pipeline component reads wall time directly (§4.L).
func (e *Emitter) Emit(c domain.AbsorptionCandidate, stab domain.StabilizationResult, wallet domain.WalletBehavior, se domain.SellEvent, now time.Time) {
	if wallet.Classification != domain.ClassDefensiveInfra && wallet.Classification != domain.ClassAggressiveInfra {
		return
	}

	// Weighted mixture of the four factors §4.G names: how much of the
	// sell the wallet absorbed, how fast it responded, a classification
	// bonus (aggressive wallets rank above defensive ones), and how
	// significant the originating sell was relative to the pool.
	absorptionScore := clamp(c.AbsorptionFraction*100, 0, 100)
	speedScore := clamp(100-float64(c.ResponseLatencySlots), 0, 100)
	classBonus := 70.0
	if wallet.Classification == domain.ClassAggressiveInfra {
		classBonus = 100.0
	}
	sellSizeScore := clamp(se.FractionOfPool*1000, 0, 100)

	strength := absorptionScore*0.35 + speedScore*0.2 + classBonus*0.25 + sellSizeScore*0.2

	sig := domain.Signal{
		ID:                     uuid.NewString(),
		TokenMint:              c.TokenMint,
		PoolAddress:            se.PoolAddress,
		TriggerSellEventID:     c.EventID,
		AbsorberWallet:         c.Wallet,
		DefendedPrice:          se.PostEventPrice,
		Strength:               strength,
		StabilizationConfirmed: stab.Stabilized,
		Status:                 domain.SignalActive,
		CreatedAt:              now,
	}

	e.mu.Lock()
	e.signals[sig.ID] = &sig
	e.mu.Unlock()

	select {
	case e.out <- sig:
	default:
		log.Warn().Str("signal_id", sig.ID).Msg("signal output channel full, dropping")
	}
}

// Out exposes the channel the publish server reads from.
func (e *Emitter) Out() <-chan domain.Signal { return e.out }

// Tick advances every active signal's lifecycle based on elapsed time:
// active -> confirmed once confirmAfter has passed and stabilization
// held, active -> expired once expireAfter has passed without
// confirmation. Invalidation is driven externally (AdditionalLargeSells
// breaching the defended level) via Invalidate.
func (e *Emitter) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.signals {
		if s.Status != domain.SignalActive {
			continue
		}
		age := now.Sub(s.CreatedAt)
		switch {
		case s.StabilizationConfirmed && age >= e.confirmAfter:
			s.Status = domain.SignalConfirmed
		case age >= e.expireAfter:
			s.Status = domain.SignalExpired
		}
	}
}

// Invalidate marks an active/confirmed signal invalidated, e.g. when a
// later large sell breaks the wallet's defended price level.
func (e *Emitter) Invalidate(signalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.signals[signalID]; ok {
		s.Status = domain.SignalInvalidated
	}
}

// Snapshot returns a copy of every tracked signal, for the publish
// server's GET /signals and the TUI.
func (e *Emitter) Snapshot() []domain.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Signal, 0, len(e.signals))
	for _, s := range e.signals {
		out = append(out, *s)
	}
	return out
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
