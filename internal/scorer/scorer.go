// Package scorer implements the Wallet Scorer (component F, §4.F): owns
// every WalletBehavior, folds in new AbsorptionEvidence as SellEvents
// resolve, classifies wallets, and decays stale ones. Grounded on the
// teacher's PositionTracker (internal/trading/position.go): a
// map[string]*T behind a RWMutex, per-entry locking for the hot path, and
// a GetAllSnapshots-style bulk copy-out for reporting so callers never
// see a live pointer.
package scorer

import (
	"math"
	"sort"
	"sync"
	"time"

	"dexabsorption/internal/config"
	"dexabsorption/internal/domain"
)

type wallet struct {
	mu       sync.Mutex
	behavior domain.WalletBehavior
}

// Scorer owns the full set of tracked WalletBehavior records.
type Scorer struct {
	mu      sync.RWMutex
	wallets map[string]*wallet
	order   []string // insertion order, for LRU-style eviction at MaxTrackedWallets

	cfgMu  sync.RWMutex
	config config.ScoringConfig
}

// New creates a Scorer bound to a scoring config snapshot.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{
		wallets: make(map[string]*wallet),
		config:  cfg,
	}
}

// SetThresholds updates the classification thresholds in place, called
// on live-mode config hot-reload.
func (s *Scorer) SetThresholds(cfg config.ScoringConfig) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.config = cfg
}

func (s *Scorer) thresholds() config.ScoringConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.config
}

// RecordOutcome folds one resolved (AbsorptionCandidate, StabilizationResult)
// pair into the buyer wallet's evidence log and reclassifies it. This is
// the sole write path into WalletBehavior; SellEvent/AbsorptionCandidate
// data never flows back the other way (§9).
func (s *Scorer) RecordOutcome(c domain.AbsorptionCandidate, stab domain.StabilizationResult, now time.Time) {
	w := s.getOrCreate(c.Wallet)

	w.mu.Lock()
	defer w.mu.Unlock()

	b := &w.behavior
	if b.FirstSeen.IsZero() {
		b.FirstSeen = now
	}
	b.LastSeen = now
	if b.UniqueTokens == nil {
		b.UniqueTokens = make(map[string]struct{})
	}
	b.UniqueTokens[c.TokenMint] = struct{}{}

	b.TotalAbsorptions++
	outcome := domain.OutcomeFailure
	if stab.Stabilized {
		b.SuccessfulAbsorptions++
		outcome = domain.OutcomeSuccess
	}

	evidence := domain.AbsorptionEvidence{
		EventID:              c.EventID,
		TokenMint:            c.TokenMint,
		Slot:                 c.LastBuySlot,
		Timestamp:            now,
		AbsorptionFraction:   c.AbsorptionFraction,
		Stabilized:           stab.Stabilized,
		ResponseLatencySlots: c.ResponseLatencySlots,
		Outcome:              outcome,
	}
	cfg := s.thresholds()
	b.EvidenceLog = append(b.EvidenceLog, evidence)
	if len(b.EvidenceLog) > cfg.MaxEvidencePerWallet {
		b.EvidenceLog = b.EvidenceLog[len(b.EvidenceLog)-cfg.MaxEvidencePerWallet:]
	}

	recompute(b, cfg)
	b.Status = domain.WalletActive
}

// recompute derives the aggregate stats and classification from the
// evidence log. Deterministic and side-effect free given b's fields.
func recompute(b *domain.WalletBehavior, cfg config.ScoringConfig) {
	n := len(b.EvidenceLog)
	if n == 0 {
		return
	}

	var sumFraction, sumLatency float64
	var successes int
	for _, e := range b.EvidenceLog {
		sumFraction += e.AbsorptionFraction
		sumLatency += float64(e.ResponseLatencySlots)
		if e.Stabilized {
			successes++
		}
	}
	b.AvgAbsorptionFraction = sumFraction / float64(n)
	b.AvgResponseLatency = sumLatency / float64(n)
	b.StabilizationSuccessRate = float64(successes) / float64(n)

	b.SizeConsistency = sizeConsistency(b.EvidenceLog)
	b.ActivityPattern = activityPattern(b.EvidenceLog)
	b.Confidence = confidence(b)
	b.Classification = classify(b, cfg)
}

// sizeConsistency scores [0,100]: how tightly clustered the absorption
// fractions are across evidence, via coefficient of variation.
func sizeConsistency(log []domain.AbsorptionEvidence) float64 {
	n := len(log)
	if n < 2 {
		return 100
	}
	var mean float64
	for _, e := range log {
		mean += e.AbsorptionFraction
	}
	mean /= float64(n)
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, e := range log {
		d := e.AbsorptionFraction - mean
		variance += d * d
	}
	variance /= float64(n)
	cv := math.Sqrt(variance) / mean
	score := 100 - cv*100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// activityPattern inspects slot gaps between evidence entries.
func activityPattern(log []domain.AbsorptionEvidence) domain.ActivityPattern {
	n := len(log)
	if n < 3 {
		return domain.ActivityOpportunistic
	}
	sorted := append([]domain.AbsorptionEvidence(nil), log...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Slot < sorted[j].Slot })

	gaps := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		gaps = append(gaps, float64(sorted[i].Slot-sorted[i-1].Slot))
	}
	var mean float64
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean == 0 {
		return domain.ActivityConsistent
	}
	var variance float64
	for _, g := range gaps {
		d := g - mean
		variance += d * d
	}
	variance /= float64(len(gaps))
	cv := math.Sqrt(variance) / mean

	switch {
	case cv < 0.5:
		return domain.ActivityConsistent
	case cv < 1.5:
		return domain.ActivityCyclical
	default:
		return domain.ActivityOpportunistic
	}
}

// confidence sums six additive factors (event count, stabilization rate,
// unique tokens, size consistency, activity pattern, timeliness), then
// subtracts a penalty proportional to the failure rate.
func confidence(b *domain.WalletBehavior) float64 {
	tokenCount := float64(len(b.UniqueTokens))
	eventScore := clamp(float64(b.TotalAbsorptions)*3, 0, 30)
	stabilizationScore := b.StabilizationSuccessRate * 25
	tokenScore := clamp(tokenCount*5, 0, 15)
	consistencyScore := b.SizeConsistency / 100 * 10

	var activityScore float64
	switch b.ActivityPattern {
	case domain.ActivityConsistent:
		activityScore = 10
	case domain.ActivityCyclical:
		activityScore = 6
	default:
		activityScore = 3
	}

	timelinessScore := clamp(10-b.AvgResponseLatency/5, 0, 10)

	failureRate := 1 - b.StabilizationSuccessRate
	score := eventScore + stabilizationScore + tokenScore + consistencyScore +
		activityScore + timelinessScore - 20*failureRate
	return clamp(score, 0, 100)
}

// classify applies the minEvents/minTokens/minRate/minConfidence gates,
// then the defensive/aggressive/cyclical decision tree. A wallet that
// clears the event/token gates but falls short on rate or confidence is
// noise rather than a candidate — it has enough history to judge, and
// the judgment is unfavorable.
func classify(b *domain.WalletBehavior, cfg config.ScoringConfig) domain.WalletClassification {
	if b.TotalAbsorptions < cfg.MinEvents || len(b.UniqueTokens) < cfg.MinTokens {
		return domain.ClassCandidate
	}
	if b.StabilizationSuccessRate < cfg.MinStabilizationRate {
		return domain.ClassNoise
	}
	if b.Confidence < cfg.MinConfidence {
		return domain.ClassNoise
	}

	if b.StabilizationSuccessRate >= 0.8 && b.SizeConsistency >= 70 {
		return domain.ClassDefensiveInfra
	}
	if b.StabilizationSuccessRate >= 0.7 && b.AvgAbsorptionFraction >= 0.4 {
		return domain.ClassAggressiveInfra
	}
	if b.ActivityPattern == domain.ActivityCyclical {
		return domain.ClassCyclical
	}
	return domain.ClassOpportunistic
}

func (s *Scorer) getOrCreate(addr string) *wallet {
	s.mu.RLock()
	w, ok := s.wallets[addr]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[addr]; ok {
		return w
	}
	w = &wallet{behavior: domain.WalletBehavior{Wallet: addr, Status: domain.WalletActive}}
	s.wallets[addr] = w
	s.order = append(s.order, addr)
	if len(s.order) > s.thresholds().MaxTrackedWallets {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.wallets, evict)
	}
	return w
}

// Get returns a snapshot of one wallet's behavior.
func (s *Scorer) Get(addr string) (domain.WalletBehavior, bool) {
	s.mu.RLock()
	w, ok := s.wallets[addr]
	s.mu.RUnlock()
	if !ok {
		return domain.WalletBehavior{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.behavior, true
}

// Snapshot returns a copy of every tracked wallet's behavior, for the
// report writer and the /wallets endpoint.
func (s *Scorer) Snapshot() []domain.WalletBehavior {
	s.mu.RLock()
	addrs := make([]string, 0, len(s.wallets))
	for a := range s.wallets {
		addrs = append(addrs, a)
	}
	s.mu.RUnlock()

	out := make([]domain.WalletBehavior, 0, len(addrs))
	for _, a := range addrs {
		if b, ok := s.Get(a); ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// InfrastructureWallets returns only wallets classified as
// defensive-infra or aggressive-infra — the final output §1 describes.
func (s *Scorer) InfrastructureWallets() []domain.WalletBehavior {
	all := s.Snapshot()
	out := all[:0]
	for _, b := range all {
		if b.Classification == domain.ClassDefensiveInfra || b.Classification == domain.ClassAggressiveInfra {
			out = append(out, b)
		}
	}
	return out
}

// Decay runs the periodic decay task (§4.F/§4.L): wallets with no new
// evidence in decayDays have their confidence reduced by decayStep and
// move active -> decaying -> deprecated as confidence falls to zero.
func (s *Scorer) Decay(now time.Time) {
	cfg := s.thresholds()
	decayAfter := time.Duration(cfg.DecayDays * 24 * float64(time.Hour))

	s.mu.RLock()
	ws := make([]*wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		ws = append(ws, w)
	}
	s.mu.RUnlock()

	for _, w := range ws {
		w.mu.Lock()
		b := &w.behavior
		if b.Status != domain.WalletDeprecated && now.Sub(b.LastSeen) > decayAfter {
			b.Confidence -= cfg.DecayStep
			if b.Confidence <= 0 {
				b.Confidence = 0
				b.Status = domain.WalletDeprecated
			} else {
				b.Status = domain.WalletDecaying
			}
		}
		w.mu.Unlock()
	}
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

