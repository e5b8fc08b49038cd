package signalengine

import (
	"testing"
	"time"

	"dexabsorption/internal/domain"
)

func infraWallet(classification domain.WalletClassification) domain.WalletBehavior {
	return domain.WalletBehavior{
		Wallet:         "wallet1",
		Classification: classification,
	}
}

func TestEmitOnlyForInfrastructureWallets(t *testing.T) {
	e := NewEmitter(10, time.Minute, time.Hour)
	now := time.Unix(1000, 0).UTC()

	noise := domain.WalletBehavior{Wallet: "w1", Classification: domain.ClassNoise}
	e.Emit(domain.AbsorptionCandidate{Wallet: "w1", EventID: "e1"}, domain.StabilizationResult{Stabilized: true}, noise, domain.SellEvent{}, now)

	if snap := e.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected no signal for a non-infra wallet, got %d", len(snap))
	}

	c := domain.AbsorptionCandidate{
		Wallet:               "w2",
		EventID:              "e2",
		TokenMint:            "tokenA",
		AbsorptionFraction:   0.6,
		ResponseLatencySlots: 10,
	}
	se := domain.SellEvent{PoolAddress: "poolA", PostEventPrice: 1.5, FractionOfPool: 0.05}
	e.Emit(c, domain.StabilizationResult{Stabilized: true, ConfidenceScore: 80}, infraWallet(domain.ClassAggressiveInfra), se, now)

	snap := e.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 signal for an infra wallet, got %d", len(snap))
	}
	sig := snap[0]
	if sig.AbsorberWallet != "w2" {
		t.Errorf("AbsorberWallet = %q, want w2", sig.AbsorberWallet)
	}
	if sig.PoolAddress != "poolA" {
		t.Errorf("PoolAddress = %q, want poolA", sig.PoolAddress)
	}
	if sig.DefendedPrice != 1.5 {
		t.Errorf("DefendedPrice = %v, want 1.5 (se.PostEventPrice)", sig.DefendedPrice)
	}
	if sig.Status != domain.SignalActive {
		t.Errorf("Status = %v, want active", sig.Status)
	}
	if !sig.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want the supplied clock time %v (no wall-clock read)", sig.CreatedAt, now)
	}
	// absorptionScore=60 (*0.35=21), speedScore=90 (*0.2=18),
	// classBonus=100 for aggressive-infra (*0.25=25), sellSizeScore=50 (*0.2=10).
	wantStrength := 21.0 + 18.0 + 25.0 + 10.0
	if sig.Strength != wantStrength {
		t.Errorf("Strength = %v, want %v", sig.Strength, wantStrength)
	}
	select {
	case got := <-e.Out():
		if got.ID != sig.ID {
			t.Errorf("Out() delivered signal %q, want %q", got.ID, sig.ID)
		}
	default:
		t.Error("expected the emitted signal to also be published on Out()")
	}
}

func TestEmitClassificationBonusLowerForDefensiveThanAggressive(t *testing.T) {
	e := NewEmitter(10, time.Minute, time.Hour)
	now := time.Unix(1000, 0).UTC()
	c := domain.AbsorptionCandidate{Wallet: "w1", EventID: "e1", AbsorptionFraction: 0.5, ResponseLatencySlots: 5}
	se := domain.SellEvent{FractionOfPool: 0.02}

	e.Emit(c, domain.StabilizationResult{Stabilized: true}, infraWallet(domain.ClassDefensiveInfra), se, now)
	defensive := e.Snapshot()[0].Strength

	e2 := NewEmitter(10, time.Minute, time.Hour)
	e2.Emit(c, domain.StabilizationResult{Stabilized: true}, infraWallet(domain.ClassAggressiveInfra), se, now)
	aggressive := e2.Snapshot()[0].Strength

	if aggressive <= defensive {
		t.Errorf("aggressive-infra strength %v should exceed defensive-infra strength %v (classification bonus)", aggressive, defensive)
	}
}

func TestEmitDropsOnFullOutputChannel(t *testing.T) {
	e := NewEmitter(1, time.Minute, time.Hour)
	wallet := infraWallet(domain.ClassAggressiveInfra)
	now := time.Unix(1000, 0).UTC()

	e.Emit(domain.AbsorptionCandidate{Wallet: "w1", EventID: "e1"}, domain.StabilizationResult{Stabilized: true}, wallet, domain.SellEvent{}, now)
	e.Emit(domain.AbsorptionCandidate{Wallet: "w1", EventID: "e2"}, domain.StabilizationResult{Stabilized: true}, wallet, domain.SellEvent{}, now)

	// Both signals are tracked even though the channel can hold only one.
	if snap := e.Snapshot(); len(snap) != 2 {
		t.Fatalf("Snapshot = %d signals, want 2 (tracking must survive a dropped publish)", len(snap))
	}
}

func TestTickConfirmsAfterConfirmWindow(t *testing.T) {
	e := NewEmitter(10, time.Minute, time.Hour)
	now := time.Unix(1000, 0).UTC()
	e.Emit(domain.AbsorptionCandidate{Wallet: "w1", EventID: "e1"}, domain.StabilizationResult{Stabilized: true}, infraWallet(domain.ClassAggressiveInfra), domain.SellEvent{}, now)

	sig := e.Snapshot()[0]
	e.Tick(sig.CreatedAt.Add(2 * time.Minute))

	after := e.Snapshot()[0]
	if after.Status != domain.SignalConfirmed {
		t.Errorf("Status = %v, want confirmed after confirmAfter elapses with stabilization held", after.Status)
	}
}

func TestTickExpiresUnconfirmedSignal(t *testing.T) {
	e := NewEmitter(10, time.Minute, time.Hour)
	now := time.Unix(1000, 0).UTC()
	e.Emit(domain.AbsorptionCandidate{Wallet: "w1", EventID: "e1"}, domain.StabilizationResult{Stabilized: false}, infraWallet(domain.ClassAggressiveInfra), domain.SellEvent{}, now)

	sig := e.Snapshot()[0]
	e.Tick(sig.CreatedAt.Add(2 * time.Hour))

	after := e.Snapshot()[0]
	if after.Status != domain.SignalExpired {
		t.Errorf("Status = %v, want expired once expireAfter elapses without confirmation", after.Status)
	}
}

func TestTickLeavesConfirmedSignalsUnaffected(t *testing.T) {
	e := NewEmitter(10, time.Minute, time.Hour)
	now := time.Unix(1000, 0).UTC()
	e.Emit(domain.AbsorptionCandidate{Wallet: "w1", EventID: "e1"}, domain.StabilizationResult{Stabilized: true}, infraWallet(domain.ClassAggressiveInfra), domain.SellEvent{}, now)

	sig := e.Snapshot()[0]
	e.Tick(sig.CreatedAt.Add(2 * time.Minute)) // -> confirmed
	e.Tick(sig.CreatedAt.Add(10 * time.Hour))  // far past expireAfter too

	after := e.Snapshot()[0]
	if after.Status != domain.SignalConfirmed {
		t.Errorf("Status = %v, want to remain confirmed, not revert to expired", after.Status)
	}
}

func TestInvalidateOverridesActiveSignal(t *testing.T) {
	e := NewEmitter(10, time.Minute, time.Hour)
	now := time.Unix(1000, 0).UTC()
	e.Emit(domain.AbsorptionCandidate{Wallet: "w1", EventID: "e1"}, domain.StabilizationResult{Stabilized: true}, infraWallet(domain.ClassAggressiveInfra), domain.SellEvent{}, now)

	sig := e.Snapshot()[0]
	e.Invalidate(sig.ID)

	after := e.Snapshot()[0]
	if after.Status != domain.SignalInvalidated {
		t.Errorf("Status = %v, want invalidated", after.Status)
	}

	// A later Tick must not resurrect an invalidated signal.
	e.Tick(sig.CreatedAt.Add(10 * time.Hour))
	if e.Snapshot()[0].Status != domain.SignalInvalidated {
		t.Error("Tick should not move an invalidated signal back to expired/confirmed")
	}
}

func TestInvalidateUnknownIDIsNoOp(t *testing.T) {
	e := NewEmitter(10, time.Minute, time.Hour)
	e.Invalidate("does-not-exist") // must not panic
}
