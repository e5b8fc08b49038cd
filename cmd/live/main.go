// Command live runs the streaming pipeline (components A-G) against a
// real chain feed: Normalizer -> Pool State Store -> Large-Sell Detector
// -> Absorption Analyzer -> Stabilization Validator -> Wallet Scorer ->
// Signal Emitter, publishing over HTTP and (optionally) a bubbletea
// dashboard. Grounded on the teacher's cmd/bot/main.go split between a
// headless run and a TUI-attached run, and its component wiring order.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dexabsorption/internal/absorption"
	"dexabsorption/internal/bus"
	"dexabsorption/internal/chainfeed"
	"dexabsorption/internal/clock"
	"dexabsorption/internal/config"
	"dexabsorption/internal/detector"
	"dexabsorption/internal/domain"
	"dexabsorption/internal/health"
	"dexabsorption/internal/ingestion"
	"dexabsorption/internal/poolstate"
	"dexabsorption/internal/scorer"
	"dexabsorption/internal/signalengine"
	"dexabsorption/internal/stabilize"
	"dexabsorption/internal/storage"
	"dexabsorption/internal/telemetry"
	"dexabsorption/internal/tokencache"
	"dexabsorption/internal/tui"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config YAML")
	withTUI := flag.Bool("tui", false, "attach the operator dashboard instead of headless console logging")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if *withTUI {
		runWithTUI(cfg)
		return
	}
	runHeadless(cfg, *verbose)
}

func runHeadless(cfg *config.Manager, verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	p := newPipeline(cfg)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	p.run(ctx)
}

func runWithTUI(cfg *config.Manager) {
	var buf tuiLogBuffer
	log.Logger = log.Output(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	p := newPipeline(cfg)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := tui.NewModel(cfg)
	prog := tea.NewProgram(m, tea.WithAltScreen())

	go p.run(ctx)
	go p.feedTUI(ctx, prog, &buf)

	if _, err := prog.Run(); err != nil {
		log.Error().Err(err).Msg("tui exited with error")
	}
	cancel()
}

// tuiLogBuffer is a minimal ring the TUI's log overlay drains from,
// since zerolog can't write to stderr once bubbletea owns the terminal.
type tuiLogBuffer struct {
	lines []string
}

func (b *tuiLogBuffer) Write(p []byte) (int, error) {
	b.lines = append(b.lines, string(p))
	if len(b.lines) > 500 {
		b.lines = b.lines[len(b.lines)-500:]
	}
	return len(p), nil
}

func (b *tuiLogBuffer) drain() []string {
	out := b.lines
	b.lines = nil
	return out
}

// pipeline wires every live-mode component (A-G) per SPEC_FULL.md's
// module layout.
type pipeline struct {
	cfg *config.Manager

	liveClock *clock.LiveClock
	chain     *chainfeed.ChainClient
	sub       *chainfeed.LogSubscriber
	feed      *ingestion.LiveFeed

	rawQueue   *bus.Queue[ingestion.RawEvent]
	swapQueue  *bus.Queue[domain.SwapEvent]
	normalizer *ingestion.Normalizer

	pool      *poolstate.Store
	det       *detector.Detector
	analyzer  *absorption.Analyzer
	validator *stabilize.Validator
	sc        *scorer.Scorer
	emitter   *signalengine.Emitter
	server    *signalengine.Server

	db       *storage.DB
	health   *health.Checker
	metrics  *telemetry.Metrics
	resolver *tokencache.Resolver

	pending []pendingWindow
}

type pendingWindow struct {
	event      domain.SellEvent
	candidates []domain.AbsorptionCandidate
}

func newPipeline(cfgMgr *config.Manager) *pipeline {
	cfg := cfgMgr.Get()

	liveClock := clock.NewLiveClock()
	chainClient := chainfeed.NewChainClient(cfg.ChainFeed.RPCURL, cfg.ChainFeed.FallbackRPCURL, "")
	reconnect := time.Duration(cfg.ChainFeed.ReconnectDelayMs) * time.Millisecond
	sub := chainfeed.NewLogSubscriber(cfg.ChainFeed.WSURL, cfg.ChainFeed.ProgramIDs, reconnect)

	rawQueue := bus.NewQueue[ingestion.RawEvent]("raw-events", 10_000)
	swapQueue := bus.NewQueue[domain.SwapEvent]("swap-events", 10_000)
	feed := ingestion.NewLiveFeed(sub, chainClient, rawQueue)
	normalizer := ingestion.NewNormalizer(rawQueue, swapQueue, nil, 5, 2*time.Second)

	pool := poolstate.NewStore(5000, nil)
	det := detector.New(liveClock, cfg.Detection)
	analyzer := absorption.New(cfg.Absorption, cfg.Detection)
	validator := stabilize.New(cfg.Stabilization)
	sc := scorer.New(cfg.Scoring)
	emitter := signalengine.NewEmitter(cfg.SignalServer.SignalsBufferSize, 2*time.Minute, 30*time.Minute)
	server := signalengine.NewServer(cfg.SignalServer.ListenHost, cfg.SignalServer.ListenPort, emitter, sc)

	db, err := storage.NewDB(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open scorer checkpoint database")
	}
	if saved, err := db.LoadWalletBehaviors(); err != nil {
		log.Warn().Err(err).Msg("failed to read wallet behaviors from checkpoint")
	} else {
		log.Info().Int("wallets", len(saved)).Msg("read wallet checkpoint; the scorer starts empty and does not load it")
	}

	cache, err := tokencache.NewCache(cfg.Storage.SQLitePath + ".tokencache.json")
	if err != nil {
		log.Warn().Err(err).Msg("failed to load token cache, starting empty")
	}
	resolver := tokencache.NewResolver(cache)

	checker := health.NewChecker(30 * time.Second)
	metrics := telemetry.NewMetrics()

	return &pipeline{
		cfg:        cfgMgr,
		liveClock:  liveClock,
		chain:      chainClient,
		sub:        sub,
		feed:       feed,
		rawQueue:   rawQueue,
		swapQueue:  swapQueue,
		normalizer: normalizer,
		pool:       pool,
		det:        det,
		analyzer:   analyzer,
		validator:  validator,
		sc:         sc,
		emitter:    emitter,
		server:     server,
		db:         db,
		health:     checker,
		metrics:    metrics,
		resolver:   resolver,
	}
}

func (p *pipeline) run(ctx context.Context) {
	defer p.db.Close()

	go p.sub.Run(ctx)
	go func() {
		if err := p.normalizer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("normalizer stopped")
		}
	}()
	go func() {
		if err := p.server.Start(); err != nil {
			log.Error().Err(err).Msg("signal server stopped")
		}
	}()
	go p.health.Start(ctx)

	decayPeriod := p.cfg.Get().Scoring.DecayPeriod
	if decayPeriod <= 0 {
		decayPeriod = 24 * time.Hour
	}
	decayTicker := time.NewTicker(decayPeriod)
	defer decayTicker.Stop()

	lifecycleTicker := time.NewTicker(5 * time.Second)
	defer lifecycleTicker.Stop()

	checkpointTicker := time.NewTicker(time.Minute)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.checkpoint()
			_ = p.server.Shutdown()
			return

		case ev, ok := <-p.swapQueue.C():
			if !ok {
				return
			}
			p.health.Beat("ingestion")
			start := time.Now()
			p.processEvent(ev)
			p.metrics.RecordLatency("ingestion", time.Since(start).Microseconds())

		case now := <-lifecycleTicker.C:
			p.health.Beat("lifecycle")
			p.drainClosedWindows(p.liveClock.Slot())
			p.emitter.Tick(now)

		case now := <-decayTicker.C:
			p.sc.Decay(now)

		case <-checkpointTicker.C:
			p.checkpoint()
		}
	}
}

// feedTUI relays live state into the bubbletea program as messages,
// refreshed on the configured TUI tick rate.
func (p *pipeline) feedTUI(ctx context.Context, prog *tea.Program, buf *tuiLogBuffer) {
	refresh := time.Duration(p.cfg.Get().TUI.RefreshRateMs) * time.Millisecond
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prog.Send(tui.WalletsMsg{Wallets: p.sc.InfrastructureWallets()})
			prog.Send(tui.HealthMsg{Statuses: p.health.GetStatuses()})
			if lines := buf.drain(); len(lines) > 0 {
				prog.Send(tui.LogMsg{Lines: lines})
			}
			for _, sig := range p.emitter.Snapshot() {
				prog.Send(tui.SignalMsg{Signal: sig})
			}
		}
	}
}

func (p *pipeline) processEvent(ev domain.SwapEvent) {
	p.liveClock.Advance(ev.Slot())

	if err := p.pool.Update(ev.PoolState); err != nil {
		log.Debug().Err(err).Str("pool", ev.PoolAddress).Msg("pool state not updated")
	}

	if se, opened := p.det.Observe(ev); opened {
		p.analyzer.OpenEvent(se)
		log.Info().Str("token", se.TokenMint).Float64("fraction", se.FractionOfPool).Msg("large sell detected")
	}
	p.analyzer.ObserveBuy(ev)
	p.validator.ObserveSwap(ev)
}

func (p *pipeline) drainClosedWindows(currentSlot uint64) {
	for _, se := range p.det.Advance(currentSlot) {
		candidates := p.analyzer.Finalize(se.ID)
		p.validator.OpenWindow(se, se.SellAmountBase)
		p.pending = append(p.pending, pendingWindow{event: se, candidates: candidates})
	}

	var remaining []pendingWindow
	for _, pw := range p.pending {
		result, ready := p.validator.Finalize(pw.event.ID, currentSlot)
		if !ready {
			remaining = append(remaining, pw)
			continue
		}
		p.resolveOutcome(pw.event, pw.candidates, result)
	}
	p.pending = remaining
}

func (p *pipeline) resolveOutcome(se domain.SellEvent, candidates []domain.AbsorptionCandidate, result domain.StabilizationResult) {
	now := se.BlockTime
	for _, c := range candidates {
		p.sc.RecordOutcome(c, result, now)

		wb, ok := p.sc.Get(c.Wallet)
		if !ok {
			continue
		}
		symbol := p.resolver.Resolve(c.TokenMint)
		p.emitter.Emit(c, result, wb, se, now)
		log.Info().Str("wallet", c.Wallet).Str("token", symbol).Float64("confidence", wb.Confidence).Msg("scored absorption outcome")
	}
}

func (p *pipeline) checkpoint() {
	for _, wb := range p.sc.Snapshot() {
		if err := p.db.SaveWalletBehavior(wb); err != nil {
			log.Warn().Err(err).Str("wallet", wb.Wallet).Msg("failed to checkpoint wallet behavior")
		}
	}
	log.Debug().Msg("checkpointed wallet scorer state")
}
