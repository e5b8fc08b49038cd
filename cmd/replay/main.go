// Command replay runs the deterministic offline pipeline (Replay Driver,
// component J) against a captured dataset and writes the Reporting
// component's (K) artifacts. Flags mirror the teacher's config-file +
// env-var startup style (cmd/bot/main.go); -validate-only backs a
// dry-run check of the dataset without driving the pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dexabsorption/internal/absorption"
	"dexabsorption/internal/clock"
	"dexabsorption/internal/config"
	"dexabsorption/internal/detector"
	"dexabsorption/internal/domain"
	"dexabsorption/internal/replay"
	"dexabsorption/internal/report"
	"dexabsorption/internal/sandbox/fill"
	"dexabsorption/internal/sandbox/portfolio"
	"dexabsorption/internal/scorer"
	"dexabsorption/internal/signalengine"
	"dexabsorption/internal/stabilize"
	"dexabsorption/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	configPath := flag.String("config", "config/config.yaml", "path to config YAML")
	datasetPath := flag.String("dataset", "", "path to JSONL dataset (overrides replay.dataset_path)")
	seedFlag := flag.Uint("seed", 0, "PRNG seed override (0 = use config value)")
	speedFlag := flag.String("speed", "", "replay speed override: 1x|10x|100x|max")
	outDir := flag.String("out", "", "output directory override (overrides replay.output_dir)")
	validateOnly := flag.Bool("validate-only", false, "load and validate the dataset, then exit without running the pipeline")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.DisableWatch()

	rc := cfg.Get().Replay
	if *datasetPath != "" {
		rc.DatasetPath = *datasetPath
	}
	if *seedFlag != 0 {
		rc.Seed = uint32(*seedFlag)
	}
	if *speedFlag != "" {
		rc.Speed = config.ReplaySpeed(*speedFlag)
	}
	if *outDir != "" {
		rc.OutputDir = *outDir
	}
	if rc.DatasetPath == "" {
		log.Fatal().Msg("no dataset path: pass -dataset or set replay.dataset_path")
	}

	if *validateOnly {
		runValidate(rc.DatasetPath)
		return
	}

	if err := runReplay(cfg, rc); err != nil {
		log.Fatal().Err(err).Msg("replay run failed")
	}
}

func runValidate(datasetPath string) {
	count, slotRange, err := replay.Validate(datasetPath)
	if err != nil {
		color.Red("❌ dataset invalid: %v", err)
		os.Exit(1)
	}
	color.Green("✅ dataset valid: %d events, slots [%d, %d]", count, slotRange[0], slotRange[1])
}

func runReplay(cfgMgr *config.Manager, rc config.ReplayConfig) error {
	cfg := cfgMgr.Get()
	startedAt := time.Now().UTC()

	log.Info().Str("dataset", rc.DatasetPath).Uint32("seed", rc.Seed).Str("speed", string(rc.Speed)).Msg("loading dataset")
	events, err := replay.LoadDataset(rc.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if rc.StartSlot != nil || rc.EndSlot != nil {
		events = clipToSlotRange(events, rc.StartSlot, rc.EndSlot)
	}
	if len(events) == 0 {
		return fmt.Errorf("dataset %s has no events in the configured slot range", rc.DatasetPath)
	}

	startSlot := events[0].Slot()
	rClock := clock.NewReplayClock(startSlot, events[0].BlockTime, 400*time.Millisecond)

	det := detector.New(rClock, cfg.Detection)
	an := absorption.New(cfg.Absorption, cfg.Detection)
	val := stabilize.New(cfg.Stabilization)
	sc := scorer.New(cfg.Scoring)
	em := signalengine.NewEmitter(1000, 2*time.Minute, 30*time.Minute)
	sim := fill.New(rc.Seed, cfg.Execution)
	pf := portfolio.New(cfg.Capital.StartingCapitalBase, cfg.Capital.MaxPositionSizeBase, cfg.Capital.MaxConcurrentPositions, cfg.Capital.RiskPerTradePct)

	driver := replay.NewDriver(events, rClock, det, an, val, sc, em, sim, pf, rc.Speed)

	log.Info().Int("events", len(events)).Msg("starting replay")
	if err := driver.Run(context.Background()); err != nil {
		return fmt.Errorf("driver run: %w", err)
	}

	finishedAt := time.Now().UTC()

	var db *storage.DB
	if cfg.Storage.SQLitePath != "" {
		db, err = storage.NewDB(cfg.Storage.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open storage DB, skipping run index")
		} else {
			defer db.Close()
		}
	}

	return writeReport(rc, cfg.Capital.StartingCapitalBase, startedAt, finishedAt, len(events), det, em, sc, pf, db)
}

func clipToSlotRange(events []domain.SwapEvent, start, end *uint64) []domain.SwapEvent {
	out := make([]domain.SwapEvent, 0, len(events))
	for _, ev := range events {
		if start != nil && ev.Slot() < *start {
			continue
		}
		if end != nil && ev.Slot() > *end {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func writeReport(rc config.ReplayConfig, startingCapital float64, startedAt, finishedAt time.Time, eventCount int, det *detector.Detector, em *signalengine.Emitter, sc *scorer.Scorer, pf *portfolio.Portfolio, db *storage.DB) error {
	w, err := report.NewWriter(rc.OutputDir)
	if err != nil {
		return fmt.Errorf("create report writer: %w", err)
	}

	signals := em.Snapshot()
	confirmed := 0
	for _, s := range signals {
		if s.Status == domain.SignalConfirmed {
			confirmed++
		}
	}

	wallets := sc.Snapshot()
	infra := sc.InfrastructureWallets()

	positions := pf.AllSnapshots()
	closed, wins := 0, 0
	for _, p := range positions {
		if !p.Closed {
			continue
		}
		closed++
		if p.PnLBase > 0 {
			wins++
		}
	}
	winRate := 0.0
	if closed > 0 {
		winRate = float64(wins) / float64(closed) * 100
	}

	equity := pf.Equity()
	totalReturn := 0.0
	if startingCapital > 0 {
		totalReturn = (equity - startingCapital) / startingCapital * 100
	}

	summary := report.Summary{
		DatasetPath:           rc.DatasetPath,
		Seed:                  rc.Seed,
		StartedAt:             startedAt,
		FinishedAt:            finishedAt,
		EventsProcessed:       eventCount,
		SellEventsDetected:    int(det.TotalDetected()),
		SignalsEmitted:        len(signals),
		SignalsConfirmed:      confirmed,
		InfrastructureWallets: len(infra),
		StartingCapitalBase:   startingCapital,
		EndingEquityBase:      equity,
		TotalReturnPct:        totalReturn,
		TradesClosed:          closed,
		WinRatePct:            winRate,
	}

	if err := w.WriteSummary(summary); err != nil {
		return err
	}
	if err := w.WriteTrades(positions); err != nil {
		return err
	}
	if err := w.WriteWalletPerformance(wallets); err != nil {
		return err
	}
	if err := w.WriteReportMarkdown(summary, infra); err != nil {
		return err
	}

	if db != nil {
		if _, err := db.InsertRun(storage.RunRecord{
			DatasetPath:           rc.DatasetPath,
			Seed:                  rc.Seed,
			StartedAt:             startedAt.Unix(),
			FinishedAt:            finishedAt.Unix(),
			EventsProcessed:       eventCount,
			SignalsEmitted:        len(signals),
			InfrastructureWallets: len(infra),
			OutputDir:             rc.OutputDir,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to index replay run")
		}
	}

	color.Green("✅ replay complete: %d events, %d signals (%d confirmed), %d infrastructure wallets",
		eventCount, len(signals), confirmed, len(infra))
	color.Cyan("   ending equity: %.4f base, %d trades closed, %.1f%% win rate", equity, closed, winRate)
	fmt.Printf("   report written to %s\n", rc.OutputDir)
	return nil
}
