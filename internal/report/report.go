// Package report implements the Reporting component (K, §4.K): writes
// the replay run's output artifacts — summary.json, trades.csv,
// wallet_performance.csv, report.md — to the configured output
// directory. Byte-stable across repeated runs with the same dataset and
// seed (§5): no map iteration reaches these writers without being
// sorted first. Grounded on the teacher's cmd/bot/main.go CSV-export
// call site (the E-key "export trades to CSV" handler), generalized
// from one ad hoc export button into the full replay report set.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"dexabsorption/internal/domain"
	"dexabsorption/internal/sandbox/portfolio"
)

// Summary is the top-level run summary written to summary.json.
type Summary struct {
	DatasetPath        string    `json:"dataset_path"`
	Seed               uint32    `json:"seed"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	EventsProcessed    int       `json:"events_processed"`
	SellEventsDetected int       `json:"sell_events_detected"`
	SignalsEmitted     int       `json:"signals_emitted"`
	SignalsConfirmed   int       `json:"signals_confirmed"`
	InfrastructureWallets int    `json:"infrastructure_wallets"`
	StartingCapitalBase float64  `json:"starting_capital_base"`
	EndingEquityBase    float64  `json:"ending_equity_base"`
	TotalReturnPct      float64  `json:"total_return_pct"`
	TradesClosed        int      `json:"trades_closed"`
	WinRatePct          float64  `json:"win_rate_pct"`
}

// Writer writes every report artifact for one replay run into a
// directory.
type Writer struct {
	outputDir string
}

// NewWriter creates a Writer rooted at outputDir, creating it if
// necessary.
func NewWriter(outputDir string) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{outputDir: outputDir}, nil
}

// WriteSummary writes summary.json with stable key ordering (struct
// field order, not map iteration).
func (w *Writer) WriteSummary(s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return os.WriteFile(filepath.Join(w.outputDir, "summary.json"), data, 0o644)
}

// WriteTrades writes trades.csv, one row per sandbox position passed in
// (open or closed, as the closed column records), sorted by entry time then signal ID so output is stable regardless of
// map iteration order upstream.
func (w *Writer) WriteTrades(positions []*portfolio.Position) error {
	sorted := append([]*portfolio.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].EntryTime.Equal(sorted[j].EntryTime) {
			return sorted[i].EntryTime.Before(sorted[j].EntryTime)
		}
		return sorted[i].SignalID < sorted[j].SignalID
	})

	f, err := os.Create(filepath.Join(w.outputDir, "trades.csv"))
	if err != nil {
		return fmt.Errorf("create trades.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{
		"signal_id", "token_mint", "entry_slot", "entry_time", "entry_price",
		"size_base", "exit_slot", "exit_time", "exit_price", "exit_reason",
		"pnl_base", "pnl_pct", "mfe_pct", "mae_pct", "drawdown_pct", "closed",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, p := range sorted {
		row := []string{
			p.SignalID,
			p.TokenMint,
			strconv.FormatUint(p.EntrySlot, 10),
			p.EntryTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.EntryPrice, 'f', 10, 64),
			strconv.FormatFloat(p.SizeBase, 'f', 6, 64),
			strconv.FormatUint(p.ExitSlot, 10),
			p.ExitTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.ExitPrice, 'f', 10, 64),
			string(p.ExitReason),
			strconv.FormatFloat(p.PnLBase, 'f', 6, 64),
			strconv.FormatFloat(p.PnLPercent, 'f', 4, 64),
			strconv.FormatFloat(p.MaxFavorableExcursion, 'f', 4, 64),
			strconv.FormatFloat(p.MaxAdverseExcursion, 'f', 4, 64),
			strconv.FormatFloat(p.Drawdown, 'f', 4, 64),
			strconv.FormatBool(p.Closed),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteWalletPerformance writes wallet_performance.csv, sorted by
// wallet address (stable regardless of scorer map iteration order).
func (w *Writer) WriteWalletPerformance(wallets []domain.WalletBehavior) error {
	sorted := append([]domain.WalletBehavior(nil), wallets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Wallet < sorted[j].Wallet })

	f, err := os.Create(filepath.Join(w.outputDir, "wallet_performance.csv"))
	if err != nil {
		return fmt.Errorf("create wallet_performance.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{
		"wallet", "classification", "status", "confidence",
		"total_absorptions", "successful_absorptions", "unique_tokens",
		"stabilization_success_rate", "avg_absorption_fraction",
		"avg_response_latency_slots", "size_consistency", "activity_pattern",
		"first_seen", "last_seen",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, b := range sorted {
		row := []string{
			b.Wallet,
			string(b.Classification),
			string(b.Status),
			strconv.FormatFloat(b.Confidence, 'f', 2, 64),
			strconv.Itoa(b.TotalAbsorptions),
			strconv.Itoa(b.SuccessfulAbsorptions),
			strconv.Itoa(len(b.UniqueTokens)),
			strconv.FormatFloat(b.StabilizationSuccessRate, 'f', 4, 64),
			strconv.FormatFloat(b.AvgAbsorptionFraction, 'f', 4, 64),
			strconv.FormatFloat(b.AvgResponseLatency, 'f', 2, 64),
			strconv.FormatFloat(b.SizeConsistency, 'f', 2, 64),
			string(b.ActivityPattern),
			b.FirstSeen.UTC().Format(time.RFC3339),
			b.LastSeen.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteReportMarkdown writes a human-readable report.md summarizing the
// run, with the infrastructure-wallet list as the headline section —
// the artifact an analyst actually reads.
func (w *Writer) WriteReportMarkdown(s Summary, infra []domain.WalletBehavior) error {
	sorted := append([]domain.WalletBehavior(nil), infra...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	f, err := os.Create(filepath.Join(w.outputDir, "report.md"))
	if err != nil {
		return fmt.Errorf("create report.md: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "# Replay Run Report\n\n")
	fmt.Fprintf(f, "Dataset: `%s`  \nSeed: %d  \nRun: %s -> %s\n\n",
		s.DatasetPath, s.Seed, s.StartedAt.UTC().Format(time.RFC3339), s.FinishedAt.UTC().Format(time.RFC3339))

	fmt.Fprintf(f, "## Summary\n\n")
	fmt.Fprintf(f, "- Events processed: %d\n", s.EventsProcessed)
	fmt.Fprintf(f, "- Sell events detected: %d\n", s.SellEventsDetected)
	fmt.Fprintf(f, "- Signals emitted: %d (confirmed: %d)\n", s.SignalsEmitted, s.SignalsConfirmed)
	fmt.Fprintf(f, "- Infrastructure wallets identified: %d\n", s.InfrastructureWallets)
	fmt.Fprintf(f, "- Starting capital: %.4f base\n", s.StartingCapitalBase)
	fmt.Fprintf(f, "- Ending equity: %.4f base (%.2f%%)\n", s.EndingEquityBase, s.TotalReturnPct)
	fmt.Fprintf(f, "- Trades closed: %d, win rate: %.2f%%\n\n", s.TradesClosed, s.WinRatePct)

	fmt.Fprintf(f, "## Infrastructure Wallets\n\n")
	fmt.Fprintf(f, "| Wallet | Classification | Confidence | Absorptions | Success Rate |\n")
	fmt.Fprintf(f, "|---|---|---|---|---|\n")
	for _, b := range sorted {
		fmt.Fprintf(f, "| `%s` | %s | %.1f | %d | %.1f%% |\n",
			b.Wallet, b.Classification, b.Confidence, b.TotalAbsorptions, b.StabilizationSuccessRate*100)
	}
	return nil
}
