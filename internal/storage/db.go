// Package storage persists wallet-behavior snapshots and a replay-run
// index across process restarts. cmd/live writes a wallet checkpoint
// after each resolved outcome and reads it back at startup only to log
// its size; the Wallet Scorer (§4.F) does not load it. Adapted in place from
// the teacher's internal/storage/db.go: same modernc.org/sqlite-over-
// database/sql driver, same WAL-pragma DSN construction and
// table-per-concern schema, new tables for the new domain.
package storage

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"dexabsorption/internal/domain"
)

// DB wraps the SQLite connection backing wallet persistence and the
// replay run index.
type DB struct {
	db *sql.DB
}

// RunRecord indexes one completed replay run for later lookup by
// dataset/seed (so report artifacts can be traced back to the run that
// produced them).
type RunRecord struct {
	ID                 int64
	DatasetPath        string
	Seed               uint32
	StartedAt          int64
	FinishedAt         int64
	EventsProcessed    int
	SignalsEmitted     int
	InfrastructureWallets int
	OutputDir          string
}

// NewDB opens (creating if absent) the SQLite database at path, with
// the same WAL/synchronous/busy-timeout pragmas the teacher uses for a
// single-writer workload.
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallet_behaviors (
		wallet TEXT PRIMARY KEY,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		total_absorptions INTEGER NOT NULL,
		successful_absorptions INTEGER NOT NULL,
		unique_tokens TEXT NOT NULL,
		stabilization_success_rate REAL NOT NULL,
		avg_absorption_fraction REAL NOT NULL,
		avg_response_latency REAL NOT NULL,
		size_consistency REAL NOT NULL,
		activity_pattern TEXT NOT NULL,
		confidence REAL NOT NULL,
		classification TEXT NOT NULL,
		status TEXT NOT NULL,
		evidence_log TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS replay_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dataset_path TEXT NOT NULL,
		seed INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		events_processed INTEGER NOT NULL,
		signals_emitted INTEGER NOT NULL,
		infrastructure_wallets INTEGER NOT NULL,
		output_dir TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_behaviors_confidence ON wallet_behaviors(confidence DESC);
	CREATE INDEX IF NOT EXISTS idx_replay_runs_started ON replay_runs(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveWalletBehavior upserts one wallet's full classification state,
// including its evidence log.
func (d *DB) SaveWalletBehavior(b domain.WalletBehavior) error {
	tokens := make([]string, 0, len(b.UniqueTokens))
	for t := range b.UniqueTokens {
		tokens = append(tokens, t)
	}
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	evidenceJSON, err := json.Marshal(b.EvidenceLog)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO wallet_behaviors
		(wallet, first_seen, last_seen, total_absorptions, successful_absorptions,
		 unique_tokens, stabilization_success_rate, avg_absorption_fraction,
		 avg_response_latency, size_consistency, activity_pattern, confidence,
		 classification, status, evidence_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wallet) DO UPDATE SET
			last_seen=excluded.last_seen,
			total_absorptions=excluded.total_absorptions,
			successful_absorptions=excluded.successful_absorptions,
			unique_tokens=excluded.unique_tokens,
			stabilization_success_rate=excluded.stabilization_success_rate,
			avg_absorption_fraction=excluded.avg_absorption_fraction,
			avg_response_latency=excluded.avg_response_latency,
			size_consistency=excluded.size_consistency,
			activity_pattern=excluded.activity_pattern,
			confidence=excluded.confidence,
			classification=excluded.classification,
			status=excluded.status,
			evidence_log=excluded.evidence_log`,
		b.Wallet, b.FirstSeen.Unix(), b.LastSeen.Unix(), b.TotalAbsorptions, b.SuccessfulAbsorptions,
		string(tokensJSON), b.StabilizationSuccessRate, b.AvgAbsorptionFraction,
		b.AvgResponseLatency, b.SizeConsistency, string(b.ActivityPattern), b.Confidence,
		string(b.Classification), string(b.Status), string(evidenceJSON))
	return err
}

// LoadWalletBehaviors retrieves every persisted wallet.
func (d *DB) LoadWalletBehaviors() ([]domain.WalletBehavior, error) {
	rows, err := d.db.Query(`
		SELECT wallet, first_seen, last_seen, total_absorptions, successful_absorptions,
		       unique_tokens, stabilization_success_rate, avg_absorption_fraction,
		       avg_response_latency, size_consistency, activity_pattern, confidence,
		       classification, status, evidence_log
		FROM wallet_behaviors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WalletBehavior
	for rows.Next() {
		var b domain.WalletBehavior
		var firstSeen, lastSeen int64
		var tokensJSON, evidenceJSON, activityPattern, classification, status string

		if err := rows.Scan(&b.Wallet, &firstSeen, &lastSeen, &b.TotalAbsorptions, &b.SuccessfulAbsorptions,
			&tokensJSON, &b.StabilizationSuccessRate, &b.AvgAbsorptionFraction,
			&b.AvgResponseLatency, &b.SizeConsistency, &activityPattern, &b.Confidence,
			&classification, &status, &evidenceJSON); err != nil {
			return nil, err
		}

		b.FirstSeen = time.Unix(firstSeen, 0).UTC()
		b.LastSeen = time.Unix(lastSeen, 0).UTC()
		b.ActivityPattern = domain.ActivityPattern(activityPattern)
		b.Classification = domain.WalletClassification(classification)
		b.Status = domain.WalletStatus(status)

		var tokens []string
		if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
			return nil, err
		}
		b.UniqueTokens = make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			b.UniqueTokens[t] = struct{}{}
		}

		if err := json.Unmarshal([]byte(evidenceJSON), &b.EvidenceLog); err != nil {
			return nil, err
		}

		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertRun records a completed replay run.
func (d *DB) InsertRun(r RunRecord) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO replay_runs
		(dataset_path, seed, started_at, finished_at, events_processed,
		 signals_emitted, infrastructure_wallets, output_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DatasetPath, r.Seed, r.StartedAt, r.FinishedAt, r.EventsProcessed,
		r.SignalsEmitted, r.InfrastructureWallets, r.OutputDir)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetRecentRuns retrieves the most recent replay runs.
func (d *DB) GetRecentRuns(limit int) ([]RunRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, dataset_path, seed, started_at, finished_at, events_processed,
		       signals_emitted, infrastructure_wallets, output_dir
		FROM replay_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.DatasetPath, &r.Seed, &r.StartedAt, &r.FinishedAt,
			&r.EventsProcessed, &r.SignalsEmitted, &r.InfrastructureWallets, &r.OutputDir); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
