// Package storage provides SQLite-backed persistence for snapshots,
// movements, opportunities, and the append-only alert/outcome records.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/oddswatch/oddswatch/internal/models"
)

// PersistenceError wraps a failed write after its retry was also exhausted.
// The affected batch is dropped; the cycle continues.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed in %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Storage wraps a SQLite database for all persistence operations. The single
// connection serializes writers, so it is safe to use from the orchestrator
// loop and background maintenance concurrently.
type Storage struct {
	db           *sql.DB
	retryBackoff time.Duration
}

// New opens or creates the SQLite database at dbPath. ":memory:" is accepted
// for tests; an empty dbPath defaults to $TMPDIR/oddswatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "oddswatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, retryBackoff: 100 * time.Millisecond}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id TEXT NOT NULL,
			group_key     TEXT NOT NULL,
			side_a_label  TEXT,
			side_b_label  TEXT,
			side_a_value  REAL NOT NULL,
			side_b_value  REAL NOT NULL,
			provider      TEXT,
			scheduled_at  INTEGER NOT NULL,
			observed_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_instrument ON snapshots(instrument_id, observed_at)`,
		`CREATE TABLE IF NOT EXISTS movements (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id TEXT NOT NULL,
			group_key     TEXT NOT NULL,
			side          TEXT NOT NULL,
			old_value     REAL NOT NULL,
			new_value     REAL NOT NULL,
			delta         REAL NOT NULL,
			movement_type TEXT NOT NULL,
			significance  TEXT NOT NULL,
			observed_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_instrument ON movements(instrument_id, observed_at)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id                 TEXT PRIMARY KEY,
			instrument_id      TEXT NOT NULL,
			side               TEXT NOT NULL,
			counter_side       TEXT NOT NULL,
			value              REAL NOT NULL,
			previous_value     REAL NOT NULL,
			group_key          TEXT NOT NULL,
			scheduled_at       INTEGER NOT NULL,
			detected_at        INTEGER NOT NULL,
			recommended_stake  REAL NOT NULL,
			confidence         TEXT NOT NULL,
			edge_estimate      REAL NOT NULL,
			urgency            TEXT NOT NULL,
			priority_score     REAL NOT NULL,
			time_sensitivity   REAL NOT NULL,
			movement_direction TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_instrument ON opportunities(instrument_id, detected_at)`,
		`CREATE TABLE IF NOT EXISTS alert_records (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id  TEXT NOT NULL,
			opportunity_id TEXT NOT NULL,
			sent_at        INTEGER NOT NULL,
			outcome        TEXT NOT NULL,
			alert_type     TEXT NOT NULL,
			priority       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_records_instrument ON alert_records(instrument_id, sent_at)`,
		`CREATE TABLE IF NOT EXISTS outcome_records (
			opportunity_id TEXT PRIMARY KEY,
			instrument_id  TEXT NOT NULL,
			stake          REAL NOT NULL,
			result         TEXT NOT NULL,
			profit         REAL NOT NULL,
			recorded_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_records_instrument ON outcome_records(instrument_id, recorded_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// withRetry runs a write, retrying once with a short backoff before giving up
// with a PersistenceError.
func (s *Storage) withRetry(op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("op", op).Msg("write failed, retrying once")
	time.Sleep(s.retryBackoff)
	if err = fn(); err != nil {
		return &PersistenceError{Op: op, Cause: err}
	}
	return nil
}

// SaveSnapshots writes a batch of snapshots in one transaction.
func (s *Storage) SaveSnapshots(snaps []models.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return s.withRetry("save_snapshots", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		stmt, err := tx.Prepare(`
			INSERT INTO snapshots
				(instrument_id, group_key, side_a_label, side_b_label,
				 side_a_value, side_b_value, provider, scheduled_at, observed_at)
			VALUES (?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sn := range snaps {
			if _, err := stmt.Exec(
				sn.InstrumentID, sn.GroupKey, sn.SideALabel, sn.SideBLabel,
				sn.SideAValue, sn.SideBValue, sn.Provider,
				sn.ScheduledAt.UnixNano(), sn.ObservedAt.UnixNano(),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SaveMovements writes a batch of movements in one transaction.
func (s *Storage) SaveMovements(movements []models.Movement) error {
	if len(movements) == 0 {
		return nil
	}
	return s.withRetry("save_movements", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		stmt, err := tx.Prepare(`
			INSERT INTO movements
				(instrument_id, group_key, side, old_value, new_value, delta,
				 movement_type, significance, observed_at)
			VALUES (?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range movements {
			if _, err := stmt.Exec(
				m.InstrumentID, m.GroupKey, string(m.Side), m.OldValue, m.NewValue,
				m.Delta, string(m.Type), m.Significance.String(), m.ObservedAt.UnixNano(),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SaveOpportunities writes dispatched or evicted opportunities. Re-saving the
// same ID is a no-op replace so eviction after dispatch is safe.
func (s *Storage) SaveOpportunities(opps []models.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	return s.withRetry("save_opportunities", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO opportunities
				(id, instrument_id, side, counter_side, value, previous_value,
				 group_key, scheduled_at, detected_at, recommended_stake,
				 confidence, edge_estimate, urgency, priority_score,
				 time_sensitivity, movement_direction)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range opps {
			if _, err := stmt.Exec(
				o.ID, o.InstrumentID, string(o.Side), string(o.CounterSide),
				o.Value, o.PreviousValue, o.GroupKey,
				o.ScheduledAt.UnixNano(), o.DetectedAt.UnixNano(),
				o.RecommendedStake, o.ConfidenceLabel, o.EdgeEstimate,
				o.Urgency.String(), o.PriorityScore, o.TimeSensitivity,
				o.MovementDirection,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SaveAlertRecords appends dispatch audit records.
func (s *Storage) SaveAlertRecords(records []models.AlertRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withRetry("save_alert_records", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		stmt, err := tx.Prepare(`
			INSERT INTO alert_records
				(instrument_id, opportunity_id, sent_at, outcome, alert_type, priority)
			VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.Exec(
				r.InstrumentID, r.OpportunityID, r.SentAt.UnixNano(),
				r.Outcome, r.AlertType, r.Priority.String(),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SaveOutcome records a settled result, linked to its opportunity by ID.
func (s *Storage) SaveOutcome(r models.OutcomeRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid outcome record: %w", err)
	}
	return s.withRetry("save_outcome", func() error {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO outcome_records
				(opportunity_id, instrument_id, stake, result, profit, recorded_at)
			VALUES (?,?,?,?,?,?)`,
			r.OpportunityID, r.InstrumentID, r.Stake, r.Result, r.Profit,
			r.RecordedAt.UnixNano(),
		)
		return err
	})
}

// OpportunitiesSince returns opportunities detected at or after the given
// time, newest first.
func (s *Storage) OpportunitiesSince(since time.Time) ([]models.Opportunity, error) {
	rows, err := s.db.Query(`
		SELECT id, instrument_id, side, counter_side, value, previous_value,
		       group_key, scheduled_at, detected_at, recommended_stake,
		       confidence, edge_estimate, urgency, priority_score,
		       time_sensitivity, movement_direction
		FROM opportunities
		WHERE detected_at >= ?
		ORDER BY detected_at DESC`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		var o models.Opportunity
		var side, counter, urgency string
		var scheduledAtNano, detectedAtNano int64
		if err := rows.Scan(
			&o.ID, &o.InstrumentID, &side, &counter, &o.Value, &o.PreviousValue,
			&o.GroupKey, &scheduledAtNano, &detectedAtNano, &o.RecommendedStake,
			&o.ConfidenceLabel, &o.EdgeEstimate, &urgency, &o.PriorityScore,
			&o.TimeSensitivity, &o.MovementDirection,
		); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		o.Side = models.Side(side)
		o.CounterSide = models.Side(counter)
		o.Urgency = models.ParseUrgency(urgency)
		o.ScheduledAt = time.Unix(0, scheduledAtNano).UTC()
		o.DetectedAt = time.Unix(0, detectedAtNano).UTC()
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Aggregate summarizes activity over a rolling window. Settlement figures come
// from outcome records; win rate ignores voids and pendings.
type Aggregate struct {
	Snapshots     int
	Movements     int
	Opportunities int
	AlertsSent    int
	AlertsFailed  int
	Wins          int
	Losses        int
	WinRate       float64
	TotalStaked   float64
	TotalProfit   float64
	ROI           float64
	PerGroup      map[string]int
}

// Aggregates computes counts, win rate, ROI, and a per-group opportunity
// breakdown over the trailing window.
func (s *Storage) Aggregates(window time.Duration) (*Aggregate, error) {
	cutoff := time.Now().UTC().Add(-window).UnixNano()
	agg := &Aggregate{PerGroup: make(map[string]int)}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM snapshots WHERE observed_at >= ?`, &agg.Snapshots},
		{`SELECT COUNT(*) FROM movements WHERE observed_at >= ?`, &agg.Movements},
		{`SELECT COUNT(*) FROM opportunities WHERE detected_at >= ?`, &agg.Opportunities},
		{`SELECT COUNT(*) FROM alert_records WHERE sent_at >= ? AND outcome = 'success'`, &agg.AlertsSent},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query, cutoff).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to aggregate counts: %w", err)
		}
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM alert_records WHERE sent_at >= ? AND outcome = 'failed'`, cutoff,
	).Scan(&agg.AlertsFailed); err != nil {
		return nil, fmt.Errorf("failed to aggregate failures: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT result, COUNT(*), COALESCE(SUM(stake), 0), COALESCE(SUM(profit), 0)
		FROM outcome_records WHERE recorded_at >= ?
		GROUP BY result`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var result string
		var count int
		var staked, profit float64
		if err := rows.Scan(&result, &count, &staked, &profit); err != nil {
			return nil, fmt.Errorf("failed to scan outcome aggregate: %w", err)
		}
		switch result {
		case models.ResultWin:
			agg.Wins = count
		case models.ResultLoss:
			agg.Losses = count
		}
		if result != models.ResultPending {
			agg.TotalStaked += staked
			agg.TotalProfit += profit
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if settled := agg.Wins + agg.Losses; settled > 0 {
		agg.WinRate = float64(agg.Wins) / float64(settled)
	}
	if agg.TotalStaked > 0 {
		agg.ROI = agg.TotalProfit / agg.TotalStaked
	}

	groupRows, err := s.db.Query(`
		SELECT group_key, COUNT(*) FROM opportunities
		WHERE detected_at >= ? GROUP BY group_key`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate groups: %w", err)
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var group string
		var count int
		if err := groupRows.Scan(&group, &count); err != nil {
			return nil, fmt.Errorf("failed to scan group aggregate: %w", err)
		}
		agg.PerGroup[group] = count
	}
	return agg, groupRows.Err()
}

// Cleanup deletes rows older than the retention horizon from every table
// except outcome records, which are kept indefinitely.
func (s *Storage) Cleanup(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).UnixNano()
	var total int64
	stmts := []struct {
		query string
	}{
		{`DELETE FROM snapshots WHERE observed_at < ?`},
		{`DELETE FROM movements WHERE observed_at < ?`},
		{`DELETE FROM opportunities WHERE detected_at < ?`},
		{`DELETE FROM alert_records WHERE sent_at < ?`},
	}
	for _, st := range stmts {
		res, err := s.db.Exec(st.query, cutoff)
		if err != nil {
			return total, fmt.Errorf("retention cleanup failed: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
