package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists the audit trail to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the service writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{
		db:  db,
		log: log.With().Str("component", "recorder").Logger(),
		now: time.Now,
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evaluations (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id                TEXT NOT NULL,
			timestamp             INTEGER NOT NULL,
			trigger_type          TEXT,
			donor                 TEXT,
			receiver              TEXT,
			donor_apr             TEXT,
			receiver_apr          TEXT,
			receiver_apr_absorbed TEXT,
			profitable            INTEGER,
			transferable          TEXT,
			idle_balance          TEXT,
			minimum_idle          TEXT,
			deployable_idle       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_ts ON evaluations(timestamp)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			timestamp    INTEGER NOT NULL,
			trigger_type TEXT,
			caller       TEXT,
			donor        TEXT,
			receiver     TEXT,
			profitable   INTEGER,
			withdrawn    TEXT,
			deposited    TEXT,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_ts ON executions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS fee_reports (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id    TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			strategy  TEXT,
			gain      TEXT,
			loss      TEXT,
			fees      TEXT,
			refunds   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fee_reports_ts ON fee_reports(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordEvaluation(rec *EvaluationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := rec.Proposal
	var donor, receiver string
	if !p.Empty() {
		donor, receiver = p.Donor.Hex(), p.Receiver.Hex()
	}
	_, err := r.db.Exec(`INSERT INTO evaluations
		(run_id, timestamp, trigger_type, donor, receiver,
		 donor_apr, receiver_apr, receiver_apr_absorbed, profitable, transferable,
		 idle_balance, minimum_idle, deployable_idle)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, r.now().Unix(), string(rec.Trigger), donor, receiver,
		p.DonorCurrentAPR.String(), p.ReceiverCurrentAPR.String(), p.ReceiverAPRIfFullAbsorption.String(),
		p.Profitable, p.TransferableAmount.String(),
		p.Liquidity.IdleBalance.String(), p.Liquidity.MinimumIdle.String(), p.Liquidity.DeployableIdle.String(),
	)
	return err
}

func (r *SQLiteRecorder) RecordExecution(rec *ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		donor, receiver, errMsg string
		profitable              bool
		withdrawn, deposited    = decimal.Zero, decimal.Zero
	)
	if rec.Result != nil {
		p := rec.Result.Proposal
		if !p.Empty() {
			donor, receiver = p.Donor.Hex(), p.Receiver.Hex()
		}
		profitable = p.Profitable
		withdrawn = rec.Result.DonorAmountWithdrawn
		deposited = rec.Result.ReceiverAmountDeposited
	}
	if rec.Err != nil {
		errMsg = rec.Err.Error()
	}

	_, err := r.db.Exec(`INSERT INTO executions
		(run_id, timestamp, trigger_type, caller, donor, receiver, profitable, withdrawn, deposited, error)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, r.now().Unix(), string(rec.Trigger), rec.Caller.Hex(),
		donor, receiver, profitable, withdrawn.String(), deposited.String(), errMsg,
	)
	return err
}

func (r *SQLiteRecorder) RecordFeeReport(rec *FeeReportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := rec.Report
	_, err := r.db.Exec(`INSERT INTO fee_reports
		(run_id, timestamp, strategy, gain, loss, fees, refunds)
		VALUES (?,?,?,?,?,?,?)`,
		rec.RunID, r.now().Unix(), rep.Strategy.Hex(),
		rep.Gain.String(), rep.Loss.String(), rep.Fees.String(), rep.Refunds.String(),
	)
	return err
}

// RecentExecutions returns up to limit executions, newest first.
func (r *SQLiteRecorder) RecentExecutions(limit int) ([]ExecutionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT run_id, timestamp, trigger_type, caller, donor, receiver,
			withdrawn, deposited, error
		FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRow
	for rows.Next() {
		var (
			row                  ExecutionRow
			ts                   int64
			withdrawn, deposited string
		)
		if err := rows.Scan(&row.RunID, &ts, &row.Trigger, &row.Caller, &row.Donor, &row.Receiver,
			&withdrawn, &deposited, &row.Error); err != nil {
			return nil, err
		}
		row.Timestamp = time.Unix(ts, 0)
		if row.Withdrawn, err = decimal.NewFromString(withdrawn); err != nil {
			return nil, fmt.Errorf("parse withdrawn: %w", err)
		}
		if row.Deposited, err = decimal.NewFromString(deposited); err != nil {
			return nil, fmt.Errorf("parse deposited: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
