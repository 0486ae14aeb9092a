package history

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteTrail persists the audit history to a SQLite database.
type SQLiteTrail struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteTrail opens (or creates) the history database and runs migrations.
func NewSQLiteTrail(dbPath string) (*SQLiteTrail, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	t := &SQLiteTrail{db: db}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite history trail opened: %s", dbPath)
	return t, nil
}

func (t *SQLiteTrail) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS purchases (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			account_id      INTEGER NOT NULL,
			kind            TEXT,
			cost            REAL,
			principal_after REAL,
			rate_basis      REAL,
			pending_credit  REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_ts ON purchases(timestamp)`,

		`CREATE TABLE IF NOT EXISTS claims (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			account_id   INTEGER NOT NULL,
			amount       REAL,
			reward_after REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_ts ON claims(timestamp)`,

		`CREATE TABLE IF NOT EXISTS credits (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			account_id INTEGER NOT NULL,
			amount     REAL,
			source     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credits_ts ON credits(timestamp)`,

		`CREATE TABLE IF NOT EXISTS accrual_runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			distributed REAL,
			accounts    INTEGER,
			positions   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accrual_runs_ts ON accrual_runs(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := t.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (t *SQLiteTrail) RecordPurchase(evt *PurchaseEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(`INSERT INTO purchases
		(timestamp, account_id, kind, cost, principal_after, rate_basis, pending_credit)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.AccountID, evt.Kind, evt.Cost,
		evt.PrincipalAfter, evt.RateBasis, evt.PendingCredit,
	)
	return err
}

func (t *SQLiteTrail) RecordClaim(evt *ClaimEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(`INSERT INTO claims
		(timestamp, account_id, amount, reward_after)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), evt.AccountID, evt.Amount, evt.RewardAfter,
	)
	return err
}

func (t *SQLiteTrail) RecordCredit(evt *CreditEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(`INSERT INTO credits
		(timestamp, account_id, amount, source)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), evt.AccountID, evt.Amount, evt.Source,
	)
	return err
}

func (t *SQLiteTrail) RecordAccrualRun(evt *AccrualRunEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(`INSERT INTO accrual_runs
		(timestamp, distributed, accounts, positions)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), evt.Distributed, evt.Accounts, evt.Positions,
	)
	return err
}

func (t *SQLiteTrail) Close() error {
	log.Println("[INFO] closing sqlite history trail")
	return t.db.Close()
}
