package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"TonMiner/internal/model"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const maxRetries = 3

// SQLiteStore persists accounts and positions to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so snapshot reads don't block engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id               INTEGER PRIMARY KEY,
			funding_balance  REAL NOT NULL DEFAULT 0,
			reward_balance   REAL NOT NULL DEFAULT 0,
			lifetime_claimed REAL NOT NULL DEFAULT 0,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS positions (
			account_id      INTEGER NOT NULL,
			kind            TEXT NOT NULL,
			principal       REAL NOT NULL,
			rate_basis      REAL NOT NULL,
			pending         REAL NOT NULL DEFAULT 0,
			opened_at       INTEGER NOT NULL,
			last_accrued_at INTEGER NOT NULL,
			PRIMARY KEY (account_id, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// retryable reports whether err is a transient SQLite condition worth a
// backoff retry. Logic errors (constraint violations, missing rows) are not.
func retryable(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return true
		}
		return false
	}
	return errors.Is(err, driver.ErrBadConn)
}

// withRetry runs one store operation with exponential backoff, taking the
// store mutex per attempt so other operations keep flowing while it sleeps.
// Only transient errors are retried; anything else is returned as-is.
// Exhausted retries surface as ErrUnavailable with nothing applied.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		s.mu.Lock()
		err := fn()
		s.mu.Unlock()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		backoff := time.Duration(1<<uint(i)) * 50 * time.Millisecond
		log.Printf("[WARN] sqlite %s failed (attempt %d/%d): %v, retrying in %v", op, i+1, maxRetries+1, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, lastErr)
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	var a model.Account
	err := s.withRetry(ctx, "get account", func() error {
		var created, updated int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id, funding_balance, reward_balance, lifetime_claimed, created_at, updated_at
			 FROM accounts WHERE id = ?`, id).
			Scan(&a.ID, &a.FundingBalance, &a.RewardBalance, &a.LifetimeClaimed, &created, &updated)
		if err == sql.ErrNoRows {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("get account %d: %w", id, err)
		}
		a.CreatedAt = time.Unix(0, created)
		a.UpdatedAt = time.Unix(0, updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.withRetry(ctx, "create account", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts (id, funding_balance, reward_balance, lifetime_claimed, created_at, updated_at)
			 VALUES (?,?,?,?,?,?)`,
			a.ID, a.FundingBalance, a.RewardBalance, a.LifetimeClaimed,
			a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano())
		return err
	})
}

func (s *SQLiteStore) ListPositions(ctx context.Context, accountID int64) ([]*model.Position, error) {
	var out []*model.Position
	err := s.withRetry(ctx, "list positions", func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT account_id, kind, principal, rate_basis, pending, opened_at, last_accrued_at
			 FROM positions WHERE account_id = ? ORDER BY opened_at`, accountID)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var p model.Position
			var opened, accrued int64
			if err := rows.Scan(&p.AccountID, &p.Kind, &p.Principal, &p.RateBasis, &p.Pending, &opened, &accrued); err != nil {
				return fmt.Errorf("scan position: %w", err)
			}
			p.OpenedAt = time.Unix(0, opened)
			p.LastAccruedAt = time.Unix(0, accrued)
			out = append(out, &p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) ListAccountIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.withRetry(ctx, "list account ids", func() error {
		ids = nil
		rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
		if err != nil {
			return fmt.Errorf("list account ids: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan account id: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) CreditFunding(ctx context.Context, accountID int64, amount float64, at time.Time) error {
	return s.withRetry(ctx, "credit funding", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE accounts SET funding_balance = funding_balance + ?, updated_at = ? WHERE id = ?`,
			amount, at.UnixNano(), accountID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) ApplyPurchase(ctx context.Context, m *PurchaseMutation) error {
	p := m.Position
	return s.withRetry(ctx, "apply purchase", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// Read the balance first so a missing account and an uncovered cost
		// report as what they actually are. The engine validates the balance
		// under the account lock, so the second case is a consistency fault.
		var balance float64
		err = tx.QueryRowContext(ctx,
			`SELECT funding_balance FROM accounts WHERE id = ?`, m.AccountID).Scan(&balance)
		if err == sql.ErrNoRows {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if balance < m.Cost {
			return fmt.Errorf("account %d funding %.8f cannot cover cost %.8f", m.AccountID, balance, m.Cost)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET funding_balance = funding_balance - ?, updated_at = ? WHERE id = ?`,
			m.Cost, p.LastAccruedAt.UnixNano(), m.AccountID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO positions (account_id, kind, principal, rate_basis, pending, opened_at, last_accrued_at)
			 VALUES (?,?,?,?,0,?,?)
			 ON CONFLICT(account_id, kind) DO UPDATE SET
				principal       = excluded.principal,
				rate_basis      = excluded.rate_basis,
				pending         = positions.pending + ?,
				last_accrued_at = excluded.last_accrued_at`,
			p.AccountID, p.Kind, p.Principal, p.RateBasis,
			p.OpenedAt.UnixNano(), p.LastAccruedAt.UnixNano(), m.PendingCredit)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) ApplyAccrual(ctx context.Context, accountID int64, advances []AccrualAdvance, at time.Time) error {
	if len(advances) == 0 {
		return nil
	}
	return s.withRetry(ctx, "apply accrual", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, adv := range advances {
			_, err := tx.ExecContext(ctx,
				`UPDATE positions SET pending = pending + ?, last_accrued_at = ?
				 WHERE account_id = ? AND kind = ?`,
				adv.PendingDelta, adv.LastAccruedAt.UnixNano(), accountID, adv.Kind)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) ApplyClaim(ctx context.Context, m *ClaimMutation) error {
	return s.withRetry(ctx, "apply claim", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET
				reward_balance   = reward_balance + ?,
				lifetime_claimed = lifetime_claimed + ?,
				updated_at       = ?
			 WHERE id = ?`,
			m.Amount, m.Amount, m.ClaimedAt.UnixNano(), m.AccountID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAccountNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE positions SET pending = 0 WHERE account_id = ?`, m.AccountID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Totals, error) {
	var t Totals
	err := s.withRetry(ctx, "stats", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*),
			        COALESCE(SUM(funding_balance), 0),
			        COALESCE(SUM(reward_balance), 0),
			        COALESCE(SUM(lifetime_claimed), 0)
			 FROM accounts`).
			Scan(&t.Accounts, &t.TotalFunding, &t.TotalReward, &t.LifetimeClaimed)
		if err != nil {
			return fmt.Errorf("account totals: %w", err)
		}
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*),
			        COALESCE(SUM(principal), 0),
			        COALESCE(SUM(pending), 0)
			 FROM positions`).
			Scan(&t.Positions, &t.TotalPrincipal, &t.TotalPending)
		if err != nil {
			return fmt.Errorf("position totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}
