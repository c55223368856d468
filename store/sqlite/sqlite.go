/*
Package sqlite provides a SQLite-backed Persistence implementation.

PURPOSE:
  Durable storage for the coordinator's state: accounts, transactions,
  recurring series, and occurrence records. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

SAVE CONTRACT:
  Each Save* call replaces the whole table inside one SQL transaction, so
  every call is atomic and idempotent: retrying a failed save converges to
  the same durable state. The coordinator's in-memory state is the source
  of truth between saves.

AMOUNT ENCODING:
  Decimal amounts are stored as TEXT to avoid floating-point drift.
  Dates keep their "2006-01-02" string encoding.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - coordinator/interfaces.go: Persistence contract
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/finance"
)

// Store implements coordinator.Persistence using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		initial_balance TEXT,
		mode TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL,
		source_account TEXT NOT NULL,
		source_amount TEXT,
		source_currency TEXT,
		target_account TEXT,
		target_amount TEXT,
		target_currency TEXT,
		category_id TEXT,
		series_id TEXT,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(source_account);
	CREATE INDEX IF NOT EXISTS idx_transactions_series
		ON transactions(series_id) WHERE series_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS recurring_series (
		id TEXT PRIMARY KEY,
		frequency TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL,
		category_id TEXT,
		account_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recurring_occurrences (
		series_id TEXT NOT NULL,
		date TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		PRIMARY KEY (series_id, date)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) LoadTransactions(ctx context.Context) ([]finance.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, amount, currency, kind, source_account,
		       source_amount, source_currency,
		       COALESCE(target_account, ''), target_amount, target_currency,
		       COALESCE(category_id, ''), COALESCE(series_id, ''),
		       description, created_at
		FROM transactions ORDER BY date, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.Transaction
	for rows.Next() {
		var (
			tx                           finance.Transaction
			amount                       string
			sourceAmount, sourceCurrency sql.NullString
			targetAmount, targetCurrency sql.NullString
			createdAt                    string
		)
		if err := rows.Scan(&tx.ID, &tx.Date, &amount, &tx.Amount.Currency, &tx.Kind,
			&tx.SourceAccount, &sourceAmount, &sourceCurrency,
			&tx.TargetAccount, &targetAmount, &targetCurrency,
			&tx.CategoryID, &tx.SeriesID, &tx.Description, &createdAt); err != nil {
			return nil, err
		}
		tx.Amount.Value, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount: %w", tx.ID, err)
		}
		if sourceAmount.Valid {
			value, convErr := decimal.NewFromString(sourceAmount.String)
			if convErr != nil {
				return nil, fmt.Errorf("transaction %s: bad source amount: %w", tx.ID, convErr)
			}
			tx.SourceAmount = &finance.Money{
				Value:    value,
				Currency: finance.Currency(sourceCurrency.String),
			}
		}
		if targetAmount.Valid {
			value, convErr := decimal.NewFromString(targetAmount.String)
			if convErr != nil {
				return nil, fmt.Errorf("transaction %s: bad target amount: %w", tx.ID, convErr)
			}
			tx.TargetAmount = &finance.Money{
				Value:    value,
				Currency: finance.Currency(targetCurrency.String),
			}
		}
		tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad created_at: %w", tx.ID, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) SaveTransactions(ctx context.Context, txs []finance.Transaction) error {
	return s.replace(ctx, "transactions", func(dbtx *sql.Tx) error {
		stmt, err := dbtx.PrepareContext(ctx, `
			INSERT INTO transactions
			(id, date, amount, currency, kind, source_account, source_amount,
			 source_currency, target_account, target_amount, target_currency,
			 category_id, series_id, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tx := range txs {
			var sourceAmount, sourceCurrency any
			if tx.SourceAmount != nil {
				sourceAmount = tx.SourceAmount.Value.String()
				sourceCurrency = string(tx.SourceAmount.Currency)
			}
			var targetAmount, targetCurrency any
			if tx.TargetAmount != nil {
				targetAmount = tx.TargetAmount.Value.String()
				targetCurrency = string(tx.TargetAmount.Currency)
			}
			if _, err := stmt.ExecContext(ctx,
				string(tx.ID), tx.Date, tx.Amount.Value.String(), string(tx.Amount.Currency),
				string(tx.Kind), string(tx.SourceAccount),
				sourceAmount, sourceCurrency, nullable(string(tx.TargetAccount)),
				targetAmount, targetCurrency, nullable(string(tx.CategoryID)),
				nullable(string(tx.SeriesID)), tx.Description,
				tx.CreatedAt.Format(time.RFC3339Nano),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) LoadAccounts(ctx context.Context) ([]finance.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, currency, balance, initial_balance, mode
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.Account
	for rows.Next() {
		var (
			acc     finance.Account
			balance string
			initial sql.NullString
		)
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Currency, &balance, &initial, &acc.Mode); err != nil {
			return nil, err
		}
		acc.Balance, err = decimal.NewFromString(balance)
		if err != nil {
			return nil, fmt.Errorf("account %s: bad balance: %w", acc.ID, err)
		}
		if initial.Valid {
			value, convErr := decimal.NewFromString(initial.String)
			if convErr != nil {
				return nil, fmt.Errorf("account %s: bad initial balance: %w", acc.ID, convErr)
			}
			acc.InitialBalance = &value
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) SaveAccounts(ctx context.Context, accounts []finance.Account) error {
	return s.replace(ctx, "accounts", func(dbtx *sql.Tx) error {
		stmt, err := dbtx.PrepareContext(ctx, `
			INSERT INTO accounts (id, name, currency, balance, initial_balance, mode)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, acc := range accounts {
			var initial any
			if acc.InitialBalance != nil {
				initial = acc.InitialBalance.String()
			}
			if _, err := stmt.ExecContext(ctx,
				string(acc.ID), acc.Name, string(acc.Currency),
				acc.Balance.String(), initial, string(acc.Mode),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// RECURRING SERIES + OCCURRENCES
// =============================================================================

func (s *Store) LoadSeries(ctx context.Context) ([]finance.RecurringSeries, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, frequency, amount, currency, kind, COALESCE(category_id, ''),
		       account_id, start_date, description, active
		FROM recurring_series ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.RecurringSeries
	for rows.Next() {
		var (
			sr     finance.RecurringSeries
			amount string
			active int
		)
		if err := rows.Scan(&sr.ID, &sr.Frequency, &amount, &sr.Amount.Currency, &sr.Kind,
			&sr.CategoryID, &sr.AccountID, &sr.StartDate, &sr.Description, &active); err != nil {
			return nil, err
		}
		sr.Amount.Value, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("series %s: bad amount: %w", sr.ID, err)
		}
		sr.Active = active != 0
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *Store) SaveSeries(ctx context.Context, series []finance.RecurringSeries) error {
	return s.replace(ctx, "recurring_series", func(dbtx *sql.Tx) error {
		stmt, err := dbtx.PrepareContext(ctx, `
			INSERT INTO recurring_series
			(id, frequency, amount, currency, kind, category_id, account_id,
			 start_date, description, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sr := range series {
			active := 0
			if sr.Active {
				active = 1
			}
			if _, err := stmt.ExecContext(ctx,
				string(sr.ID), string(sr.Frequency), sr.Amount.Value.String(),
				string(sr.Amount.Currency), string(sr.Kind), nullable(string(sr.CategoryID)),
				string(sr.AccountID), sr.StartDate, sr.Description, active,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadOccurrences(ctx context.Context) ([]finance.RecurringOccurrence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT series_id, date, transaction_id
		FROM recurring_occurrences ORDER BY series_id, date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.RecurringOccurrence
	for rows.Next() {
		var occ finance.RecurringOccurrence
		if err := rows.Scan(&occ.SeriesID, &occ.Date, &occ.TransactionID); err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	return out, rows.Err()
}

func (s *Store) SaveOccurrences(ctx context.Context, occs []finance.RecurringOccurrence) error {
	return s.replace(ctx, "recurring_occurrences", func(dbtx *sql.Tx) error {
		stmt, err := dbtx.PrepareContext(ctx, `
			INSERT INTO recurring_occurrences (series_id, date, transaction_id)
			VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, occ := range occs {
			if _, err := stmt.ExecContext(ctx,
				string(occ.SeriesID), occ.Date, string(occ.TransactionID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// INTERNALS
// =============================================================================

// replace runs fn after clearing the table, all inside one SQL transaction.
func (s *Store) replace(ctx context.Context, table string, fn func(*sql.Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := dbtx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		dbtx.Rollback()
		return err
	}
	if err := fn(dbtx); err != nil {
		dbtx.Rollback()
		return err
	}
	return dbtx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
