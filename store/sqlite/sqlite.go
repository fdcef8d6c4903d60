/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Durable record store for cards and their transaction log. In production
  the same patterns apply to PostgreSQL (see store/postgres) - only minor
  SQL dialect differences.

CONDITIONAL UPDATES:
  UpdateBalance / UpdateStatus issue

    UPDATE cards SET ..., version = version + 1
    WHERE id = ? AND version = ?

  and return RowsAffected(). This compare-and-swap is the only thing that
  keeps two writers of the same card apart.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements on the transactions table.
  Transactions reference cards by id only (no foreign key), so history is
  retained independently of the card row.

KEY TABLES:
  cards:         One row per card (balance, status, version)
  transactions:  Immutable log, seq gives insertion order

AMOUNTS:
  Balances and amounts are stored as decimal TEXT, never REAL.

CONCURRENCY:
  The pool is limited to one connection: SQLite has a single writer anyway,
  and ":memory:" databases are per-connection. WAL mode keeps file
  databases crash-safe.

USAGE:
  store, err := sqlite.New("./data/cards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store, limiter)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/card-ledger/ledger"
)

// Fixed-width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
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

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		cardholder_name TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'BLOCKED')),
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cards_created_at
		ON cards(created_at);

	-- Transactions (append-only log)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		card_id TEXT NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('TOPUP', 'SPEND')),
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Paginated history, newest first (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_card_created
		ON transactions(card_id, created_at DESC, seq DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - shared by Store and the view handed to WithTx
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q dbtx
}

// InsertCard creates a card row.
func (s *queries) InsertCard(ctx context.Context, card ledger.Card) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO cards (id, cardholder_name, balance, status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		card.ID,
		card.CardholderName,
		card.Balance.String(),
		card.Status,
		card.Version,
		formatTime(card.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("card %s: %w", card.ID, ledger.ErrDuplicateID)
		}
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

// GetCard retrieves a card by ID. Returns nil if it does not exist.
func (s *queries) GetCard(ctx context.Context, id ledger.CardID) (*ledger.Card, error) {
	var (
		card      ledger.Card
		balance   string
		createdAt string
	)

	err := s.q.QueryRowContext(ctx, `
		SELECT id, cardholder_name, balance, status, version, created_at
		FROM cards WHERE id = ?`,
		id,
	).Scan(&card.ID, &card.CardholderName, &balance, &card.Status, &card.Version, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	if card.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("card %s: bad balance %q: %w", id, balance, err)
	}
	if card.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("card %s: %w", id, err)
	}
	if !card.Status.Valid() {
		return nil, fmt.Errorf("card %s: unknown status %q", id, card.Status)
	}
	return &card, nil
}

// UpdateBalance is a compare-and-swap on version.
func (s *queries) UpdateBalance(ctx context.Context, id ledger.CardID, expectedVersion int64, balance decimal.Decimal) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE cards SET balance = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		balance.String(), id, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return res.RowsAffected()
}

// UpdateStatus is a compare-and-swap on version.
func (s *queries) UpdateStatus(ctx context.Context, id ledger.CardID, expectedVersion int64, status ledger.Status) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE cards SET status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		status, id, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update status: %w", err)
	}
	return res.RowsAffected()
}

// ListCardIDs returns all card ids, oldest first.
func (s *queries) ListCardIDs(ctx context.Context) ([]ledger.CardID, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT id FROM cards ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	ids := []ledger.CardID{}
	for rows.Next() {
		var id ledger.CardID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

// AppendTransaction adds a transaction to the log.
func (s *queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (id, card_id, tx_type, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tx.ID,
		tx.CardID,
		tx.Type,
		tx.Amount.String(),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s: %w", tx.ID, ledger.ErrDuplicateID)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a page of a card's transactions, newest first.
func (s *queries) ListTransactions(ctx context.Context, id ledger.CardID, limit, offset int) ([]ledger.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, card_id, tx_type, amount, created_at
		FROM transactions
		WHERE card_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?`,
		id, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (s *queries) CountTransactions(ctx context.Context, id ledger.CardID) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE card_id = ?",
		id,
	).Scan(&count)
	return count, err
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		amount    string
		createdAt string
	)

	if err := rows.Scan(&tx.ID, &tx.CardID, &tx.Type, &amount, &createdAt); err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if !tx.Type.Valid() {
		return tx, fmt.Errorf("transaction %s: unknown type %q", tx.ID, tx.Type)
	}

	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, amount, err)
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return tx, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
