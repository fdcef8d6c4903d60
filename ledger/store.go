/*
store.go - Persistence interface for cards and their transactions

PURPOSE:
  Defines the boundary between the ledger and the record store. The ledger
  never locks a card in-process: all mutual exclusion between writers of the
  same card comes from the store's conditional update primitive.

KEY INTERFACES:
  Store:   Card reads, conditional updates, transaction log
  TxStore: Store plus all-or-nothing execution of several writes

CONDITIONAL UPDATES:
  UpdateBalance and UpdateStatus apply only when the stored version equals
  expectedVersion, and then set version = expectedVersion + 1. They return
  the number of records affected (0 or 1). Zero means another writer won.

APPEND-ONLY CONTRACT:
  Transactions have AppendTransaction and read methods only.
  No Update, no Delete.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: The only writer
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store persists cards and their transactions.
type Store interface {
	// InsertCard creates a card record. The card must not exist.
	InsertCard(ctx context.Context, card Card) error

	// GetCard returns the card, or nil if it does not exist.
	GetCard(ctx context.Context, id CardID) (*Card, error)

	// UpdateBalance sets balance and bumps the version if the stored
	// version equals expectedVersion. Returns records affected.
	UpdateBalance(ctx context.Context, id CardID, expectedVersion int64, balance decimal.Decimal) (int64, error)

	// UpdateStatus sets status and bumps the version if the stored
	// version equals expectedVersion. Returns records affected.
	UpdateStatus(ctx context.Context, id CardID, expectedVersion int64, status Status) (int64, error)

	// AppendTransaction adds a transaction to the card's log.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// ListTransactions returns a page of the card's transactions, newest first.
	ListTransactions(ctx context.Context, id CardID, limit, offset int) ([]Transaction, error)

	// CountTransactions returns the number of transactions recorded for the card.
	CountTransactions(ctx context.Context, id CardID) (int, error)

	// ListCardIDs returns every card id, oldest card first.
	ListCardIDs(ctx context.Context) ([]CardID, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
