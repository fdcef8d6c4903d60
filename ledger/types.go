/*
Package ledger provides the card balance ledger.

PURPOSE:
  Applies balance-changing operations (top-up, spend) and status changes
  (block, unblock) to virtual cards. Every accepted balance change is
  recorded as an immutable transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Card: Balance, status and version of a single card
  - Transaction: An immutable record of a TOPUP or SPEND
  - Status: ACTIVE or BLOCKED
  - CardID / TransactionID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Amounts and balances are decimal.Decimal, never float64
  2. Versioning: Every accepted write bumps Card.Version by exactly one
  3. Append-only: Transactions are never modified or deleted
  4. Consistency: Balance == signed sum of the card's transactions

SEE ALSO:
  - ledger.go: The Ledger service (read, validate, compare-and-swap)
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CardID string
type TransactionID string

// =============================================================================
// CARD
// =============================================================================

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusBlocked Status = "BLOCKED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusBlocked
}

// Card is the mutable state of a virtual card.
//
// INVARIANTS:
//   - Balance is never negative.
//   - Version strictly increases with every accepted balance or status write.
//   - CreatedAt never changes.
type Card struct {
	ID             CardID
	CardholderName string
	Balance        decimal.Decimal
	Status         Status
	Version        int64
	CreatedAt      time.Time
}

func (c *Card) IsActive() bool { return c.Status == StatusActive }

// =============================================================================
// TRANSACTION - Append-only record of a balance change
// =============================================================================

type TransactionType string

const (
	TxTopup TransactionType = "TOPUP" // Funds added (including the initial balance)
	TxSpend TransactionType = "SPEND" // Funds removed
)

func (t TransactionType) Valid() bool {
	return t == TxTopup || t == TxSpend
}

// Transaction is immutable once created. Amount is always positive; the
// sign comes from Type.
type Transaction struct {
	ID        TransactionID
	CardID    CardID
	Type      TransactionType
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Signed returns the effect of the transaction on the card balance.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TxSpend {
		return t.Amount.Neg()
	}
	return t.Amount
}

// =============================================================================
// RECONCILIATION - Derived consistency check
// =============================================================================

// Reconciliation compares a card's stored balance with the balance derived
// from its transaction history.
type Reconciliation struct {
	CardID           CardID
	StoredBalance    decimal.Decimal
	DerivedBalance   decimal.Decimal
	TransactionCount int
	Version          int64
	CheckedAt        time.Time
}

// Consistent reports whether the stored balance matches the transaction history.
func (r *Reconciliation) Consistent() bool {
	return r.StoredBalance.Equal(r.DerivedBalance)
}

// Drift is StoredBalance - DerivedBalance.
func (r *Reconciliation) Drift() decimal.Decimal {
	return r.StoredBalance.Sub(r.DerivedBalance)
}
