/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers

AMOUNTS:
  Amounts and balances are decimal.Decimal, encoded as JSON strings
  ("120.50") so that no precision is lost in transit. Requests accept
  either a string or a number. A missing amount decodes as invalid
  (NullDecimal.Valid == false).

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/card-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateCardRequest struct {
	CardholderName string              `json:"cardholder_name"`
	InitialBalance decimal.NullDecimal `json:"initial_balance"`
}

// AmountRequest is the body of spend and top-up.
type AmountRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type CardDTO struct {
	ID             string          `json:"id"`
	CardholderName string          `json:"cardholder_name"`
	Balance        decimal.Decimal `json:"balance"`
	Status         string          `json:"status"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
}

type TransactionDTO struct {
	ID        string          `json:"id"`
	CardID    string          `json:"card_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReconciliationDTO reports whether a card's balance matches its history.
type ReconciliationDTO struct {
	CardID           string          `json:"card_id"`
	StoredBalance    decimal.Decimal `json:"stored_balance"`
	DerivedBalance   decimal.Decimal `json:"derived_balance"`
	Drift            decimal.Decimal `json:"drift"`
	Consistent       bool            `json:"consistent"`
	TransactionCount int             `json:"transaction_count"`
	Version          int64           `json:"version"`
	CheckedAt        time.Time       `json:"checked_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCardDTO(c *ledger.Card) CardDTO {
	return CardDTO{
		ID:             string(c.ID),
		CardholderName: c.CardholderName,
		Balance:        c.Balance,
		Status:         string(c.Status),
		Version:        c.Version,
		CreatedAt:      c.CreatedAt,
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:        string(tx.ID),
			CardID:    string(tx.CardID),
			Type:      string(tx.Type),
			Amount:    tx.Amount,
			CreatedAt: tx.CreatedAt,
		}
	}
	return dtos
}

func toReconciliationDTO(r *ledger.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		CardID:           string(r.CardID),
		StoredBalance:    r.StoredBalance,
		DerivedBalance:   r.DerivedBalance,
		Drift:            r.Drift(),
		Consistent:       r.Consistent(),
		TransactionCount: r.TransactionCount,
		Version:          r.Version,
		CheckedAt:        r.CheckedAt,
	}
}
