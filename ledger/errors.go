/*
errors.go - Centralized error types for the card ledger

PURPOSE:
  All caller-visible failure kinds in one place. Every expected failure of a
  ledger operation is an *Error carrying one Kind. Anything else (store down,
  Redis unreachable) is an internal error and never carries a Kind.

ERROR KINDS:
  CARD_NOT_FOUND           Referenced card does not exist
  CARD_BLOCKED             Operation requires an ACTIVE card
  INVALID_AMOUNT           Amount missing, zero or negative (or negative initial balance)
  INSUFFICIENT_BALANCE     Spend would drive the balance below zero
  RATE_LIMIT_EXCEEDED      Spend attempt denied by the rate limiter
  CONCURRENT_MODIFICATION  Conditional write lost the race

USAGE:
  card, err := l.Spend(ctx, id, amount)
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      ...
  }

  var lerr *ledger.Error
  if errors.As(err, &lerr) {
      switch lerr.Kind { ... }
  }

SEE ALSO:
  - ledger.go: Returns these errors
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrCardNotFound           = errors.New("card not found")
	ErrCardBlocked            = errors.New("card is not active")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrConcurrentModification = errors.New("concurrent modification detected, try again")
)

// ErrDuplicateID is returned by stores when a card or transaction id is
// already taken. It is an internal error and carries no Kind.
var ErrDuplicateID = errors.New("duplicate id")

// =============================================================================
// TAGGED ERROR
// =============================================================================

type Kind string

const (
	KindCardNotFound           Kind = "CARD_NOT_FOUND"
	KindCardBlocked            Kind = "CARD_BLOCKED"
	KindInvalidAmount          Kind = "INVALID_AMOUNT"
	KindInsufficientBalance    Kind = "INSUFFICIENT_BALANCE"
	KindRateLimitExceeded      Kind = "RATE_LIMIT_EXCEEDED"
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
)

var sentinels = map[Kind]error{
	KindCardNotFound:           ErrCardNotFound,
	KindCardBlocked:            ErrCardBlocked,
	KindInvalidAmount:          ErrInvalidAmount,
	KindInsufficientBalance:    ErrInsufficientBalance,
	KindRateLimitExceeded:      ErrRateLimitExceeded,
	KindConcurrentModification: ErrConcurrentModification,
}

// Error is an expected, caller-recoverable ledger failure.
type Error struct {
	Kind    Kind
	CardID  CardID
	Message string
}

func (e *Error) Error() string {
	if e.CardID == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.CardID)
}

// Unwrap returns the sentinel for the error's kind.
func (e *Error) Unwrap() error {
	return sentinels[e.Kind]
}

func newError(kind Kind, id CardID, format string, args ...any) *Error {
	return &Error{Kind: kind, CardID: id, Message: fmt.Sprintf(format, args...)}
}

func cardNotFound(id CardID) *Error {
	return newError(KindCardNotFound, id, "card not found")
}

func cardBlocked(id CardID) *Error {
	return newError(KindCardBlocked, id, "card is not active")
}

func invalidAmount(id CardID, what string) *Error {
	return newError(KindInvalidAmount, id, "%s", what)
}

func conflict(id CardID) *Error {
	return newError(KindConcurrentModification, id, "concurrent modification detected, try again")
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of a ledger error. The second result is false for
// internal errors.
func KindOf(err error) (Kind, bool) {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind, true
	}
	return "", false
}

// IsRetryable returns true if the caller may retry after re-reading the card.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrRateLimitExceeded)
}
