/*
ledger.go - Optimistic-concurrency balance ledger

PURPOSE:
  Applies top-ups, spends and status changes to cards. Concurrent attempts
  on the same card are tolerated, not prevented: at most one writer wins
  per version value, and losers get ErrConcurrentModification.

ALGORITHM (every mutation):
  1. Read the card (balance, status, version)
  2. Validate preconditions, failing fast on the first violation
  3. Compute the next balance
  4. Conditional write: applies only if the stored version still equals the
     version read in step 1, and sets version = version + 1
  5. Zero records affected -> ErrConcurrentModification (caller retries)
  6. One record affected -> append the transaction in the same store transaction

  No lock is held between steps 1 and 4, and the ledger never retries on
  its own. A caller that times out must re-read the card before retrying,
  since the write may already have applied.

SPEND PRECONDITIONS (in order):
  card exists -> card ACTIVE -> amount > 0 -> rate limiter admits ->
  balance - amount >= 0

  The limiter is consulted after the cheap card checks, so attempts on
  unknown or blocked cards never consume budget.

INITIAL BALANCE:
  A positive initial balance is recorded as a synthetic TOPUP together with
  the card. A zero initial balance records no transaction.

SEE ALSO:
  - store.go: Conditional update primitive
  - ratelimit/: Limiter implementations
  - errors.go: Failure kinds
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// Page size used when replaying a card's full history.
	replayPageSize = 500
	// Attempts to get a stable read of card + history in Verify.
	verifyAttempts = 3
)

// RateLimiter gates spend attempts per card.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Ledger is the only writer of card balances.
type Ledger struct {
	store   TxStore
	limiter RateLimiter
	log     logrus.FieldLogger
	now     func() time.Time
	newID   func() string
}

type Option func(*Ledger)

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock overrides the clock used for CreatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides card and transaction id generation.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// New creates a ledger. A nil limiter admits every spend.
func New(store TxStore, limiter RateLimiter, opts ...Option) *Ledger {
	discard := logrus.New()
	discard.SetLevel(logrus.PanicLevel)

	l := &Ledger{
		store:   store,
		limiter: limiter,
		log:     discard,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// CARD CREATION
// =============================================================================

// CreateCard allocates an ACTIVE card at version 0.
func (l *Ledger) CreateCard(ctx context.Context, cardholderName string, initialBalance decimal.NullDecimal) (*Card, error) {
	if !initialBalance.Valid {
		return nil, invalidAmount("", "initial balance is required")
	}
	if initialBalance.Decimal.IsNegative() {
		return nil, invalidAmount("", "initial balance must be greater or equal than zero")
	}

	card := Card{
		ID:             CardID(l.newID()),
		CardholderName: cardholderName,
		Balance:        initialBalance.Decimal,
		Status:         StatusActive,
		Version:        0,
		CreatedAt:      l.timestamp(),
	}

	err := l.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertCard(ctx, card); err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		if !card.Balance.IsPositive() {
			return nil
		}
		return s.AppendTransaction(ctx, Transaction{
			ID:        TransactionID(l.newID()),
			CardID:    card.ID,
			Type:      TxTopup,
			Amount:    card.Balance,
			CreatedAt: card.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"card_id": card.ID,
		"balance": card.Balance.String(),
	}).Info("card created")
	return &card, nil
}

// =============================================================================
// BALANCE MUTATIONS
// =============================================================================

// Topup adds amount to the card balance and records a TOPUP.
func (l *Ledger) Topup(ctx context.Context, id CardID, amount decimal.Decimal) (*Card, error) {
	card, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !card.IsActive() {
		return nil, cardBlocked(id)
	}
	if !amount.IsPositive() {
		return nil, invalidAmount(id, "top-up amount must be greater than zero")
	}

	return l.apply(ctx, card, card.Balance.Add(amount), TxTopup, amount)
}

// Spend removes amount from the card balance and records a SPEND.
func (l *Ledger) Spend(ctx context.Context, id CardID, amount decimal.Decimal) (*Card, error) {
	card, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !card.IsActive() {
		return nil, cardBlocked(id)
	}
	if !amount.IsPositive() {
		return nil, invalidAmount(id, "spend amount must be greater than zero")
	}

	if l.limiter != nil {
		ok, err := l.limiter.Allow(ctx, string(id))
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if !ok {
			l.log.WithField("card_id", id).Info("spend rejected by rate limiter")
			return nil, newError(KindRateLimitExceeded, id, "rate limit exceeded for card")
		}
	}

	next := card.Balance.Sub(amount)
	if next.IsNegative() {
		return nil, newError(KindInsufficientBalance, id, "insufficient balance for card")
	}

	return l.apply(ctx, card, next, TxSpend, amount)
}

// apply performs the conditional balance write keyed on card.Version and
// appends the transaction in the same store transaction.
func (l *Ledger) apply(ctx context.Context, card *Card, next decimal.Decimal, typ TransactionType, amount decimal.Decimal) (*Card, error) {
	entry := l.log.WithFields(logrus.Fields{
		"card_id": card.ID,
		"type":    typ,
		"amount":  amount.String(),
		"version": card.Version,
	})

	err := l.store.WithTx(ctx, func(s Store) error {
		n, err := s.UpdateBalance(ctx, card.ID, card.Version, next)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if n == 0 {
			return conflict(card.ID)
		}
		return s.AppendTransaction(ctx, Transaction{
			ID:        TransactionID(l.newID()),
			CardID:    card.ID,
			Type:      typ,
			Amount:    amount,
			CreatedAt: l.timestamp(),
		})
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			entry.Info("conditional write lost the race")
		}
		return nil, err
	}

	updated := *card
	updated.Balance = next
	updated.Version = card.Version + 1
	entry.WithField("balance", next.String()).Debug("balance updated")
	return &updated, nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// SetBlocked moves the card to BLOCKED (blocked=true) or ACTIVE. Setting the
// state the card is already in is a no-op and leaves the version unchanged.
func (l *Ledger) SetBlocked(ctx context.Context, id CardID, blocked bool) (*Card, error) {
	card, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}

	target := StatusActive
	if blocked {
		target = StatusBlocked
	}
	if card.Status == target {
		return card, nil
	}

	n, err := l.store.UpdateStatus(ctx, id, card.Version, target)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		l.log.WithField("card_id", id).Info("status write lost the race")
		return nil, conflict(id)
	}

	updated := *card
	updated.Status = target
	updated.Version = card.Version + 1
	l.log.WithFields(logrus.Fields{"card_id": id, "status": target}).Info("card status changed")
	return &updated, nil
}

func (l *Ledger) Block(ctx context.Context, id CardID) (*Card, error) {
	return l.SetBlocked(ctx, id, true)
}

func (l *Ledger) Unblock(ctx context.Context, id CardID) (*Card, error) {
	return l.SetBlocked(ctx, id, false)
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) GetCard(ctx context.Context, id CardID) (*Card, error) {
	return l.load(ctx, id)
}

// ListTransactions returns a page of the card's transactions, newest first.
// The result is never nil.
func (l *Ledger) ListTransactions(ctx context.Context, id CardID, limit, offset int) ([]Transaction, error) {
	if _, err := l.load(ctx, id); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := l.store.ListTransactions(ctx, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return txs, nil
}

func (l *Ledger) CountTransactions(ctx context.Context, id CardID) (int, error) {
	if _, err := l.load(ctx, id); err != nil {
		return 0, err
	}
	n, err := l.store.CountTransactions(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// CardIDs lists every card id.
func (l *Ledger) CardIDs(ctx context.Context) ([]CardID, error) {
	return l.store.ListCardIDs(ctx)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Verify replays the card's transactions and compares the result with the
// stored balance. The card is re-read after the replay; if a write landed
// in between, the replay is repeated.
func (l *Ledger) Verify(ctx context.Context, id CardID) (*Reconciliation, error) {
	for attempt := 0; attempt < verifyAttempts; attempt++ {
		before, err := l.load(ctx, id)
		if err != nil {
			return nil, err
		}

		derived, count, err := l.replay(ctx, id)
		if err != nil {
			return nil, err
		}

		after, err := l.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if after.Version != before.Version {
			continue
		}

		return &Reconciliation{
			CardID:           id,
			StoredBalance:    before.Balance,
			DerivedBalance:   derived,
			TransactionCount: count,
			Version:          before.Version,
			CheckedAt:        l.timestamp(),
		}, nil
	}
	return nil, conflict(id)
}

func (l *Ledger) replay(ctx context.Context, id CardID) (decimal.Decimal, int, error) {
	sum := decimal.Zero
	count := 0
	for offset := 0; ; offset += replayPageSize {
		page, err := l.store.ListTransactions(ctx, id, replayPageSize, offset)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("list transactions: %w", err)
		}
		for _, tx := range page {
			sum = sum.Add(tx.Signed())
		}
		count += len(page)
		if len(page) < replayPageSize {
			return sum, count, nil
		}
	}
}

// timestamp is the clock in UTC at microsecond precision, the finest
// resolution every store round-trips.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

func (l *Ledger) load(ctx context.Context, id CardID) (*Card, error) {
	card, err := l.store.GetCard(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	if card == nil {
		return nil, cardNotFound(id)
	}
	return card, nil
}
