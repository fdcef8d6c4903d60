package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/card-ledger/ledger"
	"github.com/warp/card-ledger/ledger/store"
	"github.com/warp/card-ledger/ratelimit"
	"github.com/warp/card-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// tickingClock advances one millisecond per reading so that every
// timestamp is distinct.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// countingLimiter admits up to limit attempts in total and records every call.
type countingLimiter struct {
	limit int
	calls atomic.Int32
}

func (c *countingLimiter) Allow(_ context.Context, _ string) (bool, error) {
	n := c.calls.Add(1)
	return int(n) <= c.limit, nil
}

func newTestLedger(t *testing.T, limiter ledger.RateLimiter) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.New(mem, limiter, ledger.WithClock(newTickingClock().Now)), mem
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func initial(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func createCard(t *testing.T, l *ledger.Ledger, balance string) *ledger.Card {
	t.Helper()
	card, err := l.CreateCard(context.Background(), "Alice", initial(balance))
	require.NoError(t, err)
	return card
}

func assertKind(t *testing.T, err error, kind ledger.Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := ledger.KindOf(err)
	require.True(t, ok, "expected a ledger error, got %v", err)
	assert.Equal(t, kind, got)
}

// =============================================================================
// CARD CREATION
// =============================================================================

func TestCreateCard_PositiveInitialBalanceRecordsTopup(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	card := createCard(t, l, "100.50")

	assert.NotEmpty(t, card.ID)
	assert.Equal(t, "Alice", card.CardholderName)
	assert.True(t, dec("100.50").Equal(card.Balance))
	assert.Equal(t, ledger.StatusActive, card.Status)
	assert.Equal(t, int64(0), card.Version)

	txs, err := l.ListTransactions(ctx, card.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxTopup, txs[0].Type)
	assert.True(t, dec("100.50").Equal(txs[0].Amount))
}

func TestCreateCard_ZeroInitialBalanceRecordsNothing(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	card := createCard(t, l, "0")

	txs, err := l.ListTransactions(context.Background(), card.ID, 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestCreateCard_InvalidInitialBalance(t *testing.T) {
	l, mem := newTestLedger(t, nil)
	ctx := context.Background()

	_, err := l.CreateCard(ctx, "Alice", initial("-0.01"))
	assertKind(t, err, ledger.KindInvalidAmount)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = l.CreateCard(ctx, "Alice", decimal.NullDecimal{})
	assertKind(t, err, ledger.KindInvalidAmount)

	ids, _ := mem.ListCardIDs(ctx)
	assert.Empty(t, ids, "no card is created on invalid input")
}

func TestCreateCard_UniqueIDs(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	a := createCard(t, l, "1")
	b := createCard(t, l, "1")
	assert.NotEqual(t, a.ID, b.ID)
}

// =============================================================================
// TOP-UP / SPEND
// =============================================================================

func TestTopupAndSpend_HappyPath(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	card, err := l.Topup(ctx, card.ID, dec("25.25"))
	require.NoError(t, err)
	assert.True(t, dec("125.25").Equal(card.Balance))
	assert.Equal(t, int64(1), card.Version)

	card, err = l.Spend(ctx, card.ID, dec("125.25"))
	require.NoError(t, err)
	assert.True(t, card.Balance.IsZero(), "spending the exact balance is allowed")
	assert.Equal(t, int64(2), card.Version)

	stored, err := l.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, card.Version, stored.Version)
	assert.True(t, card.Balance.Equal(stored.Balance))

	txs, err := l.ListTransactions(ctx, card.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, ledger.TxSpend, txs[0].Type)
	assert.Equal(t, ledger.TxTopup, txs[1].Type)
	assert.Equal(t, ledger.TxTopup, txs[2].Type)
}

func TestSpend_UnknownCard(t *testing.T) {
	limiter := &countingLimiter{limit: 5}
	l, _ := newTestLedger(t, limiter)
	ctx := context.Background()

	_, err := l.Spend(ctx, "missing", dec("10"))
	assertKind(t, err, ledger.KindCardNotFound)

	// Not-found wins over an invalid amount.
	_, err = l.Spend(ctx, "missing", dec("-1"))
	assertKind(t, err, ledger.KindCardNotFound)

	_, err = l.Topup(ctx, "missing", dec("0"))
	assertKind(t, err, ledger.KindCardNotFound)

	assert.Equal(t, int32(0), limiter.calls.Load(), "unknown cards never consume limiter budget")
}

func TestSpend_BlockedCard(t *testing.T) {
	limiter := &countingLimiter{limit: 5}
	l, _ := newTestLedger(t, limiter)
	ctx := context.Background()
	card := createCard(t, l, "100")

	_, err := l.Block(ctx, card.ID)
	require.NoError(t, err)

	_, err = l.Spend(ctx, card.ID, dec("10"))
	assertKind(t, err, ledger.KindCardBlocked)

	_, err = l.Topup(ctx, card.ID, dec("10"))
	assertKind(t, err, ledger.KindCardBlocked)

	assert.Equal(t, int32(0), limiter.calls.Load())

	stored, _ := l.GetCard(ctx, card.ID)
	assert.True(t, dec("100").Equal(stored.Balance))
}

func TestSpend_InvalidAmount(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	for _, amount := range []string{"0", "-5"} {
		_, err := l.Spend(ctx, card.ID, dec(amount))
		assertKind(t, err, ledger.KindInvalidAmount)

		_, err = l.Topup(ctx, card.ID, dec(amount))
		assertKind(t, err, ledger.KindInvalidAmount)
	}

	n, err := l.CountTransactions(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the initial top-up")
}

func TestSpend_InsufficientBalance(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	_, err := l.Spend(ctx, card.ID, dec("100.01"))
	assertKind(t, err, ledger.KindInsufficientBalance)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	stored, _ := l.GetCard(ctx, card.ID)
	assert.True(t, dec("100").Equal(stored.Balance))
	assert.Equal(t, int64(0), stored.Version)
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func TestSpend_RateLimited(t *testing.T) {
	// GIVEN: A limiter admitting 5 spends per minute
	// WHEN: 6 spends arrive back to back
	// THEN: The 6th is rejected and leaves no trace
	limiter, err := ratelimit.NewSlidingWindow(ratelimit.DefaultConfig())
	require.NoError(t, err)
	l, _ := newTestLedger(t, limiter)
	ctx := context.Background()
	card := createCard(t, l, "100")

	for i := 0; i < 5; i++ {
		_, err := l.Spend(ctx, card.ID, dec("1"))
		require.NoError(t, err, "spend %d", i+1)
	}

	_, err = l.Spend(ctx, card.ID, dec("1"))
	assertKind(t, err, ledger.KindRateLimitExceeded)
	assert.True(t, ledger.IsRetryable(err))

	stored, _ := l.GetCard(ctx, card.ID)
	assert.True(t, dec("95").Equal(stored.Balance))

	// Top-ups are not rate limited.
	_, err = l.Topup(ctx, card.ID, dec("1"))
	assert.NoError(t, err)

	other := createCard(t, l, "10")
	_, err = l.Spend(ctx, other.ID, dec("1"))
	assert.NoError(t, err, "limits are per card")
}

func TestSpend_InsufficientBalanceStillConsumesBudget(t *testing.T) {
	limiter := &countingLimiter{limit: 1}
	l, _ := newTestLedger(t, limiter)
	ctx := context.Background()
	card := createCard(t, l, "10")

	_, err := l.Spend(ctx, card.ID, dec("50"))
	assertKind(t, err, ledger.KindInsufficientBalance)

	_, err = l.Spend(ctx, card.ID, dec("5"))
	assertKind(t, err, ledger.KindRateLimitExceeded)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestSpend_LimiterFailureIsInternal(t *testing.T) {
	l, _ := newTestLedger(t, failingLimiter{})
	card := createCard(t, l, "10")

	_, err := l.Spend(context.Background(), card.ID, dec("1"))
	require.Error(t, err)
	_, ok := ledger.KindOf(err)
	assert.False(t, ok, "limiter outage must not look like a client error")
}

// =============================================================================
// OPTIMISTIC CONCURRENCY
// =============================================================================

// racingStore lets another writer bump the card right after the ledger reads it.
type racingStore struct {
	*store.Memory
	armed atomic.Bool
}

func (r *racingStore) GetCard(ctx context.Context, id ledger.CardID) (*ledger.Card, error) {
	card, err := r.Memory.GetCard(ctx, id)
	if err != nil || card == nil || !r.armed.CompareAndSwap(true, false) {
		return card, err
	}
	if _, err := r.Memory.UpdateBalance(ctx, id, card.Version, card.Balance.Add(decimal.NewFromInt(1))); err != nil {
		return nil, err
	}
	return card, nil
}

func TestSpend_ConcurrentModification(t *testing.T) {
	racing := &racingStore{Memory: store.NewMemory()}
	l := ledger.New(racing, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	racing.armed.Store(true)
	_, err := l.Spend(ctx, card.ID, dec("10"))
	assertKind(t, err, ledger.KindConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))

	n, _ := l.CountTransactions(ctx, card.ID)
	assert.Equal(t, 1, n, "the losing write records nothing")

	// A retry after re-reading succeeds.
	updated, err := l.Spend(ctx, card.ID, dec("10"))
	require.NoError(t, err)
	assert.True(t, dec("91").Equal(updated.Balance))
	assert.Equal(t, int64(2), updated.Version)
}

func TestSpend_ConcurrentSpendsExactlyOneWins(t *testing.T) {
	// GIVEN: A card with balance 50
	// WHEN: Two spends of 40 race
	// THEN: Exactly one succeeds and the balance ends at 10
	for run := 0; run < 20; run++ {
		l, _ := newTestLedger(t, nil)
		ctx := context.Background()
		card := createCard(t, l, "50")

		var (
			wg        sync.WaitGroup
			start     = make(chan struct{})
			successes atomic.Int32
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := l.Spend(ctx, card.ID, dec("40"))
				if err == nil {
					successes.Add(1)
					return
				}
				kind, _ := ledger.KindOf(err)
				assert.Contains(t,
					[]ledger.Kind{ledger.KindConcurrentModification, ledger.KindInsufficientBalance}, kind)
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), successes.Load())
		stored, err := l.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.True(t, dec("10").Equal(stored.Balance))
		assert.Equal(t, int64(1), stored.Version)
	}
}

func TestSpend_ManyConcurrentWritersKeepBalanceConsistent(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "1000")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				l.Spend(ctx, card.ID, dec("7.5"))
			} else {
				l.Topup(ctx, card.ID, dec("2.25"))
			}
		}(i)
	}
	wg.Wait()

	rec, err := l.Verify(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent(), "stored %s derived %s", rec.StoredBalance, rec.DerivedBalance)
	assert.Equal(t, int(rec.Version)+1, rec.TransactionCount, "one transaction per applied write plus the initial top-up")
}

// failingAppend rolls back every balance write by failing the log append.
type failingAppend struct {
	*store.Memory
}

var errAppend = errors.New("disk full")

func (f failingAppend) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(failView{s})
	})
}

type failView struct {
	ledger.Store
}

func (failView) AppendTransaction(context.Context, ledger.Transaction) error {
	return errAppend
}

func TestSpend_AppendFailureRollsBackBalance(t *testing.T) {
	mem := store.NewMemory()
	seed := ledger.New(mem, nil)
	card := createCard(t, seed, "100")

	l := ledger.New(failingAppend{mem}, nil)
	_, err := l.Spend(context.Background(), card.ID, dec("10"))
	assert.ErrorIs(t, err, errAppend)

	stored, err := l.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(stored.Balance))
	assert.Equal(t, int64(0), stored.Version)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestSetBlocked_IdempotentAndVersioned(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	blocked, err := l.Block(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusBlocked, blocked.Status)
	assert.Equal(t, int64(1), blocked.Version)

	again, err := l.Block(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version, "no-op leaves the version alone")

	active, err := l.Unblock(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusActive, active.Status)
	assert.Equal(t, int64(2), active.Version)

	_, err = l.Spend(ctx, card.ID, dec("10"))
	assert.NoError(t, err)

	_, err = l.Block(ctx, "missing")
	assertKind(t, err, ledger.KindCardNotFound)
}

// statusRace lets another writer flip the card's status right after the
// ledger reads it.
type statusRace struct {
	*store.Memory
	armed  atomic.Bool
	target ledger.Status
}

func (r *statusRace) GetCard(ctx context.Context, id ledger.CardID) (*ledger.Card, error) {
	card, err := r.Memory.GetCard(ctx, id)
	if err != nil || card == nil || !r.armed.CompareAndSwap(true, false) {
		return card, err
	}
	if _, err := r.Memory.UpdateStatus(ctx, id, card.Version, r.target); err != nil {
		return nil, err
	}
	return card, nil
}

func TestSpend_BlockedBetweenReadAndWrite(t *testing.T) {
	// GIVEN: An active card with balance 100
	// WHEN: The card is blocked after the spend read it as ACTIVE
	// THEN: The spend fails with a conflict and leaves no trace
	racing := &statusRace{Memory: store.NewMemory(), target: ledger.StatusBlocked}
	l := ledger.New(racing, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	racing.armed.Store(true)
	_, err := l.Spend(ctx, card.ID, dec("10"))
	assertKind(t, err, ledger.KindConcurrentModification)

	stored, err := l.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(stored.Balance))
	assert.Equal(t, ledger.StatusBlocked, stored.Status, "only the block is applied")
	assert.Equal(t, int64(1), stored.Version)

	n, err := l.CountTransactions(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The retry sees the block.
	_, err = l.Spend(ctx, card.ID, dec("10"))
	assertKind(t, err, ledger.KindCardBlocked)
}

func TestSetBlocked_StatusChangedBetweenReadAndWrite(t *testing.T) {
	t.Run("block", func(t *testing.T) {
		// GIVEN: An active card
		// WHEN: Another writer blocks it after Block read it as ACTIVE
		// THEN: Block fails with a conflict and the other write stands
		racing := &statusRace{Memory: store.NewMemory(), target: ledger.StatusBlocked}
		l := ledger.New(racing, nil)
		ctx := context.Background()
		card := createCard(t, l, "100")

		racing.armed.Store(true)
		_, err := l.Block(ctx, card.ID)
		assertKind(t, err, ledger.KindConcurrentModification)

		stored, err := l.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.True(t, dec("100").Equal(stored.Balance))
		assert.Equal(t, ledger.StatusBlocked, stored.Status)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("unblock", func(t *testing.T) {
		// GIVEN: A blocked card at version 1
		// WHEN: Another writer unblocks it after Unblock read it as BLOCKED
		// THEN: Unblock fails with a conflict and the version is bumped once
		racing := &statusRace{Memory: store.NewMemory(), target: ledger.StatusActive}
		l := ledger.New(racing, nil)
		ctx := context.Background()
		card := createCard(t, l, "100")
		_, err := l.Block(ctx, card.ID)
		require.NoError(t, err)

		racing.armed.Store(true)
		_, err = l.Unblock(ctx, card.ID)
		assertKind(t, err, ledger.KindConcurrentModification)

		stored, err := l.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.True(t, dec("100").Equal(stored.Balance))
		assert.Equal(t, ledger.StatusActive, stored.Status)
		assert.Equal(t, int64(2), stored.Version)
	})
}

// =============================================================================
// READS
// =============================================================================

func TestListTransactions_PaginationNewestFirst(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "0")

	for i := 1; i <= 12; i++ {
		_, err := l.Topup(ctx, card.ID, decimal.NewFromInt(int64(i)))
		require.NoError(t, err)
	}

	first, err := l.ListTransactions(ctx, card.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, first, ledger.DefaultPageSize)
	assert.True(t, decimal.NewFromInt(12).Equal(first[0].Amount))
	for i := 1; i < len(first); i++ {
		assert.False(t, first[i].CreatedAt.After(first[i-1].CreatedAt))
	}

	rest, err := l.ListTransactions(ctx, card.ID, 10, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.True(t, decimal.NewFromInt(1).Equal(rest[1].Amount))

	clamped, err := l.ListTransactions(ctx, card.ID, 1000, -3)
	require.NoError(t, err)
	assert.Len(t, clamped, 12)

	total, err := l.CountTransactions(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, total)

	_, err = l.ListTransactions(ctx, "missing", 10, 0)
	assertKind(t, err, ledger.KindCardNotFound)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestVerify_BalanceMatchesSignedSum(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	_, err := l.Spend(ctx, card.ID, dec("30.10"))
	require.NoError(t, err)
	_, err = l.Topup(ctx, card.ID, dec("5.05"))
	require.NoError(t, err)

	rec, err := l.Verify(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
	assert.True(t, dec("74.95").Equal(rec.DerivedBalance))
	assert.True(t, rec.Drift().IsZero())
	assert.Equal(t, 3, rec.TransactionCount)
	assert.Equal(t, int64(2), rec.Version)
}

func TestVerify_DetectsDrift(t *testing.T) {
	l, mem := newTestLedger(t, nil)
	ctx := context.Background()
	card := createCard(t, l, "100")

	// A write that bypasses the ledger.
	_, err := mem.UpdateBalance(ctx, card.ID, 0, dec("90"))
	require.NoError(t, err)

	rec, err := l.Verify(ctx, card.ID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent())
	assert.True(t, dec("-10").Equal(rec.Drift()))
}

// =============================================================================
// SQLITE BACKEND
// =============================================================================

func TestLedger_SQLiteBackend(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := ledger.New(db, nil, ledger.WithClock(newTickingClock().Now))
	ctx := context.Background()
	card := createCard(t, l, "50")

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		successes atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.Spend(ctx, card.ID, dec("40")); err == nil {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())

	_, err = l.Topup(ctx, card.ID, dec("0.05"))
	require.NoError(t, err)

	rec, err := l.Verify(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
	assert.True(t, dec("10.05").Equal(rec.StoredBalance))

	txs, err := l.ListTransactions(ctx, card.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, ledger.TxTopup, txs[0].Type)
	assert.Equal(t, ledger.TxSpend, txs[1].Type)
}

func TestLedger_TimestampsRoundTripThroughStore(t *testing.T) {
	// GIVEN: A clock reading with nanosecond detail
	// WHEN: A card is created and spent against on SQLite
	// THEN: Returned timestamps are microsecond precision and match what is read back
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	at := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))
	l := ledger.New(db, nil, ledger.WithClock(func() time.Time { return at }))
	ctx := context.Background()

	card := createCard(t, l, "20")
	want := time.Date(2025, 3, 1, 9, 0, 0, 123456000, time.UTC)
	assert.True(t, want.Equal(card.CreatedAt))
	assert.Equal(t, time.UTC, card.CreatedAt.Location())

	stored, err := l.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, card.CreatedAt.Equal(stored.CreatedAt))

	_, err = l.Spend(ctx, card.ID, dec("5"))
	require.NoError(t, err)
	txs, err := l.ListTransactions(ctx, card.ID, 10, 0)
	require.NoError(t, err)
	for _, tx := range txs {
		assert.True(t, want.Equal(tx.CreatedAt))
	}

	rec, err := l.Verify(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, want.Equal(rec.CheckedAt))
}
