// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/card-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	cards        map[ledger.CardID]ledger.Card
	order        []ledger.CardID
	transactions map[ledger.CardID][]ledger.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		cards:        make(map[ledger.CardID]ledger.Card),
		transactions: make(map[ledger.CardID][]ledger.Transaction),
	}
}

func (m *Memory) InsertCard(_ context.Context, card ledger.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCardLocked(card)
}

func (m *Memory) insertCardLocked(card ledger.Card) error {
	if _, ok := m.cards[card.ID]; ok {
		return fmt.Errorf("card %s: %w", card.ID, ledger.ErrDuplicateID)
	}
	m.cards[card.ID] = card
	m.order = append(m.order, card.ID)
	return nil
}

func (m *Memory) GetCard(_ context.Context, id ledger.CardID) (*ledger.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCardLocked(id), nil
}

func (m *Memory) getCardLocked(id ledger.CardID) *ledger.Card {
	card, ok := m.cards[id]
	if !ok {
		return nil
	}
	return &card
}

// UpdateBalance is a compare-and-swap on the card version.
func (m *Memory) UpdateBalance(_ context.Context, id ledger.CardID, expectedVersion int64, balance decimal.Decimal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, expectedVersion, func(c *ledger.Card) { c.Balance = balance }), nil
}

func (m *Memory) UpdateStatus(_ context.Context, id ledger.CardID, expectedVersion int64, status ledger.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, expectedVersion, func(c *ledger.Card) { c.Status = status }), nil
}

func (m *Memory) updateLocked(id ledger.CardID, expectedVersion int64, set func(*ledger.Card)) int64 {
	card, ok := m.cards[id]
	if !ok || card.Version != expectedVersion {
		return 0
	}
	set(&card)
	card.Version = expectedVersion + 1
	m.cards[id] = card
	return 1
}

// AppendTransaction adds a single transaction. Append-only.
func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(tx)
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) {
	m.transactions[tx.CardID] = append(m.transactions[tx.CardID], tx)
}

func (m *Memory) ListTransactions(_ context.Context, id ledger.CardID, limit, offset int) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(id, limit, offset), nil
}

// listLocked pages newest first. Insertion order breaks CreatedAt ties.
func (m *Memory) listLocked(id ledger.CardID, limit, offset int) []ledger.Transaction {
	all := m.transactions[id]
	newest := make([]ledger.Transaction, len(all))
	for i, tx := range all {
		newest[len(all)-1-i] = tx
	}
	sort.SliceStable(newest, func(i, j int) bool {
		return newest[i].CreatedAt.After(newest[j].CreatedAt)
	})

	if offset >= len(newest) {
		return []ledger.Transaction{}
	}
	end := len(newest)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return newest[offset:end]
}

func (m *Memory) CountTransactions(_ context.Context, id ledger.CardID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions[id]), nil
}

func (m *Memory) ListCardIDs(_ context.Context) ([]ledger.CardID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.CardID{}, m.order...), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn with the store locked.
// This is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	cards        map[ledger.CardID]ledger.Card
	order        []ledger.CardID
	transactions map[ledger.CardID][]ledger.Transaction
}

func (m *Memory) snapshot() memorySnapshot {
	cards := make(map[ledger.CardID]ledger.Card, len(m.cards))
	for k, v := range m.cards {
		cards[k] = v
	}
	txs := make(map[ledger.CardID][]ledger.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txs[k] = append([]ledger.Transaction{}, v...)
	}
	return memorySnapshot{
		cards:        cards,
		order:        append([]ledger.CardID{}, m.order...),
		transactions: txs,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.cards = s.cards
	m.order = s.order
	m.transactions = s.transactions
}

// txView runs against the parent while its lock is held by WithTx.
type txView struct {
	parent *Memory
}

func (v *txView) InsertCard(_ context.Context, card ledger.Card) error {
	return v.parent.insertCardLocked(card)
}

func (v *txView) GetCard(_ context.Context, id ledger.CardID) (*ledger.Card, error) {
	return v.parent.getCardLocked(id), nil
}

func (v *txView) UpdateBalance(_ context.Context, id ledger.CardID, expectedVersion int64, balance decimal.Decimal) (int64, error) {
	return v.parent.updateLocked(id, expectedVersion, func(c *ledger.Card) { c.Balance = balance }), nil
}

func (v *txView) UpdateStatus(_ context.Context, id ledger.CardID, expectedVersion int64, status ledger.Status) (int64, error) {
	return v.parent.updateLocked(id, expectedVersion, func(c *ledger.Card) { c.Status = status }), nil
}

func (v *txView) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	v.parent.appendLocked(tx)
	return nil
}

func (v *txView) ListTransactions(_ context.Context, id ledger.CardID, limit, offset int) ([]ledger.Transaction, error) {
	return v.parent.listLocked(id, limit, offset), nil
}

func (v *txView) CountTransactions(_ context.Context, id ledger.CardID) (int, error) {
	return len(v.parent.transactions[id]), nil
}

func (v *txView) ListCardIDs(_ context.Context) ([]ledger.CardID, error) {
	return append([]ledger.CardID{}, v.parent.order...), nil
}
