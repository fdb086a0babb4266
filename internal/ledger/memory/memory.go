package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ledger"
)

// SeedFile is the optional file NewFromFiles reads payments from.
const SeedFile = "seed_payments.json"

// Store keeps payments and transactions in process memory. It implements
// ledger.PaymentStore, ledger.TransactionLedger and ledger.Transactor.
type Store struct {
	// txMu serializes InTx calls. Writes made outside InTx while one rolls
	// back are lost.
	txMu sync.Mutex

	mu       sync.Mutex
	payments map[string]core.PlannedPayment
	order    []string
	txs      []core.Transaction
}

func New(payments ...core.PlannedPayment) *Store {
	s := &Store{payments: make(map[string]core.PlannedPayment)}
	for _, p := range payments {
		s.put(p)
	}
	return s
}

// NewFromFiles seeds the store from base/seed_payments.json when present.
// A missing or unreadable file yields an empty store.
func NewFromFiles(base string) *Store {
	data, err := os.ReadFile(filepath.Join(base, SeedFile))
	if err != nil {
		return New()
	}
	var seed []core.PlannedPayment
	if err := json.Unmarshal(data, &seed); err != nil {
		return New()
	}
	valid := seed[:0]
	for _, p := range seed {
		if p.ID == "" || p.Validate() != nil {
			continue
		}
		if p.Recurrence != nil {
			r := p.Recurrence.Normalize()
			p.Recurrence = &r
		}
		valid = append(valid, p)
	}
	return New(valid...)
}

func (s *Store) put(p core.PlannedPayment) {
	if _, ok := s.payments[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.payments[p.ID] = clonePayment(p)
}

func (s *Store) GetPayment(_ context.Context, id string) (core.PlannedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return core.PlannedPayment{}, fmt.Errorf("payment %s: %w", id, ledger.ErrNotFound)
	}
	return clonePayment(p), nil
}

// ListPayments returns payments in insertion order.
func (s *Store) ListPayments(_ context.Context) ([]core.PlannedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.PlannedPayment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clonePayment(s.payments[id]))
	}
	return out, nil
}

func (s *Store) SavePayment(_ context.Context, p core.PlannedPayment) error {
	if p.ID == "" {
		return fmt.Errorf("save payment: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(p)
	return nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[id]; !ok {
		return fmt.Errorf("payment %s: %w", id, ledger.ErrNotFound)
	}
	delete(s.payments, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.txs, func(t core.Transaction) bool { return t.ID == tx.ID }) {
		return core.Transaction{}, fmt.Errorf("create transaction: duplicate id %s", tx.ID)
	}
	s.txs = append(s.txs, cloneTransaction(tx))
	return cloneTransaction(tx), nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.txs)
	s.txs = slices.DeleteFunc(s.txs, func(t core.Transaction) bool { return t.ID == id })
	if len(s.txs) == n {
		return fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0, len(s.txs))
	for _, t := range s.txs {
		out = append(out, cloneTransaction(t))
	}
	return out, nil
}

func (s *Store) ListByPayment(_ context.Context, paymentID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.txs {
		if t.Source != nil && t.Source.PaymentID == paymentID {
			out = append(out, cloneTransaction(t))
		}
	}
	return out, nil
}

// InTx runs fn against the store itself and restores the previous contents
// when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(ledger.PaymentStore, ledger.TransactionLedger) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	payments := make(map[string]core.PlannedPayment, len(s.payments))
	for id, p := range s.payments {
		payments[id] = clonePayment(p)
	}
	order := slices.Clone(s.order)
	txs := make([]core.Transaction, 0, len(s.txs))
	for _, t := range s.txs {
		txs = append(txs, cloneTransaction(t))
	}
	s.mu.Unlock()

	if err := fn(s, s); err != nil {
		s.mu.Lock()
		s.payments, s.order, s.txs = payments, order, txs
		s.mu.Unlock()
		return err
	}
	return nil
}

func clonePayment(p core.PlannedPayment) core.PlannedPayment {
	if p.Recurrence != nil {
		r := p.Recurrence.Clone()
		p.Recurrence = &r
	}
	return p
}

func cloneTransaction(t core.Transaction) core.Transaction {
	if t.Source != nil {
		src := *t.Source
		t.Source = &src
	}
	return t
}
