package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"ricorrenti/internal/cache"
	"ricorrenti/internal/core"
	"ricorrenti/internal/ledger"
	"ricorrenti/internal/log"
)

var (
	// ErrNotRecurring is returned when an occurrence operation targets a one-shot payment.
	ErrNotRecurring = errors.New("payment has no recurrence")
	// ErrPaymentExists is returned by CreatePayment for a duplicate id.
	ErrPaymentExists = errors.New("payment already exists")
)

// MutationController is the single writer of recurrence state. It applies
// pay-early, delete and edit commands and recomputes projections on demand.
//
// All methods hold one mutex so a projection never observes half of a
// mutation. Callers still own one series each; the lock does not merge
// concurrent edits of the same payment.
type MutationController struct {
	mu          sync.Mutex
	payments    ledger.PaymentStore
	txs         ledger.TransactionLedger
	events      ledger.EventPublisher
	transactor  ledger.Transactor
	reconciler  *Reconciler
	projections cache.Cache[[]core.Occurrence]
	now         func() time.Time

	// ledgerGen changes on every ledger write made through the controller
	// and is part of every projection cache key.
	ledgerGen uint64
}

// NewMutationController wires the controller. events and projections may be nil.
// When payments and txs are the same ledger.Transactor, every mutation that
// writes more than once runs inside one storage transaction.
func NewMutationController(payments ledger.PaymentStore, txs ledger.TransactionLedger, events ledger.EventPublisher, projections cache.Cache[[]core.Occurrence]) *MutationController {
	c := &MutationController{
		payments:    payments,
		txs:         txs,
		events:      events,
		reconciler:  NewReconciler(),
		projections: projections,
		now:         time.Now,
	}
	if t, ok := payments.(ledger.Transactor); ok && any(payments) == any(txs) {
		c.transactor = t
	}
	return c
}

// unit is the store view of one mutation. Ledger events are queued and only
// sent once the writes are durable.
type unit struct {
	payments ledger.PaymentStore
	txs      ledger.TransactionLedger
	pending  []ledger.Event
}

func (u *unit) record(typ ledger.EventType, tx core.Transaction) {
	u.pending = append(u.pending, ledger.Event{Type: typ, Transaction: tx})
}

// atomically runs fn inside a storage transaction when the stores support
// one. Must be called with c.mu held; fn must not touch c.payments or c.txs.
func (c *MutationController) atomically(ctx context.Context, fn func(u *unit) error) error {
	var u *unit
	run := func(payments ledger.PaymentStore, txs ledger.TransactionLedger) error {
		u = &unit{payments: payments, txs: txs}
		return fn(u)
	}

	var err error
	if c.transactor != nil {
		if err = c.transactor.InTx(ctx, run); err != nil {
			return err
		}
	} else {
		// Without a transactor the writes made before a failure stay.
		err = run(c.payments, c.txs)
	}
	if u == nil {
		return err
	}
	for _, ev := range u.pending {
		c.ledgerGen++
		c.publish(ctx, ev)
	}
	return err
}

// Invalidate drops cached projections after a ledger write made by another
// process sharing the same storage.
func (c *MutationController) Invalidate(ctx context.Context, paymentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledgerGen++
	if c.projections != nil && paymentID != "" {
		c.projections.DeletePrefix(paymentID + "|")
	}
	slog.DebugContext(ctx, "Projections invalidated",
		log.FieldComponent, log.ComponentCache,
		log.FieldPaymentID, paymentID)
}

// lookup returns found=false for unknown ids so mutations can no-op.
func (c *MutationController) lookup(ctx context.Context, id string) (core.PlannedPayment, bool, error) {
	p, err := c.payments.GetPayment(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		slog.DebugContext(ctx, "Mutation on unknown payment ignored",
			log.FieldComponent, log.ComponentMutation,
			log.FieldPaymentID, id)
		return core.PlannedPayment{}, false, nil
	}
	if err != nil {
		return core.PlannedPayment{}, false, fmt.Errorf("get payment: %w", err)
	}
	return p, true, nil
}

// CreatePayment validates and stores a new payment, assigning an id when missing.
func (c *MutationController) CreatePayment(ctx context.Context, p core.PlannedPayment) (core.PlannedPayment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return core.PlannedPayment{}, err
	}
	if p.Recurrence != nil {
		rule := p.Recurrence.Normalize()
		p.Recurrence = &rule
	}
	p.Version = 1

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.payments.GetPayment(ctx, p.ID); err == nil {
		return core.PlannedPayment{}, fmt.Errorf("create payment %s: %w", p.ID, ErrPaymentExists)
	}
	if err := c.payments.SavePayment(ctx, p); err != nil {
		return core.PlannedPayment{}, fmt.Errorf("save payment: %w", err)
	}

	slog.InfoContext(ctx, "Planned payment created",
		log.FieldComponent, log.ComponentMutation,
		log.FieldOperation, log.OpCreate,
		log.FieldPaymentID, p.ID,
		log.FieldTitle, p.Title,
		log.FieldAmountCents, p.Amount.Cents)
	return p, nil
}

// GetPayment returns the stored payment or ledger.ErrNotFound.
func (c *MutationController) GetPayment(ctx context.Context, id string) (core.PlannedPayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payments.GetPayment(ctx, id)
}

// ListPayments returns every stored payment.
func (c *MutationController) ListPayments(ctx context.Context) ([]core.PlannedPayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payments.ListPayments(ctx)
}

// Projection regenerates the pending occurrences of one payment for w.
// Occurrences already realized by a transaction are left out.
func (c *MutationController) Projection(ctx context.Context, paymentID string, w Window) ([]core.Occurrence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return c.project(ctx, p, w)
}

func (c *MutationController) project(ctx context.Context, p core.PlannedPayment, w Window) ([]core.Occurrence, error) {
	key := c.projectionKey(p, w)
	if c.projections != nil {
		if cached, ok := c.projections.Get(key); ok {
			return append([]core.Occurrence(nil), cached...), nil
		}
	}

	occs := Generate(p, w)
	txs, err := c.txs.ListByPayment(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list transactions for payment: %w", err)
	}
	pending := c.reconciler.FilterPending(occs, txs)

	if c.projections != nil {
		c.projections.Set(key, append([]core.Occurrence(nil), pending...))
	}
	slog.DebugContext(ctx, "Projection computed",
		log.FieldComponent, log.ComponentGenerator,
		log.FieldOperation, log.OpProject,
		log.FieldPaymentID, p.ID,
		log.FieldToday, w.Today.Key(),
		log.FieldCount, len(pending))
	return pending, nil
}

// ProjectAll regenerates pending occurrences for every payment, ordered by date.
func (c *MutationController) ProjectAll(ctx context.Context, w Window) ([]core.Occurrence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payments, err := c.payments.ListPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	txs, err := c.txs.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return c.reconciler.FilterPending(GenerateAll(payments, w), txs), nil
}

func (c *MutationController) projectionKey(p core.PlannedPayment, w Window) string {
	ruleVersion := int64(-1)
	if p.Recurrence != nil {
		ruleVersion = p.Recurrence.Version
	}
	return p.ID + "|" + strconv.FormatInt(p.Version, 10) + "|" + strconv.FormatInt(ruleVersion, 10) +
		"|" + w.Today.Key() + "|" + w.Until.Key() + "|" + strconv.FormatUint(c.ledgerGen, 10)
}

// PayEarly materializes the occurrence of paymentID on date and removes it
// from the pending sequence. Repeated calls leave exactly one transaction.
// It returns nil when the payment does not exist.
func (c *MutationController) PayEarly(ctx context.Context, paymentID string, date core.Date) (*core.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, found, err := c.lookup(ctx, paymentID)
	if err != nil || !found {
		return nil, err
	}
	if p.Recurrence == nil {
		return nil, ErrNotRecurring
	}

	var tx core.Transaction
	err = c.atomically(ctx, func(u *unit) error {
		var err error
		if tx, _, err = materialize(ctx, u, p, date); err != nil {
			return err
		}
		return saveRule(ctx, u, p, p.Recurrence.WithSkipped(date))
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Occurrence paid early",
		log.FieldComponent, log.ComponentMutation,
		log.FieldOperation, log.OpPayEarly,
		log.FieldPaymentID, p.ID,
		log.FieldOccurrenceDate, date.Key(),
		log.FieldTransactionID, tx.ID)
	return &tx, nil
}

// Materialize records o as a transaction unless one already exists for it.
// It reports whether a new transaction was created. Unknown payments and
// skipped dates are ignored.
func (c *MutationController) Materialize(ctx context.Context, o core.Occurrence) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, found, err := c.lookup(ctx, o.PaymentID)
	if err != nil || !found {
		return false, err
	}
	if p.Recurrence == nil || p.Recurrence.IsSkipped(o.Date) || p.Recurrence.Excludes(o.Date) {
		return false, nil
	}

	var created bool
	err = c.atomically(ctx, func(u *unit) error {
		var err error
		_, created, err = materialize(ctx, u, p, o.Date)
		return err
	})
	return created, err
}

func materialize(ctx context.Context, u *unit, p core.PlannedPayment, date core.Date) (core.Transaction, bool, error) {
	existing, err := u.txs.ListByPayment(ctx, p.ID)
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("list transactions for payment: %w", err)
	}
	for _, tx := range existing {
		if tx.IsFrom(p.ID, date) {
			return tx, false, nil
		}
	}

	o := p.OccurrenceOn(date)
	tx, err := u.txs.CreateTransaction(ctx, core.Transaction{
		Title:     o.Title,
		Amount:    o.Amount,
		Currency:  o.Currency,
		AccountID: o.AccountID,
		Category:  o.Category,
		Kind:      o.Kind,
		Date:      date,
		Source:    &core.Provenance{PaymentID: p.ID, OccurrenceDate: date},
	})
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("create transaction: %w", err)
	}
	u.record(ledger.EventTransactionCreated, tx)
	return tx, true, nil
}

// DeleteOccurrence skips paymentID's occurrence on date and removes any
// transaction that already realized it. The rest of the series is untouched.
func (c *MutationController) DeleteOccurrence(ctx context.Context, paymentID string, date core.Date) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, found, err := c.lookup(ctx, paymentID)
	if err != nil || !found {
		return err
	}
	if p.Recurrence == nil {
		return ErrNotRecurring
	}

	removed := 0
	err = c.atomically(ctx, func(u *unit) error {
		if err := saveRule(ctx, u, p, p.Recurrence.WithSkipped(date)); err != nil {
			return err
		}
		txs, err := u.txs.ListByPayment(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list transactions for payment: %w", err)
		}
		removed, err = purge(ctx, u, txs, func(tx core.Transaction) bool { return tx.IsFrom(p.ID, date) })
		return err
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Occurrence deleted",
		log.FieldComponent, log.ComponentMutation,
		log.FieldOperation, log.OpSkip,
		log.FieldPaymentID, p.ID,
		log.FieldOccurrenceDate, date.Key(),
		log.FieldCount, removed)
	return nil
}

// DeleteAllFuture ends the series before cutoff. A cutoff on or before the
// anchor deletes the payment. Transactions of this series dated on or after
// cutoff are purged, including legacy transactions without provenance that
// match the series exactly.
func (c *MutationController) DeleteAllFuture(ctx context.Context, paymentID string, cutoff core.Date) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, found, err := c.lookup(ctx, paymentID)
	if err != nil || !found {
		return err
	}
	return c.deleteAllFuture(ctx, p, cutoff)
}

// deleteAllFuture must be called with c.mu held.
func (c *MutationController) deleteAllFuture(ctx context.Context, p core.PlannedPayment, cutoff core.Date) error {
	deletePayment := p.Recurrence == nil || !cutoff.IsAfter(p.Recurrence.Anchor)
	removed := 0
	err := c.atomically(ctx, func(u *unit) error {
		// Legacy attribution needs the rule as it was before truncation.
		payments, err := u.payments.ListPayments(ctx)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}

		if deletePayment {
			if err := u.payments.DeletePayment(ctx, p.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("delete payment: %w", err)
			}
		} else {
			end := cutoff.AddDays(-1)
			// Never extend a series that already ends earlier.
			if !p.Recurrence.HasEndDate() || end.IsBefore(p.Recurrence.EndDate) {
				if err := saveRule(ctx, u, p, p.Recurrence.WithEndDate(end)); err != nil {
					return err
				}
			}
		}

		all, err := u.txs.ListTransactions(ctx)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		removed, err = purge(ctx, u, all, func(tx core.Transaction) bool {
			if tx.Source != nil {
				return tx.Source.PaymentID == p.ID && !tx.Source.OccurrenceDate.IsBefore(cutoff)
			}
			if tx.Date.IsBefore(cutoff) {
				return false
			}
			m := c.reconciler.ExactMatch(tx, payments)
			return m.Kind == MatchExact && m.PaymentID == p.ID
		})
		return err
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Future occurrences deleted",
		log.FieldComponent, log.ComponentMutation,
		log.FieldOperation, log.OpTruncate,
		log.FieldPaymentID, p.ID,
		log.FieldCutoff, cutoff.Key(),
		"payment_deleted", deletePayment,
		log.FieldCount, removed)
	return nil
}

// DeletePayment removes the whole series and every transaction it produced.
func (c *MutationController) DeletePayment(ctx context.Context, paymentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, found, err := c.lookup(ctx, paymentID)
	if err != nil || !found {
		return err
	}

	cutoff := core.Date{}
	if p.Recurrence != nil {
		cutoff = p.Recurrence.Anchor
	}
	return c.deleteAllFuture(ctx, p, cutoff)
}

// ReplaceRule swaps the payment's rule wholesale. Existing transactions are kept.
func (c *MutationController) ReplaceRule(ctx context.Context, paymentID string, rule core.RecurrenceRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, found, err := c.lookup(ctx, paymentID)
	if err != nil || !found {
		return err
	}

	rule = rule.Normalize()
	if p.Recurrence != nil {
		rule.Version = p.Recurrence.Version + 1
	}
	if err := c.payments.SavePayment(ctx, p.WithRule(rule)); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence rule replaced",
		log.FieldComponent, log.ComponentMutation,
		log.FieldOperation, log.OpReplaceRule,
		log.FieldPaymentID, p.ID,
		log.FieldFrequency, rule.Every)
	return nil
}

// ReplacePayment swaps the payment facts and rule of an existing payment.
// Historical transactions keep the values they were created with.
func (c *MutationController) ReplacePayment(ctx context.Context, p core.PlannedPayment) error {
	if err := p.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old, found, err := c.lookup(ctx, p.ID)
	if err != nil || !found {
		return err
	}
	if p.Recurrence != nil {
		rule := p.Recurrence.Normalize()
		if old.Recurrence != nil {
			rule.Version = old.Recurrence.Version + 1
		}
		p.Recurrence = &rule
	}
	p.Version = old.Version + 1
	if err := c.payments.SavePayment(ctx, p); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}

	slog.InfoContext(ctx, "Planned payment replaced",
		log.FieldComponent, log.ComponentMutation,
		log.FieldOperation, log.OpReplace,
		log.FieldPaymentID, p.ID)
	return nil
}

// saveRule skips the write when rule is unchanged.
func saveRule(ctx context.Context, u *unit, p core.PlannedPayment, rule core.RecurrenceRule) error {
	if p.Recurrence != nil && rule.Version == p.Recurrence.Version {
		return nil
	}
	if err := u.payments.SavePayment(ctx, p.WithRule(rule)); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

func purge(ctx context.Context, u *unit, txs []core.Transaction, match func(core.Transaction) bool) (int, error) {
	removed := 0
	for _, tx := range txs {
		if !match(tx) {
			continue
		}
		if err := u.txs.DeleteTransaction(ctx, tx.ID); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete transaction %s: %w", tx.ID, err)
		}
		removed++
		u.record(ledger.EventTransactionDeleted, tx)
	}
	return removed, nil
}

func (c *MutationController) publish(ctx context.Context, ev ledger.Event) {
	if c.events == nil {
		return
	}
	ev.At = c.now()
	if err := c.events.PublishTransactionEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			log.FieldComponent, log.ComponentMutation,
			log.FieldOperation, log.OpPublish,
			log.FieldTransactionID, ev.Transaction.ID,
			"event_type", string(ev.Type),
			log.FieldError, err)
	}
}
