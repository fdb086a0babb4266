// Package ledger defines the ports between the recurrence engine and the
// stores that hold planned payments and materialized transactions.
package ledger

import (
	"context"
	"errors"
	"time"

	"ricorrenti/internal/core"
)

// ErrNotFound is returned by stores when an id is unknown.
var ErrNotFound = errors.New("not found")

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionDeleted EventType = "transaction.deleted"
)

// Ports for outbound adapters.
type (
	PaymentStore interface {
		// GetPayment returns ErrNotFound for unknown ids.
		GetPayment(ctx context.Context, id string) (core.PlannedPayment, error)
		// ListPayments returns payments in a stable order.
		ListPayments(ctx context.Context) ([]core.PlannedPayment, error)
		// SavePayment inserts or replaces the payment with the same id.
		SavePayment(ctx context.Context, p core.PlannedPayment) error
		DeletePayment(ctx context.Context, id string) error
	}

	TransactionLedger interface {
		// CreateTransaction stores tx, assigning an id when tx.ID is empty.
		CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id string) error
		ListTransactions(ctx context.Context) ([]core.Transaction, error)
		// ListByPayment returns the transactions whose provenance points at paymentID.
		ListByPayment(ctx context.Context, paymentID string) ([]core.Transaction, error)
	}

	// Transactor is implemented by stores that hold both payments and
	// transactions and can apply several writes as one unit. fn must do all
	// of its reads and writes through the stores it is given; a non-nil
	// error from fn discards every write it made.
	Transactor interface {
		InTx(ctx context.Context, fn func(PaymentStore, TransactionLedger) error) error
	}

	// EventPublisher notifies downstream consumers (balances, exports) of ledger writes.
	EventPublisher interface {
		PublishTransactionEvent(ctx context.Context, ev Event) error
	}

	EventType string

	Event struct {
		Type        EventType
		Transaction core.Transaction
		At          time.Time
	}
)
