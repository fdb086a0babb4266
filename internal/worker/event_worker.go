package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ricorrenti/internal/amqp"
	"ricorrenti/internal/ledger"
	"ricorrenti/internal/log"
)

// Invalidator drops cached projections for a payment.
type Invalidator interface {
	Invalidate(ctx context.Context, paymentID string)
}

// EventConsumer delivers transaction events until ctx is done.
type EventConsumer interface {
	ConsumeTransactionEvents(ctx context.Context, handler func(context.Context, *amqp.TransactionEvent) error) error
}

// EventWorker keeps a process's projection cache coherent with ledger writes
// made by other processes, such as the recurring worker materializing
// occurrences against shared storage.
type EventWorker struct {
	invalidator Invalidator
}

func NewEventWorker(invalidator Invalidator) *EventWorker {
	return &EventWorker{invalidator: invalidator}
}

// Run consumes events until ctx is cancelled.
func (w *EventWorker) Run(ctx context.Context, consumer EventConsumer) error {
	if consumer == nil {
		return fmt.Errorf("event worker has no consumer")
	}
	slog.InfoContext(ctx, "Event worker started",
		log.FieldComponent, log.ComponentWorker)
	return consumer.ConsumeTransactionEvents(ctx, w.HandleTransactionEvent)
}

// HandleTransactionEvent processes a single transaction event from AMQP.
func (w *EventWorker) HandleTransactionEvent(ctx context.Context, msg *amqp.TransactionEvent) error {
	if msg == nil {
		return nil
	}

	switch ledger.EventType(msg.Type) {
	case ledger.EventTransactionCreated, ledger.EventTransactionDeleted:
	default:
		slog.WarnContext(ctx, "Ignoring unknown event type",
			log.FieldComponent, log.ComponentWorker,
			"type", msg.Type,
			log.FieldTransactionID, msg.TransactionID)
		return nil
	}

	// An empty payment id still bumps the ledger generation, which retires
	// every cached projection.
	w.invalidator.Invalidate(ctx, msg.PaymentID)

	slog.DebugContext(ctx, "Processed transaction event",
		log.FieldComponent, log.ComponentWorker,
		"type", msg.Type,
		log.FieldTransactionID, msg.TransactionID,
		log.FieldPaymentID, msg.PaymentID,
		log.FieldOccurrenceDate, msg.OccurrenceDate)
	return nil
}
