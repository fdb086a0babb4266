package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
)

// RecurringProcessor materializes occurrences that have come due.
type RecurringProcessor struct {
	controller *MutationController

	mu sync.Mutex
	// lastRun is reported through LastRun only; every pass replays from the anchor.
	lastRun map[string]core.Date
}

// NewRecurringProcessor creates a processor that writes through controller.
func NewRecurringProcessor(controller *MutationController) *RecurringProcessor {
	return &RecurringProcessor{
		controller: controller,
		lastRun:    make(map[string]core.Date),
	}
}

// ProcessDue replays every payment from its anchor up to the day of now and
// materializes each occurrence found. It returns the number of transactions
// created. Already realized and skipped occurrences are left alone, so
// running twice on the same day creates nothing.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.controller == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}
	today := core.DateOf(now)

	payments, err := p.controller.ListPayments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list payments: %w", err)
	}

	slog.InfoContext(ctx, "Processing due occurrences",
		log.FieldComponent, log.ComponentProcessor,
		"total_payments", len(payments),
		log.FieldToday, today.Key())

	p.mu.Lock()
	defer p.mu.Unlock()

	created := 0
	for _, payment := range payments {
		if payment.Recurrence == nil || payment.Recurrence.IsMalformed() {
			continue
		}

		anchor := payment.Recurrence.Anchor
		if anchor.IsAfter(today) {
			continue
		}

		for _, o := range Replay(payment, anchor, today) {
			ok, err := p.controller.Materialize(ctx, o)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to materialize occurrence",
					log.FieldComponent, log.ComponentProcessor,
					log.FieldOperation, log.OpMaterialize,
					log.FieldPaymentID, o.PaymentID,
					log.FieldOccurrenceDate, o.Date.Key(),
					log.FieldError, err)
				continue
			}
			if ok {
				created++
				slog.InfoContext(ctx, "Materialized due occurrence",
					log.FieldComponent, log.ComponentProcessor,
					log.FieldPaymentID, o.PaymentID,
					log.FieldOccurrenceDate, o.Date.Key(),
					log.FieldAmountCents, o.Amount.Cents,
					log.FieldFrequency, payment.Recurrence.Every)
			}
		}
		p.lastRun[payment.ID] = today
	}

	slog.InfoContext(ctx, "Due occurrence processing complete",
		log.FieldComponent, log.ComponentProcessor,
		"created", created,
		"total_checked", len(payments))
	return created, nil
}

// LastRun returns the day paymentID was last processed.
func (p *RecurringProcessor) LastRun(paymentID string) (core.Date, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.lastRun[paymentID]
	return d, ok
}
