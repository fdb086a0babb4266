package services

import (
	"context"
	"log/slog"

	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
)

// DefaultAmountTolerance is the largest amount difference, in cents, that
// still counts as the same amount during legacy matching.
const DefaultAmountTolerance int64 = 1

// MatchKind tags how a legacy transaction was attributed to a payment.
type MatchKind int

const (
	// MatchNone means no payment claims the transaction.
	MatchNone MatchKind = iota
	// MatchExact means title, amount, account, kind and date pattern agree.
	MatchExact
	// MatchLenient is the best-effort fallback: title, account and kind agree
	// and the transaction is future dated. It can misattribute transactions
	// whose titles collide.
	MatchLenient
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchLenient:
		return "lenient"
	default:
		return "none"
	}
}

// LegacyMatch is the result of attributing a transaction without provenance.
type LegacyMatch struct {
	Kind      MatchKind
	PaymentID string
}

// Reconciler matches projected occurrences against materialized transactions.
type Reconciler struct {
	AmountTolerance int64
}

// NewReconciler returns a reconciler with the default amount tolerance.
func NewReconciler() *Reconciler {
	return &Reconciler{AmountTolerance: DefaultAmountTolerance}
}

// IsRealized reports whether some transaction carries provenance for o.
func (r *Reconciler) IsRealized(o core.Occurrence, txs []core.Transaction) bool {
	for _, tx := range txs {
		if tx.IsFrom(o.PaymentID, o.Date) {
			return true
		}
	}
	return false
}

// FilterPending drops occurrences already realized by a transaction, keeping order.
func (r *Reconciler) FilterPending(occs []core.Occurrence, txs []core.Transaction) []core.Occurrence {
	realized := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		if tx.Source != nil {
			realized[realizedKey(tx.Source.PaymentID, tx.Source.OccurrenceDate)] = struct{}{}
		}
	}
	out := make([]core.Occurrence, 0, len(occs))
	for _, o := range occs {
		if _, ok := realized[realizedKey(o.PaymentID, o.Date)]; ok {
			continue
		}
		out = append(out, o)
	}
	return out
}

func realizedKey(paymentID string, d core.Date) string {
	return paymentID + "|" + d.Key()
}

// MatchLegacy attributes a transaction lacking provenance to one of payments.
// Any exact match wins over every lenient one; within a tier the first payment
// in input order wins. Transactions that already carry provenance are not
// legacy and always yield MatchNone.
func (r *Reconciler) MatchLegacy(ctx context.Context, tx core.Transaction, payments []core.PlannedPayment, today core.Date) LegacyMatch {
	if m := r.ExactMatch(tx, payments); m.Kind == MatchExact {
		return m
	}
	if tx.Source != nil {
		return LegacyMatch{Kind: MatchNone}
	}
	for _, p := range payments {
		if matchesLenient(tx, p, today) {
			slog.DebugContext(ctx, "Lenient legacy match",
				log.FieldComponent, log.ComponentReconcile,
				log.FieldTransactionID, tx.ID,
				log.FieldPaymentID, p.ID,
				log.FieldTitle, tx.Title)
			return LegacyMatch{Kind: MatchLenient, PaymentID: p.ID}
		}
	}
	return LegacyMatch{Kind: MatchNone}
}

// ExactMatch runs only the exact tier of MatchLegacy. Cleanup paths use it
// so the lenient heuristic never deletes data.
func (r *Reconciler) ExactMatch(tx core.Transaction, payments []core.PlannedPayment) LegacyMatch {
	if tx.Source != nil {
		return LegacyMatch{Kind: MatchNone}
	}
	for _, p := range payments {
		if r.matchesExact(tx, p) {
			return LegacyMatch{Kind: MatchExact, PaymentID: p.ID}
		}
	}
	return LegacyMatch{Kind: MatchNone}
}

func (r *Reconciler) matchesExact(tx core.Transaction, p core.PlannedPayment) bool {
	if p.Recurrence == nil || p.Recurrence.IsMalformed() {
		return false
	}
	if !sameIdentity(tx, p) || tx.Amount.AbsDiff(p.Amount) > r.AmountTolerance {
		return false
	}
	rule := *p.Recurrence
	return !rule.Excludes(tx.Date) && MatchesPattern(rule, tx.Date)
}

func matchesLenient(tx core.Transaction, p core.PlannedPayment, today core.Date) bool {
	if p.Recurrence == nil || !sameIdentity(tx, p) {
		return false
	}
	return tx.Date.IsAfter(today) && !p.Recurrence.Excludes(tx.Date)
}

func sameIdentity(tx core.Transaction, p core.PlannedPayment) bool {
	return tx.Title == p.Title && tx.AccountID == p.AccountID && tx.Kind == p.Kind
}

// MatchesPattern reports whether d is a date the rule could have produced,
// ignoring skipped dates and the end date. Weekly rules with a weekday mask
// are walked from the anchor, so Interval applies to them too.
func MatchesPattern(rule core.RecurrenceRule, d core.Date) bool {
	if rule.IsMalformed() || d.IsBefore(rule.Anchor) {
		return false
	}
	anchor := rule.Anchor
	switch rule.Every {
	case core.Daily:
		return anchor.DaysUntil(d)%rule.Interval == 0
	case core.Weekly:
		if len(rule.Weekdays) > 0 {
			return reaches(rule, d)
		}
		return anchor.DaysUntil(d)%(7*rule.Interval) == 0
	case core.Monthly:
		months := anchor.MonthsUntil(d)
		if months%rule.Interval != 0 {
			return false
		}
		return d.SameDay(core.ClampedDate(anchor.Year(), anchor.Month()+months, anchor.Day()))
	case core.Yearly:
		years := d.Year() - anchor.Year()
		if years%rule.Interval != 0 {
			return false
		}
		return d.SameDay(core.ClampedDate(d.Year(), anchor.Month(), anchor.Day()))
	}
	return false
}

// reaches walks the rule's sequence from the anchor until it meets or passes d.
func reaches(rule core.RecurrenceRule, d core.Date) bool {
	current := rule.Anchor
	for steps := 0; current.IsBefore(d); steps++ {
		if steps >= MaxReplaySteps {
			return false
		}
		next, ok := NextDate(rule, current, current)
		if !ok {
			return false
		}
		current = next
	}
	return current.SameDay(d)
}
