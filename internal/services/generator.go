package services

import (
	"cmp"
	"slices"

	"ricorrenti/internal/core"
)

// MaxIterations caps the successor loop of a single generation pass.
const MaxIterations = 1000

// DefaultHorizonDays is how far ahead a window reaches when Until is unset.
const DefaultHorizonDays = 365

// MaxReplaySteps caps the walk of a single Replay.
const MaxReplaySteps = 1 << 16

// Window bounds a generation pass. Today is the reference day; Until is the
// last day that may be emitted. A zero Until, or one more than a year after
// Today, means one year after Today.
type Window struct {
	Today core.Date
	Until core.Date
}

// DefaultWindow returns the one-year window starting at today.
func DefaultWindow(today core.Date) Window {
	return Window{Today: today, Until: today.AddDays(DefaultHorizonDays)}
}

// Horizon returns the last day the window allows for rule. It never lies
// more than one year after Today.
func (w Window) Horizon(rule core.RecurrenceRule) core.Date {
	limit := OneYearAfter(w.Today)
	h := w.Until
	if h.IsZero() || h.IsAfter(limit) {
		h = limit
	}
	if rule.HasEndDate() && rule.EndDate.IsBefore(h) {
		h = rule.EndDate
	}
	return h
}

// Generate projects the occurrences of p that fall inside w, in date order.
// A payment without a usable rule yields no occurrences.
func Generate(p core.PlannedPayment, w Window) []core.Occurrence {
	if p.Recurrence == nil || p.Recurrence.IsMalformed() || w.Today.IsZero() {
		return []core.Occurrence{}
	}
	rule := *p.Recurrence
	horizon := w.Horizon(rule)
	out := make([]core.Occurrence, 0, 16)

	anchor := rule.Anchor
	if !anchor.IsBefore(w.Today) && !rule.IsSkipped(anchor) && !anchor.IsAfter(horizon) {
		out = append(out, p.OccurrenceOn(anchor))
	}

	current, ok := NextDate(rule, anchor, w.Today)
	for i := 0; ok && i < MaxIterations; i++ {
		if current.IsAfter(horizon) {
			break
		}
		// Only the anchor may land on today; successors must be strictly future.
		if !rule.IsSkipped(current) && current.IsAfter(w.Today) {
			out = append(out, p.OccurrenceOn(current))
		}

		next, advanced := NextDate(rule, current, w.Today)
		if !advanced || !next.IsAfter(current) || next.IsAfter(horizon) {
			break
		}
		current = next
	}
	return out
}

// OneYearAfter returns the same calendar day one year after d.
func OneYearAfter(d core.Date) core.Date {
	return core.DateOf(d.AddDate(1, 0, 0))
}

// Replay walks p's rule one occurrence at a time from its anchor and returns
// the occurrences dated within [from, until]. Unlike Generate it has no
// horizon and never jumps over masked weekdays to catch up with a reference
// day, so it can recover every past due date.
func Replay(p core.PlannedPayment, from, until core.Date) []core.Occurrence {
	if p.Recurrence == nil || p.Recurrence.IsMalformed() || until.IsZero() {
		return []core.Occurrence{}
	}
	rule := *p.Recurrence
	if rule.HasEndDate() && rule.EndDate.IsBefore(until) {
		until = rule.EndDate
	}

	out := make([]core.Occurrence, 0, 16)
	current := rule.Anchor
	for i := 0; i < MaxReplaySteps && !current.IsAfter(until); i++ {
		if !current.IsBefore(from) && !rule.IsSkipped(current) {
			out = append(out, p.OccurrenceOn(current))
		}
		next, ok := NextDate(rule, current, current)
		if !ok || !next.IsAfter(current) {
			break
		}
		current = next
	}
	return out
}

// GenerateAll projects every payment and orders the result by date, then payment id.
func GenerateAll(payments []core.PlannedPayment, w Window) []core.Occurrence {
	var out []core.Occurrence
	for _, p := range payments {
		out = append(out, Generate(p, w)...)
	}
	slices.SortStableFunc(out, func(a, b core.Occurrence) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.PaymentID, b.PaymentID)
	})
	return out
}
