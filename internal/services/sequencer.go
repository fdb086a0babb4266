// Package services provides the recurrence engine and the orchestration around it.
//
// This file implements the Strategy Pattern for next-date computation.
// Each frequency (daily, weekly, monthly, yearly) has its own Sequencer that
// owns the frequency-specific calendar arithmetic.
package services

import (
	"fmt"

	"ricorrenti/internal/core"
)

// weekdayScanDays bounds the weekday-mask scan.
const weekdayScanDays = 14

// maxAdvanceSteps bounds the loop that pushes a stale candidate past today.
const maxAdvanceSteps = 100_000

// Sequencer is the strategy interface for computing the next occurrence date.
type Sequencer interface {
	// Step returns the first candidate strictly after ref, before any
	// adjustment for today.
	Step(rule core.RecurrenceRule, ref core.Date) core.Date
	// Advance moves a candidate one interval further.
	Advance(rule core.RecurrenceRule, candidate core.Date) core.Date
}

// DailySequencer implements Sequencer for daily rules.
type DailySequencer struct{}

func (DailySequencer) Step(rule core.RecurrenceRule, ref core.Date) core.Date {
	return ref.AddDays(rule.Interval)
}

func (DailySequencer) Advance(rule core.RecurrenceRule, candidate core.Date) core.Date {
	return candidate.AddDays(rule.Interval)
}

// WeeklySequencer implements Sequencer for weekly rules, with or without a
// weekday mask.
type WeeklySequencer struct{}

// Step scans up to two weeks ahead for a masked weekday. A mask that matches
// nothing in that span falls back to whole weeks.
func (WeeklySequencer) Step(rule core.RecurrenceRule, ref core.Date) core.Date {
	if len(rule.Weekdays) == 0 {
		return ref.AddWeeks(rule.Interval)
	}
	for i := 1; i <= weekdayScanDays; i++ {
		d := ref.AddDays(i)
		if rule.HasWeekday(d.ISOWeekday()) {
			return d.AddWeeks(rule.Interval - 1)
		}
	}
	return ref.AddWeeks(rule.Interval)
}

func (WeeklySequencer) Advance(rule core.RecurrenceRule, candidate core.Date) core.Date {
	return candidate.AddWeeks(rule.Interval)
}

// MonthlySequencer implements Sequencer for monthly rules. The anchor's day of
// month is kept and clamped to short months, so a rule anchored on the 31st
// lands on Feb 28 and comes back to the 31st in March.
type MonthlySequencer struct{}

func (MonthlySequencer) Step(rule core.RecurrenceRule, ref core.Date) core.Date {
	return core.ClampedDate(ref.Year(), ref.Month()+rule.Interval, rule.Anchor.Day())
}

func (s MonthlySequencer) Advance(rule core.RecurrenceRule, candidate core.Date) core.Date {
	return s.Step(rule, candidate)
}

// YearlySequencer implements Sequencer for yearly rules. Feb 29 anchors fall
// back to Feb 28 in common years.
type YearlySequencer struct{}

func (YearlySequencer) Step(rule core.RecurrenceRule, ref core.Date) core.Date {
	return core.ClampedDate(ref.Year()+rule.Interval, rule.Anchor.Month(), rule.Anchor.Day())
}

func (s YearlySequencer) Advance(rule core.RecurrenceRule, candidate core.Date) core.Date {
	return s.Step(rule, candidate)
}

// sequencers maps repetition types to their strategies.
var sequencers = map[core.Frequency]Sequencer{
	core.Daily:   DailySequencer{},
	core.Weekly:  WeeklySequencer{},
	core.Monthly: MonthlySequencer{},
	core.Yearly:  YearlySequencer{},
}

// GetSequencer returns the strategy for a repetition type.
func GetSequencer(frequency core.Frequency) (Sequencer, error) {
	s, ok := sequencers[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown repetition type: %s", frequency)
	}
	return s, nil
}

// RegisterSequencer allows registering strategies for new repetition types.
func RegisterSequencer(frequency core.Frequency, s Sequencer) {
	sequencers[frequency] = s
}

// NextDate returns the next occurrence date strictly after ref that is also
// strictly after today. Skipped dates and the end date are not applied here.
//
// The second result is false when the rule is malformed or the calendar
// arithmetic fails to move forward; callers must stop generating.
func NextDate(rule core.RecurrenceRule, ref, today core.Date) (core.Date, bool) {
	if rule.Interval < 1 || ref.IsZero() {
		return core.Date{}, false
	}
	if rule.Anchor.IsZero() {
		rule.Anchor = ref
	}
	seq, err := GetSequencer(rule.Every)
	if err != nil {
		return core.Date{}, false
	}

	candidate := seq.Step(rule, ref)
	if !candidate.IsAfter(ref) {
		return core.Date{}, false
	}

	for steps := 0; !candidate.IsAfter(today); steps++ {
		if steps >= maxAdvanceSteps {
			return core.Date{}, false
		}
		next := seq.Advance(rule, candidate)
		if !next.IsAfter(candidate) {
			return core.Date{}, false
		}
		candidate = next
	}
	return candidate, true
}
