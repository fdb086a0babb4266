package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

type (
	Frequency string

	// Kind is the income/expense polarity of a payment.
	Kind string

	// Date is a calendar day. The wrapped time is always midnight UTC.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurrenceRule describes how often a planned payment repeats.
	// Rules are values: the With* methods return a new rule with a bumped
	// Version and never touch the receiver's slices.
	RecurrenceRule struct {
		Every    Frequency `json:"every"`
		Interval int       `json:"interval"`
		Weekdays []Weekday `json:"weekdays,omitempty"` // only consulted for Weekly; empty means anchor's weekday
		Anchor   Date      `json:"anchor"`
		EndDate  Date      `json:"end_date"`          // zero means open-ended
		Skipped  []Date    `json:"skipped,omitempty"` // sorted, unique
		Version  int64     `json:"version"`
	}

	PlannedPayment struct {
		ID         string          `json:"id"`
		Title      string          `json:"title"`
		Amount     Money           `json:"amount"`
		Currency   string          `json:"currency"`
		AccountID  string          `json:"account_id"`
		Category   string          `json:"category,omitempty"`
		Kind       Kind            `json:"kind"`
		Recurrence *RecurrenceRule `json:"recurrence,omitempty"` // nil means one-shot
		Version    int64           `json:"version"`
	}

	// Occurrence is a projected instance of a planned payment. It is never stored.
	Occurrence struct {
		PaymentID string `json:"payment_id"`
		Date      Date   `json:"date"`
		Title     string `json:"title"`
		Amount    Money  `json:"amount"`
		Currency  string `json:"currency"`
		AccountID string `json:"account_id"`
		Category  string `json:"category,omitempty"`
		Kind      Kind   `json:"kind"`
	}

	// Provenance links a transaction back to the occurrence it realized.
	Provenance struct {
		PaymentID      string `json:"payment_id"`
		OccurrenceDate Date   `json:"occurrence_date"`
	}

	// Transaction is a materialized ledger record. Source is nil for
	// manually entered transactions.
	Transaction struct {
		ID        string      `json:"id"`
		Title     string      `json:"title"`
		Amount    Money       `json:"amount"`
		Currency  string      `json:"currency"`
		AccountID string      `json:"account_id"`
		Category  string      `json:"category,omitempty"`
		Kind      Kind        `json:"kind"`
		Date      Date        `json:"date"`
		Source    *Provenance `json:"source,omitempty"`
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyTitle       = errors.New("empty title")
	ErrEmptyCurrency    = errors.New("empty currency")
	ErrEmptyAccount     = errors.New("empty account")
	ErrInvalidKind      = errors.New("invalid kind")
	ErrInvalidFrequency = errors.New("invalid repetition type")
	ErrInvalidInterval  = errors.New("interval must be at least 1")
	ErrInvalidWeekday   = errors.New("invalid weekday")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping the calendar day in t's location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// ClampedDate builds a date in the given month, moving day back to the
// month's last day when the month is too short. month may overflow 1..12.
func ClampedDate(year, month, day int) Date {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return Date{Time: first.AddDate(0, 0, day-1)}
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) AddWeeks(n int) Date {
	return d.AddDays(7 * n)
}

// Compare returns -1, 0 or +1 at day granularity.
func (d Date) Compare(o Date) int {
	return d.Time.Compare(o.Time)
}

func (d Date) IsBefore(o Date) bool { return d.Compare(o) < 0 }
func (d Date) IsAfter(o Date) bool  { return d.Compare(o) > 0 }
func (d Date) SameDay(o Date) bool  { return d.Compare(o) == 0 }

// DaysUntil returns the number of days from d to o; negative when o is earlier.
func (d Date) DaysUntil(o Date) int {
	return int(o.Time.Sub(d.Time).Hours() / 24)
}

// MonthsUntil counts whole calendar months between the two months, ignoring days.
func (d Date) MonthsUntil(o Date) int {
	return (o.Year()-d.Year())*12 + (o.Month() - d.Month())
}

func (d Date) ISOWeekday() Weekday {
	return WeekdayOf(d.Time.Weekday())
}

// Key is the canonical string used for map keys and storage.
func (d Date) Key() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) String() string {
	return d.Key()
}

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (k Kind) IsValid() bool {
	return k == Income || k == Expense
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// IsMalformed reports whether the rule cannot drive generation. Malformed
// rules produce no occurrences instead of an error.
func (r RecurrenceRule) IsMalformed() bool {
	return !r.Every.IsValid() || r.Interval < 1 || r.Anchor.IsZero()
}

func (r RecurrenceRule) HasEndDate() bool {
	return !r.EndDate.IsZero()
}

// Excludes reports whether d falls after the rule's end date.
func (r RecurrenceRule) Excludes(d Date) bool {
	return r.HasEndDate() && d.IsAfter(r.EndDate)
}

func (r RecurrenceRule) IsSkipped(d Date) bool {
	_, found := slices.BinarySearchFunc(r.Skipped, d, Date.Compare)
	return found
}

func (r RecurrenceRule) HasWeekday(w Weekday) bool {
	return slices.Contains(r.Weekdays, w)
}

// Clone returns a deep copy sharing no slices with r.
func (r RecurrenceRule) Clone() RecurrenceRule {
	out := r
	out.Weekdays = slices.Clone(r.Weekdays)
	out.Skipped = slices.Clone(r.Skipped)
	return out
}

// WithSkipped returns a copy of r that excludes d. If d is already skipped
// r is returned unchanged.
func (r RecurrenceRule) WithSkipped(d Date) RecurrenceRule {
	i, found := slices.BinarySearchFunc(r.Skipped, d, Date.Compare)
	if found {
		return r
	}
	out := r.Clone()
	out.Skipped = slices.Insert(out.Skipped, i, d)
	out.Version++
	return out
}

func (r RecurrenceRule) WithEndDate(d Date) RecurrenceRule {
	out := r.Clone()
	out.EndDate = d
	out.Version++
	return out
}

// Normalize sorts and dedupes Skipped and Weekdays.
func (r RecurrenceRule) Normalize() RecurrenceRule {
	out := r.Clone()
	slices.SortFunc(out.Skipped, Date.Compare)
	out.Skipped = slices.CompactFunc(out.Skipped, Date.SameDay)
	slices.Sort(out.Weekdays)
	out.Weekdays = slices.Compact(out.Weekdays)
	return out
}

func (r RecurrenceRule) Validate() error {
	if err := r.Anchor.Validate(); err != nil {
		return errors.New("invalid anchor date: " + err.Error())
	}

	if r.HasEndDate() {
		if err := r.EndDate.Validate(); err != nil {
			return errors.New("invalid end date: " + err.Error())
		}
		if r.EndDate.IsBefore(r.Anchor) {
			return errors.New("end date must be after anchor date")
		}
	}

	if !r.Every.IsValid() {
		return ErrInvalidFrequency
	}
	if r.Interval < 1 {
		return ErrInvalidInterval
	}
	for _, w := range r.Weekdays {
		if !w.IsValid() {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, w)
		}
	}
	return nil
}

func (p PlannedPayment) Validate() error {
	if len(strings.TrimSpace(p.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(p.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Currency) == "" {
		return ErrEmptyCurrency
	}
	if strings.TrimSpace(p.AccountID) == "" {
		return ErrEmptyAccount
	}
	if !p.Kind.IsValid() {
		return ErrInvalidKind
	}
	if p.Recurrence != nil {
		if err := p.Recurrence.Validate(); err != nil {
			return fmt.Errorf("invalid recurrence: %w", err)
		}
	}
	return nil
}

// WithRule returns a copy of p carrying rule.
func (p PlannedPayment) WithRule(rule RecurrenceRule) PlannedPayment {
	p.Recurrence = &rule
	p.Version++
	return p
}

// OccurrenceOn projects p onto date d, copying the payment facts.
func (p PlannedPayment) OccurrenceOn(d Date) Occurrence {
	return Occurrence{
		PaymentID: p.ID,
		Date:      d,
		Title:     p.Title,
		Amount:    p.Amount,
		Currency:  p.Currency,
		AccountID: p.AccountID,
		Category:  p.Category,
		Kind:      p.Kind,
	}
}

// IsFrom reports whether t realized the occurrence of paymentID on d.
func (t Transaction) IsFrom(paymentID string, d Date) bool {
	return t.Source != nil && t.Source.PaymentID == paymentID && t.Source.OccurrenceDate.SameDay(d)
}
