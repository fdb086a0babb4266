// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating request data:
// JSON bodies, date query parameters and generation windows.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ricorrenti/internal/core"
	"ricorrenti/internal/services"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// RuleRequest is the wire form of a recurrence rule. Version is owned by
// the server and cannot be set by clients.
type RuleRequest struct {
	Every    core.Frequency `json:"every"`
	Interval int            `json:"interval"`
	Weekdays []core.Weekday `json:"weekdays,omitempty"`
	Anchor   core.Date      `json:"anchor"`
	EndDate  core.Date      `json:"end_date"`
	Skipped  []core.Date    `json:"skipped,omitempty"`
}

// Rule converts the request, defaulting a missing interval to 1.
func (r RuleRequest) Rule() core.RecurrenceRule {
	interval := r.Interval
	if interval == 0 {
		interval = 1
	}
	return core.RecurrenceRule{
		Every:    r.Every,
		Interval: interval,
		Weekdays: r.Weekdays,
		Anchor:   r.Anchor,
		EndDate:  r.EndDate,
		Skipped:  r.Skipped,
	}
}

// PaymentRequest is the body of POST /payments and PUT /payments/{id}.
type PaymentRequest struct {
	ID         string       `json:"id,omitempty"`
	Title      string       `json:"title"`
	Amount     core.Money   `json:"amount"`
	Currency   string       `json:"currency"`
	AccountID  string       `json:"account_id"`
	Category   string       `json:"category,omitempty"`
	Kind       core.Kind    `json:"kind"`
	Recurrence *RuleRequest `json:"recurrence,omitempty"`
}

// Payment converts the request into a planned payment with sanitized text.
func (p PaymentRequest) Payment() core.PlannedPayment {
	out := core.PlannedPayment{
		ID:        sanitizeInput(p.ID),
		Title:     sanitizeInput(p.Title),
		Amount:    p.Amount,
		Currency:  strings.ToUpper(sanitizeInput(p.Currency)),
		AccountID: sanitizeInput(p.AccountID),
		Category:  sanitizeInput(p.Category),
		Kind:      core.Kind(strings.ToLower(sanitizeInput(string(p.Kind)))),
	}
	if p.Recurrence != nil {
		rule := p.Recurrence.Rule()
		out.Recurrence = &rule
	}
	return out
}

// DateRequest is the body of pay-early and skip.
type DateRequest struct {
	Date core.Date `json:"date"`
}

// CutoffRequest is the body of truncate.
type CutoffRequest struct {
	Cutoff core.Date `json:"cutoff"`
}

// DecodeJSON reads a single JSON value from r into v, rejecting unknown
// fields, trailing data and oversized bodies.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// ParseDateParam reads key from query as YYYY-MM-DD, returning def when absent.
func ParseDateParam(query url.Values, key string, def core.Date) (core.Date, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return def, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// ParseWindow builds the generation window from the today and until query
// parameters. until defaults to horizonDays after today and may not reach
// past one year after today.
func ParseWindow(query url.Values, defaultToday core.Date, horizonDays int) (services.Window, error) {
	today, err := ParseDateParam(query, "today", defaultToday)
	if err != nil {
		return services.Window{}, err
	}
	if horizonDays < 1 || horizonDays > services.DefaultHorizonDays {
		horizonDays = services.DefaultHorizonDays
	}
	until, err := ParseDateParam(query, "until", today.AddDays(horizonDays))
	if err != nil {
		return services.Window{}, err
	}
	if until.IsBefore(today) {
		return services.Window{}, fmt.Errorf("until %s is before today %s", until.Key(), today.Key())
	}
	if limit := services.OneYearAfter(today); until.IsAfter(limit) {
		return services.Window{}, fmt.Errorf("until %s is more than one year after today (max %s)", until.Key(), limit.Key())
	}
	return services.Window{Today: today, Until: until}, nil
}

// RequireDate rejects a zero date coming from a request body.
func RequireDate(d core.Date, field string) error {
	if d.IsZero() {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}
