package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricorrenti/internal/core"
)

func planned(id string, rule *core.RecurrenceRule) core.PlannedPayment {
	return core.PlannedPayment{
		ID:         id,
		Title:      "Rent " + id,
		Amount:     core.Money{Cents: 90000},
		Currency:   "EUR",
		AccountID:  "checking",
		Kind:       core.Expense,
		Recurrence: rule,
	}
}

func dates(occs []core.Occurrence) []string {
	out := make([]string, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.Date.Key())
	}
	return out
}

func TestGenerate_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		rule  core.RecurrenceRule
		today core.Date
		want  []string
	}{
		{
			name:  "monthly from a future anchor",
			rule:  core.RecurrenceRule{Every: core.Monthly, Interval: 1, Anchor: d(2025, 1, 10)},
			today: d(2025, 1, 1),
			want:  []string{"2025-01-10", "2025-02-10", "2025-03-10"},
		},
		{
			name: "weekly mask Mon Wed Fri",
			rule: core.RecurrenceRule{Every: core.Weekly, Interval: 1, Anchor: d(2025, 1, 6),
				Weekdays: []core.Weekday{core.Monday, core.Wednesday, core.Friday}},
			today: d(2025, 1, 6),
			want:  []string{"2025-01-06", "2025-01-08", "2025-01-10", "2025-01-13"},
		},
		{
			name: "daily every three days with a skipped date",
			rule: core.RecurrenceRule{Every: core.Daily, Interval: 3, Anchor: d(2025, 1, 1),
				Skipped: []core.Date{d(2025, 1, 7)}},
			today: d(2025, 1, 1),
			want:  []string{"2025-01-01", "2025-01-04", "2025-01-10", "2025-01-13"},
		},
		{
			name:  "monthly on the 31st clamps short months",
			rule:  core.RecurrenceRule{Every: core.Monthly, Interval: 1, Anchor: d(2025, 1, 31)},
			today: d(2025, 1, 1),
			want:  []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			got := dates(Generate(planned("p", &rule), DefaultWindow(tt.today)))
			require.GreaterOrEqual(t, len(got), len(tt.want))
			assert.Equal(t, tt.want, got[:len(tt.want)])
		})
	}
}

func TestGenerate_PastAnchor(t *testing.T) {
	rule := core.RecurrenceRule{Every: core.Monthly, Interval: 1, Anchor: d(2024, 11, 10)}
	got := dates(Generate(planned("p", &rule), DefaultWindow(d(2025, 1, 10))))

	// Only the anchor may land on today; a successor equal to today is dropped.
	require.NotEmpty(t, got)
	assert.Equal(t, "2025-02-10", got[0])
}

func TestGenerate_EndDateBoundsHorizon(t *testing.T) {
	rule := core.RecurrenceRule{Every: core.Weekly, Interval: 1, Anchor: d(2025, 1, 6), EndDate: d(2025, 1, 27)}
	got := dates(Generate(planned("p", &rule), DefaultWindow(d(2025, 1, 1))))
	assert.Equal(t, []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27"}, got)
}

func TestGenerate_DefaultHorizonIsOneYear(t *testing.T) {
	rule := core.RecurrenceRule{Every: core.Monthly, Interval: 1, Anchor: d(2025, 1, 10)}
	got := Generate(planned("p", &rule), Window{Today: d(2025, 1, 1)})

	require.Len(t, got, 12)
	assert.Equal(t, "2025-12-10", got[len(got)-1].Date.Key())
}

func TestGenerate_Malformed(t *testing.T) {
	tests := []struct {
		name string
		rule *core.RecurrenceRule
	}{
		{"one-shot payment", nil},
		{"missing frequency", &core.RecurrenceRule{Interval: 1, Anchor: d(2025, 1, 1)}},
		{"zero interval", &core.RecurrenceRule{Every: core.Daily, Anchor: d(2025, 1, 1)}},
		{"missing anchor", &core.RecurrenceRule{Every: core.Daily, Interval: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(planned("p", tt.rule), DefaultWindow(d(2025, 1, 1)))
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestGenerate_Termination(t *testing.T) {
	rule := core.RecurrenceRule{Every: core.Daily, Interval: 1, Anchor: d(2025, 1, 1)}
	w := Window{Today: d(2025, 1, 1), Until: d(2045, 1, 1)}

	got := Generate(planned("p", &rule), w)
	assert.LessOrEqual(t, len(got), MaxIterations+1)
}

func TestGenerate_Idempotent(t *testing.T) {
	rule := core.RecurrenceRule{Every: core.Weekly, Interval: 2, Anchor: d(2025, 1, 6),
		Weekdays: []core.Weekday{core.Tuesday, core.Thursday}, Skipped: []core.Date{d(2025, 1, 21)}}
	p := planned("p", &rule)
	w := DefaultWindow(d(2025, 1, 1))

	assert.Equal(t, Generate(p, w), Generate(p, w))
}

func TestGenerate_SkippedNeverEmitted(t *testing.T) {
	skipped := []core.Date{d(2025, 1, 10), d(2025, 4, 10), d(2025, 9, 10)}
	rule := core.RecurrenceRule{Every: core.Monthly, Interval: 1, Anchor: d(2025, 1, 10), Skipped: skipped}
	got := dates(Generate(planned("p", &rule), DefaultWindow(d(2025, 1, 1))))

	for _, s := range skipped {
		assert.NotContains(t, got, s.Key())
	}
	assert.Contains(t, got, "2025-02-10")
}

func TestGenerate_CopiesPaymentFacts(t *testing.T) {
	rule := core.RecurrenceRule{Every: core.Yearly, Interval: 1, Anchor: d(2025, 3, 1)}
	p := planned("p", &rule)
	p.Category = "housing"

	got := Generate(p, DefaultWindow(d(2025, 1, 1)))
	require.Len(t, got, 1)
	o := got[0]
	assert.Equal(t, "p", o.PaymentID)
	assert.Equal(t, p.Title, o.Title)
	assert.Equal(t, p.Amount, o.Amount)
	assert.Equal(t, "housing", o.Category)
	assert.Equal(t, core.Expense, o.Kind)
}

func TestGenerateAll_OrdersByDateThenPayment(t *testing.T) {
	weekly := core.RecurrenceRule{Every: core.Weekly, Interval: 1, Anchor: d(2025, 1, 10)}
	monthly := core.RecurrenceRule{Every: core.Monthly, Interval: 1, Anchor: d(2025, 1, 10)}
	w := Window{Today: d(2025, 1, 1), Until: d(2025, 1, 31)}

	got := GenerateAll([]core.PlannedPayment{planned("b", &weekly), planned("a", &monthly)}, w)

	require.Len(t, got, 5)
	assert.Equal(t, "a", got[0].PaymentID)
	assert.Equal(t, "b", got[1].PaymentID)
	assert.Equal(t, "2025-01-10", got[1].Date.Key())
	assert.Equal(t, "2025-01-31", got[4].Date.Key())
}

func TestWindow_HorizonCappedAtOneYear(t *testing.T) {
	rule := core.RecurrenceRule{Every: core.Monthly, Interval: 1, Anchor: d(2025, 1, 10)}

	tests := []struct {
		name  string
		until core.Date
		want  string
	}{
		{"zero until", core.Date{}, "2026-01-01"},
		{"until within a year", d(2025, 6, 30), "2025-06-30"},
		{"until far beyond a year", d(2030, 1, 1), "2026-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{Today: d(2025, 1, 1), Until: tt.until}
			assert.Equal(t, tt.want, w.Horizon(rule).Key())
		})
	}

	got := dates(Generate(planned("p", &rule), Window{Today: d(2025, 1, 1), Until: d(2030, 1, 1)}))
	require.Len(t, got, 12)
	assert.Equal(t, "2025-12-10", got[len(got)-1])
}

func TestReplay(t *testing.T) {
	mask := core.RecurrenceRule{Every: core.Weekly, Interval: 1, Anchor: d(2025, 1, 6),
		Weekdays: []core.Weekday{core.Monday, core.Wednesday, core.Friday}, Skipped: []core.Date{d(2025, 1, 8)}}
	assert.Equal(t, []string{"2025-01-10", "2025-01-13", "2025-01-15"},
		dates(Replay(planned("p", &mask), d(2025, 1, 9), d(2025, 1, 16))))

	ended := core.RecurrenceRule{Every: core.Yearly, Interval: 1, Anchor: d(2020, 2, 29), EndDate: d(2023, 3, 1)}
	assert.Equal(t, []string{"2020-02-29", "2021-02-28", "2022-02-28", "2023-02-28"},
		dates(Replay(planned("p", &ended), d(2020, 1, 1), d(2025, 1, 1))))

	assert.Empty(t, Replay(planned("p", nil), d(2025, 1, 1), d(2025, 12, 31)))
}
