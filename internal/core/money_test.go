package core

import (
	"encoding/json"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.2", 120, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{"12.344", 1234, true},
		{" 2.50 ", 250, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		0:     "0.00",
		5:     "0.05",
		1234:  "12.34",
		-1050: "-10.50",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Errorf("Money{%d}.String() = %q, want %q", cents, got, want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(Money{Cents: 4999})
	if err != nil || string(b) != `"49.99"` {
		t.Fatalf("unexpected marshal: %s err=%v", b, err)
	}

	var m Money
	if err := json.Unmarshal([]byte(`"12,5"`), &m); err != nil || m.Cents != 1250 {
		t.Fatalf("unexpected unmarshal: %+v err=%v", m, err)
	}
	if err := json.Unmarshal([]byte(`12.5`), &m); err == nil {
		t.Fatalf("expected error for numeric amount")
	}
}

func TestMoneyAbsDiff(t *testing.T) {
	if d := (Money{Cents: 100}).AbsDiff(Money{Cents: 101}); d != 1 {
		t.Fatalf("expected 1, got %d", d)
	}
	if d := (Money{Cents: 101}).AbsDiff(Money{Cents: 100}); d != 1 {
		t.Fatalf("expected 1, got %d", d)
	}
}
