package period

import (
	"errors"
	"reflect"
	"testing"
)

func TestValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"20250410", true},
		{"20240229", true},
		{"20250229", false}, // not a leap year
		{"20251301", false},
		{"2025041", false},
		{"2025-04-10", false},
		{"abcdefgh", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.id); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	for _, in := range []string{"2025-04-10", "2025/04/10", " 20250410 "} {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got != "20250410" {
			t.Errorf("Parse(%q) = %q, want 20250410", in, got)
		}
	}

	_, err := Parse("2025-02-30")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Parse(2025-02-30) error = %v, want ErrInvalid", err)
	}
}

func TestNew_ClampsNegativeCount(t *testing.T) {
	p, err := New("2025-04-05", -3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ID != "20250405" || p.ExpectedCount != 0 {
		t.Errorf("New = %+v", p)
	}
}

func TestFormat(t *testing.T) {
	if got := Format("20250405"); got != "2025-04-05" {
		t.Errorf("Format = %q", got)
	}
	if got := Format("bad"); got != "bad" {
		t.Errorf("Format(bad) = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	in := []Period{
		{ID: "20250403", ExpectedCount: 22},
		{ID: "20250405", ExpectedCount: 20},
		{ID: "20250403", ExpectedCount: 99},
		{ID: "20250404", ExpectedCount: 23},
	}
	got := Normalize(in)
	want := []Period{
		{ID: "20250405", ExpectedCount: 20},
		{ID: "20250404", ExpectedCount: 23},
		{ID: "20250403", ExpectedCount: 22},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %v, want %v", got, want)
	}
	if len(in) != 4 {
		t.Error("Normalize must not modify its input length")
	}
}

func TestMax(t *testing.T) {
	if got := Max([]string{"20250401", "20250410", "20250405"}); got != "20250410" {
		t.Errorf("Max = %q", got)
	}
	if got := Max(nil); got != "" {
		t.Errorf("Max(nil) = %q", got)
	}
}
