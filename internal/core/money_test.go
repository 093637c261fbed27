package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12.34", 1234, false},
		{"12,34", 1234, false},
		{"12", 1200, false},
		{"0.5", 50, false},
		{".75", 75, false},
		{"12.345", 1234, false},
		{"12.346", 1235, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5", 0, true},
		{"+5", 0, true},
		{"0", 0, true},
		{"1.2.3", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDecimalToCents(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDecimalToCents(%q) expected error, got %d", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDecimalToCents(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDecimalToCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatTJS(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{1234, "12.34 TJS"},
		{100, "1.00 TJS"},
		{5, "0.05 TJS"},
		{-1234, "-12.34 TJS"},
	}
	for _, tt := range tests {
		if got := (Money{Cents: tt.cents}).FormatTJS(); got != tt.want {
			t.Errorf("FormatTJS(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestSomoni(t *testing.T) {
	if got := (Money{Cents: 1250}).Somoni(); got != 12.5 {
		t.Errorf("Somoni = %v, want 12.5", got)
	}
}
