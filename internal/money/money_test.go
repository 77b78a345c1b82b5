package money

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"1", 100, true},
		{"1.5", 150, true},
		{"1.50", 150, true},
		{"0.01", 1, true},
		{"10000.00", 1000000, true},
		{"1.509", 150, true}, // extra precision truncated
		{"-1.00", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
		{"1,50", 0, false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.wantOK {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{150, "1.50"},
		{1000000, "10000.00"},
		{-250, "-2.50"},
	}

	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00", "0.01", "1.50", "10000.00"} {
		cents, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(cents); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
	}
}
