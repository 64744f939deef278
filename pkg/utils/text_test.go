package utils

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello..."},
		{"x", 0, "x"},
		{"héllo wörld", 4, "héll..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestStripNewLines(t *testing.T) {
	if got := StripNewLines("a\nb\n\nc"); got != "a b  c" {
		t.Errorf("got %q", got)
	}
}

func TestCharCount(t *testing.T) {
	if n := CharCount("héllo"); n != 5 {
		t.Errorf("CharCount = %d, want 5", n)
	}
}
