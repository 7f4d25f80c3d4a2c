package cli

import (
	"strings"
	"testing"
)

func TestLeader(t *testing.T) {
	tests := []struct {
		name  string
		width int
		want  string
	}{
		{"virtual-networks", 22, "virtual-networks ....."},
		{"devices", 10, "devices .."},
		{"devices", 8, "devices"},
		{"connectivity-templates", 10, "connectivity-templates"},
		{"", 3, " .."},
		{"", 1, ""},
	}
	for _, tt := range tests {
		if got := Leader(tt.name, tt.width); got != tt.want {
			t.Errorf("Leader(%q, %d) = %q, want %q", tt.name, tt.width, got, tt.want)
		}
	}
}

func TestPaint(t *testing.T) {
	saved := colorEnabled
	defer func() { colorEnabled = saved }()

	colorEnabled = true
	tests := []struct {
		tone Tone
		in   string
		want string
	}{
		{Good, "DONE", "\033[32mDONE\033[0m"},
		{Warn, "INCOMPLETE", "\033[33mINCOMPLETE\033[0m"},
		{Bad, "FAILED", "\033[31mFAILED\033[0m"},
		{Plain, "UNCHANGED", "UNCHANGED"},
		{Bad, "", ""},
	}
	for _, tt := range tests {
		if got := Paint(tt.tone, tt.in); got != tt.want {
			t.Errorf("Paint(%d, %q) = %q, want %q", tt.tone, tt.in, got, tt.want)
		}
	}
	if Bold("x") != "\033[1mx\033[0m" || Dim("x") != "\033[2mx\033[0m" {
		t.Errorf("Bold/Dim = %q, %q", Bold("x"), Dim("x"))
	}

	colorEnabled = false
	if got := Paint(Bad, "FAILED"); got != "FAILED" {
		t.Errorf("Paint with colors off = %q", got)
	}
}

func TestCounts(t *testing.T) {
	saved := colorEnabled
	defer func() { colorEnabled = saved }()

	colorEnabled = false
	if got := Counts(3, 1, 0, 2); got != "3 updated, 1 skipped, 0 missing, 2 failed" {
		t.Errorf("Counts = %q", got)
	}

	colorEnabled = true
	got := Counts(0, 0, 0, 2)
	if !strings.Contains(got, "\033[31m2 failed") || !strings.Contains(got, "\033[2m0 missing") {
		t.Errorf("Counts = %q", got)
	}
}
