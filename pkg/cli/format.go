// Package cli renders the terminal output of the consolidate command: phase
// statuses, counters and aligned tables.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// colorEnabled follows the NO_COLOR convention (no-color.org)
var colorEnabled = os.Getenv("NO_COLOR") == ""

// Tone is the colour class of a piece of output.
type Tone int

const (
	Plain Tone = iota
	Good
	Warn
	Bad
	Muted
	Strong
)

var sgr = map[Tone]string{
	Good:   "32",
	Warn:   "33",
	Bad:    "31",
	Muted:  "2",
	Strong: "1",
}

// Paint wraps s in the escape sequence of t. Plain, empty strings and
// NO_COLOR leave s as is.
func Paint(t Tone, s string) string {
	code, ok := sgr[t]
	if !colorEnabled || !ok || s == "" {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Bold(s string) string { return Paint(Strong, s) }
func Dim(s string) string  { return Paint(Muted, s) }

// Counts renders the counters of a phase. Missing and failed counts are
// highlighted when nonzero.
func Counts(updated, skipped, missing, failed int) string {
	part := func(n int, what string, t Tone) string {
		if n == 0 {
			t = Muted
		}
		return Paint(t, fmt.Sprintf("%d %s", n, what))
	}
	return strings.Join([]string{
		part(updated, "updated", Plain),
		part(skipped, "skipped", Muted),
		part(missing, "missing", Warn),
		part(failed, "failed", Bad),
	}, ", ")
}

// Leader pads name with a dot leader to width:
// Leader("devices", 12) == "devices ...."
func Leader(name string, width int) string {
	n := width - len(name) - 1
	if n <= 0 {
		return name
	}
	return name + " " + strings.Repeat(".", n)
}
