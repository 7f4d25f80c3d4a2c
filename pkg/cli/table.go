package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Table writes column-aligned rows under a header and a dashed rule.
// Nothing is written before the first row, so a table without rows prints
// nothing at all.
type Table struct {
	tw      *tabwriter.Writer
	headers []string
	indent  string
	started bool
}

// NewTable creates a table on stdout
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table writing to w
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0), headers: headers}
}

// Indent shifts every line of the table right by n spaces
func (t *Table) Indent(n int) *Table {
	t.indent = strings.Repeat(" ", n)
	return t
}

// Row writes one row; each value is formatted with fmt.Sprint.
func (t *Table) Row(values ...any) {
	if !t.started {
		t.started = true
		t.line(t.headers)
		rule := make([]string, len(t.headers))
		for i, h := range t.headers {
			rule[i] = strings.Repeat("-", len(h))
		}
		t.line(rule)
	}
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = fmt.Sprint(v)
	}
	t.line(cells)
}

func (t *Table) line(cells []string) {
	fmt.Fprintln(t.tw, t.indent+strings.Join(cells, "\t"))
}

// Flush writes the buffered rows
func (t *Table) Flush() {
	if t.started {
		t.tw.Flush()
	}
}
