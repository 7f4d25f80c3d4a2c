package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable_Rows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "PHASE", "STATUS")
	tbl.Row("access-switch-pair", "DONE")
	tbl.Row("devices", "UNCHANGED")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"PHASE               STATUS",
		"-----               ------",
		"access-switch-pair  DONE",
		"devices             UNCHANGED",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTable_EmptyWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "SETTING", "VALUE")
	tbl.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTable_IndentAndValues(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "PHASE", "UPDATED").Indent(2)
	tbl.Row("devices", 2)
	tbl.Flush()
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 || lines[2] != "  devices  2" {
		t.Fatalf("output = %q", buf.String())
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q not indented", line)
		}
	}
}
