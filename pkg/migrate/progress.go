package migrate

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/cli"
)

// Progress receives lifecycle callbacks during a run.
type Progress interface {
	RunStart(phases []string)
	PhaseStart(phase string, index, total int)
	PhaseEnd(s *PhaseSummary, index, total int)
	RunEnd(results []*PhaseSummary, duration time.Duration)
}

type nopProgress struct{}

func (nopProgress) RunStart([]string)                     {}
func (nopProgress) PhaseStart(string, int, int)           {}
func (nopProgress) PhaseEnd(*PhaseSummary, int, int)      {}
func (nopProgress) RunEnd([]*PhaseSummary, time.Duration) {}

// ConsoleProgress is an append-only terminal progress reporter.
// It never rewrites lines, so output is safe for pipes and log capture.
type ConsoleProgress struct {
	W       io.Writer
	Verbose bool

	dotWidth int
}

// NewConsoleProgress creates a ConsoleProgress writing to stdout.
func NewConsoleProgress(verbose bool) *ConsoleProgress {
	return &ConsoleProgress{W: os.Stdout, Verbose: verbose}
}

func (p *ConsoleProgress) RunStart(phases []string) {
	maxName := 0
	for _, ph := range phases {
		if len(ph) > maxName {
			maxName = len(ph)
		}
	}
	p.dotWidth = maxName + 6
	if len(phases) > 1 {
		fmt.Fprintf(p.W, "\nconsolidate: %d phases\n\n", len(phases))
	}
}

func (p *ConsoleProgress) PhaseStart(phase string, index, total int) {
	if p.Verbose {
		fmt.Fprintf(p.W, "  [%d/%d]  %s\n", index+1, total, phase)
	}
}

func (p *ConsoleProgress) PhaseEnd(s *PhaseSummary, index, total int) {
	tag := fmt.Sprintf("[%d/%d]", index+1, total)
	status := s.Status()
	fmt.Fprintf(p.W, "  %-7s %s %s  %s  (%s)\n", tag, cli.Leader(s.Phase, p.dotWidth), cli.Paint(StatusTone(status), status),
		cli.Counts(s.Updated, s.Skipped, s.Missing, s.Failed), formatDuration(s.Duration))
	if s.Err != nil {
		fmt.Fprintf(p.W, "          %s\n", cli.Dim(s.Err.Error()))
	}
}

func (p *ConsoleProgress) RunEnd(results []*PhaseSummary, duration time.Duration) {
	if len(results) < 2 {
		return
	}
	byStatus := map[string]int{}
	for _, r := range results {
		byStatus[r.Status()]++
	}
	var parts []string
	if n := byStatus[StatusDone]; n > 0 {
		parts = append(parts, cli.Paint(cli.Good, fmt.Sprintf("%d done", n)))
	}
	if n := byStatus[StatusUnchanged]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d unchanged", n))
	}
	if n := byStatus[StatusIncomplete]; n > 0 {
		parts = append(parts, cli.Paint(cli.Warn, fmt.Sprintf("%d incomplete", n)))
	}
	if n := byStatus[StatusFailed]; n > 0 {
		parts = append(parts, cli.Paint(cli.Bad, fmt.Sprintf("%d failed", n)))
	}
	fmt.Fprintf(p.W, "\n---\nconsolidate: %d phases: %s  (%s)\n", len(results), strings.Join(parts, ", "), formatDuration(duration))
}

// StatusTone is the colour a phase status is shown in
func StatusTone(status string) cli.Tone {
	switch status {
	case StatusDone:
		return cli.Good
	case StatusIncomplete:
		return cli.Warn
	case StatusFailed:
		return cli.Bad
	}
	return cli.Plain
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	return d.Round(time.Second).String()
}
