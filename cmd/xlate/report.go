package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/xlate/internal/timeslice"
)

func report(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open timeslice file: %w", err)
	}
	defer f.Close()

	summaries, err := timeslice.Summarize(f)
	if err != nil {
		return fmt.Errorf("read timeslice file: %w", err)
	}

	rows := [][]string{{"kind", "flags", "count", "sum", "min", "max", "avg"}}
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Name, s.Flags.String(), fmt.Sprint(s.Count),
			s.Sum.String(), s.Min.String(), s.Max.String(), s.Average().String(),
		})
	}
	columns(w, rows)
	return nil
}

// columns left-aligns the first column and right-aligns the rest, measuring
// cells by display width.
func columns(w io.Writer, rows [][]string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}
	for _, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			pad := strings.Repeat(" ", widths[i]-ansi.StringWidth(cell))
			if i == 0 {
				sb.WriteString(cell + pad)
			} else {
				sb.WriteString("  " + pad + cell)
			}
		}
		fmt.Fprintln(w, sb.String())
	}
}

func table(w io.Writer, rows [][2]string) {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r[0], r[1]}
	}
	columns(w, out)
}

func indent(s string) string {
	var sb strings.Builder
	for line := range strings.SplitSeq(strings.TrimRight(s, "\n"), "\n") {
		sb.WriteString("    ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
