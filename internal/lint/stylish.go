package lint

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
)

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// FormatStylish writes problems grouped by file, followed by a summary line.
// Nothing is written when there are no problems.
func FormatStylish(w io.Writer, problems []Problem) Summary {
	summary := Summarize(problems)
	if len(problems) == 0 {
		return summary
	}

	sorted := make([]Problem, len(problems))
	copy(sorted, problems)
	SortProblems(sorted)

	header := color.New(color.Underline)
	dim := color.New(color.Faint)
	errColor := color.New(color.FgRed)
	warnColor := color.New(color.FgYellow)

	var tw *tabwriter.Writer
	current := ""
	for _, p := range sorted {
		if p.File != current || tw == nil {
			if tw != nil {
				tw.Flush()
			}
			current = p.File
			fmt.Fprintf(w, "\n%s\n", header.Sprint(p.File))
			tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		}

		sev := warnColor.Sprint(p.Severity)
		if p.Severity == SeverityError {
			sev = errColor.Sprint(p.Severity)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", dim.Sprintf("%d:%d", p.Line, p.Column), sev, p.Message, dim.Sprint(p.Rule))
	}
	tw.Flush()

	footer := warnColor
	if summary.Errors > 0 {
		footer = errColor
	}
	footer.Fprintf(w, "\n✖ %s (%s, %s)\n\n",
		plural(summary.Total(), "problem"),
		plural(summary.Errors, "error"),
		plural(summary.Warnings, "warning"))
	return summary
}
