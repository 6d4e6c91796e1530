package tui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"optibatch/internal/job"
)

type SummaryRow struct {
	Label string
	Value string
}

// RunSummary lists a run's final counters.
func RunSummary(state job.State, p job.Progress) []SummaryRow {
	return []SummaryRow{
		{Label: "State", Value: string(state)},
		{Label: "Processed", Value: fmt.Sprintf("%d/%d", p.CurrentIndex, p.TotalItems)},
		{Label: "Optimized", Value: humanize.Comma(int64(p.SuccessCount))},
		{Label: "Skipped", Value: humanize.Comma(int64(p.SkippedCount))},
		{Label: "Failed", Value: humanize.Comma(int64(p.ErrorCount))},
		{Label: "Saved", Value: fmt.Sprintf("%s (~%d%%)", humanize.Bytes(uint64(max(p.TotalSavedBytes, 0))), p.AverageSavings)},
	}
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		if len(row.Label) > labelWidth {
			labelWidth = len(row.Label)
		}
		if len(row.Value) > valueWidth {
			valueWidth = len(row.Value)
		}
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		line := fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value))
		lines = append(lines, line)
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
