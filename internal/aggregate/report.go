package aggregate

import (
	"fmt"
	"strings"
	"time"
)

// Headline is the one-line outcome, e.g. "3/5 units succeeded, 1 aborted,
// 1 skipped".
func (r *Report) Headline() string {
	total := len(r.Outcomes)
	parts := []string{fmt.Sprintf("%d/%d units succeeded", r.Succeeded, total)}
	if r.Aborted > 0 {
		parts = append(parts, fmt.Sprintf("%d aborted", r.Aborted))
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	if r.Unsettled > 0 {
		parts = append(parts, fmt.Sprintf("%d unsettled", r.Unsettled))
	}
	return strings.Join(parts, ", ")
}

// Markdown renders the full report as a markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder

	b.WriteString("# Run Report\n\n")
	fmt.Fprintf(&b, "**Task:** %s\n\n", r.Task)
	fmt.Fprintf(&b, "**Outcome:** %s\n\n", r.Headline())
	fmt.Fprintf(&b, "**Tokens:** %s | **Cost:** $%.4f | **Duration:** %s\n\n",
		formatTokens(r.TotalTokens), r.TotalCost, formatDuration(r.Duration))

	b.WriteString("## Units\n\n")
	b.WriteString("| Unit | Status | Attempts | Duration | Tokens |\n")
	b.WriteString("|------|--------|----------|----------|--------|\n")
	for _, o := range r.Outcomes {
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %s |\n",
			o.Title, o.Status, o.Attempts, formatDuration(o.Duration), formatTokens(o.TokensUsed))
	}
	b.WriteString("\n")

	if len(r.Instructions) > 0 {
		b.WriteString("## Operator Instructions\n\n")
		b.WriteString("Applied to units dispatched after they arrived; units already\nrunning were not changed.\n\n")
		for _, ins := range r.Instructions {
			fmt.Fprintf(&b, "- %s\n", ins)
		}
		b.WriteString("\n")
	}

	for _, o := range r.Outcomes {
		fmt.Fprintf(&b, "## %s (%s)\n\n", o.Title, o.Status)
		if o.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n\n", o.Error)
		}
		if o.WorkspacePath != "" {
			fmt.Fprintf(&b, "Workspace: `%s`\n\n", o.WorkspacePath)
		}
		if len(o.FilesChanged) > 0 {
			b.WriteString("Files changed:\n\n")
			for _, f := range o.FilesChanged {
				fmt.Fprintf(&b, "- `%s`\n", f)
			}
			b.WriteString("\n")
		}
		if o.Output != "" {
			b.WriteString(o.Output)
			if !strings.HasSuffix(o.Output, "\n") {
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "---\nGenerated at %s\n", r.GeneratedAt.Format(time.RFC3339))
	return b.String()
}

func formatTokens(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
