package linkcheck

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatReport renders a link check report as markdown with tables of the
// failing and slow links.
func FormatReport(report *Report) string {
	var b strings.Builder

	b.WriteString("# Link Check Report\n\n")
	fmt.Fprintf(&b, "Checked %d links at %s\n\n", report.TotalLinks, report.Timestamp.Format(time.RFC3339))

	b.WriteString("| Metric | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total | %d |\n", report.TotalLinks)
	fmt.Fprintf(&b, "| Valid | %d |\n", report.ValidLinks)
	fmt.Fprintf(&b, "| Broken | %d |\n", report.BrokenLinks)
	fmt.Fprintf(&b, "| Redirects | %d |\n", report.Redirects)
	fmt.Fprintf(&b, "| Errors | %d |\n\n", report.Errors)

	fmt.Fprintf(&b, "Average response time: %s\n\n", report.Summary.AverageResponseTime.Round(time.Millisecond))

	if len(report.Summary.ByStatus) > 0 {
		classes := make([]string, 0, len(report.Summary.ByStatus))
		for class := range report.Summary.ByStatus {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		b.WriteString("| Status | Links |\n|---|---|\n")
		for _, class := range classes {
			fmt.Fprintf(&b, "| %s | %d |\n", class, report.Summary.ByStatus[class])
		}
		b.WriteString("\n")
	}

	var failing, slow []LinkResult
	for _, r := range report.Results {
		if !r.Valid {
			failing = append(failing, r)
		}
		if report.SlowThreshold > 0 && r.ResponseTime > report.SlowThreshold {
			slow = append(slow, r)
		}
	}

	fmt.Fprintf(&b, "## Broken Links (%d)\n\n", len(failing))
	if len(failing) == 0 {
		b.WriteString("None.\n\n")
	} else {
		b.WriteString("| Title | URL | Status | Error |\n|---|---|---|---|\n")
		for _, r := range failing {
			status := "-"
			if r.Status != 0 {
				status = fmt.Sprint(r.Status)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(r.Title), cell(r.URL), status, cell(r.Error))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Slow Links (%d)\n\n", len(slow))
	if len(slow) == 0 {
		b.WriteString("None.\n")
	} else {
		b.WriteString("| Title | URL | Response Time |\n|---|---|---|\n")
		for _, r := range slow {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(r.Title), cell(r.URL), r.ResponseTime.Round(time.Millisecond))
		}
	}

	return b.String()
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
