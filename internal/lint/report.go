package lint

import (
	"fmt"
	"strings"
)

// FormatReport renders a validation result as a markdown summary
func FormatReport(result *Result) string {
	var b strings.Builder

	b.WriteString("# Awesome List Validation Report\n\n")
	if result.Valid {
		b.WriteString("**Status:** ✅ Valid\n\n")
	} else {
		b.WriteString("**Status:** ❌ Invalid\n\n")
	}

	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "- Lines: %d\n", result.Stats.Lines)
	fmt.Fprintf(&b, "- Categories: %d\n", result.Stats.Categories)
	fmt.Fprintf(&b, "- Subcategories: %d\n", result.Stats.Subcategories)
	fmt.Fprintf(&b, "- Links: %d\n", result.Stats.Links)
	fmt.Fprintf(&b, "- Tags: %d\n\n", result.Stats.Tags)

	writeFindings(&b, "Errors", result.Errors)
	writeFindings(&b, "Warnings", result.Warnings)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeFindings(b *strings.Builder, title string, findings []Finding) {
	fmt.Fprintf(b, "## %s (%d)\n\n", title, len(findings))
	if len(findings) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	for _, f := range findings {
		fmt.Fprintf(b, "- Line %d: %s (`%s`)\n", f.Line, f.Message, f.Rule)
	}
	b.WriteString("\n")
}
