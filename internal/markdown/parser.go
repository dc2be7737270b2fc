// Package markdown reads and writes "awesome list" README documents.
package markdown

import (
	"regexp"
	"strings"
)

// UncategorizedCategory holds bullets that appear before any category heading
const UncategorizedCategory = "Uncategorized"

// Entry is one linked resource in a list
type Entry struct {
	Title       string
	URL         string
	Description string
	Tags        []string
}

// Record is an entry together with the heading path it appeared under
type Record struct {
	CategoryPath  []string
	Resource      Entry
	Line          int
	Uncategorized bool
}

// Warning is a non-fatal problem found while parsing
type Warning struct {
	Line    int
	Message string
}

// ParseResult is the outcome of parsing a document
type ParseResult struct {
	Title    string
	Records  []Record
	Warnings []Warning
}

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)(?:\s+#+)?\s*$`)
	bulletRe  = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	tagRe     = regexp.MustCompile("\\s*`([^`]+)`\\s*$")
	badgeRe   = regexp.MustCompile(`\[!\[[^\]]*\]\([^)]*\)\]\([^)]*\)|!\[[^\]]*\]\([^)]*\)`)
)

// sections whose bullets are navigation or boilerplate, not resources
var ignoredSections = map[string]bool{
	"contents":          true,
	"table of contents": true,
	"contributing":      true,
	"license":           true,
}

var (
	titleUnescaper = strings.NewReplacer(`\\`, `\`, `\[`, `[`, `\]`, `]`)
	codeUnescaper  = strings.NewReplacer("\\`", "`")
)

// IsBoilerplateSection reports whether a heading names a TOC, contributing or license section
func IsBoilerplateSection(heading string) bool {
	return ignoredSections[strings.ToLower(strings.TrimSpace(heading))]
}

// IsBoilerplateHeading reports whether an H2 line is a plain TOC, contributing
// or license heading. Decorated headings such as "## *License*" are categories.
func IsBoilerplateHeading(line string) bool {
	m := headingRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil || len(m[1]) != 2 {
		return false
	}
	return IsBoilerplateSection(m[2])
}

// Parse walks an awesome-list document and returns every linked bullet with
// the heading path it belongs to. H1 is the list title, H2 a category, H3 a
// subcategory, and anything deeper a sub-subcategory. Section order is not
// assumed. Malformed link bullets are skipped with a warning.
func Parse(content string) *ParseResult {
	result := &ParseResult{}

	// stack[0] = H2, stack[1] = H3, stack[2] = H4 and deeper
	var stack [3]string
	ignoring := false
	inFence := false

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" {
			continue
		}

		if level, text, ok := ParseHeading(trimmed); ok {
			if level == 1 {
				if result.Title == "" {
					result.Title = text
				}
				stack = [3]string{}
				ignoring = false
				continue
			}

			slot := level - 2
			if slot > 2 {
				slot = 2
			}
			stack[slot] = text
			for j := slot + 1; j < len(stack); j++ {
				stack[j] = ""
			}
			if slot == 0 {
				ignoring = IsBoilerplateHeading(trimmed)
			}
			continue
		}

		bm := bulletRe.FindStringSubmatch(line)
		if bm == nil || ignoring {
			continue
		}
		body := strings.TrimSpace(bm[1])
		if !strings.HasPrefix(body, "[") {
			// prose bullet
			continue
		}

		entry, ok := ParseEntry(body)
		if !ok {
			result.Warnings = append(result.Warnings, Warning{Line: lineNo, Message: "malformed link bullet skipped: " + trimmed})
			continue
		}
		if strings.HasPrefix(entry.URL, "#") {
			// in-page anchor, part of a table of contents
			continue
		}

		rec := Record{Resource: entry, Line: lineNo}
		for _, h := range stack {
			if h == "" {
				break
			}
			rec.CategoryPath = append(rec.CategoryPath, h)
		}
		if len(rec.CategoryPath) == 0 {
			rec.CategoryPath = []string{UncategorizedCategory}
			rec.Uncategorized = true
			result.Warnings = append(result.Warnings, Warning{Line: lineNo, Message: "bullet before any category heading: " + entry.Title})
		}
		result.Records = append(result.Records, rec)
	}

	return result
}

// ParseHeading returns the level and cleaned text of an ATX heading line
func ParseHeading(line string) (level int, text string, ok bool) {
	m := headingRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), cleanHeading(m[2]), true
}

// ParseEntry parses a bullet body of the form `[title](url)[ - description][ `tag` ...]`
func ParseEntry(body string) (Entry, bool) {
	title, url, rest, ok := splitLink(body)
	if !ok {
		return Entry{}, false
	}
	entry := Entry{
		Title: titleUnescaper.Replace(strings.TrimSpace(title)),
		URL:   strings.TrimSpace(url),
	}
	if entry.Title == "" || entry.URL == "" {
		return Entry{}, false
	}

	rest = strings.TrimSpace(rest)
	for {
		tm := tagRe.FindStringSubmatchIndex(rest)
		if tm == nil || (tm[2] >= 2 && rest[tm[2]-2] == '\\') {
			// an escaped backtick closes the description, not a tag
			break
		}
		entry.Tags = append([]string{rest[tm[2]:tm[3]]}, entry.Tags...)
		rest = strings.TrimSpace(rest[:tm[0]])
	}

	for _, sep := range []string{"- ", "– ", "— ", ": "} {
		if strings.HasPrefix(rest, sep) {
			rest = rest[len(sep):]
			break
		}
	}
	if rest == "-" || rest == "–" || rest == "—" {
		rest = ""
	}
	entry.Description = codeUnescaper.Replace(strings.TrimSpace(rest))
	return entry, true
}

// splitLink splits "[title](url) rest", allowing balanced brackets in the
// title and balanced parentheses in the URL.
func splitLink(s string) (title, url, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", "", "", false
	}
	closeTitle := matching(s, 0, '[', ']')
	if closeTitle < 0 || closeTitle+1 >= len(s) || s[closeTitle+1] != '(' {
		return "", "", "", false
	}
	closeURL := matching(s, closeTitle+1, '(', ')')
	if closeURL < 0 {
		return "", "", "", false
	}
	return s[1:closeTitle], s[closeTitle+2 : closeURL], s[closeURL+1:], true
}

// matching returns the index of the delimiter closing the one at start, or -1
func matching(s string, start int, open, close byte) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// cleanHeading strips inline links and emphasis markers from heading text
func cleanHeading(text string) string {
	text = strings.TrimSpace(badgeRe.ReplaceAllString(text, ""))
	if title, _, rest, ok := splitLink(text); ok && strings.TrimSpace(rest) == "" {
		text = title
	}
	text = strings.Trim(text, "*_ ")
	return text
}
