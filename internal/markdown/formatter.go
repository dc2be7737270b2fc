package markdown

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wesm/awesome-sync/internal/models"
)

const (
	// AwesomeBadge is the badge every awesome list carries next to its title
	AwesomeBadge = "[![Awesome](https://awesome.re/badge.svg)](https://awesome.re)"

	licenseBadge = "[![CC0](https://mirrors.creativecommons.org/presskit/buttons/88x31/svg/cc-zero.svg)](https://creativecommons.org/publicdomain/zero/1.0)"
)

// Options controls the generated document
type Options struct {
	Title               string
	Description         string
	WebsiteURL          string
	RepoURL             string
	IncludeContributing bool
	IncludeLicense      bool
	// CategoryOrder lists categories to render first, in order; the rest follow alphabetically
	CategoryOrder []string
}

type section struct {
	name     string
	entries  []Entry
	children map[string]*section
}

func newSection(name string) *section {
	return &section{name: name, children: make(map[string]*section)}
}

func (s *section) child(name string) *section {
	c, ok := s.children[name]
	if !ok {
		c = newSection(name)
		s.children[name] = c
	}
	return c
}

func (s *section) sortedChildren() []*section {
	out := make([]*section, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return lessFold(out[i].name, out[j].name) })
	return out
}

// Format renders resources as an awesome-list document: title with badge,
// description, table of contents, one H2 per category, H3 per subcategory
// and H4 per sub-subcategory, then the optional Contributing and License
// sections. Entries without a subcategory come before the subcategory blocks.
func Format(resources []models.Resource, opts Options) string {
	root := newSection("")
	for _, r := range resources {
		category := strings.TrimSpace(r.Category)
		if category == "" {
			category = UncategorizedCategory
		}
		node := root.child(category)
		if sub := strings.TrimSpace(r.Subcategory); sub != "" {
			node = node.child(sub)
			if subSub := strings.TrimSpace(r.SubSubcategory); subSub != "" {
				node = node.child(subSub)
			}
		}
		node.entries = append(node.entries, Entry{
			Title:       cleanInline(r.Title),
			URL:         FormatURL(r.URL),
			Description: FormatDescription(r.Description),
			Tags:        r.Tags,
		})
	}

	categories := orderCategories(root, opts.CategoryOrder)
	anchors := newAnchorSet()

	title := cleanInline(opts.Title)
	if title == "" {
		title = "Awesome List"
	}
	anchors.next(title)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", title, AwesomeBadge)
	if desc := cleanInline(opts.Description); desc != "" {
		fmt.Fprintf(&b, "> %s\n\n", desc)
	}
	var links []string
	if opts.WebsiteURL != "" {
		links = append(links, fmt.Sprintf("[Website](%s)", FormatURL(opts.WebsiteURL)))
	}
	if opts.RepoURL != "" {
		links = append(links, fmt.Sprintf("[Repository](%s)", FormatURL(opts.RepoURL)))
	}
	if len(links) > 0 {
		b.WriteString(strings.Join(links, " · ") + "\n\n")
	}

	// Anchors are assigned in document order, so compute them before writing the TOC.
	anchors.next("Contents")
	type tocLine struct {
		depth  int
		name   string
		anchor string
	}
	var toc []tocLine
	for _, cat := range categories {
		toc = append(toc, tocLine{0, cat.name, anchors.next(cat.name)})
		for _, sub := range cat.sortedChildren() {
			toc = append(toc, tocLine{1, sub.name, anchors.next(sub.name)})
			for _, subSub := range sub.sortedChildren() {
				anchors.next(subSub.name)
			}
		}
	}

	b.WriteString("## Contents\n\n")
	for _, line := range toc {
		fmt.Fprintf(&b, "%s- [%s](#%s)\n", strings.Repeat("  ", line.depth), line.name, line.anchor)
	}
	if opts.IncludeContributing {
		fmt.Fprintf(&b, "- [Contributing](#%s)\n", anchors.next("Contributing"))
	}
	if opts.IncludeLicense {
		fmt.Fprintf(&b, "- [License](#%s)\n", anchors.next("License"))
	}
	b.WriteString("\n")

	for _, cat := range categories {
		writeSection(&b, cat, 2)
	}

	if opts.IncludeContributing {
		b.WriteString("## Contributing\n\n")
		guidelines := "CONTRIBUTING.md"
		if opts.RepoURL != "" {
			guidelines = strings.TrimSuffix(FormatURL(opts.RepoURL), "/") + "/blob/main/CONTRIBUTING.md"
		}
		fmt.Fprintf(&b, "Contributions welcome! Read the [contribution guidelines](%s) first.\n\n", guidelines)
	}
	if opts.IncludeLicense {
		b.WriteString("## License\n\n")
		b.WriteString(licenseBadge + "\n\n")
		b.WriteString("To the extent possible under law, the authors have waived all copyright and related or neighboring rights to this work.\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeSection(b *strings.Builder, s *section, level int) {
	name := s.name
	if level == 2 && IsBoilerplateSection(name) {
		// keep categories named like the boilerplate sections parseable
		name = "*" + name + "*"
	}
	fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", level), name)

	if len(s.entries) > 0 {
		entries := append([]Entry(nil), s.entries...)
		sort.SliceStable(entries, func(i, j int) bool {
			if !strings.EqualFold(entries[i].Title, entries[j].Title) {
				return lessFold(entries[i].Title, entries[j].Title)
			}
			return entries[i].URL < entries[j].URL
		})
		for _, e := range entries {
			b.WriteString(FormatEntry(e) + "\n")
		}
		b.WriteString("\n")
	}

	for _, child := range s.sortedChildren() {
		writeSection(b, child, level+1)
	}
}

var titleEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)

// FormatEntry renders one bullet: - [Title](URL) - Description `tag`
// Brackets in the title are escaped. A description ending in a code span has
// its backticks escaped so the span does not read as a tag.
func FormatEntry(e Entry) string {
	line := fmt.Sprintf("- [%s](%s)", titleEscaper.Replace(e.Title), e.URL)
	if desc := e.Description; desc != "" {
		if strings.HasSuffix(desc, "`") {
			desc = strings.ReplaceAll(desc, "`", "\\`")
		}
		line += " - " + desc
	}
	for _, tag := range e.Tags {
		tag = strings.TrimSpace(strings.ReplaceAll(tag, "`", ""))
		if tag != "" {
			line += " `" + tag + "`"
		}
	}
	return line
}

// FormatDescription collapses whitespace, uppercases the first letter and
// drops trailing periods.
func FormatDescription(desc string) string {
	desc = cleanInline(desc)
	desc = strings.TrimRight(desc, ". ")
	if desc == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(desc)
	if unicode.IsLower(r) {
		desc = string(unicode.ToUpper(r)) + desc[size:]
	}
	return desc
}

// FormatURL trims a URL and escapes literal spaces
func FormatURL(url string) string {
	return strings.ReplaceAll(strings.TrimSpace(url), " ", "%20")
}

func cleanInline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orderCategories(root *section, order []string) []*section {
	placed := make(map[string]bool)
	var out []*section
	for _, name := range order {
		if c, ok := root.children[name]; ok && !placed[name] {
			out = append(out, c)
			placed[name] = true
		}
	}
	for _, c := range root.sortedChildren() {
		if !placed[c.name] {
			out = append(out, c)
		}
	}
	return out
}

func lessFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// anchorSet produces GitHub-style heading anchors, suffixing repeats with -1, -2, ...
type anchorSet struct {
	seen map[string]int
}

func newAnchorSet() *anchorSet {
	return &anchorSet{seen: make(map[string]int)}
}

func (a *anchorSet) next(heading string) string {
	base := Anchor(heading)
	n := a.seen[base]
	a.seen[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// Anchor returns the GitHub anchor for a heading: lowercased, punctuation
// removed, spaces replaced by hyphens.
func Anchor(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(heading)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}
