// Package lint checks awesome-list documents against the structural rules
// of the awesome-list convention.
package lint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wesm/awesome-sync/internal/markdown"
)

// Rule names
const (
	RuleSingleH1            = "single-h1"
	RuleAwesomeBadge        = "awesome-badge"
	RuleDescriptionCase     = "description-case"
	RuleDescriptionPeriod   = "description-period"
	RuleURLSpaces           = "url-spaces"
	RuleEmptySection        = "empty-section"
	RuleContributingSection = "contributing-section"
	RuleLicenseSection      = "license-section"

	RuleTagCasing          = "tag-casing"
	RuleAlphabeticalOrder  = "alphabetical-order"
	RuleDuplicateURL       = "duplicate-url"
	RuleMissingDescription = "missing-description"
	RuleBulletMarker       = "bullet-marker"
	RuleMalformedLink      = "malformed-link"
)

// badgeSearchLines is how far from the top the awesome badge may appear
// when the document has no H2 before it.
const badgeSearchLines = 10

// Finding is one rule violation
type Finding struct {
	Line    int    `json:"line"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Stats describes the validated document
type Stats struct {
	Lines         int `json:"lines"`
	Categories    int `json:"categories"`
	Subcategories int `json:"subcategories"`
	Links         int `json:"links"`
	Tags          int `json:"tags"`
}

// Result is the outcome of validating a document. Only Errors affect Valid.
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
	Stats    Stats     `json:"stats"`
}

// Options selects the optional section rules
type Options struct {
	RequireContributing bool
	RequireLicense      bool
}

var bulletRe = regexp.MustCompile(`^(\s*)([-*+])\s+(.*)$`)

// Validate checks a document with the default options: a License section is
// required, a Contributing section is not.
func Validate(md string) *Result {
	return ValidateWithOptions(md, Options{RequireLicense: true})
}

// heading is an open H2 or H3 waiting for content
type heading struct {
	line    int
	level   int
	text    string
	content bool
}

// ValidateWithOptions checks a document. It has no side effects and the same
// input always produces the same findings.
func ValidateWithOptions(md string, opts Options) *Result {
	v := &validator{
		tagForms: make(map[string]string),
		urls:     make(map[string]int),
	}
	lines := strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	v.stats.Lines = len(lines)

	var h1Lines []int
	badgeFound := false
	firstH2 := 0
	inFence := false
	boilerplate := false
	hasContributing, hasLicense := false, false
	var open []*heading
	prevTitle := ""

	closeHeadings := func(level int) {
		for len(open) > 0 && open[len(open)-1].level >= level {
			h := open[len(open)-1]
			open = open[:len(open)-1]
			if !h.content {
				v.errorf(h.line, RuleEmptySection, "section %q has no entries or subsections", h.text)
			}
		}
	}

	markContent := func() {
		for _, h := range open {
			h.content = true
		}
	}

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

		if firstH2 == 0 && strings.Contains(trimmed, "awesome.re/badge") {
			badgeFound = true
		}

		if level, text, ok := markdown.ParseHeading(trimmed); ok {
			prevTitle = ""
			switch {
			case level == 1:
				h1Lines = append(h1Lines, lineNo)
				closeHeadings(2)
				boilerplate = false
			case level == 2:
				if firstH2 == 0 {
					firstH2 = lineNo
				}
				closeHeadings(2)
				boilerplate = markdown.IsBoilerplateHeading(trimmed)
				if boilerplate {
					switch strings.ToLower(text) {
					case "contributing":
						hasContributing = true
					case "license":
						hasLicense = true
					}
				}
				if !boilerplate {
					v.stats.Categories++
					open = append(open, &heading{line: lineNo, level: 2, text: text})
				}
			case boilerplate:
			case level == 3:
				v.stats.Subcategories++
				closeHeadings(3)
				markContent()
				open = append(open, &heading{line: lineNo, level: 3, text: text})
			default:
				markContent()
			}
			continue
		}

		bm := bulletRe.FindStringSubmatch(line)
		if bm == nil || boilerplate {
			continue
		}
		body := strings.TrimSpace(bm[3])
		if !strings.HasPrefix(body, "[") {
			continue
		}
		markContent()

		entry, ok := markdown.ParseEntry(body)
		if !ok {
			v.warnf(lineNo, RuleMalformedLink, "malformed link bullet")
			continue
		}
		if strings.HasPrefix(entry.URL, "#") {
			continue
		}

		v.checkMarker(lineNo, bm[2])
		v.checkEntry(lineNo, entry)

		title := strings.ToLower(entry.Title)
		if prevTitle != "" && title < prevTitle {
			v.warnf(lineNo, RuleAlphabeticalOrder, "%q is not in alphabetical order", entry.Title)
		}
		prevTitle = title
	}
	closeHeadings(2)

	switch len(h1Lines) {
	case 0:
		v.errorf(1, RuleSingleH1, "document has no H1 title")
	case 1:
	default:
		for _, l := range h1Lines[1:] {
			v.errorf(l, RuleSingleH1, "document has more than one H1 (first at line %d)", h1Lines[0])
		}
	}

	if !badgeFound && !badgeInFirstLines(lines) {
		line := 1
		if len(h1Lines) > 0 {
			line = h1Lines[0]
		}
		v.errorf(line, RuleAwesomeBadge, "awesome badge is missing near the top of the document")
	}

	if opts.RequireContributing && !hasContributing {
		v.errorf(len(lines), RuleContributingSection, "Contributing section is missing")
	}
	if opts.RequireLicense && !hasLicense {
		v.errorf(len(lines), RuleLicenseSection, "License section is missing")
	}

	v.stats.Tags = len(v.tagForms)
	return v.result()
}

func badgeInFirstLines(lines []string) bool {
	for i := 0; i < len(lines) && i < badgeSearchLines; i++ {
		if strings.Contains(lines[i], "awesome.re/badge") {
			return true
		}
	}
	return false
}

type validator struct {
	errors   []Finding
	warnings []Finding
	stats    Stats
	marker   string
	tagForms map[string]string
	urls     map[string]int
}

func (v *validator) errorf(line int, rule, format string, args ...any) {
	v.errors = append(v.errors, Finding{Line: line, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warnf(line int, rule, format string, args ...any) {
	v.warnings = append(v.warnings, Finding{Line: line, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) checkMarker(line int, marker string) {
	if v.marker == "" {
		v.marker = marker
		return
	}
	if marker != v.marker {
		v.warnf(line, RuleBulletMarker, "bullet marker %q differs from %q used earlier", marker, v.marker)
	}
}

func (v *validator) checkEntry(line int, entry markdown.Entry) {
	v.stats.Links++

	if strings.Contains(entry.URL, " ") {
		v.errorf(line, RuleURLSpaces, "url %q contains spaces", entry.URL)
	}

	if first, ok := v.urls[entry.URL]; ok {
		v.warnf(line, RuleDuplicateURL, "url %s already listed at line %d", entry.URL, first)
	} else {
		v.urls[entry.URL] = line
	}

	if entry.Description == "" {
		v.warnf(line, RuleMissingDescription, "%q has no description", entry.Title)
	} else {
		r, _ := utf8.DecodeRuneInString(entry.Description)
		if unicode.IsLower(r) {
			v.errorf(line, RuleDescriptionCase, "description of %q must start with an uppercase letter", entry.Title)
		}
		if strings.HasSuffix(entry.Description, ".") {
			v.errorf(line, RuleDescriptionPeriod, "description of %q must not end with a period", entry.Title)
		}
	}

	for _, tag := range entry.Tags {
		key := strings.ToLower(tag)
		if form, ok := v.tagForms[key]; ok {
			if form != tag {
				v.warnf(line, RuleTagCasing, "tag %q is also written as %q", tag, form)
			}
			continue
		}
		v.tagForms[key] = tag
	}
}

func (v *validator) result() *Result {
	sortFindings(v.errors)
	sortFindings(v.warnings)
	if v.errors == nil {
		v.errors = []Finding{}
	}
	if v.warnings == nil {
		v.warnings = []Finding{}
	}
	return &Result{
		Valid:    len(v.errors) == 0,
		Errors:   v.errors,
		Warnings: v.warnings,
		Stats:    v.stats,
	}
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Rule < findings[j].Rule
	})
}
