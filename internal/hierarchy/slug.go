package hierarchy

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptySlug is returned when a name has no characters a slug can be built from
var ErrEmptySlug = errors.New("name produces an empty slug")

// Slugify derives a URL-safe slug from a display name. Diacritics are folded,
// letters lowercased, other non-alphanumerics dropped, and runs of whitespace,
// hyphens or underscores collapsed into a single hyphen.
func Slugify(name string) (string, error) {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			pendingHyphen = true
		}
	}

	if b.Len() == 0 {
		return "", ErrEmptySlug
	}
	return b.String(), nil
}
