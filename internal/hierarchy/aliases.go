package hierarchy

import "strings"

// CanonicalCategories is the fixed top-level taxonomy in display order
var CanonicalCategories = []string{
	"Intro & Learning",
	"Protocols & Transport",
	"Encoding & Codecs",
	"Players & Clients",
	"Media Tools",
	"Standards & Industry",
	"Infrastructure & Delivery",
	"General Tools",
	"Community & Events",
}

// categoryAliases maps lowercased variant names onto canonical categories
var categoryAliases = map[string]string{
	"introduction":                "Intro & Learning",
	"intro":                       "Intro & Learning",
	"learning":                    "Intro & Learning",
	"learning resources":          "Intro & Learning",
	"intro and learning":          "Intro & Learning",
	"tutorials":                   "Intro & Learning",
	"protocols":                   "Protocols & Transport",
	"transport":                   "Protocols & Transport",
	"streaming protocols":         "Protocols & Transport",
	"protocols and transport":     "Protocols & Transport",
	"encoding":                    "Encoding & Codecs",
	"codecs":                      "Encoding & Codecs",
	"transcoding":                 "Encoding & Codecs",
	"encoding and codecs":         "Encoding & Codecs",
	"encoding & transcoding":      "Encoding & Codecs",
	"players":                     "Players & Clients",
	"clients":                     "Players & Clients",
	"video players":               "Players & Clients",
	"players and clients":         "Players & Clients",
	"media tools":                 "Media Tools",
	"video tools":                 "Media Tools",
	"standards":                   "Standards & Industry",
	"industry":                    "Standards & Industry",
	"standards and industry":      "Standards & Industry",
	"infrastructure":              "Infrastructure & Delivery",
	"delivery":                    "Infrastructure & Delivery",
	"cdn":                         "Infrastructure & Delivery",
	"infrastructure and delivery": "Infrastructure & Delivery",
	"general tools":               "General Tools",
	"tools":                       "General Tools",
	"utilities":                   "General Tools",
	"misc":                        "General Tools",
	"miscellaneous":               "General Tools",
	"community":                   "Community & Events",
	"events":                      "Community & Events",
	"conferences":                 "Community & Events",
	"community and events":        "Community & Events",
}

func init() {
	for _, c := range CanonicalCategories {
		categoryAliases[strings.ToLower(c)] = c
	}
}

// CanonicalCategory maps a top-level category name onto the canonical
// taxonomy. Unknown names are returned trimmed with known=false.
func CanonicalCategory(name string) (canonical string, known bool) {
	trimmed := strings.Join(strings.Fields(name), " ")
	if c, ok := categoryAliases[strings.ToLower(trimmed)]; ok {
		return c, true
	}
	return trimmed, false
}
