package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/awesome-sync/internal/models"
)

const sampleList = `# Awesome Video [![Awesome](https://awesome.re/badge.svg)](https://awesome.re)

> A curated list of video tools.

## Contents

- [Tools](#tools)
  - [CLI](#cli)

## Tools

- [ffmpeg](https://ffmpeg.org) - Complete video solution ` + "`cli` `c`" + `
* [GStreamer](https://gstreamer.freedesktop.org)

### CLI

- [yt-dlp](https://github.com/yt-dlp/yt-dlp) – Downloader
- Some prose bullet without a link.
- [Broken link(https://broken.example)

#### Scripts

- [Wiki](https://en.wikipedia.org/wiki/FFmpeg_(software)) - Article

` + "```" + `
- [Not a resource](https://code.example)
` + "```" + `

## C#

- [FFmpeg.AutoGen](https://github.com/Ruslan-B/FFmpeg.AutoGen) - Bindings

## License

- [CC0](https://creativecommons.org/publicdomain/zero/1.0)
`

func TestParse(t *testing.T) {
	result := Parse(sampleList)

	assert.Equal(t, "Awesome Video", result.Title)
	require.Len(t, result.Records, 5)

	t.Run("description and tags", func(t *testing.T) {
		rec := result.Records[0]
		assert.Equal(t, []string{"Tools"}, rec.CategoryPath)
		assert.Equal(t, "ffmpeg", rec.Resource.Title)
		assert.Equal(t, "https://ffmpeg.org", rec.Resource.URL)
		assert.Equal(t, "Complete video solution", rec.Resource.Description)
		assert.Equal(t, []string{"cli", "c"}, rec.Resource.Tags)
	})

	t.Run("missing description", func(t *testing.T) {
		rec := result.Records[1]
		assert.Equal(t, "GStreamer", rec.Resource.Title)
		assert.Empty(t, rec.Resource.Description)
		assert.Empty(t, rec.Resource.Tags)
	})

	t.Run("subcategory with en dash separator", func(t *testing.T) {
		rec := result.Records[2]
		assert.Equal(t, []string{"Tools", "CLI"}, rec.CategoryPath)
		assert.Equal(t, "Downloader", rec.Resource.Description)
	})

	t.Run("deep heading and parens in url", func(t *testing.T) {
		rec := result.Records[3]
		assert.Equal(t, []string{"Tools", "CLI", "Scripts"}, rec.CategoryPath)
		assert.Equal(t, "https://en.wikipedia.org/wiki/FFmpeg_(software)", rec.Resource.URL)
	})

	t.Run("heading ending in hash", func(t *testing.T) {
		rec := result.Records[4]
		assert.Equal(t, []string{"C#"}, rec.CategoryPath)
	})

	t.Run("malformed bullet warns", func(t *testing.T) {
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, 19, result.Warnings[0].Line)
		assert.Contains(t, result.Warnings[0].Message, "malformed")
	})
}

func TestParseUncategorized(t *testing.T) {
	result := Parse("# List\n\n- [Early](https://early.example) - Before any heading\n\n## Tools\n\n- [Later](https://later.example)\n")

	require.Len(t, result.Records, 2)
	assert.True(t, result.Records[0].Uncategorized)
	assert.Equal(t, []string{UncategorizedCategory}, result.Records[0].CategoryPath)
	assert.False(t, result.Records[1].Uncategorized)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 3, result.Warnings[0].Line)
}

func TestParseReorderedSections(t *testing.T) {
	result := Parse("## Zeta\n\n### Inner\n\n- [A](https://a.example)\n\n## Alpha\n\n- [B](https://b.example)\n")

	require.Len(t, result.Records, 2)
	assert.Equal(t, []string{"Zeta", "Inner"}, result.Records[0].CategoryPath)
	assert.Equal(t, []string{"Alpha"}, result.Records[1].CategoryPath, "a new H2 closes the open H3")
}

func TestParseEmpty(t *testing.T) {
	result := Parse("just some text\nwithout structure\n")
	assert.Empty(t, result.Records)
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Title)
}

func TestFormat(t *testing.T) {
	resources := []models.Resource{
		{Title: "ffmpeg", URL: "https://ffmpeg.org", Description: "complete  solution.", Category: "Media Tools", Tags: []string{"cli"}},
		{Title: "Alpha", URL: "https://a.example/some path", Description: "First", Category: "Media Tools", Subcategory: "Editors"},
		{Title: "Beta", URL: "https://b.example", Category: "Intro & Learning"},
		{Title: "Online", URL: "https://o.example", Category: "Media Tools", Subcategory: "Editors", SubSubcategory: "Web"},
	}

	out := Format(resources, Options{
		Title:               "Awesome Video",
		Description:         "A curated list",
		RepoURL:             "https://github.com/example/awesome-video",
		IncludeContributing: true,
		IncludeLicense:      true,
	})

	assert.True(t, strings.HasPrefix(out, "# Awesome Video "+AwesomeBadge+"\n"))
	assert.Contains(t, out, "> A curated list\n")
	assert.Contains(t, out, "- [Intro & Learning](#intro--learning)\n")
	assert.Contains(t, out, "  - [Editors](#editors)\n")
	assert.Contains(t, out, "- [ffmpeg](https://ffmpeg.org) - Complete solution `cli`\n")
	assert.Contains(t, out, "- [Alpha](https://a.example/some%20path) - First\n")
	assert.Contains(t, out, "#### Web\n")
	assert.Contains(t, out, "https://github.com/example/awesome-video/blob/main/CONTRIBUTING.md")
	assert.True(t, strings.HasSuffix(out, "neighboring rights to this work.\n"))

	t.Run("ordering", func(t *testing.T) {
		intro := strings.Index(out, "## Intro & Learning")
		media := strings.Index(out, "## Media Tools")
		direct := strings.Index(out, "- [ffmpeg]")
		editors := strings.Index(out, "### Editors")
		contributing := strings.Index(out, "## Contributing")
		license := strings.Index(out, "## License")
		assert.True(t, intro < media, "categories are alphabetical")
		assert.True(t, media < direct && direct < editors, "direct resources precede subcategories")
		assert.True(t, editors < contributing && contributing < license)
	})

	t.Run("explicit category order", func(t *testing.T) {
		out := Format(resources, Options{Title: "X", CategoryOrder: []string{"Media Tools", "Missing"}})
		assert.True(t, strings.Index(out, "## Media Tools") < strings.Index(out, "## Intro & Learning"))
		assert.NotContains(t, out, "Missing")
		assert.NotContains(t, out, "## License")
	})

	t.Run("deterministic", func(t *testing.T) {
		again := Format(resources, Options{
			Title:               "Awesome Video",
			Description:         "A curated list",
			RepoURL:             "https://github.com/example/awesome-video",
			IncludeContributing: true,
			IncludeLicense:      true,
		})
		assert.Equal(t, out, again)
	})
}

func TestRoundTrip(t *testing.T) {
	resources := []models.Resource{
		{Title: "ffmpeg", URL: "https://ffmpeg.org", Description: "Complete solution", Category: "Media Tools", Tags: []string{"cli", "c"}},
		{Title: "Alpha", URL: "https://a.example", Description: "First editor", Category: "Media Tools", Subcategory: "Editors"},
		{Title: "Online", URL: "https://o.example", Category: "Media Tools", Subcategory: "Editors", SubSubcategory: "Web"},
		{Title: "Wiki", URL: "https://en.wikipedia.org/wiki/HLS_(protocol)", Description: "Reference", Category: "Protocols & Transport"},
		{Title: "Contents Tool", URL: "https://c.example", Description: "Named like a section", Category: "General Tools", Subcategory: "Contents"},
		{Title: "jq wrapper", URL: "https://jq.example", Description: "Thin wrapper for `jq`", Category: "General Tools"},
		{Title: "jq tagged", URL: "https://jq2.example", Description: "Runs `jq` then `sed`", Category: "General Tools", Tags: []string{"cli"}},
		{Title: "Beta ]", URL: "https://b.example", Description: "Odd title", Category: "General Tools"},
		{Title: `Path \ tool [x]`, URL: "https://p.example", Description: "Brackets and backslash", Category: "General Tools"},
		{Title: "SPDX", URL: "https://spdx.org", Description: "License identifiers", Category: "License"},
		{Title: "Guide", URL: "https://guide.example", Description: "How to help", Category: "Contributing", Subcategory: "Docs"},
		{Title: "Index", URL: "https://index.example", Category: "Contents"},
	}

	type triple struct {
		title, url, path, desc, tags string
	}
	key := func(title, url string, path []string, desc string, tags []string) triple {
		return triple{title, url, strings.Join(path, "/"), desc, strings.Join(tags, ",")}
	}

	var want []triple
	for _, r := range resources {
		want = append(want, key(r.Title, r.URL, r.CategoryPath(), r.Description, r.Tags))
	}

	result := Parse(Format(resources, Options{Title: "Awesome", IncludeContributing: true, IncludeLicense: true}))
	assert.Empty(t, result.Warnings)

	var got []triple
	for _, rec := range result.Records {
		got = append(got, key(rec.Resource.Title, rec.Resource.URL, rec.CategoryPath, rec.Resource.Description, rec.Resource.Tags))
	}
	assert.ElementsMatch(t, want, got)
}

func TestParseEscapes(t *testing.T) {
	entry, ok := ParseEntry("[Beta \\]](https://b.example) - Wraps \\`jq\\` `cli`")
	require.True(t, ok)
	assert.Equal(t, "Beta ]", entry.Title)
	assert.Equal(t, "Wraps `jq`", entry.Description)
	assert.Equal(t, []string{"cli"}, entry.Tags)

	line := FormatEntry(Entry{Title: "a [b]", URL: "https://a.example", Description: "Uses `x`"})
	assert.Equal(t, "- [a \\[b\\]](https://a.example) - Uses \\`x\\`", line)
}

func TestParseDecoratedBoilerplateHeading(t *testing.T) {
	md := `# List

## *License*

- [SPDX](https://spdx.org) - License identifiers

## License

- [CC0](https://creativecommons.org/publicdomain/zero/1.0)
`
	result := Parse(md)
	require.Len(t, result.Records, 1)
	assert.Equal(t, []string{"License"}, result.Records[0].CategoryPath)
	assert.Equal(t, "SPDX", result.Records[0].Resource.Title)

	assert.True(t, IsBoilerplateHeading("## License"))
	assert.False(t, IsBoilerplateHeading("## *License*"))
	assert.False(t, IsBoilerplateHeading("### License"))
}

func TestAnchor(t *testing.T) {
	assert.Equal(t, "intro--learning", Anchor("Intro & Learning"))
	assert.Equal(t, "c", Anchor("C#"))
	assert.Equal(t, "webrtc-20", Anchor("WebRTC 2.0"))

	set := newAnchorSet()
	assert.Equal(t, "tools", set.next("Tools"))
	assert.Equal(t, "tools-1", set.next("Tools"))
	assert.Equal(t, "tools-2", set.next("tools"))
}

func TestFormatDescription(t *testing.T) {
	assert.Equal(t, "Lowercase start", FormatDescription("lowercase start."))
	assert.Equal(t, "Keeps inner. Periods", FormatDescription("Keeps inner. Periods..."))
	assert.Equal(t, "Élan", FormatDescription("élan"))
	assert.Empty(t, FormatDescription(" . "))
}
