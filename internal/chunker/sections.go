package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// WholeDocumentLabel labels the single section used when no heading pattern applies.
const WholeDocumentLabel = "Documento Completo"

// DefaultMinSectionBody is the shortest heading body kept as a section, in characters.
const DefaultMinSectionBody = 100

// Section is a heading-delimited region of a document.
type Section struct {
	Index int
	Label string
	// Text is the heading followed by the body, or the whole document.
	Text string
	// Offset is the byte offset in the source text where the section starts.
	Offset int
	// BodyOffset is the byte offset in the source text of the trimmed body.
	BodyOffset int

	bodyStart int // byte index in Text where the body begins
}

// SourceOffset maps a byte offset within Text back to the source text.
func (s Section) SourceOffset(pos int) int {
	if pos >= s.bodyStart {
		return s.BodyOffset + pos - s.bodyStart
	}
	return s.Offset + pos
}

// HeadingMatcher locates headings in a full document text.
type HeadingMatcher interface {
	Name() string
	// Match returns [start, end) byte ranges of each heading, in order.
	Match(text string) [][]int
}

// RegexpMatcher finds headings with a multi-line regular expression.
type RegexpMatcher struct {
	Label   string
	Pattern *regexp.Regexp
}

func (m RegexpMatcher) Name() string { return m.Label }

func (m RegexpMatcher) Match(text string) [][]int {
	return m.Pattern.FindAllStringIndex(text, -1)
}

// DefaultMatchers are tried in priority order: numbered headings ("1. Escopo"),
// all-caps labels with a trailing colon ("REQUISITOS:"), legal articles
// ("Art. 5º") and dash-numbered headings ("3 - Definições").
func DefaultMatchers() []HeadingMatcher {
	return []HeadingMatcher{
		RegexpMatcher{Label: "numbered", Pattern: regexp.MustCompile(`(?m)^\d+\.[ \t]+.*$`)},
		RegexpMatcher{Label: "caps-label", Pattern: regexp.MustCompile(`(?m)^\p{Lu}[\p{Lu} \t]+:`)},
		RegexpMatcher{Label: "article", Pattern: regexp.MustCompile(`(?m)^Art\.[ \t]*\d+`)},
		RegexpMatcher{Label: "dash-numbered", Pattern: regexp.MustCompile(`(?m)^\d+[ \t]*-[ \t]*.*$`)},
	}
}

// SplitSections uses the first matcher with more than one heading match.
// Sections whose body is shorter than minBody characters are dropped, as is
// text before the first heading. When no matcher splits the text, or the
// winning matcher leaves no section, the whole text is one section.
func SplitSections(text string, matchers []HeadingMatcher, minBody int) []Section {
	if minBody <= 0 {
		minBody = DefaultMinSectionBody
	}
	for _, m := range matchers {
		locs := m.Match(text)
		if len(locs) <= 1 {
			continue
		}
		var sections []Section
		for i, loc := range locs {
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			heading := strings.TrimSpace(text[loc[0]:loc[1]])
			raw := text[loc[1]:end]
			body := strings.TrimSpace(raw)
			if utf8.RuneCountInString(body) < minBody {
				continue
			}
			sections = append(sections, Section{
				Index:      len(sections),
				Label:      heading,
				Text:       heading + "\n" + body,
				Offset:     loc[0],
				BodyOffset: loc[1] + len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace)),
				bodyStart:  len(heading) + 1,
			})
		}
		if len(sections) > 0 {
			return sections
		}
		break
	}
	return []Section{{Index: 0, Label: WholeDocumentLabel, Text: text}}
}
