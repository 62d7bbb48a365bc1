package chunker

import (
	"strings"
	"unicode/utf8"
)

// Defaults for character windows.
const (
	DefaultChunkSize   = 1000
	DefaultOverlap     = 200
	DefaultMinChunkLen = 50
)

// Options controls how text is segmented and chunked. Sizes are in characters.
// A zero Overlap means windows do not overlap; use DefaultOptions for the
// 1000/200 windows.
type Options struct {
	ChunkSize      int
	Overlap        int
	MinChunkLen    int
	MinSectionBody int
	Matchers       []HeadingMatcher
}

// DefaultOptions returns 1000-character windows overlapping by 200.
func DefaultOptions() Options {
	return Options{
		ChunkSize:      DefaultChunkSize,
		Overlap:        DefaultOverlap,
		MinChunkLen:    DefaultMinChunkLen,
		MinSectionBody: DefaultMinSectionBody,
		Matchers:       DefaultMatchers(),
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		o.Overlap = 0
	}
	if o.MinChunkLen <= 0 {
		o.MinChunkLen = DefaultMinChunkLen
	}
	if o.MinSectionBody <= 0 {
		o.MinSectionBody = DefaultMinSectionBody
	}
	if o.Matchers == nil {
		o.Matchers = DefaultMatchers()
	}
	return o
}

// Chunk represents a window of a section's text.
type Chunk struct {
	// Index orders chunks across the whole document.
	Index        int
	SectionIndex int
	Section      string
	Text         string
	// Offset approximates the byte offset of the window in the source text.
	Offset int
}

// Window is a trimmed slice of text and the byte offset where it starts.
type Window struct {
	Text   string
	Offset int
}

// ChunkText performs a character sliding window with overlap. Windows are
// trimmed; those shorter than minLen characters are dropped. Scanning stops
// once a window reaches the end of the text.
func ChunkText(text string, size, overlap, minLen int) []Window {
	o := Options{ChunkSize: size, Overlap: overlap, MinChunkLen: minLen}.withDefaults()

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	byteAt := make([]int, len(runes)+1)
	for i, r := range runes {
		byteAt[i+1] = byteAt[i] + utf8.RuneLen(r)
	}

	step := o.ChunkSize - o.Overlap
	var windows []Window
	for start := 0; start < len(runes); start += step {
		end := start + o.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		raw := string(runes[start:end])
		trimmed := strings.TrimSpace(raw)
		if utf8.RuneCountInString(trimmed) >= o.MinChunkLen {
			lead := len(raw) - len(strings.TrimLeft(raw, " \t\r\n\v\f"))
			windows = append(windows, Window{Text: trimmed, Offset: byteAt[start] + lead})
		}
		if end == len(runes) {
			break
		}
	}
	return windows
}

// Segment splits a full document into sections and then into chunks, in
// section order then window order.
func Segment(text string, opts Options) []Chunk {
	o := opts.withDefaults()
	var chunks []Chunk
	for _, sec := range SplitSections(text, o.Matchers, o.MinSectionBody) {
		for _, w := range ChunkText(sec.Text, o.ChunkSize, o.Overlap, o.MinChunkLen) {
			chunks = append(chunks, Chunk{
				Index:        len(chunks),
				SectionIndex: sec.Index,
				Section:      sec.Label,
				Text:         w.Text,
				Offset:       sec.SourceOffset(w.Offset),
			})
		}
	}
	return chunks
}
