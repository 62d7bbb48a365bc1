package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func expectedWindows(textLen, size, overlap int) int {
	n := textLen - overlap
	step := size - overlap
	return (n + step - 1) / step
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 270) // 2700 chars, no whitespace to trim
	windows := ChunkText(text, 1000, 200, 50)

	if want := expectedWindows(len(text), 1000, 200); len(windows) != want {
		t.Fatalf("expected %d windows, got %d", want, len(windows))
	}
	for i := 0; i+1 < len(windows); i++ {
		cur, next := windows[i], windows[i+1]
		if next.Offset-cur.Offset != 800 {
			t.Errorf("window %d: stride %d, want 800", i, next.Offset-cur.Offset)
		}
		// Only the overlap is shared between neighbours.
		if cur.Text[800:] != next.Text[:200] {
			t.Errorf("window %d: overlap mismatch", i)
		}
	}
	last := windows[len(windows)-1]
	if last.Offset+len(last.Text) != len(text) {
		t.Errorf("last window should end at text end: offset %d len %d", last.Offset, len(last.Text))
	}
}

func TestChunkTextEmptyInput(t *testing.T) {
	if windows := ChunkText("", 1000, 200, 50); len(windows) != 0 {
		t.Errorf("expected 0 windows for empty input, got %d", len(windows))
	}
}

func TestChunkTextBelowMinimumYieldsNothing(t *testing.T) {
	if windows := ChunkText("   Norma curta.   ", 1000, 200, 50); len(windows) != 0 {
		t.Errorf("expected 0 windows for short text, got %d", len(windows))
	}
}

func TestChunkTextNoOverlap(t *testing.T) {
	text := strings.Repeat("x", 300)
	windows := ChunkText(text, 100, 0, 50)

	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	for i, w := range windows {
		if w.Offset != i*100 {
			t.Errorf("window %d offset = %d, want %d", i, w.Offset, i*100)
		}
	}
}

func TestChunkTextCountsCharactersNotBytes(t *testing.T) {
	text := strings.Repeat("ção", 500) // 1500 characters, more bytes
	windows := ChunkText(text, 1000, 200, 50)

	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if n := utf8.RuneCountInString(windows[0].Text); n != 1000 {
		t.Errorf("first window has %d characters, want 1000", n)
	}
	if !utf8.ValidString(windows[1].Text) {
		t.Error("window split a multi-byte character")
	}
}

func TestChunkTextTrimsWindows(t *testing.T) {
	text := "   " + strings.Repeat("palavra ", 20) + "   "
	windows := ChunkText(text, 1000, 200, 50)

	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if windows[0].Text != strings.TrimSpace(text) {
		t.Errorf("window not trimmed: %q", windows[0].Text)
	}
	if windows[0].Offset != 3 {
		t.Errorf("offset should skip leading whitespace, got %d", windows[0].Offset)
	}
}

func TestSegmentWholeDocument(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 100) // 2700 chars, no headings
	chunks := Segment(text, DefaultOptions())

	if want := expectedWindows(len(text), 1000, 200); len(chunks) != want {
		t.Fatalf("expected %d chunks, got %d", want, len(chunks))
	}
	for i, c := range chunks {
		if c.Section != WholeDocumentLabel {
			t.Errorf("chunk %d section = %q, want %q", i, c.Section, WholeDocumentLabel)
		}
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestSegmentOrdersBySectionThenWindow(t *testing.T) {
	body := strings.Repeat("requisito técnico de aterramento ", 40) // ~1300 chars
	text := "1. Escopo\n" + body + "\n2. Referências\n" + body

	chunks := Segment(text, DefaultOptions())
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks (2 per section), got %d", len(chunks))
	}
	wantSections := []string{"1. Escopo", "1. Escopo", "2. Referências", "2. Referências"}
	for i, c := range chunks {
		if c.Section != wantSections[i] {
			t.Errorf("chunk %d section = %q, want %q", i, c.Section, wantSections[i])
		}
		if c.Index != i {
			t.Errorf("chunk %d index = %d", i, c.Index)
		}
	}
	if chunks[2].SectionIndex != 1 {
		t.Errorf("expected second section index 1, got %d", chunks[2].SectionIndex)
	}
	if !strings.HasPrefix(chunks[2].Text, "2. Referências\n") {
		t.Errorf("section chunk should start with its heading: %q", chunks[2].Text[:30])
	}
	if chunks[2].Offset < len("1. Escopo\n")+len(body) {
		t.Errorf("second section offset %d should be past the first section", chunks[2].Offset)
	}
}

func TestSegmentOffsetsPointIntoSource(t *testing.T) {
	body := strings.Repeat("requisito de proteção ", 70)
	text := "1. Escopo\n\n\n      " + body + "\n2. Aplicação\n   " + body
	chunks := Segment(text, DefaultOptions())
	if len(chunks) < 4 {
		t.Fatalf("expected at least 4 chunks, got %d", len(chunks))
	}

	for _, c := range chunks {
		if strings.HasPrefix(c.Text, c.Section+"\n") {
			if !strings.HasPrefix(text[c.Offset:], c.Section) {
				t.Errorf("chunk %d: heading chunk offset %d does not point at %q", c.Index, c.Offset, c.Section)
			}
			continue
		}
		if !strings.HasPrefix(text[c.Offset:], c.Text) {
			t.Errorf("chunk %d: offset %d does not point at its text", c.Index, c.Offset)
		}
	}
}

func TestSegmentShortDocumentYieldsNoChunks(t *testing.T) {
	if chunks := Segment("NBR 5419", DefaultOptions()); len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}
