package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func newTestChunker(t *testing.T) *Chunker {
	t.Helper()
	c, err := New(Config{MinChunkSize: 10, MaxChunkSize: 5000})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestClamp(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tests := []struct{ in, want int }{
		{0, DefaultChunkSize},
		{500, 1000},
		{2500, 2500},
		{9000, 5000},
	}
	for _, tt := range tests {
		if got := c.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if _, err := New(Config{MinChunkSize: 6000, MaxChunkSize: 5000}); err == nil {
		t.Error("expected error for inverted bounds")
	}
}

func TestSplitReconstructsText(t *testing.T) {
	var b strings.Builder
	for p := 0; p < 6; p++ {
		for s := 0; s < 7; s++ {
			fmt.Fprintf(&b, "Paragraph %d has sentence %d, said Mr. Smith at 3.5 p.m. today. ", p, s)
		}
		b.WriteString("\n\n")
	}
	text := strings.TrimSpace(b.String())

	c := newTestChunker(t)
	chunks := c.Split(2, text, 300)
	if len(chunks) < 5 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	pos := 0
	for i, ch := range chunks {
		if ch.ChapterIndex != 2 || ch.Position != i {
			t.Errorf("chunk %d has chapter %d position %d", i, ch.ChapterIndex, ch.Position)
		}
		if ch.Len() > 300 {
			t.Errorf("chunk %d is %d chars, limit 300", i, ch.Len())
		}
		idx := strings.Index(text[pos:], ch.Text)
		if idx < 0 {
			t.Fatalf("chunk %d is not a contiguous slice of the text after offset %d", i, pos)
		}
		if gap := text[pos : pos+idx]; strings.TrimSpace(gap) != "" {
			t.Fatalf("chunk %d skipped text %q", i, gap)
		}
		pos += idx + len(ch.Text)
	}
	if rest := strings.TrimSpace(text[pos:]); rest != "" {
		t.Fatalf("text after last chunk was dropped: %q", rest)
	}

	joined := strings.Join(texts(chunks), " ")
	if strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(text), " ") {
		t.Fatal("chunks do not reconstruct the chapter text")
	}
}

func TestSplitSentenceBoundaries(t *testing.T) {
	c := newTestChunker(t)
	got := texts(c.Split(0, "Mr. Smith went home. Dr. Jones stayed.", 25))
	want := []string{"Mr. Smith went home.", "Dr. Jones stayed."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	text := "Para one sentence one. Para one sentence two.\n\nPara two sentence one. Para two sentence two."
	c := newTestChunker(t)
	got := texts(c.Split(0, text, 80))
	want := []string{
		"Para one sentence one. Para one sentence two.",
		"Para two sentence one. Para two sentence two.",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSplitOversizedSentence(t *testing.T) {
	long := "This " + strings.Repeat("very ", 60) + "long sentence never ends early."
	text := "Short start. " + long + " Short end."

	c := newTestChunker(t)
	got := texts(c.Split(0, text, 50))
	if len(got) != 3 {
		t.Fatalf("got %d chunks %q, want 3", len(got), got)
	}
	if got[1] != long {
		t.Errorf("oversized sentence was altered: %q", got[1])
	}
}

func TestSplitRespectsInputLimit(t *testing.T) {
	clause := "and the road went on, "
	long := "It began " + strings.Repeat(clause, 20) + "until it stopped."
	text := "Short start. " + long + " Short end."

	c := newTestChunker(t).WithInputLimit(100)
	chunks := c.Split(0, text, 5000)
	if len(chunks) < 5 {
		t.Fatalf("got %d chunks, want the long sentence split", len(chunks))
	}
	var parts []string
	for i, ch := range chunks {
		if ch.Len() > 100 {
			t.Errorf("chunk %d has %d chars, limit 100: %q", i, ch.Len(), ch.Text)
		}
		if ch.Position != i {
			t.Errorf("chunk %d has position %d", i, ch.Position)
		}
		parts = append(parts, ch.Text)
	}
	if got, want := strings.Join(parts, " "), strings.Join(strings.Fields(text), " "); got != want {
		t.Errorf("split lost text:\n got %q\nwant %q", got, want)
	}
}

func TestSplitLongHardCut(t *testing.T) {
	word := strings.Repeat("x", 250)
	got := splitLong(word, 100)
	if len(got) != 3 || len(got[0]) != 100 || len(got[1]) != 100 || len(got[2]) != 50 {
		t.Fatalf("got pieces of %d", len(got))
	}
	if strings.Join(got, "") != word {
		t.Error("hard cut lost characters")
	}
}

func TestClampHonorsInputLimit(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	limited := c.WithInputLimit(4096)
	tests := []struct {
		size int
		want int
	}{
		{0, 4000},
		{4500, 4096},
		{9999, 4096},
		{2000, 2000},
	}
	for _, tt := range tests {
		if got := limited.Clamp(tt.size); got != tt.want {
			t.Errorf("Clamp(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
	if got := c.Clamp(4500); got != 4500 {
		t.Errorf("original chunker changed: Clamp(4500) = %d", got)
	}
	if c.WithInputLimit(-1).InputLimit() != 0 {
		t.Error("negative limit should mean unlimited")
	}
}

func TestSplitSmallText(t *testing.T) {
	c := newTestChunker(t)
	got := c.Split(0, "  A fifty character sentence for a tiny test input.  ", 1000)
	if len(got) != 1 || got[0].Text != "A fifty character sentence for a tiny test input." {
		t.Fatalf("got %+v", got)
	}
	if got := c.Split(0, " \n ", 1000); len(got) != 0 {
		t.Fatalf("expected no chunks for blank text, got %+v", got)
	}
}
