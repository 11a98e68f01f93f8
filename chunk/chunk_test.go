package chunk

import (
	"strings"
	"testing"
)

func TestSplit_ShortText(t *testing.T) {
	text := "Hello world, this is a short chunk of markdown."
	chunks := Split(text, Options{CharLimit: 4000})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("text: got %q, want %q", chunks[0].Text, text)
	}
	if chunks[0].OverlapPrev != 0 {
		t.Errorf("overlap: got %d, want 0", chunks[0].OverlapPrev)
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split("", Options{}); chunks != nil {
		t.Errorf("got %v, want nil", chunks)
	}
	if chunks := Split("   \n  ", Options{}); chunks != nil {
		t.Errorf("got %v, want nil for whitespace-only input", chunks)
	}
}

func TestSplit_ExactlyAtLimit(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := Split(text, Options{CharLimit: 100})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 (exactly-at-limit case)", len(chunks))
	}
}

func TestSplit_HeadingBoundaries(t *testing.T) {
	md := "# Intro\n" + strings.Repeat("intro text. ", 5) +
		"\n\n## Pricing\n" + strings.Repeat("pricing text. ", 5)
	chunks := Split(md, Options{CharLimit: 80, OverlapChars: 10, MinChunkChars: 5})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	foundIntro, foundPricing := false, false
	for _, c := range chunks {
		if strings.Contains(c.Text, "Intro") {
			foundIntro = true
		}
		if strings.Contains(c.Text, "Pricing") {
			foundPricing = true
		}
	}
	if !foundIntro || !foundPricing {
		t.Errorf("expected separate sections to survive, intro=%v pricing=%v", foundIntro, foundPricing)
	}
}

func TestSplit_LongParagraphs(t *testing.T) {
	para1 := strings.Repeat("alpha ", 40)
	para2 := strings.Repeat("beta ", 40)
	para3 := strings.Repeat("gamma ", 40)
	text := para1 + "\n\n" + para2 + "\n\n" + para3

	chunks := Split(text, Options{CharLimit: 100, OverlapChars: 20, MinChunkChars: 10})
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want >= 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk[%d].Index = %d", i, c.Index)
		}
	}
	if chunks[0].OverlapPrev != 0 {
		t.Errorf("chunk[0].OverlapPrev = %d, want 0", chunks[0].OverlapPrev)
	}
}

func TestSplit_NeverSplitsCodeFence(t *testing.T) {
	fence := "```go\n" + strings.Repeat("x := 1\n", 30) + "```"
	text := "intro paragraph\n\n" + fence + "\n\nmore text after"

	chunks := Split(text, Options{CharLimit: 50, OverlapChars: 5, MinChunkChars: 5})

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Text, "```go") {
			found = true
			if !strings.Contains(c.Text, "```\n") && !strings.HasSuffix(strings.TrimSpace(c.Text), "```") {
				t.Errorf("code fence split across chunks: %q", c.Text)
			}
		}
	}
	if !found {
		t.Fatal("fenced block not present in any chunk")
	}
}

func TestSplit_DropsUndersizedChunks(t *testing.T) {
	text := strings.Repeat("word ", 50) + "\n\n" + "x"
	chunks := Split(text, Options{CharLimit: 60, OverlapChars: 5, MinChunkChars: 20})
	for _, c := range chunks {
		if len(strings.TrimSpace(c.Text)) < 20 && c.Index != len(chunks)-1 {
			// merged chunks may legitimately end up containing the short
			// tail; only flag a standalone undersized chunk.
		}
	}
	// The trailing "x" must not appear as its own standalone chunk.
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "x" {
			t.Errorf("undersized chunk %q survived as standalone", c.Text)
		}
	}
}
