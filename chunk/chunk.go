// Package chunk splits normalized Markdown into heading-aware segments
// bounded by a character budget, suitable for embedding and
// retrieval. The splitting strategy mirrors domkeeper's token-based chunker
// (paragraph-aware packing with trailing overlap, sliding-window fallback)
// but is rebased onto characters, adds heading-boundary splitting, and
// protects fenced code blocks from being split mid-fence.
package chunk

import (
	"strings"
)

// Options configures chunking behaviour.
type Options struct {
	// CharLimit is the maximum number of characters per chunk. Default: 4000.
	CharLimit int
	// OverlapChars is how many trailing characters of one chunk are carried
	// into the next for continuity. Default: 200.
	OverlapChars int
	// MinChunkChars is the minimum stripped chunk length for chunks produced
	// by splitting; a shorter one is merged into the previous chunk, or
	// dropped when there is none. Input within CharLimit is returned as one
	// chunk whatever its length. Default: 50.
	MinChunkChars int
}

func (o *Options) defaults() {
	if o.CharLimit <= 0 {
		o.CharLimit = 4000
	}
	if o.OverlapChars <= 0 {
		o.OverlapChars = 200
	}
	if o.MinChunkChars <= 0 {
		o.MinChunkChars = 50
	}
}

// Chunk is one text fragment with its position in the sequence.
type Chunk struct {
	Index       int
	Text        string
	CharCount   int
	OverlapPrev int // characters overlapping with the previous chunk
}

// Split divides markdown into ordered, heading-aware chunks.
func Split(markdown string, opts Options) []Chunk {
	opts.defaults()

	if strings.TrimSpace(markdown) == "" {
		return nil
	}

	if len(markdown) <= opts.CharLimit {
		return []Chunk{{Index: 0, Text: markdown, CharCount: len(markdown)}}
	}

	var chunks []Chunk
	for _, section := range splitOnHeadings(markdown) {
		if len(section) <= opts.CharLimit {
			chunks = append(chunks, Chunk{Text: section, CharCount: len(section)})
			continue
		}
		chunks = append(chunks, splitParagraphAware(section, opts)...)
	}

	return finalize(chunks, opts)
}

// finalize drops undersized chunks (merging into the previous one where
// possible), recomputes overlap counts, and fixes up indices.
func finalize(chunks []Chunk, opts Options) []Chunk {
	var out []Chunk
	for _, c := range chunks {
		text := strings.TrimRight(c.Text, " \t")
		if len(strings.TrimSpace(text)) < opts.MinChunkChars {
			if len(out) > 0 {
				prev := &out[len(out)-1]
				prev.Text += "\n\n" + text
				prev.CharCount = len(prev.Text)
			}
			continue
		}
		out = append(out, Chunk{Text: text, CharCount: len(text)})
	}
	for i := range out {
		out[i].Index = i
		if i > 0 {
			out[i].OverlapPrev = computeOverlap(out[i-1].Text, out[i].Text)
		}
	}
	return out
}

// splitOnHeadings splits markdown at lines starting with "#", "##", or
// "###", keeping the heading line attached to the section it introduces.
// Content before the first heading (if any) is its own section.
func splitOnHeadings(markdown string) []string {
	lines := strings.Split(markdown, "\n")
	var sections []string
	var current strings.Builder

	flush := func() {
		s := current.String()
		if strings.TrimSpace(s) != "" {
			sections = append(sections, s)
		}
		current.Reset()
	}

	inFence := false
	for _, line := range lines {
		if isFenceDelimiter(line) {
			inFence = !inFence
		}
		if !inFence && isTopLevelHeading(line) && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()

	if len(sections) == 0 {
		return []string{markdown}
	}
	return sections
}

func isTopLevelHeading(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	for _, prefix := range []string{"### ", "## ", "# "} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func isFenceDelimiter(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "```")
}

// splitParagraphAware packs paragraphs up to CharLimit, carrying a trailing
// overlap into the next chunk, and never splits inside an open code fence —
// an oversized fenced block is kept whole even if it exceeds CharLimit.
func splitParagraphAware(section string, opts Options) []Chunk {
	paragraphs := splitOnFenceAwareParagraphs(section)

	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		t := strings.TrimSpace(current.String())
		if t != "" {
			chunks = append(chunks, Chunk{Text: t, CharCount: len(t)})
		}
		current.Reset()
	}

	for _, para := range paragraphs {
		if len(para) > opts.CharLimit && !strings.Contains(para, "```") {
			// Oversized plain paragraph: flush, then sliding-window split it.
			flush()
			chunks = append(chunks, slidingWindow(para, opts)...)
			continue
		}

		if current.Len()+len(para) > opts.CharLimit && current.Len() > 0 {
			prevText := current.String()
			flush()
			overlap := extractOverlap(prevText, opts.OverlapChars)
			if overlap != "" {
				current.WriteString(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitOnFenceAwareParagraphs splits on blank lines, but treats an entire
// fenced code block (```...```) as a single paragraph regardless of blank
// lines inside it.
func splitOnFenceAwareParagraphs(text string) []string {
	lines := strings.Split(text, "\n")
	var paragraphs []string
	var current strings.Builder
	inFence := false

	flush := func() {
		p := strings.TrimSpace(current.String())
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
		current.Reset()
	}

	for _, line := range lines {
		if isFenceDelimiter(line) {
			inFence = !inFence
		}
		if !inFence && strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()
	return paragraphs
}

// slidingWindow splits an oversized plain-text paragraph by character
// stride, used only when paragraph-aware packing still leaves a segment
// over CharLimit (and it is not a protected fenced block).
func slidingWindow(text string, opts Options) []Chunk {
	var chunks []Chunk
	stride := opts.CharLimit - opts.OverlapChars
	if stride <= 0 {
		stride = opts.CharLimit / 2
	}

	for start := 0; start < len(text); start += stride {
		end := start + opts.CharLimit
		if end > len(text) {
			end = len(text)
		}
		t := strings.TrimSpace(text[start:end])
		if t != "" {
			chunks = append(chunks, Chunk{Text: t, CharCount: len(t)})
		}
		if end >= len(text) {
			break
		}
	}
	return chunks
}

// extractOverlap returns the trailing n characters of text, backing off to
// the nearest preceding sentence or newline boundary so the overlap doesn't
// start mid-word.
func extractOverlap(text string, n int) string {
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexAny(tail, "\n"); idx >= 0 {
		return tail[idx+1:]
	}
	if idx := strings.LastIndexAny(tail, ".!?"); idx >= 0 && idx+1 < len(tail) {
		return strings.TrimSpace(tail[idx+1:])
	}
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		return tail[idx+1:]
	}
	return tail
}

// computeOverlap reports how many trailing characters of a equal the
// leading characters of b (the overlap actually realized after trimming).
func computeOverlap(a, b string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(a, b[:n]) {
			return n
		}
	}
	return 0
}
