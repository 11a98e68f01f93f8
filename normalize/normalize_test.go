package normalize

import (
	"strings"
	"testing"
)

func TestNormalize_DropsNavAndFooter(t *testing.T) {
	html := `<html><head><title>Widgets</title></head><body>
<nav class="site-nav">Home About Contact</nav>
<main><h1>Widgets</h1><p>Our widgets are the best widgets around.</p></main>
<footer class="site-footer">Copyright 2026</footer>
</body></html>`

	res, err := Normalize([]byte(html), "https://example.com/widgets")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if strings.Contains(res.Markdown, "Home About Contact") {
		t.Errorf("nav content leaked into markdown: %q", res.Markdown)
	}
	if strings.Contains(res.Markdown, "Copyright") {
		t.Errorf("footer content leaked into markdown: %q", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "widgets are the best") {
		t.Errorf("expected main content preserved, got %q", res.Markdown)
	}
}

func TestNormalize_TitleFromOGTag(t *testing.T) {
	html := `<html><head>
<title>fallback title</title>
<meta property="og:title" content="The Real Title">
</head><body><main><p>body text here that is long enough to count</p></main></body></html>`

	res, err := Normalize([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Title != "The Real Title" {
		t.Errorf("title: got %q, want %q", res.Title, "The Real Title")
	}
}

func TestNormalize_TitleFallsBackToH1(t *testing.T) {
	html := `<html><head></head><body><main><h1>Heading Title</h1><p>some content that is sufficiently long</p></main></body></html>`

	res, err := Normalize([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Title != "Heading Title" {
		t.Errorf("title: got %q, want %q", res.Title, "Heading Title")
	}
}

func TestNormalize_SkipsHiddenInlineStyle(t *testing.T) {
	html := `<html><body><main>
<p style="display:none">this is hidden and must not appear</p>
<p>this is visible content that should survive normalization</p>
</main></body></html>`

	res, err := Normalize([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if strings.Contains(res.Markdown, "hidden and must not appear") {
		t.Errorf("hidden content leaked: %q", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "visible content") {
		t.Errorf("expected visible content preserved, got %q", res.Markdown)
	}
}

func TestNormalize_SelectsLargestContentRoot(t *testing.T) {
	html := `<html><body>
<aside class="widget-sidebar"><p>short aside text</p></aside>
<article>` + strings.Repeat("<p>This is a real paragraph of article content. </p>", 10) + `</article>
</body></html>`

	res, err := Normalize([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !strings.Contains(res.Markdown, "real paragraph of article content") {
		t.Errorf("expected article content selected, got %q", res.Markdown)
	}
	if strings.Contains(res.Markdown, "short aside text") {
		t.Errorf("aside boilerplate leaked into selected content: %q", res.Markdown)
	}
}

func TestNormalize_CollapsesBlankLines(t *testing.T) {
	html := `<html><body><main><p>first paragraph</p>



<p>second paragraph</p></main></body></html>`

	res, err := Normalize([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if strings.Contains(res.Markdown, "\n\n\n") {
		t.Errorf("expected no 3+ line blank runs, got %q", res.Markdown)
	}
}

func TestNormalize_EmptyInputReturnsNoError(t *testing.T) {
	// golang.org/x/net/html is extremely lenient and rarely errors; Normalize
	// errors only when the parser itself fails, so empty input yields empty
	// output rather than an error.
	res, err := Normalize([]byte(""), "https://example.com/")
	if err != nil {
		t.Fatalf("Normalize of empty input should not error, got %v", err)
	}
	if res.Markdown != "" {
		t.Errorf("expected empty markdown for empty input, got %q", res.Markdown)
	}
}
