// Package normalize converts rendered HTML into (title, markdown), dropping
// boilerplate and selecting the largest remaining content root. It merges
// two complementary teacher techniques for boilerplate detection — class/id/
// role substring matching and inline hidden-style detection — walks the DOM
// with golang.org/x/net/html exactly as the content-extraction pipeline
// does, and hands the surviving HTML to html-to-markdown/v2 for conversion.
package normalize

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/scrapeqa/errs"
)

// Result is the normalized page content.
type Result struct {
	Title    string
	Markdown string
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "header", "nav", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal",
}

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

var sanitizePolicy = bluemonday.UGCPolicy()

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Normalize parses rawHTML, selects the main-content root, sanitizes it, and
// converts it to Markdown. It fails with *errs.NormalizeError only if the
// HTML cannot be parsed at all; otherwise it returns best-effort output
// (possibly short).
func Normalize(rawHTML []byte, pageURL string) (*Result, error) {
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, &errs.NormalizeError{URL: pageURL, Err: err}
	}

	title := findTitle(doc)
	root := selectContentRoot(doc)

	// Detach script/style/noscript, boilerplate, and inline-hidden subtrees
	// so they never reach the rendered HTML.
	var prune func(*html.Node)
	prune = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode && (isSkippedTag(c.DataAtom) || isBoilerplate(c) || hasHiddenStyle(c)) {
				n.RemoveChild(c)
			} else {
				prune(c)
			}
			c = next
		}
	}
	prune(root)

	rawContentHTML := renderNode(root)
	sanitized := sanitizePolicy.Sanitize(rawContentHTML)

	md := htmlToMarkdown(sanitized, pageURL, collectText(root))
	md = collapseBlankLines(md)

	return &Result{Title: title, Markdown: md}, nil
}

// htmlToMarkdown converts sanitized HTML to Markdown, falling back to plain
// text if conversion fails or yields nothing.
func htmlToMarkdown(sanitizedHTML, pageURL, fallback string) string {
	if sanitizedHTML == "" {
		return fallback
	}
	result, err := mdConverter.ConvertString(sanitizedHTML, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(result) == "" {
		return fallback
	}
	return strings.TrimSpace(result)
}

func collapseBlankLines(md string) string {
	lines := strings.Split(md, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	md = strings.Join(lines, "\n")
	return blankRunRe.ReplaceAllString(md, "\n\n")
}

// findTitle returns the first non-empty of og:title meta, <title>, first h1.
func findTitle(doc *html.Node) string {
	var ogTitle, titleTag, h1 string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Meta:
				if ogTitle == "" && attr(n, "property") == "og:title" {
					ogTitle = attr(n, "content")
				}
			case atom.Title:
				if titleTag == "" && n.FirstChild != nil {
					titleTag = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.H1:
				if h1 == "" {
					h1 = strings.TrimSpace(collectText(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, t := range []string{ogTitle, titleTag, h1} {
		if t != "" {
			return t
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// selectContentRoot finds the largest-by-text-length candidate among
// <main>, <article>, and <body>, skipping boilerplate subtrees while
// measuring length. Falls back to <body> (or doc itself) if none found.
func selectContentRoot(doc *html.Node) *html.Node {
	var candidates []*html.Node
	var body *html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Main, atom.Article:
				candidates = append(candidates, n)
			case atom.Body:
				body = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if body != nil {
		candidates = append(candidates, body)
	}

	var best *html.Node
	bestLen := -1
	for _, c := range candidates {
		l := len(collectText(c))
		if l > bestLen {
			best, bestLen = c, l
		}
	}
	if best != nil {
		return best
	}
	return doc
}

// collectText walks a subtree collecting visible text, skipping script/
// style/noscript, semantic boilerplate tags, class/id/role-flagged
// boilerplate, and nodes hidden via inline style.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
			return
		}
		if n.Type == html.ElementNode {
			if isSkippedTag(n.DataAtom) || isBoilerplate(n) || hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func isSkippedTag(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript:
		return true
	}
	return false
}

// isBoilerplate checks semantic tags, class/id substrings, and ARIA roles
// that commonly mark navigation/furniture rather than article content.
func isBoilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "class", "id":
			lower := strings.ToLower(a.Val)
			for _, pattern := range boilerplatePatterns {
				if strings.Contains(lower, pattern) {
					return true
				}
			}
		case "role":
			switch a.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		}
	}
	return false
}

func hasHiddenStyle(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		for _, pat := range hiddenStylePatterns {
			if pat.MatchString(a.Val) {
				return true
			}
		}
	}
	return false
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return fmt.Sprintf("<!-- render error: %v -->", err)
	}
	return buf.String()
}
