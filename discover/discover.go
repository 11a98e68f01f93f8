// Package discover resolves a site's seed URL to the set of pages a session
// should visit. It reads robots.txt for Sitemap: directives first, falls
// back to the well-known /sitemap.xml path, and parses whatever sitemap(s)
// it finds per the sitemaps.org protocol, recursing into sitemap indexes up
// to a fixed depth. It never crawls links: a site with no sitemap anywhere
// yields only the seed URL itself.
package discover

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/scrapeqa/errs"
	"github.com/hazyhaar/scrapeqa/horosafe"
)

// maxSitemapDepth caps sitemap-index recursion (an index referencing an
// index referencing an index...) so a malicious or misconfigured site can't
// force unbounded fetches.
const maxSitemapDepth = 3

// urlSet and sitemapIndex mirror the sitemaps.org protocol schema: a
// sitemap either lists pages directly (urlset) or references other sitemaps
// (sitemapindex).
type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	XMLName  xml.Name         `xml:"sitemapindex"`
	Sitemaps []indexedSitemap `xml:"sitemap"`
}

type indexedSitemap struct {
	Loc string `xml:"loc"`
}

// Options configures discovery.
type Options struct {
	// MaxPages caps the number of page URLs returned, including the seed.
	// Default: 500.
	MaxPages int
	// Timeout bounds each sitemap/robots.txt HTTP fetch. Default: 15s.
	Timeout time.Duration
	// HTTPClient overrides the client used for fetches, for tests.
	HTTPClient *http.Client
	// URLValidator validates each URL before it is fetched or returned
	// (SSRF prevention). Default: horosafe.ValidateURL. Tests targeting a
	// loopback httptest server override this.
	URLValidator func(string) error
}

func (o *Options) defaults() {
	if o.MaxPages <= 0 {
		o.MaxPages = 500
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.URLValidator == nil {
		o.URLValidator = horosafe.ValidateURL
	}
}

// Discover resolves seedURL to an ordered, deduplicated list of page URLs
// restricted to the seed's host. It never returns an error for "no sitemap
// found" — that degrades to []string{seedURL}. It returns an error only if
// seedURL itself is invalid or SSRF-unsafe.
//
// Algorithm: fetch /robots.txt and collect its Sitemap: directives; if none
// are found, fall back to /sitemap.xml at the site root. Parse whichever
// sitemap URLs are found, recursing into sitemap indexes up to
// maxSitemapDepth. Results are canonicalized and deduplicated, same-host
// entries only, truncated to MaxPages in sitemap order.
func Discover(ctx context.Context, seedURL string, opts Options) ([]string, error) {
	opts.defaults()

	if err := opts.URLValidator(seedURL); err != nil {
		return nil, &errs.InvalidUrl{URL: seedURL, Reason: err.Error()}
	}
	seed, err := url.Parse(seedURL)
	if err != nil {
		return nil, &errs.InvalidUrl{URL: seedURL, Reason: err.Error()}
	}

	root := &url.URL{Scheme: seed.Scheme, Host: seed.Host}

	candidates := robotsSitemaps(ctx, root, opts)
	if len(candidates) == 0 {
		fallback := *root
		fallback.Path = "/sitemap.xml"
		candidates = []string{fallback.String()}
	}

	canonicalSeed := canonicalize(seedURL)
	seen := map[string]bool{canonicalSeed: true}
	pages := []string{seedURL}

	for _, candidate := range candidates {
		locs, err := fetchSitemapLocs(ctx, candidate, seed.Host, opts, 0)
		if err != nil {
			continue // a missing/broken sitemap is not fatal; try the next candidate
		}
		for _, loc := range locs {
			c := canonicalize(loc)
			if seen[c] {
				continue
			}
			seen[c] = true
			pages = append(pages, loc)
			if len(pages) >= opts.MaxPages {
				return pages, nil
			}
		}
	}

	return pages, nil
}

// robotsSitemaps fetches robots.txt at root and extracts every
// "Sitemap: <url>" directive, per the robots.txt Sitemap extension.
// A missing or unparsable robots.txt yields no candidates, not an error.
func robotsSitemaps(ctx context.Context, root *url.URL, opts Options) []string {
	robotsURL := *root
	robotsURL.Path = "/robots.txt"

	body, err := fetchBody(ctx, robotsURL.String(), opts)
	if err != nil {
		return nil
	}

	var sitemaps []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		const prefix = "sitemap:"
		if !strings.HasPrefix(strings.ToLower(line), prefix) {
			continue
		}
		loc := strings.TrimSpace(line[len(prefix):])
		if loc != "" {
			sitemaps = append(sitemaps, loc)
		}
	}
	return sitemaps
}

// fetchSitemapLocs fetches and parses one sitemap URL, recursing into a
// sitemapindex up to maxSitemapDepth, and filters results to same-host page
// URLs.
func fetchSitemapLocs(ctx context.Context, sitemapURL, host string, opts Options, depth int) ([]string, error) {
	if depth >= maxSitemapDepth {
		return nil, fmt.Errorf("discover: sitemap recursion depth exceeded at %s", sitemapURL)
	}

	body, err := fetchBody(ctx, sitemapURL, opts)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
		var locs []string
		for _, child := range index.Sitemaps {
			childLocs, err := fetchSitemapLocs(ctx, child.Loc, host, opts, depth+1)
			if err != nil {
				continue
			}
			locs = append(locs, childLocs...)
		}
		return locs, nil
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("discover: parse sitemap %s: %w", sitemapURL, err)
	}

	var locs []string
	for _, u := range set.URLs {
		if sameHost(u.Loc, host) {
			locs = append(locs, u.Loc)
		}
	}
	return locs, nil
}

// sameHost checks host equality only: the pack carries no public-suffix-list
// library, so true registrable-domain (eTLD+1) matching is out of reach;
// exact host match is the documented simplification (www.example.com and
// example.com are treated as different hosts).
func sameHost(rawURL, host string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Host == host
}

// canonicalize normalizes a URL for dedup: lowercase scheme+host, fragment
// stripped, trailing slash stripped unless the path is just "/".
func canonicalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

func fetchBody(ctx context.Context, target string, opts Options) ([]byte, error) {
	if err := opts.URLValidator(target); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover: %s returned status %d", target, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}
