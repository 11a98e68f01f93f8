// Package capability declares the narrow interfaces the core pipeline
// consumes from external collaborators — browser rendering, embedding,
// LLM completion, and reranking — so that concrete providers are injected
// by a composition root and substitutable in tests without touching core
// logic. The Embedder capability is satisfied directly by horosembed.Embedder;
// the others are new, modeled on the same shape.
package capability

import "context"

// ModelTier selects a cost/quality point without naming a provider.
type ModelTier string

const (
	TierFast   ModelTier = "fast"
	TierStrong ModelTier = "strong"
)

// Message is one turn of conversation history passed to the LLM.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// LLM completes a chat-style prompt at a given cost tier. The core never
// hardcodes a provider name; tier selection is a deployment concern.
type LLM interface {
	Complete(ctx context.Context, tier ModelTier, system string, messages []Message, maxTokens int) (string, error)
}

// FetchOptions configures a single BrowserEngine.Fetch call.
type FetchOptions struct {
	TimeoutSeconds int
	WaitFor        string // "networkidle", "load", "domcontentloaded"
}

// FetchResult is what the browser engine hands back to the Fetcher.
type FetchResult struct {
	HTML     string
	FinalURL string
	Status   int
}

// BrowserEngine renders a URL to HTML using a headless browser, pooled and
// safe for concurrent invocation by the caller.
type BrowserEngine interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (FetchResult, error)
}

// Candidate is one search hit passed through a Reranker along with its
// original vector-store score.
type Candidate struct {
	ChunkID   string
	Text      string
	Score     float64
	SiteName  string
	PageName  string
	PageURL   string
	Domain    string
}

// Reranker re-scores candidates against the original question and returns
// the top_k in descending relevance order. Optional: the query pipeline
// skips this stage if none is configured.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error)
}
