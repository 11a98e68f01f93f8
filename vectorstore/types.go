// Package vectorstore declares the storage-backend capability the query
// pipeline and session orchestrator depend on: hybrid (FTS5 + cosine)
// search over chunked page content, partitioned by domain, the store's
// sole tenancy key. Embedding is the store's own responsibility — callers
// hand over chunk text and query text; the concrete adapter delegates to
// an injected Embedder capability and never sees raw vectors. The sole
// concrete adapter lives in vectorstore/sqlitestore.
package vectorstore

import "context"

// ChunkInput is one chunk ready to persist. Embedding happens inside
// Backend.UpsertChunks, delegated to the configured Embedder.
type ChunkInput struct {
	Index       int
	ChunkText   string
	CharCount   int
	OverlapPrev int
}

// PageChunks is the atomic unit of ingestion: every chunk one page produced,
// written or replaced together. UpsertChunks deletes any existing records
// for (Domain, PageURL) before inserting the new set.
type PageChunks struct {
	Domain   string
	SiteName string
	PageName string
	PageURL  string
	Chunks   []ChunkInput
}

// Hit is one search result, matching the Hit schema
// {chunk_id, domain, site_name, page_name, page_url, chunk_text, score}.
type Hit struct {
	ChunkID    string
	Domain     string
	SiteName   string
	PageName   string
	PageURL    string
	ChunkText  string
	Score      float64
	ChunkIndex int
}

// SearchQuery scopes and bounds a hybrid search. QueryText is embedded
// internally by Backend.Search via the configured Embedder.
type SearchQuery struct {
	// Domain restricts results to one domain. Domain isolation is a hard
	// invariant: every Hit returned has Domain == this value. Required.
	Domain string
	// FilterSite further restricts to one site_name within the domain, if set.
	FilterSite string
	QueryText  string
	TopK       int
	MinScore   float64
}

// Backend is the storage capability consumed by the query pipeline and
// session orchestrator.
type Backend interface {
	// UpsertChunks embeds page.Chunks (batched, via the configured Embedder)
	// and atomically replaces all chunks for (page.Domain, page.PageURL)
	// with the given set — re-embedding a page is idempotent.
	UpsertChunks(ctx context.Context, page PageChunks) error
	// Search embeds query.QueryText and runs hybrid (FTS5 + cosine) search.
	Search(ctx context.Context, query SearchQuery) ([]Hit, error)
	DeleteDomain(ctx context.Context, domain string) error
	DeleteCollection(ctx context.Context) error
	Health(ctx context.Context) (ok bool, backendName string, collectionName string, err error)
	Close() error
}
