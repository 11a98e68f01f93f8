// Package core exposes the scrape-to-answer pipeline as a single facade:
// the nine in-process operations of the external interface, each a method
// on Core delegating to the session orchestrator, the vector store, or the
// query pipeline. Core never frames these over HTTP/WS itself — routing
// them is the composition root's job — mirroring the teacher's top-level
// facade structs (domkeeper.Keeper, domwatch.Watcher) that delegate to
// internal packages instead of exposing them directly.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/scrapeqa/chunk"
	"github.com/hazyhaar/scrapeqa/errs"
	"github.com/hazyhaar/scrapeqa/query"
	"github.com/hazyhaar/scrapeqa/session"
	"github.com/hazyhaar/scrapeqa/vectorstore"
)

// Core wires the orchestrator, vector store, and query pipeline behind the
// operation names spec'd for the external interface.
type Core struct {
	orchestrator    *session.Orchestrator
	store           vectorstore.Backend
	pipeline        *query.Pipeline
	defaultTopK     int
	storageBasePath string
}

// New constructs a Core. defaultTopK fills an unset (zero) top_k on
// Search/Ask; storageBasePath resolves a relative filename passed to
// EmbedSession; the pipeline and orchestrator are already wired with their
// own capabilities by the caller.
func New(orchestrator *session.Orchestrator, store vectorstore.Backend, pipeline *query.Pipeline, defaultTopK int, storageBasePath string) *Core {
	if defaultTopK <= 0 {
		defaultTopK = 10
	}
	return &Core{
		orchestrator:    orchestrator,
		store:           store,
		pipeline:        pipeline,
		defaultTopK:     defaultTopK,
		storageBasePath: storageBasePath,
	}
}

// StartSessionResult is the immediate response to start_session: the
// pipeline itself runs asynchronously.
type StartSessionResult struct {
	SessionID string
	Status    session.Status
}

// StartSession begins a scrape job and returns as soon as its record
// exists in status pending.
func (c *Core) StartSession(ctx context.Context, url string, mode session.Mode, purpose string) (StartSessionResult, error) {
	sess, err := c.orchestrator.StartSession(ctx, url, mode, purpose)
	if err != nil {
		return StartSessionResult{}, err
	}
	return StartSessionResult{SessionID: sess.SessionID, Status: sess.Status}, nil
}

// GetSession returns the full Session record, including live progress.
func (c *Core) GetSession(_ context.Context, sessionID string) (*session.Session, error) {
	return c.orchestrator.GetSession(sessionID)
}

// ListSessions returns every known session, newest first.
func (c *Core) ListSessions(_ context.Context) ([]*session.Session, error) {
	return c.orchestrator.ListSessions(), nil
}

// DeleteSessionResult acknowledges a delete_session call.
type DeleteSessionResult struct {
	OK bool
}

// DeleteSession cancels a session if running and removes its directory.
func (c *Core) DeleteSession(_ context.Context, sessionID string) (DeleteSessionResult, error) {
	if err := c.orchestrator.DeleteSession(sessionID); err != nil {
		return DeleteSessionResult{}, err
	}
	return DeleteSessionResult{OK: true}, nil
}

// EmbedSessionResult reports what embed_session accomplished.
type EmbedSessionResult struct {
	TotalPages  int
	TotalChunks int
	Status      session.Status
}

// cleanedMarkdownEntry mirrors one object in cleaned_markdown/*.json.
type cleanedMarkdownEntry struct {
	PageName string `json:"page_name"`
	PageURL  string `json:"page_url"`
	Content  string `json:"content"`
}

// EmbedSession re-embeds already-scraped content for one of two inputs:
// sessionID reports the embedding outcome the orchestrator already produced
// while running that session; filename instead re-chunks and re-upserts a
// cleaned_markdown/*.json file directly, without a fetch pass — the path
// used to recover from a VectorStoreUnavailable failure during the
// original run without re-scraping the site.
func (c *Core) EmbedSession(ctx context.Context, sessionID, filename string) (EmbedSessionResult, error) {
	if sessionID != "" {
		sess, err := c.orchestrator.GetSession(sessionID)
		if err != nil {
			return EmbedSessionResult{}, err
		}
		return EmbedSessionResult{
			TotalPages:  sess.TotalPages,
			TotalChunks: sess.PagesScraped,
			Status:      sess.Status,
		}, nil
	}
	return c.embedFromFile(ctx, filename)
}

func (c *Core) embedFromFile(ctx context.Context, filename string) (EmbedSessionResult, error) {
	if filename == "" {
		return EmbedSessionResult{}, errs.ErrNotFound
	}
	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.storageBasePath, filename)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return EmbedSessionResult{}, fmt.Errorf("%w: %v", errs.ErrNotFound, err)
	}

	var entries []cleanedMarkdownEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return EmbedSessionResult{}, fmt.Errorf("embed_session: parse %s: %w", filename, err)
	}

	var totalChunks int
	for _, e := range entries {
		domain := hostOf(e.PageURL)
		if strings.TrimSpace(e.Content) == "" || domain == "" {
			continue
		}
		chunks := chunk.Split(e.Content, chunk.Options{})
		if len(chunks) == 0 {
			continue
		}
		input := make([]vectorstore.ChunkInput, len(chunks))
		for i, ch := range chunks {
			input[i] = vectorstore.ChunkInput{Index: ch.Index, ChunkText: ch.Text, CharCount: ch.CharCount, OverlapPrev: ch.OverlapPrev}
		}
		if err := c.store.UpsertChunks(ctx, vectorstore.PageChunks{
			Domain: domain, SiteName: domain, PageName: e.PageName, PageURL: e.PageURL, Chunks: input,
		}); err != nil {
			return EmbedSessionResult{}, err
		}
		totalChunks += len(chunks)
	}

	return EmbedSessionResult{TotalPages: len(entries), TotalChunks: totalChunks, Status: session.StatusCompleted}, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// SearchRequest is one search() call.
type SearchRequest struct {
	Query        string
	TopK         int
	FilterDomain string
	FilterSite   string
}

// SearchResult is the search() response.
type SearchResult struct {
	Query        string
	Results      []vectorstore.Hit
	TotalResults int
}

// Search runs a plain retrieval query against the vector store, with no
// rewrite or synthesis stage.
func (c *Core) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	topK := req.TopK
	if topK == 0 {
		topK = c.defaultTopK
	}
	hits, err := c.store.Search(ctx, vectorstore.SearchQuery{
		Domain:     req.FilterDomain,
		FilterSite: req.FilterSite,
		QueryText:  req.Query,
		TopK:       topK,
	})
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Query: req.Query, Results: hits, TotalResults: len(hits)}, nil
}

// AskRequest is one ask() call.
type AskRequest struct {
	Question            string
	ConversationHistory []query.Turn
	TopK                int
	FilterDomain        string
	FilterSite          string
}

// Ask runs the full rewrite → retrieve → synthesize flow. An unset TopK
// (0) is filled with the configured default here, at the external
// boundary; query.Pipeline.Ask treats TopK literally.
func (c *Core) Ask(ctx context.Context, req AskRequest) (*query.Answer, error) {
	topK := req.TopK
	if topK == 0 {
		topK = c.defaultTopK
	}
	return c.pipeline.Ask(ctx, query.Request{
		Question:            req.Question,
		ConversationHistory: req.ConversationHistory,
		TopK:                topK,
		FilterDomain:        req.FilterDomain,
		FilterSite:          req.FilterSite,
	})
}

// HealthResult is the health() response.
type HealthResult struct {
	OK      bool
	Backend string
}

// Health reports whether the vector store backend is reachable.
func (c *Core) Health(ctx context.Context) HealthResult {
	ok, backend, _, err := c.store.Health(ctx)
	if err != nil {
		return HealthResult{OK: false, Backend: backend}
	}
	return HealthResult{OK: ok, Backend: backend}
}

// SubscribeSession returns a bounded event stream for a session, closed
// once the session reaches a terminal state.
func (c *Core) SubscribeSession(_ context.Context, sessionID string) (<-chan session.Event, error) {
	return c.orchestrator.Subscribe(sessionID)
}
