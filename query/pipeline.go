// Package query implements the read-side RAG flow: rewrite the question
// into a keyword-rich search query, retrieve and optionally rerank chunks
// from the vector store, then synthesize a cited answer — the three-stage
// pipeline described as the Query Pipeline, mirroring the same
// capability-injection shape the session orchestrator uses for its own
// external collaborators.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/scrapeqa/capability"
	"github.com/hazyhaar/scrapeqa/errs"
	"github.com/hazyhaar/scrapeqa/vectorstore"
)

const (
	defaultTopK      = 10
	maxTopK          = 50
	rewriteMaxTokens = 100
	answerMaxTokens  = 1024

	rewriteTimeout    = 30 * time.Second
	synthesizeTimeout = 60 * time.Second
)

const rewriteSystemPrompt = "Rewrite the user question as a short keyword-rich query for semantic search; output only the rewritten query."

const synthesizeSystemPrompt = "Answer only from the provided sources. If the sources are insufficient to answer, say so explicitly. Cite sources by title."

// Turn is one message of prior conversation, used to resolve referents in
// a follow-up question ("what about pricing?").
type Turn struct {
	Role    string
	Content string
}

// Request is one ask() call.
type Request struct {
	Question            string
	ConversationHistory []Turn
	TopK                int
	FilterDomain        string
	FilterSite          string
}

// Source is one distinct (site_name, page_name, page_url) the answer drew
// on, in the order it was first referenced.
type Source struct {
	SiteName string
	PageName string
	PageURL  string
	Score    float64
}

// Answer is the result of ask().
type Answer struct {
	Question       string
	OptimizedQuery string
	Answer         string
	SourcesUsed    int
	Sources        []Source
}

// Pipeline runs the rewrite → retrieve → synthesize flow against an
// injected vector store, LLM, and optional reranker. RewriteTimeout and
// SynthesizeTimeout default to DEFAULT_TIMEOUT's spec values (30s/60s) when
// zero; a composition root may override them from config.Config.DefaultTimeout.
type Pipeline struct {
	Store    vectorstore.Backend
	LLM      capability.LLM
	Reranker capability.Reranker

	RewriteTimeout    time.Duration
	SynthesizeTimeout time.Duration
}

func (p *Pipeline) rewriteDeadline() time.Duration {
	if p.RewriteTimeout > 0 {
		return p.RewriteTimeout
	}
	return rewriteTimeout
}

func (p *Pipeline) synthesizeDeadline() time.Duration {
	if p.SynthesizeTimeout > 0 {
		return p.SynthesizeTimeout
	}
	return synthesizeTimeout
}

// Ask answers a natural-language question grounded in the vector store.
// req.TopK is taken literally: a caller-supplied 0 retrieves nothing and
// synthesize() returns a "no sources" answer without calling the LLM
// (applying DefaultTopK for an unset top_k is the external interface's
// job, done before Request is built). Stage 1 failures degrade to the raw
// question; Stage 3 (synthesis) failures propagate as ErrLLMUnavailable.
func (p *Pipeline) Ask(ctx context.Context, req Request) (*Answer, error) {
	topK := req.TopK
	if topK < 0 {
		topK = 0
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	optimized := p.rewrite(ctx, req)

	hits, err := p.retrieve(ctx, req, optimized, topK)
	if err != nil {
		return nil, err
	}

	return p.synthesize(ctx, req.Question, optimized, hits)
}

// rewrite calls the LLM at TierFast to turn the question into a short
// keyword-rich query. On any failure it falls back to the raw question —
// rewriting is an optimization, not a correctness requirement.
func (p *Pipeline) rewrite(ctx context.Context, req Request) string {
	if p.LLM == nil {
		return req.Question
	}

	rewriteCtx, cancel := context.WithTimeout(ctx, p.rewriteDeadline())
	defer cancel()

	messages := make([]capability.Message, 0, len(req.ConversationHistory)+1)
	for _, t := range req.ConversationHistory {
		messages = append(messages, capability.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, capability.Message{Role: "user", Content: req.Question})

	out, err := p.LLM.Complete(rewriteCtx, capability.TierFast, rewriteSystemPrompt, messages, rewriteMaxTokens)
	if err != nil || strings.TrimSpace(out) == "" {
		return req.Question
	}
	return strings.TrimSpace(out)
}

// retrieve searches the vector store with the optimized query and, if a
// reranker is configured, re-scores the top 2*topK candidates and keeps
// the top topK.
func (p *Pipeline) retrieve(ctx context.Context, req Request, optimizedQuery string, topK int) ([]vectorstore.Hit, error) {
	searchK := topK
	if p.Reranker != nil {
		searchK = topK * 2
	}

	hits, err := p.Store.Search(ctx, vectorstore.SearchQuery{
		Domain:     req.FilterDomain,
		FilterSite: req.FilterSite,
		QueryText:  optimizedQuery,
		TopK:       searchK,
	})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || p.Reranker == nil {
		if len(hits) > topK {
			hits = hits[:topK]
		}
		return hits, nil
	}

	candidates := make([]capability.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = capability.Candidate{
			ChunkID: h.ChunkID, Text: h.ChunkText, Score: h.Score,
			SiteName: h.SiteName, PageName: h.PageName, PageURL: h.PageURL, Domain: h.Domain,
		}
	}
	reranked, err := p.Reranker.Rerank(ctx, req.Question, candidates, topK)
	if err != nil {
		// A broken reranker degrades to the unranked retrieval, same as a
		// missing one — it is an optional quality improvement, not load-bearing.
		if len(hits) > topK {
			hits = hits[:topK]
		}
		return hits, nil
	}

	out := make([]vectorstore.Hit, len(reranked))
	for i, c := range reranked {
		out[i] = vectorstore.Hit{
			ChunkID: c.ChunkID, ChunkText: c.Text, Score: c.Score,
			SiteName: c.SiteName, PageName: c.PageName, PageURL: c.PageURL, Domain: c.Domain,
		}
	}
	return out, nil
}

// synthesize builds the cited context block and calls the LLM at
// TierStrong. Unlike rewrite, a failure here propagates: the caller must
// know the answer could not be produced.
func (p *Pipeline) synthesize(ctx context.Context, question, optimizedQuery string, hits []vectorstore.Hit) (*Answer, error) {
	if len(hits) == 0 {
		return &Answer{
			Question: question, OptimizedQuery: optimizedQuery,
			Answer: "I don't have any sources to answer that question.",
		}, nil
	}

	var ctxBlock strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&ctxBlock, "Source %d: %s — %s\n%s\n\n", i+1, h.SiteName, h.PageName, h.ChunkText)
	}

	if p.LLM == nil {
		return nil, errs.ErrLLMUnavailable
	}

	synthCtx, cancel := context.WithTimeout(ctx, p.synthesizeDeadline())
	defer cancel()

	messages := []capability.Message{
		{Role: "user", Content: fmt.Sprintf("Sources:\n\n%s\nQuestion: %s", ctxBlock.String(), question)},
	}
	out, err := p.LLM.Complete(synthCtx, capability.TierStrong, synthesizeSystemPrompt, messages, answerMaxTokens)
	if err != nil {
		if errors.Is(err, errs.ErrLLMUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrLLMUnavailable, err)
	}

	sources := distinctSources(hits)
	return &Answer{
		Question:       question,
		OptimizedQuery: optimizedQuery,
		Answer:         strings.TrimSpace(out),
		SourcesUsed:    len(sources),
		Sources:        sources,
	}, nil
}

// distinctSources collects (site_name, page_name, page_url, score) in the
// order each page_url was first referenced, deduplicating repeated chunks
// from the same page.
func distinctSources(hits []vectorstore.Hit) []Source {
	seen := make(map[string]bool, len(hits))
	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		if seen[h.PageURL] {
			continue
		}
		seen[h.PageURL] = true
		out = append(out, Source{SiteName: h.SiteName, PageName: h.PageName, PageURL: h.PageURL, Score: h.Score})
	}
	return out
}
