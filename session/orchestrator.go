package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/scrapeqa/capability"
	"github.com/hazyhaar/scrapeqa/chunk"
	"github.com/hazyhaar/scrapeqa/discover"
	"github.com/hazyhaar/scrapeqa/errs"
	"github.com/hazyhaar/scrapeqa/idgen"
	"github.com/hazyhaar/scrapeqa/normalize"
	"github.com/hazyhaar/scrapeqa/vectorstore"
)

// subscriberBuffer bounds each subscriber's event channel; a subscriber too
// slow to drain it misses events rather than stalling the orchestrator —
// the bounded-broadcast-channel model the original generator-based log
// stream was redesigned into.
const subscriberBuffer = 32

// Config configures an Orchestrator. Every duration/count mirrors a
// config.Config field one-for-one; the orchestrator takes plain values so
// it does not import the config package's env/YAML concerns.
type Config struct {
	StorageBasePath          string
	MaxConcurrentBrowsers    int
	MaxConcurrentExtractions int
	MaxPagesPerSite          int
	BrowserTimeout           time.Duration
	ChunkCharLimit           int
	ChunkOverlap             int
	Logger                   *slog.Logger

	// discoverFn and idGen are swapped out in tests; zero value uses the
	// real sitemap discoverer and a timestamped-nanoid generator.
	discoverFn func(ctx context.Context, seedURL string, opts discover.Options) ([]string, error)
	idGen      idgen.Generator
}

func (c *Config) defaults() {
	if c.StorageBasePath == "" {
		c.StorageBasePath = "./data"
	}
	if c.MaxConcurrentBrowsers <= 0 {
		c.MaxConcurrentBrowsers = 3
	}
	if c.MaxConcurrentExtractions <= 0 {
		c.MaxConcurrentExtractions = 5
	}
	if c.MaxPagesPerSite <= 0 {
		c.MaxPagesPerSite = 1000
	}
	if c.BrowserTimeout <= 0 {
		c.BrowserTimeout = 60 * time.Second
	}
	if c.ChunkCharLimit <= 0 {
		c.ChunkCharLimit = 4000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 200
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.discoverFn == nil {
		c.discoverFn = discover.Discover
	}
	if c.idGen == nil {
		c.idGen = idgen.Timestamped(idgen.NanoID(6))
	}
}

// Orchestrator owns a registry of sessions it created, each driven by its
// own goroutine, mirroring domkeeper.Keeper's one-registry/one-owner model.
type Orchestrator struct {
	cfg     Config
	browser capability.BrowserEngine
	store   vectorstore.Backend

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu          sync.Mutex
	session     *Session
	cancel      context.CancelFunc
	subscribers []chan Event
}

// New constructs an Orchestrator. browser and store are the capabilities
// every session's pipeline drives; cfg's concurrency caps bound that
// pipeline's resource usage.
func New(browser capability.BrowserEngine, store vectorstore.Backend, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		cfg:      cfg,
		browser:  browser,
		store:    store,
		sessions: make(map[string]*entry),
	}
}

// StartSession creates a session record in status pending, persists its
// initial metadata, and launches its pipeline asynchronously. It returns as
// soon as the record exists — the caller observes progress via GetSession
// or Subscribe.
func (o *Orchestrator) StartSession(ctx context.Context, rawURL string, mode Mode, purpose string) (*Session, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &errs.InvalidUrl{URL: rawURL, Reason: err.Error()}
	}
	if mode != ModeSinglePage && mode != ModeWholeSite {
		mode = ModeSinglePage
	}

	now := time.Now()
	sess := &Session{
		SessionID: o.cfg.idGen(),
		URL:       rawURL,
		Mode:      mode,
		Purpose:   purpose,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	e := &entry{session: sess}
	o.mu.Lock()
	o.sessions[sess.SessionID] = e
	o.mu.Unlock()

	if err := o.writeRequest(sess.SessionID, rawURL, mode, purpose); err != nil {
		o.cfg.Logger.Warn("session: write request failed", "session_id", sess.SessionID, "err", err)
	}
	if err := o.persist(sess); err != nil {
		o.cfg.Logger.Warn("session: write metadata failed", "session_id", sess.SessionID, "err", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go o.run(runCtx, e)

	return sess.Clone(), nil
}

// GetSession returns a snapshot of a known session.
func (o *Orchestrator) GetSession(id string) (*Session, error) {
	e := o.lookup(id)
	if e == nil {
		return nil, errs.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// ListSessions returns every known session, newest first.
func (o *Orchestrator) ListSessions() []*Session {
	o.mu.Lock()
	entries := make([]*entry, 0, len(o.sessions))
	for _, e := range o.sessions {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	out := make([]*Session, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		out[i] = e.session.Clone()
		e.mu.Unlock()
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// DeleteSession cancels a running session (if any) and removes its
// directory. The session and its directory are exclusively owned by this
// orchestrator, so deletion here is authoritative.
func (o *Orchestrator) DeleteSession(id string) error {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	if !ok {
		return errs.ErrNotFound
	}
	if e.cancel != nil {
		e.cancel()
	}
	return os.RemoveAll(o.sessionDir(id))
}

// Subscribe returns a bounded event stream for a session, closed once the
// session reaches a terminal state. Events are dropped, not blocked on, if
// the subscriber falls behind.
func (o *Orchestrator) Subscribe(id string) (<-chan Event, error) {
	e := o.lookup(id)
	if e == nil {
		return nil, errs.ErrNotFound
	}
	ch := make(chan Event, subscriberBuffer)
	e.mu.Lock()
	terminal := isTerminal(e.session.Status)
	if !terminal {
		e.subscribers = append(e.subscribers, ch)
	}
	e.mu.Unlock()
	if terminal {
		ch <- Event{Type: EventTerminal, SessionID: id, Payload: e.session.Clone()}
		close(ch)
	}
	return ch, nil
}

func (o *Orchestrator) lookup(id string) *entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[id]
}

func isTerminal(s Status) bool { return s == StatusCompleted || s == StatusFailed }

func (e *entry) broadcast(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.Type == EventTerminal {
		for _, ch := range e.subscribers {
			close(ch)
		}
		e.subscribers = nil
	}
}

// run drives one session's pipeline end-to-end: discovery (whole-site
// only), a bounded worker pool of fetches each followed by an
// extraction-semaphore-guarded normalize/chunk/upsert stage, then the
// terminal-state transition in step 6 of the orchestrator algorithm.
func (o *Orchestrator) run(ctx context.Context, e *entry) {
	e.mu.Lock()
	sess := e.session
	sess.Status = StatusInProgress
	sess.UpdatedAt = time.Now()
	e.mu.Unlock()
	o.persist(sess)
	e.broadcast(Event{Type: EventProgress, SessionID: sess.SessionID, Payload: sess.Clone()})

	start := time.Now()

	var urls []string
	if sess.Mode == ModeSinglePage {
		urls = []string{sess.URL}
	} else {
		discovered, err := o.cfg.discoverFn(ctx, sess.URL, discover.Options{MaxPages: o.cfg.MaxPagesPerSite})
		if err != nil {
			o.finish(e, start, 0, fmt.Sprintf("discovery failed: %v", err))
			return
		}
		urls = discovered
	}

	e.mu.Lock()
	sess.TotalPages = len(urls)
	e.mu.Unlock()
	o.persist(sess)

	if len(urls) == 0 {
		o.finish(e, start, 0, "no pages discovered")
		return
	}

	domain := hostOf(sess.URL)
	jobs := make(chan string, len(urls))
	for _, u := range urls {
		jobs <- u
	}
	close(jobs)

	var (
		mu         sync.Mutex
		pages      []PageRecord
		successes  int
		failures   int
		storeDown  bool
		extraction = make(chan struct{}, o.cfg.MaxConcurrentExtractions)
	)

	workers := o.cfg.MaxConcurrentBrowsers
	if workers > len(urls) {
		workers = len(urls)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pageURL := range jobs {
				if ctx.Err() != nil {
					return
				}
				ok, unavailable, rec := o.processPage(ctx, sess, domain, pageURL, extraction)
				mu.Lock()
				if ok {
					successes++
					pages = append(pages, rec)
				} else {
					failures++
				}
				if unavailable {
					storeDown = true
				}
				mu.Unlock()

				e.mu.Lock()
				sess.PagesScraped++
				sess.Failures = failures
				sess.UpdatedAt = time.Now()
				snap := sess.Clone()
				e.mu.Unlock()
				o.persist(sess)
				e.broadcast(Event{Type: EventPageDone, SessionID: sess.SessionID, Payload: snap})
			}
		}()
	}
	wg.Wait()

	if len(pages) > 0 {
		if err := o.writeCleanedMarkdown(sess.SessionID, domain, pages); err != nil {
			o.cfg.Logger.Warn("session: write cleaned markdown failed", "session_id", sess.SessionID, "err", err)
		}
	}

	cancelled := ctx.Err() != nil
	o.finish(e, start, failures, failureMessage(cancelled, storeDown, successes))
}

func failureMessage(cancelled, storeDown bool, successes int) string {
	switch {
	case cancelled:
		return "cancelled"
	case storeDown:
		return "vector store unavailable"
	case successes == 0:
		return "all pages failed"
	default:
		return ""
	}
}

// processPage runs one page through fetch (bounded by the worker count,
// which equals max_concurrent_browsers) and then normalize → chunk →
// upsert, the last stage additionally bounded by an independent extraction
// semaphore so embedding throughput is capped regardless of fetch
// concurrency.
func (o *Orchestrator) processPage(ctx context.Context, sess *Session, domain, pageURL string, extraction chan struct{}) (ok bool, storeUnavailable bool, rec PageRecord) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.BrowserTimeout)
	defer cancel()

	result, err := o.browser.Fetch(fetchCtx, pageURL, capability.FetchOptions{
		TimeoutSeconds: int(o.cfg.BrowserTimeout.Seconds()),
	})
	if err != nil {
		o.cfg.Logger.Warn("session: fetch failed", "session_id", sess.SessionID, "url", pageURL, "err", err)
		return false, false, PageRecord{}
	}

	norm, err := normalize.Normalize([]byte(result.HTML), pageURL)
	if err != nil {
		o.cfg.Logger.Warn("session: normalize failed", "session_id", sess.SessionID, "url", pageURL, "err", err)
		return false, false, PageRecord{}
	}
	if strings.TrimSpace(norm.Markdown) == "" {
		o.cfg.Logger.Warn("session: empty content", "session_id", sess.SessionID, "url", pageURL)
		return false, false, PageRecord{}
	}

	chunks := chunk.Split(norm.Markdown, chunk.Options{
		CharLimit:    o.cfg.ChunkCharLimit,
		OverlapChars: o.cfg.ChunkOverlap,
	})
	if len(chunks) == 0 {
		return false, false, PageRecord{}
	}

	select {
	case extraction <- struct{}{}:
	case <-ctx.Done():
		return false, false, PageRecord{}
	}
	defer func() { <-extraction }()

	input := make([]vectorstore.ChunkInput, len(chunks))
	for i, c := range chunks {
		input[i] = vectorstore.ChunkInput{Index: c.Index, ChunkText: c.Text, CharCount: c.CharCount, OverlapPrev: c.OverlapPrev}
	}

	err = o.store.UpsertChunks(ctx, vectorstore.PageChunks{
		Domain:   domain,
		SiteName: domain,
		PageName: norm.Title,
		PageURL:  pageURL,
		Chunks:   input,
	})
	if err != nil {
		unavailable := errors.Is(err, errs.ErrVectorStoreUnavailable)
		o.cfg.Logger.Warn("session: upsert failed", "session_id", sess.SessionID, "url", pageURL, "err", err)
		return false, unavailable, PageRecord{}
	}

	return true, false, PageRecord{URL: pageURL, Domain: domain, PageName: norm.Title, Markdown: norm.Markdown, FetchedAt: time.Now()}
}

// finish computes duration and the terminal state per the orchestrator's
// transition rules: completed once every discovered URL was attempted and
// at least one page embedded successfully; failed otherwise (including
// cooperative cancellation, which retains whatever chunks were already
// inserted).
func (o *Orchestrator) finish(e *entry, start time.Time, failures int, message string) {
	e.mu.Lock()
	sess := e.session
	sess.DurationSeconds = time.Since(start).Seconds()
	sess.Failures = failures
	sess.UpdatedAt = time.Now()
	if message != "" {
		sess.Status = StatusFailed
		sess.ErrorMessage = message
	} else {
		sess.Status = StatusCompleted
	}
	snap := sess.Clone()
	e.mu.Unlock()

	o.persist(sess)
	e.broadcast(Event{Type: EventTerminal, SessionID: sess.SessionID, Payload: snap})
}

// Cancel stops a running session cooperatively: in-flight fetches observe
// ctx.Done() at their next suspension point, the worker pool drains, and
// the session lands in failed with error_message "cancelled". Chunks
// already inserted before cancellation remain valid and searchable.
func (o *Orchestrator) Cancel(id string) error {
	e := o.lookup(id)
	if e == nil {
		return errs.ErrNotFound
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (o *Orchestrator) sessionDir(id string) string {
	return filepath.Join(o.cfg.StorageBasePath, id)
}

func (o *Orchestrator) persist(sess *Session) error {
	dir := o.sessionDir(sess.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644)
}

func (o *Orchestrator) writeRequest(id, rawURL string, mode Mode, purpose string) error {
	dir := o.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	req := struct {
		URL     string `json:"url"`
		Mode    Mode   `json:"mode"`
		Purpose string `json:"purpose,omitempty"`
	}{rawURL, mode, purpose}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "request.json"), data, 0o644)
}

func (o *Orchestrator) writeCleanedMarkdown(id, domain string, pages []PageRecord) error {
	dir := filepath.Join(o.sessionDir(id), "cleaned_markdown")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	type entryJSON struct {
		PageName string `json:"page_name"`
		PageURL  string `json:"page_url"`
		Content  string `json:"content"`
	}
	out := make([]entryJSON, len(pages))
	for i, p := range pages {
		out[i] = entryJSON{PageName: p.PageName, PageURL: p.URL, Content: p.Markdown}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s__%s.json", domain, id)
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
