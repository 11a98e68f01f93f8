// Package fetcher implements capability.BrowserEngine with a pooled,
// stealth-mode headless Chrome, adapted from the Chrome lifecycle manager
// and tab helper used for mutation watching: a shared browser process,
// one stealth page per fetch, SSRF validation before every navigation, and
// a scroll-to-bottom pass so lazy-loaded content renders before capture.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/scrapeqa/capability"
	"github.com/hazyhaar/scrapeqa/errs"
	"github.com/hazyhaar/scrapeqa/horosafe"
)

// Config configures the Engine.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance. Empty
	// launches a local headless-shell via launcher.
	RemoteURL string
	// RecycleInterval is the maximum lifetime of the shared Chrome process
	// before it is killed and relaunched. Default: 4h.
	RecycleInterval time.Duration
	// DefaultTimeout bounds a fetch when FetchOptions.TimeoutSeconds is 0.
	// Default: 30s.
	DefaultTimeout time.Duration
	// URLValidator guards against SSRF. Default: horosafe.ValidateURL.
	URLValidator func(string) error
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine is a capability.BrowserEngine backed by a single shared, recycled
// Chrome process. Fetch is safe for concurrent use; callers bound
// concurrency themselves (the session orchestrator's worker pool).
type Engine struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
}

// New constructs an Engine. Call Start before the first Fetch.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Start launches (or connects to) Chrome.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, lnch, err := e.launch()
	if err != nil {
		return err
	}
	e.browser = b
	e.lnch = lnch
	e.startAt = time.Now()
	return nil
}

// Close shuts down Chrome.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return e.cleanupLocked()
}

func (e *Engine) launch() (*rod.Browser, *launcher.Launcher, error) {
	var wsURL string
	var lnch *launcher.Launcher

	if e.cfg.RemoteURL != "" {
		wsURL = e.cfg.RemoteURL
	} else {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("fetcher: launch chrome: %w", err)
		}
		wsURL = u
		lnch = l
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, nil, fmt.Errorf("fetcher: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		e.cfg.Logger.Warn("fetcher: ignore cert errors failed", "error", err)
	}
	return b, lnch, nil
}

func (e *Engine) cleanupLocked() error {
	if e.browser != nil {
		e.browser.Close()
		e.browser = nil
	}
	if e.lnch != nil {
		e.lnch.Cleanup()
		e.lnch = nil
	}
	return nil
}

// recycleIfStale kills and relaunches Chrome if it has outlived
// RecycleInterval, keeping long sessions from leaking browser memory.
func (e *Engine) recycleIfStale() {
	e.mu.RLock()
	stale := !e.closed && time.Since(e.startAt) > e.cfg.RecycleInterval
	e.mu.RUnlock()
	if !stale {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || time.Since(e.startAt) <= e.cfg.RecycleInterval {
		return
	}
	e.cfg.Logger.Info("fetcher: recycling browser", "uptime", time.Since(e.startAt))
	e.cleanupLocked()
	b, lnch, err := e.launch()
	if err != nil {
		e.cfg.Logger.Error("fetcher: recycle failed", "error", err)
		return
	}
	e.browser = b
	e.lnch = lnch
	e.startAt = time.Now()
}

// Fetch renders url in a fresh stealth tab and returns the final DOM. It
// waits for the page load event; opts.WaitFor is not consulted.
func (e *Engine) Fetch(ctx context.Context, url string, opts capability.FetchOptions) (capability.FetchResult, error) {
	if err := e.cfg.URLValidator(url); err != nil {
		return capability.FetchResult{}, &errs.InvalidUrl{URL: url, Reason: err.Error()}
	}

	e.recycleIfStale()

	e.mu.RLock()
	b := e.browser
	e.mu.RUnlock()
	if b == nil {
		return capability.FetchResult{}, errs.NewFetchError(url, 0, fmt.Errorf("fetcher: browser not started"))
	}

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := stealth.Page(b)
	if err != nil {
		return capability.FetchResult{}, errs.NewFetchError(url, 0, fmt.Errorf("fetcher: open tab: %w", err))
	}
	defer page.Close()

	if err := page.Context(fetchCtx).Navigate(url); err != nil {
		return capability.FetchResult{}, errs.NewFetchError(url, 0, fmt.Errorf("fetcher: navigate: %w", err))
	}
	if err := page.Context(fetchCtx).WaitLoad(); err != nil {
		e.cfg.Logger.Warn("fetcher: wait load timeout", "url", url, "error", err)
	}

	scrollToBottom(page.Context(fetchCtx))

	info, err := page.Info()
	finalURL := url
	if err == nil && info != nil && info.URL != "" {
		finalURL = info.URL
	}

	res, err := page.Context(fetchCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return capability.FetchResult{}, errs.NewFetchError(url, 0, fmt.Errorf("fetcher: read DOM: %w", err))
	}

	return capability.FetchResult{
		HTML:     res.Value.Str(),
		FinalURL: finalURL,
		Status:   200,
	}, nil
}

// scrollToBottom nudges infinite-scroll / lazy-loaded pages into rendering
// their below-the-fold content before capture. Best-effort: errors (e.g.
// page navigated away mid-scroll) are swallowed.
func scrollToBottom(page *rod.Page) {
	page.Eval(`() => {
		window.scrollTo(0, document.body.scrollHeight);
	}`)
	time.Sleep(300 * time.Millisecond)
}
