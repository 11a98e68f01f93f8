// Entry point for the scrape-to-answer pipeline core: constructs every
// capability and the Core facade, then exposes a chi-routed /healthz
// liveness probe. No business routes — transport binding is explicitly
// out of scope; callers that want REST/WS framing wrap Core themselves.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/scrapeqa/config"
	"github.com/hazyhaar/scrapeqa/core"
	"github.com/hazyhaar/scrapeqa/fetcher"
	"github.com/hazyhaar/scrapeqa/horosembed"
	"github.com/hazyhaar/scrapeqa/query"
	"github.com/hazyhaar/scrapeqa/session"
	"github.com/hazyhaar/scrapeqa/vectorstore/sqlitestore"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := config.Load(env("CONFIG_FILE", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	browser := fetcher.New(fetcher.Config{
		DefaultTimeout: cfg.BrowserTimeout,
		Logger:         logger,
	})
	if err := browser.Start(); err != nil {
		slog.Error("browser start", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	embedder := horosembed.New(horosembed.Config{
		Endpoint: env("EMBEDDER_ENDPOINT", ""),
		Model:    env("EMBEDDER_MODEL", ""),
		Logger:   logger,
	})

	vectorDBPath := env("VECTOR_DB_PATH", "db/vectors.db")
	store, err := sqlitestore.Open(vectorDBPath, "default", embedder)
	if err != nil {
		slog.Error("vector store open", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	orchestrator := session.New(browser, store, session.Config{
		StorageBasePath:          cfg.StorageBasePath,
		MaxConcurrentBrowsers:    cfg.MaxConcurrentBrowsers,
		MaxConcurrentExtractions: cfg.MaxConcurrentExtractions,
		MaxPagesPerSite:          cfg.MaxPagesPerSite,
		BrowserTimeout:           cfg.BrowserTimeout,
		ChunkCharLimit:           cfg.ChunkCharLimit,
		ChunkOverlap:             cfg.ChunkOverlap,
		Logger:                   logger,
	})

	// LLM and Reranker are external collaborators with no in-repo provider;
	// leaving them unset is a valid configuration — Stage 1 degrades to the
	// raw question and Stage 3 surfaces LLMUnavailable, per the taxonomy.
	pipeline := &query.Pipeline{Store: store, RewriteTimeout: cfg.DefaultTimeout}

	svc := core.New(orchestrator, store, pipeline, cfg.DefaultTopK, cfg.StorageBasePath)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		h := svc.Health(req.Context())
		status := http.StatusOK
		if !h.OK {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": h.OK, "backend": h.Backend})
	})

	port := env("PORT", "8090")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
