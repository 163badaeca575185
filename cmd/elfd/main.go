// elfd is the memory service process: the public /v2 HTTP surface, the
// loopback admin surface, and (unless -no-worker) an embedded indexing
// worker draining the outbox in the same process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"elfmemory/internal/cache"
	"elfmemory/internal/config"
	"elfmemory/internal/httpapi"
	"elfmemory/internal/ingest"
	"elfmemory/internal/obs"
	"elfmemory/internal/providers"
	"elfmemory/internal/search"
	"elfmemory/internal/sharing"
	"elfmemory/internal/store"
	"elfmemory/internal/vectorindex"
	"elfmemory/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to the service configuration file (required)")
	noWorker := flag.Bool("no-worker", false, "serve HTTP only; run the indexing worker elsewhere (elfworker)")
	flag.Parse()

	// Local development convenience: provider API keys may live in .env
	// rather than the config file. Loaded before config so ${VAR}
	// expansion in the YAML sees them.
	_ = godotenv.Load(".env")

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "elfd: -config is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elfd: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Service.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := obs.InitMetrics(ctx, "elfd")
	if err != nil {
		logger.Warn().Err(err).Msg("metrics init failed, continuing without export")
	} else {
		defer func() { _ = shutdownMetrics(context.Background()) }()
	}
	metrics := obs.NewOtelMetrics()

	st, err := store.Open(ctx, cfg.Store.DSN, int32(cfg.Store.MaxConns), int32(cfg.Store.MinConns), cfg.Derived.VectorDim)
	if err != nil {
		logger.Fatal().Err(err).Msg("open authoritative store")
	}
	defer st.Close()

	idx, err := vectorindex.New(ctx, cfg.Derived.URL, cfg.Derived.Collection, cfg.Derived.VectorDim, cfg.Derived.Distance)
	if err != nil {
		logger.Fatal().Err(err).Msg("open derived index")
	}
	defer idx.Close()

	llmCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		// The LLM cache is an accelerator, not a dependency: run without
		// it and treat every lookup as a miss.
		logger.Warn().Err(err).Msg("llm cache unavailable, continuing without it")
		llmCache = nil
	} else {
		defer llmCache.Close()
	}

	embed := providers.NewEmbeddingClient(cfg.Providers.Embedding)
	rerank := providers.NewRerankClient(cfg.Providers.Rerank)
	extractor := providers.NewExtractorClient(cfg.Providers.Extractor)

	ingestSvc := ingest.New(cfg, st, embed, extractor, metrics, logger)
	searchSvc := search.New(cfg, st, idx, llmCache, embed, rerank, extractor, metrics, logger)
	sharingSvc := sharing.New(st)
	wrk := worker.New(cfg, st, idx, embed, llmCache, metrics, logger)

	server := httpapi.NewServer(cfg, ingestSvc, searchSvc, sharingSvc, st, wrk, logger)

	if !*noWorker {
		go wrk.RunLeaseLoop(ctx, 2*time.Second)
		go wrk.RunTraceLoop(ctx, 5*time.Second)
		go wrk.RunLifecycleLoop(ctx, 24*time.Hour)
	}

	public := &http.Server{Addr: cfg.Service.Bind, Handler: server.Handler()}
	admin := &http.Server{Addr: cfg.Service.AdminBind, Handler: server.AdminHandler()}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("bind", cfg.Service.Bind).Msg("public surface listening")
		errCh <- public.ListenAndServe()
	}()
	go func() {
		logger.Info().Str("bind", cfg.Service.AdminBind).Msg("admin surface listening")
		errCh <- admin.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = public.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)
}
