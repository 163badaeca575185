// elfworker runs the indexing worker standalone, for deployments that
// shard the outbox drain across processes separate from the HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"elfmemory/internal/cache"
	"elfmemory/internal/config"
	"elfmemory/internal/obs"
	"elfmemory/internal/providers"
	"elfmemory/internal/store"
	"elfmemory/internal/vectorindex"
	"elfmemory/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to the service configuration file (required)")
	leaseInterval := flag.Duration("lease-interval", 2*time.Second, "outbox poll interval")
	flag.Parse()

	_ = godotenv.Load(".env")

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "elfworker: -config is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elfworker: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Service.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := obs.InitMetrics(ctx, "elfworker")
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
		logger.Warn().Err(err).Msg("llm cache unavailable, continuing without it")
		llmCache = nil
	} else {
		defer llmCache.Close()
	}

	embed := providers.NewEmbeddingClient(cfg.Providers.Embedding)
	wrk := worker.New(cfg, st, idx, embed, llmCache, metrics, logger)

	go wrk.RunTraceLoop(ctx, 5*time.Second)
	go wrk.RunLifecycleLoop(ctx, 24*time.Hour)

	logger.Info().Msg("indexing worker started")
	wrk.RunLeaseLoop(ctx, *leaseInterval)
	logger.Info().Msg("indexing worker stopped")
}
