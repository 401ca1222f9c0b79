package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
	internaltelemetry "github.com/sushant-115/gojocache/internal/telemetry"
	"github.com/sushant-115/gojocache/pkg/config"
	"github.com/sushant-115/gojocache/pkg/logger"
	"github.com/sushant-115/gojocache/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	dataDir := flag.String("data", "", "directory for benchmark files (overrides data_dir)")
	maxPages := flag.Int("cache-pages", 0, "number of cache slots (overrides page_cache.max_pages)")
	files := flag.Int("files", 4, "number of files to map")
	pages := flag.Int("pages", 2000, "pages per file")
	workers := flag.Int("workers", 16, "concurrent workers")
	ops := flag.Int("ops", 20000, "operations per worker in the mixed phase")
	readRatio := flag.Float64("read-ratio", 0.8, "fraction of mixed operations that only read")
	memory := flag.Bool("memory", false, "keep files in memory instead of on disk")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *maxPages > 0 {
		cfg.PageCache.MaxPages = *maxPages
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, workloadConfig{
		Files:     *files,
		Pages:     *pages,
		Workers:   *workers,
		Ops:       *ops,
		ReadRatio: *readRatio,
		Seed:      uint64(time.Now().UnixNano()),
	}, *memory, log); err != nil {
		log.Fatal("Benchmark failed", zap.Error(err))
	}
}

func run(cfg config.Config, wcfg workloadConfig, memory bool, log *zap.Logger) error {
	tel, shutdown, err := telemetry.New(cfg.Telemetry, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := internaltelemetry.NewPageCacheMetrics(tel.Meter)
	if err != nil {
		return err
	}
	defer func() { _ = metrics.Unregister() }()

	var factory flushmanager.SwapperFactory = flushmanager.NewFileSwapperFactory(cfg.DataDir, log)
	if memory {
		factory = flushmanager.NewMemorySwapperFactory()
	}
	cache, err := pagecache.New(cfg.PageCache, factory, internaltelemetry.NewPageCacheMonitor(metrics), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Error("Failed to close page cache", zap.Error(err))
		}
	}()
	if err := metrics.Observe(cache); err != nil {
		return err
	}

	return runWorkload(context.Background(), cache, wcfg, tel, log)
}

func runWorkload(ctx context.Context, cache *pagecache.PageCache, wcfg workloadConfig,
	tel *telemetry.Telemetry, log *zap.Logger) error {
	pageSize := cache.PageSize()
	w := &workload{cfg: wcfg, tracer: tel.Tracer, logger: log}
	defer func() {
		for _, f := range w.files {
			if err := f.Close(); err != nil {
				log.Error("Failed to unmap file", zap.String("path", f.Path()), zap.Error(err))
			}
		}
	}()
	for i := 0; i < wcfg.Files; i++ {
		f, err := cache.Map(fmt.Sprintf("bench-%d.db", i), pageSize, pagecache.CreateIfNotExists())
		if err != nil {
			return err
		}
		w.files = append(w.files, f)
	}

	ctx, span := tel.Tracer.Start(ctx, "bench")
	defer span.End()

	for _, phase := range []func(context.Context) (phaseResult, error){
		w.populate,
		w.mixed,
		func(ctx context.Context) (phaseResult, error) { return w.flush(ctx, cache) },
	} {
		result, err := phase(ctx)
		if err != nil {
			return fmt.Errorf("%s phase: %w", result.Name, err)
		}
		stats := cache.Stats()
		log.Info("Phase complete",
			zap.String("phase", result.Name),
			zap.Int64("ops", result.Ops),
			zap.Duration("duration", result.Duration),
			zap.Float64("ops_per_sec", result.opsPerSecond()),
			zap.Int64("faults", stats.Faults),
			zap.Int64("hits", stats.Hits),
			zap.Int64("evictions", stats.Evictions),
			zap.Int64("flushes", stats.Flushes))
	}
	return nil
}
