package internaltelemetry

import (
	"context"

	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PageCacheMetrics holds all the metric instruments for a page cache.
type PageCacheMetrics struct {
	FaultsCounter      metric.Int64Counter
	EvictionsCounter   metric.Int64Counter
	LoadedPagesGauge   metric.Int64ObservableGauge
	FreePagesGauge     metric.Int64ObservableGauge
	FlushesCounter     metric.Int64ObservableCounter
	FlushFailuresCount metric.Int64ObservableCounter
	HitsCounter        metric.Int64ObservableCounter

	meter        metric.Meter
	registration metric.Registration
}

// NewPageCacheMetrics creates and registers all the metrics for a page cache.
// The observable instruments report nothing until Observe is called.
func NewPageCacheMetrics(meter metric.Meter) (*PageCacheMetrics, error) {
	faultsCounter, err := meter.Int64Counter(
		"gojocache.pagecache.faults_total",
		metric.WithDescription("Total number of page faults, by file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionsCounter, err := meter.Int64Counter(
		"gojocache.pagecache.evictions_total",
		metric.WithDescription("Total number of pages evicted, by file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	loadedPages, err := meter.Int64ObservableGauge(
		"gojocache.pagecache.loaded_pages",
		metric.WithDescription("Number of slots holding a file page."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	freePages, err := meter.Int64ObservableGauge(
		"gojocache.pagecache.free_pages",
		metric.WithDescription("Number of slots on the free list."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushes, err := meter.Int64ObservableCounter(
		"gojocache.pagecache.flushes_total",
		metric.WithDescription("Total number of pages written back."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushFailures, err := meter.Int64ObservableCounter(
		"gojocache.pagecache.flush_failures_total",
		metric.WithDescription("Total number of failed page write-backs."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	hits, err := meter.Int64ObservableCounter(
		"gojocache.pagecache.hits_total",
		metric.WithDescription("Total number of pins served without a fault."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &PageCacheMetrics{
		FaultsCounter:      faultsCounter,
		EvictionsCounter:   evictionsCounter,
		LoadedPagesGauge:   loadedPages,
		FreePagesGauge:     freePages,
		FlushesCounter:     flushes,
		FlushFailuresCount: flushFailures,
		HitsCounter:        hits,
		meter:              meter,
	}, nil
}

// Observe binds the observable instruments to cache. The cache is created
// after its monitor, so this is a separate step.
func (m *PageCacheMetrics) Observe(cache *pagecache.PageCache) error {
	cacheAttr := metric.WithAttributes(attribute.String("cache_id", cache.ID()))
	registration, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := cache.Stats()
		o.ObserveInt64(m.LoadedPagesGauge, stats.LoadedPages, cacheAttr)
		o.ObserveInt64(m.FreePagesGauge, stats.FreePages, cacheAttr)
		o.ObserveInt64(m.FlushesCounter, stats.Flushes, cacheAttr)
		o.ObserveInt64(m.FlushFailuresCount, stats.FlushFailures, cacheAttr)
		o.ObserveInt64(m.HitsCounter, stats.Hits, cacheAttr)
		return nil
	}, m.LoadedPagesGauge, m.FreePagesGauge, m.FlushesCounter, m.FlushFailuresCount, m.HitsCounter)
	if err != nil {
		return err
	}
	m.registration = registration
	return nil
}

// Unregister stops the observable instruments from reading the cache.
func (m *PageCacheMetrics) Unregister() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

// PageCacheMonitor is a pagecache.Monitor that counts faults and evictions
// per file.
type PageCacheMonitor struct {
	metrics *PageCacheMetrics
}

func NewPageCacheMonitor(metrics *PageCacheMetrics) *PageCacheMonitor {
	return &PageCacheMonitor{metrics: metrics}
}

func (m *PageCacheMonitor) PageFault(_ pagemanager.PageID, swapper flushmanager.PageSwapper) {
	m.metrics.FaultsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("file", swapper.Path())))
}

func (m *PageCacheMonitor) Evict(_ pagemanager.PageID, swapper flushmanager.PageSwapper) {
	m.metrics.EvictionsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("file", swapper.Path())))
}
