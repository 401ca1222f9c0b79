package internaltelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

// collectInt64 sums every data point of the named metric.
func collectInt64(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var total int64
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			default:
				t.Fatalf("unexpected data type %T for %s", m.Data, name)
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

// TestPageCacheMonitor_RecordsFaultsAndEvictions drives a two page cache
// through faults and cooperative evictions and reads the instruments back
// through a manual reader.
func TestPageCacheMonitor_RecordsFaultsAndEvictions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := NewPageCacheMetrics(provider.Meter("test"))
	require.NoError(t, err)

	cfg := pagecache.DefaultConfig()
	cfg.MaxPages = 2
	cfg.PageSize = 64
	cfg.EnableEvictionThread = false
	cache, err := pagecache.New(cfg, flushmanager.NewMemorySwapperFactory(), NewPageCacheMonitor(metrics), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	require.NoError(t, metrics.Observe(cache))
	t.Cleanup(func() { _ = metrics.Unregister() })

	f, err := cache.Map("metrics.db", 64, pagecache.CreateIfNotExists())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		cursor, err := f.Pin(pagemanager.PageID(i), pagemanager.LockExclusive)
		require.NoError(t, err)
		cursor.PutLongAt(0, int64(i))
		cursor.Close()
	}

	require.Equal(t, int64(3), collectInt64(t, reader, "gojocache.pagecache.faults_total"))
	require.Equal(t, int64(1), collectInt64(t, reader, "gojocache.pagecache.evictions_total"))
	require.Equal(t, int64(2), collectInt64(t, reader, "gojocache.pagecache.loaded_pages"))
	require.Equal(t, int64(0), collectInt64(t, reader, "gojocache.pagecache.free_pages"))
	require.Equal(t, int64(1), collectInt64(t, reader, "gojocache.pagecache.flushes_total"))
}
