package pagecache

import (
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// Monitor observes page faults and evictions. Calls are made on the
// faulting or evicting goroutine and must not block.
type Monitor interface {
	PageFault(pageID pagemanager.PageID, swapper flushmanager.PageSwapper)
	Evict(pageID pagemanager.PageID, swapper flushmanager.PageSwapper)
}

// NoopMonitor ignores all events.
type NoopMonitor struct{}

func (NoopMonitor) PageFault(pagemanager.PageID, flushmanager.PageSwapper) {}
func (NoopMonitor) Evict(pagemanager.PageID, flushmanager.PageSwapper)     {}

// LoggingMonitor logs every event at debug level.
type LoggingMonitor struct {
	logger *zap.Logger
}

func NewLoggingMonitor(logger *zap.Logger) *LoggingMonitor {
	return &LoggingMonitor{logger: logger.Named("monitor")}
}

func (m *LoggingMonitor) PageFault(pageID pagemanager.PageID, swapper flushmanager.PageSwapper) {
	m.logger.Debug("Page fault", zap.String("file", swapper.Path()), zap.Int64("page_id", int64(pageID)))
}

func (m *LoggingMonitor) Evict(pageID pagemanager.PageID, swapper flushmanager.PageSwapper) {
	m.logger.Debug("Page evicted", zap.String("file", swapper.Path()), zap.Int64("page_id", int64(pageID)))
}

// MultiMonitor fans events out to several monitors in order.
type MultiMonitor []Monitor

func (mm MultiMonitor) PageFault(pageID pagemanager.PageID, swapper flushmanager.PageSwapper) {
	for _, m := range mm {
		m.PageFault(pageID, swapper)
	}
}

func (mm MultiMonitor) Evict(pageID pagemanager.PageID, swapper flushmanager.PageSwapper) {
	for _, m := range mm {
		m.Evict(pageID, swapper)
	}
}

// safeMonitor shields the cache from panicking monitors.
type safeMonitor struct {
	inner  Monitor
	logger *zap.Logger
}

func (s safeMonitor) PageFault(pageID pagemanager.PageID, swapper flushmanager.PageSwapper) {
	defer s.recover("PageFault")
	s.inner.PageFault(pageID, swapper)
}

func (s safeMonitor) Evict(pageID pagemanager.PageID, swapper flushmanager.PageSwapper) {
	defer s.recover("Evict")
	s.inner.Evict(pageID, swapper)
}

func (s safeMonitor) recover(event string) {
	if r := recover(); r != nil {
		s.logger.Error("Monitor panicked", zap.String("event", event), zap.Any("panic", r))
	}
}
