package pagecache

import (
	"time"

	"go.uber.org/zap"
)

// sweeper is the background CLOCK evictor. It keeps the number of loaded
// pages at or below the configured utilization and refills the free list.
type sweeper struct {
	table  *PageTable
	logger *zap.Logger
	hand   int

	stopChan chan struct{}
	done     chan struct{}
}

func newSweeper(pt *PageTable, logger *zap.Logger) *sweeper {
	return &sweeper{
		table:    pt,
		logger:   logger.Named("sweeper"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *sweeper) run() {
	defer close(s.done)
	s.logger.Info("Eviction sweeper started",
		zap.Int("max_pages", len(s.table.pages)),
		zap.Int64("min_loaded_pages", s.table.cfg.minLoadedPages()))

	idle := false
	for {
		budget, ok := s.parkUntilEvictionRequired(idle)
		if !ok {
			s.logger.Info("Eviction sweeper stopped")
			return
		}
		evicted, err := s.evictPages(budget)
		if err != nil {
			s.logger.Error("Eviction sweeper failed, page faults will report the error from now on", zap.Error(err))
			s.table.setEvictorFailure(err)
			return
		}
		idle = evicted == 0
	}
}

// parkUntilEvictionRequired sleeps until there are more loaded pages than the
// utilization target or the free list runs dry, and returns how many pages
// to evict. A pass that evicted nothing is followed by at least one park.
func (s *sweeper) parkUntilEvictionRequired(idle bool) (int64, bool) {
	pt := s.table
	minLoaded := pt.cfg.minLoadedPages()
	for {
		select {
		case <-s.stopChan:
			return 0, false
		default:
		}
		if !idle {
			loaded := pt.loaded.Load()
			if loaded > minLoaded {
				return loaded - minLoaded, true
			}
			if pt.free.len() == 0 {
				return max(loaded-minLoaded, 1), true
			}
		}
		idle = false

		timer := time.NewTimer(pt.cfg.EvictorParkInterval)
		select {
		case <-s.stopChan:
			timer.Stop()
			return 0, false
		case <-pt.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// evictPages advances the clock hand for at most one revolution, stopping
// early once budget pages have been evicted.
func (s *sweeper) evictPages(budget int64) (int64, error) {
	n := len(s.table.pages)
	var evicted int64
	for scanned := 0; scanned < n && evicted < budget; scanned++ {
		idx := s.hand
		s.hand = (s.hand + 1) % n
		ok, err := s.table.tryEvict(idx, true)
		if err != nil {
			return evicted, err
		}
		if ok {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("Eviction pass complete", zap.Int64("evicted", evicted), zap.Int64("budget", budget))
	}
	return evicted, nil
}

func (s *sweeper) shutdown() {
	close(s.stopChan)
	<-s.done
}
