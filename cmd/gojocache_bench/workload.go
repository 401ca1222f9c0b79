package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Every page starts with its own id followed by a write counter, so a reader
// can tell whether it is looking at the page it asked for.
const (
	pageIDOffset  = 0
	counterOffset = 8
)

type workloadConfig struct {
	Files     int
	Pages     int
	Workers   int
	Ops       int
	ReadRatio float64
	Seed      uint64
}

type phaseResult struct {
	Name     string
	Ops      int64
	Duration time.Duration
}

func (r phaseResult) opsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Duration.Seconds()
}

type workload struct {
	cfg    workloadConfig
	files  []*pagecache.PagedFile
	tracer trace.Tracer
	logger *zap.Logger
}

// populate writes the header of every page so later phases can verify it.
func (w *workload) populate(ctx context.Context) (phaseResult, error) {
	_, span := w.tracer.Start(ctx, "bench.populate")
	defer span.End()

	start := time.Now()
	var ops atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.cfg.Workers)
	for _, f := range w.files {
		for p := 0; p < w.cfg.Pages; p++ {
			g.Go(func() error {
				cursor, err := f.Pin(pagemanager.PageID(p), pagemanager.LockExclusive)
				if err != nil {
					return err
				}
				defer cursor.Close()
				cursor.PutLongAt(pageIDOffset, int64(p))
				cursor.PutLongAt(counterOffset, 0)
				ops.Add(1)
				return nil
			})
		}
	}
	err := g.Wait()
	span.SetAttributes(attribute.Int64("ops", ops.Load()))
	return phaseResult{Name: "populate", Ops: ops.Load(), Duration: time.Since(start)}, err
}

// mixed runs random reads and counter increments from every worker.
func (w *workload) mixed(ctx context.Context) (phaseResult, error) {
	_, span := w.tracer.Start(ctx, "bench.mixed")
	defer span.End()

	start := time.Now()
	var ops atomic.Int64
	var g errgroup.Group
	for worker := 0; worker < w.cfg.Workers; worker++ {
		rng := rand.New(rand.NewPCG(w.cfg.Seed, uint64(worker)))
		g.Go(func() error {
			for i := 0; i < w.cfg.Ops; i++ {
				f := w.files[rng.IntN(len(w.files))]
				pageID := pagemanager.PageID(rng.IntN(w.cfg.Pages))
				if err := w.visit(f, pageID, rng.Float64() >= w.cfg.ReadRatio); err != nil {
					return err
				}
				ops.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	span.SetAttributes(attribute.Int64("ops", ops.Load()))
	return phaseResult{Name: "mixed", Ops: ops.Load(), Duration: time.Since(start)}, err
}

func (w *workload) visit(f *pagecache.PagedFile, pageID pagemanager.PageID, write bool) error {
	mode := pagemanager.LockShared
	if write {
		mode = pagemanager.LockExclusive
	}
	cursor, err := f.Pin(pageID, mode)
	if err != nil {
		return err
	}
	defer cursor.Close()
	if got := pagemanager.PageID(cursor.GetLongAt(pageIDOffset)); got != pageID {
		return fmt.Errorf("page %d of %s holds the header of page %d", pageID, f.Path(), got)
	}
	if write {
		cursor.PutLongAt(counterOffset, cursor.GetLongAt(counterOffset)+1)
	}
	return nil
}

// flush writes everything back and forces the files.
func (w *workload) flush(ctx context.Context, cache *pagecache.PageCache) (phaseResult, error) {
	ctx, span := w.tracer.Start(ctx, "bench.flush")
	defer span.End()

	start := time.Now()
	err := cache.FlushAndForce(ctx)
	if err != nil {
		span.RecordError(err)
		w.logger.Error("Flush failed", zap.Error(err))
	}
	return phaseResult{Name: "flush", Ops: int64(len(w.files)), Duration: time.Since(start)}, err
}
